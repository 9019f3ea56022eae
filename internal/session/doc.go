// Package session models the lifecycle of one build request.
//
// A session is created queued and moves forward through a total order of
// stages until it reaches exactly one of three terminal states: succeeded,
// failed, or timed-out. Transitions never go backward and nothing leaves a
// terminal state; when the timeout supervisor and a finishing build race,
// whichever records its terminal state first wins and the other call
// becomes a no-op.
//
// The scheduler goroutine running a session is its only writer. The mutex
// exists so status queries and snapshots taken from the control socket
// observe consistent state.
package session
