// Package protocol defines the wire format spoken over the daemon's Unix
// socket.
//
// Every message is a newline-delimited JSON envelope carrying a command
// name and an optional command-specific payload. Requests and responses
// share the framing: the server answers with an "ok" or "error" envelope
// whose payload is the command's result type.
package protocol
