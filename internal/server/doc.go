// Package server implements the builderd control socket.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands
// from the coordinating API server and operator tooling. Each connection
// carries a single request-response exchange: the client sends a
// newline-delimited JSON envelope, the server dispatches the command, and
// writes the result back before closing the connection.
//
// Supported commands submit new build sessions, query a session's
// progress, report daemon status, and initiate shutdown. Build work is
// delegated to the scheduler package; the server never blocks a
// connection on a running build.
//
// Example usage:
//
//	srv := server.New(socketPath, sched)
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
