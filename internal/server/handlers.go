package server

import (
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/Brushfam/patron-backend/internal"
	"github.com/Brushfam/patron-backend/internal/protocol"
	"github.com/Brushfam/patron-backend/internal/session"
)

// Handles a submit command.
//
// Admits a new build session. The session is queued; the client polls its
// progress with the session command.
func (s *Server) handleSubmit(conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.SubmitRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	sess, err := s.scheduler.Submit(session.Request{
		Token:                req.Token,
		SourceURL:            req.SourceURL,
		RustcVersion:         req.RustcVersion,
		CargoContractVersion: req.CargoContractVersion,
	})
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	s.respond(conn, protocol.CmdOK, &protocol.SubmitResult{
		Token:  sess.Token(),
		Status: string(sess.Status()),
	})
}

// Handles a session command.
func (s *Server) handleSession(conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.SessionRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	sess, ok := s.scheduler.Session(req.Token)
	if !ok {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: "unknown session token"})
		return
	}

	snap := sess.Snapshot()

	transitions := make([]protocol.SessionTransition, 0, len(snap.Transitions))
	for _, tr := range snap.Transitions {
		transitions = append(transitions, protocol.SessionTransition{
			To: string(tr.To),
			At: tr.At,
		})
	}

	s.respond(conn, protocol.CmdOK, &protocol.SessionResult{
		Token:        snap.Token,
		Status:       string(snap.Status),
		Reason:       snap.Reason,
		CreatedAt:    snap.CreatedAt,
		Transitions:  transitions,
		WasmSize:     snap.WasmSize,
		MetadataSize: snap.MetadataSize,
		Output:       snap.Output,
	})
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	stats := s.scheduler.Stats()
	uptime := time.Since(s.startedAt).Truncate(time.Second)

	s.respond(conn, protocol.CmdOK, &protocol.StatusResult{
		Running:    true,
		Version:    internal.VersionString(),
		Pid:        os.Getpid(),
		Uptime:     uptime.String(),
		SlotsInUse: stats.SlotsInUse,
		Queued:     stats.Queued,
		Processed:  stats.Processed,
	})
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go func() {
		s.Stop()
	}()
}
