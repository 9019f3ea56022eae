package server

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/Brushfam/patron-backend/internal/protocol"
	"github.com/Brushfam/patron-backend/internal/scheduler"
	"github.com/Brushfam/patron-backend/internal/session"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	sched := scheduler.New(scheduler.Config{
		Workers: 1,
		Limits:  session.Limits{BuildDuration: time.Minute},
	}, nil, nil)

	socketPath := filepath.Join(t.TempDir(), "builderd.sock")
	srv := New(socketPath, sched)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Stop)

	return srv, socketPath
}

// Sends one command over the socket and returns the response envelope.
func exchange(t *testing.T, socketPath string, cmd protocol.Command, payload any) (*protocol.Envelope, json.RawMessage) {
	t.Helper()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := conn.Write(append(data, byte(10))); err != nil {
		t.Fatalf("write: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes(byte(10))
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	env, raw, err := protocol.Decode(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env, raw
}

func TestSubmitAndQuery(t *testing.T) {
	_, socketPath := startTestServer(t)

	env, raw := exchange(t, socketPath, protocol.CmdSubmit, &protocol.SubmitRequest{
		Token:                "tok-server",
		SourceURL:            "http://localhost:3000/source/tok-server",
		RustcVersion:         "1.75.0",
		CargoContractVersion: "4.0.0",
	})
	if env.Command != protocol.CmdOK {
		t.Fatalf("submit response = %q (%s)", env.Command, raw)
	}
	result, err := protocol.DecodePayload[protocol.SubmitResult](raw)
	if err != nil {
		t.Fatalf("decode submit result: %v", err)
	}
	if result.Status != string(session.StatusQueued) {
		t.Fatalf("status = %q, want queued", result.Status)
	}

	env, raw = exchange(t, socketPath, protocol.CmdSession, &protocol.SessionRequest{Token: "tok-server"})
	if env.Command != protocol.CmdOK {
		t.Fatalf("session response = %q (%s)", env.Command, raw)
	}
	info, err := protocol.DecodePayload[protocol.SessionResult](raw)
	if err != nil {
		t.Fatalf("decode session result: %v", err)
	}
	if info.Token != "tok-server" || info.Status != string(session.StatusQueued) {
		t.Fatalf("session = %+v", info)
	}
}

func TestDuplicateSubmitRejected(t *testing.T) {
	_, socketPath := startTestServer(t)

	req := &protocol.SubmitRequest{
		Token:     "tok-dup",
		SourceURL: "http://localhost:3000/source/tok-dup",
	}
	if env, _ := exchange(t, socketPath, protocol.CmdSubmit, req); env.Command != protocol.CmdOK {
		t.Fatalf("first submit = %q", env.Command)
	}

	env, raw := exchange(t, socketPath, protocol.CmdSubmit, req)
	if env.Command != protocol.CmdError {
		t.Fatalf("duplicate submit = %q (%s)", env.Command, raw)
	}
}

func TestStatus(t *testing.T) {
	_, socketPath := startTestServer(t)

	env, raw := exchange(t, socketPath, protocol.CmdStatus, nil)
	if env.Command != protocol.CmdOK {
		t.Fatalf("status response = %q", env.Command)
	}
	status, err := protocol.DecodePayload[protocol.StatusResult](raw)
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running {
		t.Fatal("daemon reports not running")
	}
	if status.Pid == 0 {
		t.Fatal("missing pid")
	}
}

func TestUnknownCommand(t *testing.T) {
	_, socketPath := startTestServer(t)

	env, _ := exchange(t, socketPath, protocol.Command("reboot"), nil)
	if env.Command != protocol.CmdError {
		t.Fatalf("response = %q, want error", env.Command)
	}
}

func TestUnknownSession(t *testing.T) {
	_, socketPath := startTestServer(t)

	env, _ := exchange(t, socketPath, protocol.CmdSession, &protocol.SessionRequest{Token: "missing"})
	if env.Command != protocol.CmdError {
		t.Fatalf("response = %q, want error", env.Command)
	}
}
