package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// A command name carried in an envelope.
type Command string

const (
	// Client commands.
	CmdSubmit   Command = "submit"
	CmdSession  Command = "session"
	CmdStatus   Command = "status"
	CmdShutdown Command = "shutdown"

	// Server responses.
	CmdOK    Command = "ok"
	CmdError Command = "error"
)

var ErrMalformed = errors.New("malformed message")

// The wire framing for one message: a command plus an optional
// command-specific payload.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Asks the daemon to admit a new build session.
type SubmitRequest struct {
	Token                string `json:"token"`
	SourceURL            string `json:"source_url"`
	RustcVersion         string `json:"rustc_version"`
	CargoContractVersion string `json:"cargo_contract_version"`
}

// Acknowledges an admitted session.
type SubmitResult struct {
	Token  string `json:"token"`
	Status string `json:"status"`
}

// Asks for the state of one session.
type SessionRequest struct {
	Token string `json:"token"`
}

// One recorded session state change.
type SessionTransition struct {
	To string    `json:"to"`
	At time.Time `json:"at"`
}

// Reports the state of one session.
type SessionResult struct {
	Token        string              `json:"token"`
	Status       string              `json:"status"`
	Reason       string              `json:"reason,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	Transitions  []SessionTransition `json:"transitions,omitempty"`
	WasmSize     int64               `json:"wasm_size,omitempty"`
	MetadataSize int64               `json:"metadata_size,omitempty"`
	Output       string              `json:"output,omitempty"`
}

// Reports daemon-wide state.
type StatusResult struct {
	Running    bool   `json:"running"`
	Version    string `json:"version"`
	Pid        int    `json:"pid"`
	Uptime     string `json:"uptime"`
	SlotsInUse int    `json:"slots_in_use"`
	Queued     int    `json:"queued"`
	Processed  int64  `json:"processed"`
}

// Carries a failure back to the client.
type ErrorResult struct {
	Message string `json:"message"`
}

// Serializes a command and payload into an envelope.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		env.Payload = data
	}

	return json.Marshal(env)
}

// Parses an envelope, returning it alongside the raw payload for
// command-specific decoding.
func Decode(data []byte) (*Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Command == "" {
		return nil, nil, fmt.Errorf("%w: missing command", ErrMalformed)
	}
	return &env, env.Payload, nil
}

// Parses a raw payload into the command-specific request type.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	var req T
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &req, nil
}
