package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestSession() *Session {
	return New(Request{
		Token:                "0123456789abcdef",
		SourceURL:            "http://localhost:3000/source/0123456789abcdef",
		RustcVersion:         "1.75.0",
		CargoContractVersion: "4.0.0",
	}, Limits{BuildDuration: time.Hour})
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"complete", Request{Token: "t", SourceURL: "u"}, true},
		{"missing token", Request{SourceURL: "u"}, false},
		{"missing source", Request{Token: "t"}, false},
		{"empty", Request{}, false},
	}

	for _, tt := range tests {
		err := tt.req.Validate()
		if tt.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: err = %v, want ErrInvalidRequest", tt.name, err)
		}
	}
}

func TestAdvanceForwardOnly(t *testing.T) {
	s := newTestSession()

	for _, to := range []Status{
		StatusProvisioning,
		StatusUnarchiving,
		StatusUploading,
		StatusBuilding,
		StatusNormalizingOutput,
	} {
		if err := s.Advance(to); err != nil {
			t.Fatalf("advance to %s: %v", to, err)
		}
		if s.Status() != to {
			t.Fatalf("status = %s, want %s", s.Status(), to)
		}
	}
}

func TestAdvanceRejectsBackward(t *testing.T) {
	s := newTestSession()

	if err := s.Advance(StatusBuilding); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if err := s.Advance(StatusUnarchiving); !errors.Is(err, ErrBackwardTransition) {
		t.Fatalf("backward err = %v, want ErrBackwardTransition", err)
	}
	if err := s.Advance(StatusBuilding); !errors.Is(err, ErrBackwardTransition) {
		t.Fatalf("same-stage err = %v, want ErrBackwardTransition", err)
	}
	if s.Status() != StatusBuilding {
		t.Fatalf("status changed to %s", s.Status())
	}
}

func TestAdvanceRejectsTerminalTargets(t *testing.T) {
	s := newTestSession()

	for _, to := range []Status{StatusSucceeded, StatusFailed, StatusTimedOut} {
		if err := s.Advance(to); !errors.Is(err, ErrBackwardTransition) {
			t.Fatalf("advance to %s: err = %v, want rejection", to, err)
		}
	}
}

func TestFirstTerminalOutcomeWins(t *testing.T) {
	s := newTestSession()
	s.Fail(ErrCompile)

	if s.Status() != StatusFailed {
		t.Fatalf("status = %s, want failed", s.Status())
	}

	s.TimeOut()
	if s.Status() != StatusFailed {
		t.Fatalf("timeout overrode failure: %s", s.Status())
	}
	if !errors.Is(s.Err(), ErrCompile) {
		t.Fatalf("err = %v, want ErrCompile", s.Err())
	}

	if err := s.Succeed(&Result{}); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("succeed after failure: err = %v, want ErrTerminalState", err)
	}
	if err := s.Advance(StatusBuilding); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("advance after failure: err = %v, want ErrTerminalState", err)
	}
}

func TestTimeOut(t *testing.T) {
	s := newTestSession()
	s.TimeOut()

	if s.Status() != StatusTimedOut {
		t.Fatalf("status = %s, want timed-out", s.Status())
	}
	if !errors.Is(s.Err(), ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", s.Err())
	}
}

func TestSucceedStoresResult(t *testing.T) {
	s := newTestSession()

	result := &Result{Wasm: []byte("\x00asm"), Metadata: []byte("{}")}
	if err := s.Succeed(result); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if s.Status() != StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", s.Status())
	}
	if s.Result() != result {
		t.Fatal("result not stored")
	}
	if s.Err() != nil {
		t.Fatalf("err = %v, want nil", s.Err())
	}
}

func TestAppendOutputCapped(t *testing.T) {
	s := newTestSession()

	chunk := strings.Repeat("x", 10_000)
	for i := 0; i < 20; i++ {
		s.AppendOutput(chunk)
	}

	out := s.Snapshot().Output
	if len(out) != maxOutputBytes {
		t.Fatalf("output length = %d, want %d", len(out), maxOutputBytes)
	}

	// Further appends are dropped.
	s.AppendOutput("y")
	if len(s.Snapshot().Output) != maxOutputBytes {
		t.Fatal("output grew past the cap")
	}
}

func TestSnapshot(t *testing.T) {
	s := newTestSession()

	if err := s.Advance(StatusProvisioning); err != nil {
		t.Fatalf("advance: %v", err)
	}
	s.AppendOutput("compiling\n")
	s.Fail(ErrDownload)

	snap := s.Snapshot()
	if snap.Token != "0123456789abcdef" {
		t.Fatalf("token = %q", snap.Token)
	}
	if snap.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
	if !strings.Contains(snap.Reason, ErrDownload.Error()) {
		t.Fatalf("reason = %q", snap.Reason)
	}
	if len(snap.Transitions) != 2 {
		t.Fatalf("transitions = %d, want 2", len(snap.Transitions))
	}
	if snap.Transitions[0].To != StatusProvisioning || snap.Transitions[1].To != StatusFailed {
		t.Fatalf("transitions = %+v", snap.Transitions)
	}
	if snap.Output != "compiling\n" {
		t.Fatalf("output = %q", snap.Output)
	}
}

func TestOperational(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrVolumeProvision, true},
		{ErrSandboxRuntime, true},
		{ErrCompile, false},
		{ErrDownload, false},
		{ErrTimeout, false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := Operational(tt.err); got != tt.want {
			t.Fatalf("Operational(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
