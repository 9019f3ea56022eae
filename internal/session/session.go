package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Upper bound on retained stage output per session. Output beyond this is
// dropped; it is diagnostic only and never authoritative for status.
const maxOutputBytes = 64 * 1024

var (
	ErrInvalidRequest     = errors.New("invalid build request")
	ErrTerminalState      = errors.New("session already terminal")
	ErrBackwardTransition = errors.New("backward stage transition")
)

// A build request admitted by the scheduler. The token doubles as the
// credential that source uploads authenticate with, so it is never logged
// in full.
type Request struct {
	Token                string // Opaque session token.
	SourceURL            string // Location of the source archive.
	RustcVersion         string // Requested compiler toolchain version.
	CargoContractVersion string // Requested contract build tool version.
}

// Checks the request for the fields the scheduler refuses to admit
// without.
func (r Request) Validate() error {
	if r.Token == "" {
		return fmt.Errorf("%w: empty session token", ErrInvalidRequest)
	}
	if r.SourceURL == "" {
		return fmt.Errorf("%w: empty source location", ErrInvalidRequest)
	}
	return nil
}

// Resource ceilings snapshotted onto a session at admission time.
type Limits struct {
	Memory        int64         // Memory ceiling, bytes.
	MemorySwap    int64         // Memory plus swap ceiling, bytes.
	VolumeSize    string        // Volume capacity, human-readable.
	WasmSize      int64         // Compiled module size ceiling, bytes.
	MetadataSize  int64         // Interface metadata size ceiling, bytes.
	BuildDuration time.Duration // Wall-clock budget.
}

// One recorded state change.
type Transition struct {
	To Status
	At time.Time
}

// Artifacts of a successful session.
type Result struct {
	Wasm     []byte // Compiled binary module.
	Metadata []byte // JSON interface metadata.
}

// The stateful record tying one build request to its sandbox, volume,
// stage progress, and outcome.
//
// A session is mutated only by the scheduler goroutine that owns it. The
// internal mutex exists solely so the operator socket can take consistent
// read snapshots while the owner is writing.
type Session struct {
	request Request
	limits  Limits
	created time.Time

	mu          sync.Mutex
	status      Status
	transitions []Transition
	reason      error
	result      *Result
	output      []byte
}

// Creates a queued session for an admitted request.
func New(req Request, limits Limits) *Session {
	now := time.Now()
	return &Session{
		request:     req,
		limits:      limits,
		created:     now,
		status:      StatusQueued,
		transitions: []Transition{{To: StatusQueued, At: now}},
	}
}

// Returns the session token.
func (s *Session) Token() string {
	return s.request.Token
}

// Returns the admitted request.
func (s *Session) Request() Request {
	return s.request
}

// Returns the resource limits snapshot.
func (s *Session) Limits() Limits {
	return s.limits
}

// Returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Moves the session forward to a non-terminal stage.
//
// The stage order is total: a transition to an earlier or equal stage, or
// any transition out of a terminal status, is rejected.
func (s *Session) Advance(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, s.status)
	}

	rank, ok := statusRank[to]
	if !ok {
		return fmt.Errorf("%w: %s is not an orderable stage", ErrBackwardTransition, to)
	}
	if rank <= statusRank[s.status] {
		return fmt.Errorf("%w: %s -> %s", ErrBackwardTransition, s.status, to)
	}

	s.record(to)
	return nil
}

// Marks the session failed with the given reason. The first terminal
// outcome wins; later calls are no-ops.
func (s *Session) Fail(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return
	}

	s.reason = reason
	s.record(StatusFailed)
}

// Marks the session timed out. Called only by the timeout supervisor,
// after the sandbox has been force-terminated.
func (s *Session) TimeOut() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return
	}

	s.reason = ErrTimeout
	s.record(StatusTimedOut)
}

// Marks the session succeeded with its validated artifacts.
func (s *Session) Succeed(result *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, s.status)
	}

	s.result = result
	s.record(StatusSucceeded)
	return nil
}

// Returns the failure reason, or nil while the session is running or
// succeeded.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Returns the artifacts of a succeeded session, or nil otherwise.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Appends captured stage output for diagnostics, up to a fixed cap.
func (s *Session) AppendOutput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := maxOutputBytes - len(s.output)
	if remaining <= 0 {
		return
	}
	if len(text) > remaining {
		text = text[:remaining]
	}
	s.output = append(s.output, text...)
}

// Records a transition and logs it with the stage name and elapsed time.
// Callers hold the mutex.
func (s *Session) record(to Status) {
	now := time.Now()
	from := s.status
	s.status = to
	s.transitions = append(s.transitions, Transition{To: to, At: now})

	logger := slog.With(
		"session", abbreviate(s.request.Token),
		"from", string(from),
		"to", string(to),
		"elapsed", now.Sub(s.created).Round(time.Millisecond),
	)
	if s.reason != nil {
		logger.Info("session transition", "reason", s.reason.Error())
	} else {
		logger.Info("session transition")
	}
}

// A point-in-time copy of the observable session state, safe to hand to
// the operator socket while the owning goroutine keeps working.
type Snapshot struct {
	Token        string
	Status       Status
	Reason       string
	CreatedAt    time.Time
	Transitions  []Transition
	WasmSize     int64
	MetadataSize int64
	Output       string
}

// Takes a consistent snapshot of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Token:       s.request.Token,
		Status:      s.status,
		CreatedAt:   s.created,
		Transitions: append([]Transition(nil), s.transitions...),
		Output:      string(s.output),
	}
	if s.reason != nil {
		snap.Reason = s.reason.Error()
	}
	if s.result != nil {
		snap.WasmSize = int64(len(s.result.Wasm))
		snap.MetadataSize = int64(len(s.result.Metadata))
	}
	return snap
}

// Shortens a token for log output. Tokens are upload credentials and must
// not appear in logs in full.
func abbreviate(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
