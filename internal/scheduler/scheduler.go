package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Brushfam/patron-backend/internal/artifact"
	"github.com/Brushfam/patron-backend/internal/sandbox"
	"github.com/Brushfam/patron-backend/internal/session"
)

// Consecutive sandbox launch failures before the scheduler starts flagging
// them as a host-level problem rather than bad submissions.
const runtimeFailureAlertThreshold = 3

var (
	ErrDuplicateToken = errors.New("session token already registered")
	ErrShuttingDown   = errors.New("scheduler is shutting down")

	errCanceled = errors.New("build canceled")
)

// Provisions private storage for build sessions. Implemented by the volume
// manager.
type Provisioner interface {
	Provision(ctx context.Context) (Volume, error)
}

// A provisioned store owned by one session.
type Volume interface {
	Device() string
	Release(ctx context.Context) error
}

// Launches sandboxes and resolves their images. Implemented by the sandbox
// runtime.
type Launcher interface {
	EnsureImage(ctx context.Context, ref string) error
	Launch(ctx context.Context, params sandbox.Params, limits sandbox.Limits) (Sandbox, error)
}

// An isolated execution context for one session.
type Sandbox interface {
	Exec(ctx context.Context, script string, env []string) (*sandbox.ExecResult, error)
	ReadFile(ctx context.Context, path string, limit int64) ([]byte, error)
	Terminate(ctx context.Context) error
	Destroy(ctx context.Context)
}

// Scheduler configuration.
type Config struct {
	Workers         int            // Maximum concurrently running sessions.
	Limits          session.Limits // Resource ceilings snapshotted onto each session.
	BuildImage      string         // Image repository; the contract tool version is the tag.
	APIServerURL    string         // Coordinating API base URL injected into sandboxes.
	SealSources     bool           // Whether the source relay stage is enabled.
	PrebakedVersion string         // Contract tool version pre-baked into the build image.
}

// Admission-controlled worker pool driving build sessions from queued to
// terminal.
//
// At most Workers sessions are Provisioning or later at once; excess
// requests wait in FIFO order. The slot counter and the session registry
// are the only state touched by multiple goroutines; everything else a
// session owns (sandbox, volume, stage cursor) belongs exclusively to the
// goroutine running it.
type Scheduler struct {
	cfg       Config
	volumes   Provisioner
	launcher  Launcher
	validator *artifact.Validator

	mu        sync.Mutex
	queue     []*session.Session
	sessions  map[string]*session.Session
	processed int64
	stopped   bool

	slots chan struct{} // Semaphore bounding in-flight sessions.
	wake  chan struct{} // Nudges the admission loop after a submit.
	wg    sync.WaitGroup

	runtimeFailures int // Consecutive sandbox launch failures, admission-loop owned via mu.
}

// Creates a scheduler. Run must be called before submitted sessions make
// progress.
func New(cfg Config, volumes Provisioner, launcher Launcher) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return &Scheduler{
		cfg:      cfg,
		volumes:  volumes,
		launcher: launcher,
		validator: &artifact.Validator{
			WasmLimit:     cfg.Limits.WasmSize,
			MetadataLimit: cfg.Limits.MetadataSize,
		},
		sessions: make(map[string]*session.Session),
		slots:    make(chan struct{}, cfg.Workers),
		wake:     make(chan struct{}, 1),
	}
}

// Admits a build request without blocking.
//
// The returned session starts queued; it is picked up in FIFO order as
// soon as a worker slot frees. Requests with an empty token or source
// location, or a token already registered, are rejected.
func (s *Scheduler) Submit(req session.Request) (*session.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrShuttingDown
	}
	if _, exists := s.sessions[req.Token]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateToken, abbreviate(req.Token))
	}

	sess := session.New(req, s.cfg.Limits)
	s.sessions[req.Token] = sess
	s.queue = append(s.queue, sess)

	select {
	case s.wake <- struct{}{}:
	default:
	}

	return sess, nil
}

// Looks up a session by token.
func (s *Scheduler) Session(token string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	return sess, ok
}

// Point-in-time scheduler counters for the operator socket.
type Stats struct {
	SlotsInUse int   // Sessions currently holding a worker slot.
	Queued     int   // Sessions waiting for a slot.
	Processed  int64 // Sessions that reached a terminal state.
}

// Returns current scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		SlotsInUse: len(s.slots),
		Queued:     len(s.queue),
		Processed:  s.processed,
	}
}

// Runs the admission loop until ctx is cancelled, then waits for in-flight
// sessions to finish their cleanup.
//
// Sessions still queued at shutdown keep their records but are never
// started; per-session failures never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		sess := s.pop()
		if sess == nil {
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				s.shutdown()
				return
			}
		}

		select {
		case s.slots <- struct{}{}:
			s.wg.Add(1)
			go s.runSession(ctx, sess)
		case <-ctx.Done():
			s.requeue(sess)
			s.shutdown()
			return
		}
	}
}

// Pops the head of the FIFO queue, or nil when it is empty.
func (s *Scheduler) pop() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	sess := s.queue[0]
	s.queue = s.queue[1:]
	return sess
}

// Puts a session back at the head of the queue.
func (s *Scheduler) requeue(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append([]*session.Session{sess}, s.queue...)
}

// Stops admissions and waits for in-flight sessions to finish.
func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
}

// Shortens a token for log output and error messages.
func abbreviate(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
