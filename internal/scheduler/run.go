package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Brushfam/patron-backend/internal/pipeline"
	"github.com/Brushfam/patron-backend/internal/sandbox"
	"github.com/Brushfam/patron-backend/internal/session"
	"github.com/Brushfam/patron-backend/internal/volume"
)

// Drives one session from Provisioning to a terminal state and releases
// everything it allocated.
//
// The worker slot is released exactly once, from the deferred path, no
// matter how the session ends. Cleanup of the sandbox and volume uses a
// background context: the session deadline must not be able to abort its
// own teardown.
func (s *Scheduler) runSession(ctx context.Context, sess *session.Session) {
	defer s.wg.Done()
	defer func() {
		<-s.slots
		s.mu.Lock()
		s.processed++
		s.mu.Unlock()
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}()

	req := sess.Request()
	limits := sess.Limits()

	ctx, cancel := context.WithTimeout(ctx, limits.BuildDuration)
	defer cancel()

	if err := sess.Advance(session.StatusProvisioning); err != nil {
		sess.Fail(fmt.Errorf("%w: %v", session.ErrSandboxRuntime, err))
		return
	}

	vol, err := s.volumes.Provision(ctx)
	if err != nil {
		slog.Error("volume provisioning failed, host capacity may be exhausted", "error", err)
		sess.Fail(fmt.Errorf("%w: %v", session.ErrVolumeProvision, err))
		return
	}
	defer s.releaseVolume(vol)

	image := fmt.Sprintf("%s:%s", s.cfg.BuildImage, req.CargoContractVersion)
	if err := s.launcher.EnsureImage(ctx, image); err != nil {
		s.noteRuntimeFailure(err)
		sess.Fail(fmt.Errorf("%w: %v", session.ErrSandboxRuntime, err))
		return
	}

	sb, err := s.launcher.Launch(ctx, sandbox.Params{
		ID:     "build-" + uuid.NewString(),
		Image:  image,
		Device: vol.Device(),
		Env: []string{
			"SESSION_TOKEN=" + req.Token,
			"SOURCE_CODE_URL=" + req.SourceURL,
			"API_SERVER_URL=" + s.cfg.APIServerURL,
		},
	}, sandbox.Limits{
		Memory:     limits.Memory,
		MemorySwap: limits.MemorySwap,
	})
	if err != nil {
		s.noteRuntimeFailure(err)
		sess.Fail(fmt.Errorf("%w: %v", session.ErrSandboxRuntime, err))
		return
	}
	s.noteRuntimeSuccess()
	defer sb.Destroy(context.Background())

	// Timeout supervisor. Stage execution blocks inside the sandbox, so
	// context expiry alone cannot stop a runaway build; the sandbox is
	// force-terminated, which unblocks the exec wait.
	supervised := make(chan struct{})
	defer close(supervised)
	go func() {
		select {
		case <-ctx.Done():
			if err := sb.Terminate(context.Background()); err != nil {
				slog.Warn("forced sandbox termination failed", "error", err)
			}
		case <-supervised:
		}
	}()

	stages := pipeline.Stages(pipeline.Options{
		SealSources:     s.cfg.SealSources,
		RustcVersion:    req.RustcVersion,
		ContractVersion: req.CargoContractVersion,
		PrebakedVersion: s.cfg.PrebakedVersion,
	})

	for _, stage := range stages {
		if status := stage.Status(); sess.Status() != status {
			if err := sess.Advance(status); err != nil {
				sess.Fail(fmt.Errorf("%w: %v", session.ErrSandboxRuntime, err))
				return
			}
		}

		result, err := sb.Exec(ctx, stage.Script, stage.Env)
		if err != nil {
			if s.interrupted(ctx, sess, sb, vol) {
				return
			}
			sess.Fail(fmt.Errorf("%w: stage %s: %v", session.ErrSandboxRuntime, stage.Name, err))
			return
		}

		sess.AppendOutput(result.Output)

		if s.interrupted(ctx, sess, sb, vol) {
			return
		}
		if err := pipeline.Classify(stage.Name, result.ExitCode); err != nil {
			sess.Fail(err)
			return
		}
	}

	output, err := s.validator.Collect(ctx, sb)
	if err != nil {
		if s.interrupted(ctx, sess, sb, vol) {
			return
		}
		sess.Fail(err)
		return
	}

	// The deadline is a hard ceiling: once it has elapsed, a finished
	// build still ends in TimedOut.
	if s.interrupted(ctx, sess, sb, vol) {
		return
	}

	if err := sess.Succeed(output); err != nil {
		slog.Warn("session result discarded", "session", abbreviate(req.Token), "error", err)
	}
}

// Handles deadline expiry and operator cancellation once the session has
// live resources.
//
// Returns true when the session context is done, after force-terminating
// the sandbox, releasing the volume, and recording the terminal state in
// that order. The volume and slot releases in the deferred path are
// idempotent no-ops afterwards.
func (s *Scheduler) interrupted(ctx context.Context, sess *session.Session, sb Sandbox, vol Volume) bool {
	if ctx.Err() == nil {
		return false
	}

	if err := sb.Terminate(context.Background()); err != nil {
		slog.Warn("forced sandbox termination failed", "error", err)
	}
	s.releaseVolume(vol)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		sess.TimeOut()
	} else {
		sess.Fail(errCanceled)
	}
	return true
}

// Releases a session volume, escalating a detach failure as an
// operational alert. A leaked mount accumulates host resource pressure
// across builds and requires operator intervention.
func (s *Scheduler) releaseVolume(vol Volume) {
	if err := vol.Release(context.Background()); err != nil {
		if errors.Is(err, volume.ErrDetach) {
			slog.Error("volume detach failed, operator intervention required", "device", vol.Device(), "error", err)
			return
		}
		slog.Error("volume release failed", "device", vol.Device(), "error", err)
	}
}

// Tracks consecutive sandbox launch failures. A streak usually means the
// host, not the submissions, is unhealthy.
func (s *Scheduler) noteRuntimeFailure(err error) {
	s.mu.Lock()
	s.runtimeFailures++
	failures := s.runtimeFailures
	s.mu.Unlock()

	if failures >= runtimeFailureAlertThreshold {
		slog.Error("repeated sandbox runtime failures, host may be unhealthy",
			"consecutive", failures, "error", err)
	}
}

// Resets the sandbox failure streak after a successful launch.
func (s *Scheduler) noteRuntimeSuccess() {
	s.mu.Lock()
	s.runtimeFailures = 0
	s.mu.Unlock()
}
