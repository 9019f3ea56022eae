package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/errdefs"
)

// An isolated execution context bound to one build session.
type Sandbox struct {
	client *containerd.Client // Containerd client for managing the sandbox.
	id     string             // Unique identifier, used as the containerd container ID.
}

// Returns the sandbox identifier.
func (s *Sandbox) ID() string {
	return s.id
}

// Force-kills the sandbox's entire process tree and waits for it to exit.
//
// The kill is non-negotiable: SIGKILL to every process in the task, no
// grace period. Used both by normal cleanup and by the timeout supervisor.
// Terminating an already-dead sandbox is not an error.
func (s *Sandbox) Terminate(ctx context.Context) error {
	ctr, err := s.client.LoadContainer(ctx, s.id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	exited, err := task.Wait(ctx)
	if err == nil {
		task.Kill(ctx, syscall.SIGKILL, containerd.WithKillAll)
		select {
		case <-exited:
		case <-ctx.Done():
		}
	}

	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	return nil
}

// Removes the sandbox and its resources.
//
// The task is killed and the container is removed from containerd along
// with its snapshot. Removal is best-effort; failures are logged and the
// crash-recovery sweep picks up whatever is left. After destruction the
// handle is invalid.
func (s *Sandbox) Destroy(ctx context.Context) {
	ctr, err := s.client.LoadContainer(ctx, s.id)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			slog.Warn("failed to load sandbox for destruction", "id", s.id, "error", err)
		}
		return
	}

	if task, err := ctr.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL, containerd.WithKillAll)
		task.Delete(ctx, containerd.WithProcessKill)
	}

	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("failed to delete sandbox during destruction", "id", s.id, "error", err)
	}
}

// Removes an existing container with this ID, if one exists.
//
// Any running task is killed and the container is deleted along with its
// snapshot. This is a no-op when no container with the ID is found.
func (s *Sandbox) remove(ctx context.Context) {
	existing, err := s.client.LoadContainer(ctx, s.id)
	if err != nil {
		return
	}
	if task, err := existing.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL, containerd.WithKillAll)
		task.Delete(ctx, containerd.WithProcessKill)
	}
	existing.Delete(ctx, containerd.WithSnapshotCleanup)
}
