package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Sequence counter for generating unique exec process identifiers.
var execSeq uint64

// Returns a unique exec process identifier.
func nextExecID() string {
	return fmt.Sprintf("exec-%d", atomic.AddUint64(&execSeq, 1))
}

// Outcome of a stage execution inside a sandbox.
type ExecResult struct {
	ExitCode int    // Exit code of the stage process.
	Output   string // Combined stdout and stderr, in arrival order.
}

// Runs a stage script inside the sandbox.
//
// The script is passed to "/bin/sh -ec" with the work directory as its
// working directory and env merged over the sandbox environment. Stdout
// and stderr are captured into one buffer so interleaved toolchain output
// (including terminal control sequences) survives intact; only the exit
// code determines success, and a non-zero exit code is not an error here.
func (s *Sandbox) Exec(ctx context.Context, script string, env []string) (*ExecResult, error) {
	pspec, err := s.buildProcessSpec(ctx, env, WorkDir, "/bin/sh", "-ec", script)
	if err != nil {
		return nil, err
	}

	var output bytes.Buffer
	exitCode, err := s.execProcess(ctx, pspec, &output)
	if err != nil {
		return nil, err
	}

	return &ExecResult{
		ExitCode: exitCode,
		Output:   output.String(),
	}, nil
}

// Reads a single file out of the sandbox's filesystem, enforcing a size
// ceiling.
//
// Containerd has no direct file read, so the file is archived by running
// "tar cf -" inside the sandbox and the stream is unpacked host-side. The
// stream is capped slightly above the ceiling; a file whose tar transport
// overflows the cap, or whose header size exceeds the ceiling, yields
// [ErrFileTooLarge]. A missing file yields [ErrFileNotFound].
func (s *Sandbox) ReadFile(ctx context.Context, path string, limit int64) ([]byte, error) {
	pspec, err := s.buildProcessSpec(ctx, nil, "",
		"tar", "cf", "-", "-C", filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return nil, err
	}

	// Headroom for the tar header and block padding of a single entry.
	capped := newCappedWriter(limit + 4096)

	exitCode, err := s.execProcess(ctx, pspec, capped)
	if err != nil {
		return nil, err
	}
	if capped.truncated {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, path)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	reader := tar.NewReader(bytes.NewReader(capped.buf.Bytes()))
	header, err := reader.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if header.Size > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, header.Size)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: unpacking %s: %v", ErrRuntime, path, err)
	}
	return data, nil
}

// Builds an OCI process spec for running a command inside the sandbox.
//
// The base values are copied from the sandbox's own OCI spec, then env and
// workdir are overridden if provided.
func (s *Sandbox) buildProcessSpec(ctx context.Context, env []string, workdir string, args ...string) (*specs.Process, error) {
	ctr, err := s.client.LoadContainer(ctx, s.id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = args

	if len(env) > 0 {
		pspec.Env = mergeEnv(pspec.Env, env)
	}
	if workdir != "" {
		pspec.Cwd = workdir
	}

	return &pspec, nil
}

// Merges override env vars on top of a base env slice.
func mergeEnv(base, overrides []string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	order := make([]string, 0, len(base)+len(overrides))

	for _, entry := range append(append([]string(nil), base...), overrides...) {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}

	result := make([]string, 0, len(merged))
	for _, k := range order {
		result = append(result, k+"="+merged[k])
	}
	return result
}

// Starts a process inside the sandbox's running task, waits for it to
// exit, and returns the exit code.
//
// The process is attached to the task as an additional exec, not as the
// primary process, so the idle primary task must already be running. Both
// output streams go to out. The process is always deleted before
// returning. A non-zero exit code is not treated as an error; the caller
// decides.
func (s *Sandbox) execProcess(ctx context.Context, pspec *specs.Process, out io.Writer) (int, error) {
	task, err := s.loadTask(ctx)
	if err != nil {
		return 0, err
	}

	process, err := task.Exec(ctx, nextExecID(), pspec, cio.NewCreator(
		cio.WithStreams(nil, out, out),
	))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	statusC, err := process.Wait(ctx)
	if err != nil {
		process.Delete(ctx)
		return 0, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	if err := process.Start(ctx); err != nil {
		process.Delete(ctx)
		return 0, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	exitStatus := <-statusC
	process.Delete(ctx)

	code, _, err := exitStatus.Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	return int(code), nil
}

// Loads the sandbox's running task.
func (s *Sandbox) loadTask(ctx context.Context) (containerd.Task, error) {
	ctr, err := s.client.LoadContainer(ctx, s.id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	return task, nil
}

// Accumulates writes up to a fixed cap, flagging overflow instead of
// growing without bound.
type cappedWriter struct {
	buf       bytes.Buffer
	max       int64
	truncated bool
}

var errCapExceeded = errors.New("write cap exceeded")

func newCappedWriter(max int64) *cappedWriter {
	return &cappedWriter{max: max}
}

// Writes until the cap is reached; later writes fail so the producing
// stream aborts instead of shipping an arbitrarily large file.
func (w *cappedWriter) Write(p []byte) (int, error) {
	if w.truncated {
		return 0, errCapExceeded
	}

	remaining := w.max - int64(w.buf.Len())
	if int64(len(p)) > remaining {
		w.buf.Write(p[:remaining])
		w.truncated = true
		return int(remaining), errCapExceeded
	}

	return w.buf.Write(p)
}
