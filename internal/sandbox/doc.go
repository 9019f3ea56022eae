// Package sandbox manages isolated build environments backed by containerd.
//
// A [Runtime] connects to a containerd daemon, pulls build images on
// demand, and launches one [Sandbox] per build session. Each sandbox runs
// with all capabilities dropped except DAC_OVERRIDE, no privilege
// escalation, a pids ceiling, and runtime-enforced memory and memory+swap
// limits. Its only writable filesystem is the session's loop-device volume
// mounted ext4 at /contract; the only externally supplied state is the
// environment injected at launch.
//
// The sandbox's primary task idles while pipeline stages are executed
// against it in order via [Sandbox.Exec]. Artifacts are read back out as
// tar streams with [Sandbox.ReadFile], which enforces a size ceiling
// during transport. Termination always kills the entire process tree with
// SIGKILL and waits for resource release.
//
// Example usage:
//
//	rt, err := sandbox.New("/run/containerd/containerd.sock", "builderd")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	sb, err := rt.Launch(ctx, sandbox.Params{
//	    ID:     "build-1",
//	    Image:  "docker.io/paritytech/contracts-verifiable:4.1.1",
//	    Device: vol.Device(),
//	    Env:    []string{"SESSION_TOKEN=..."},
//	}, sandbox.Limits{Memory: memory, MemorySwap: swap})
//	if err != nil {
//	    return err
//	}
//	defer sb.Destroy(ctx)
//
//	result, err := sb.Exec(ctx, "cargo contract build --release", nil)
package sandbox
