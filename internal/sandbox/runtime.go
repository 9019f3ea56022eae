package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (

	// Snapshotter used for sandbox filesystems.
	snapshotter = "overlayfs"

	// OCI runtime shim for running sandboxes.
	ociRuntime = "io.containerd.runc.v2"

	// Platform the build images are published for.
	platform = "linux/amd64"

	// Mount point of the session volume inside the sandbox. All stages use
	// it as their working directory so artifacts persist between them.
	WorkDir = "/contract"

	// Hard cap on processes inside a sandbox. Archive unpacking is the
	// usual source of runaway process counts.
	pidsLimit = 768
)

// Resource ceilings enforced by the runtime on every sandbox.
type Limits struct {
	Memory     int64 // Memory ceiling, bytes.
	MemorySwap int64 // Memory plus swap ceiling, bytes.
}

// Manages the containerd client and provides image and sandbox operations.
type Runtime struct {
	client *containerd.Client // Containerd client for managing containers and images.
}

// Creates a runtime connected to the containerd socket at the given address.
//
// The namespace scopes all containerd operations to this daemon. The runtime
// must be closed when no longer needed.
func New(address, namespace string) (*Runtime, error) {
	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	return &Runtime{client: client}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Ensures that the image with the provided reference is present and
// unpacked, pulling it from its registry when missing.
//
// Pre-baked stage images resolve locally and skip the pull, so only build
// images with previously unseen tool versions hit the network.
func (rt *Runtime) EnsureImage(ctx context.Context, ref string) error {
	if _, err := rt.client.ImageService().Get(ctx, ref); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	p, err := platforms.Parse(platform)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	slog.Info("pulling missing build image", "image", ref)

	if _, err := rt.client.Pull(ctx, ref,
		containerd.WithPullUnpack,
		containerd.WithPlatformMatcher(platforms.Only(p)),
		containerd.WithPullSnapshotter(snapshotter),
	); err != nil {
		return fmt.Errorf("%w: pulling %s: %v", ErrRuntime, ref, err)
	}

	return nil
}

// Configuration for one sandbox launch.
type Params struct {
	ID     string   // Sandbox identifier, used as the containerd container ID.
	Image  string   // Image reference to run.
	Device string   // Loop device mounted ext4 at the work directory.
	Env    []string // Externally supplied environment. Nothing else from the host is visible.
}

// Starts an isolated sandbox for one build session.
//
// The sandbox drops every capability except DAC_OVERRIDE, disallows
// privilege escalation, caps its process count, and has the runtime enforce
// the memory and memory+swap ceilings. Its filesystem view is the image
// plus the session volume mounted at the work directory. The primary task
// idles so that each pipeline stage can be executed against it in order.
func (rt *Runtime) Launch(ctx context.Context, params Params, limits Limits) (*Sandbox, error) {
	s := &Sandbox{
		client: rt.client,
		id:     params.ID,
	}

	// Remove any stale sandbox from a previous run with the same ID.
	s.remove(ctx)

	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	img, err := rt.client.ImageService().Get(ctx, params.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	image := containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p))

	ctr, err := rt.client.NewContainer(ctx, params.ID,
		containerd.WithImage(image),
		containerd.WithSnapshotter(snapshotter),
		containerd.WithNewSnapshot(params.ID, image),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(
			oci.WithDefaultSpecForPlatform(platform),
			oci.WithImageConfig(image),
			oci.WithEnv(params.Env),
			oci.WithProcessArgs("sleep", "infinity"),
			oci.WithCapabilities([]string{"CAP_DAC_OVERRIDE"}),
			oci.WithNoNewPrivileges,
			oci.WithMounts([]specs.Mount{{
				Destination: WorkDir,
				Type:        "ext4",
				Source:      params.Device,
				Options:     []string{"rw"},
			}}),
			withResourceLimits(limits),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	slog.Debug("sandbox started", "id", params.ID, "image", params.Image, "device", params.Device)

	return s, nil
}

// Force-removes every sandbox in the daemon's namespace.
//
// Used by the crash-recovery sweep: a restart must never leave a live
// sandbox unmanaged, so any container found here is an orphan from an
// unclean shutdown.
func (rt *Runtime) Sweep(ctx context.Context) error {
	ctrs, err := rt.client.Containers(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	for _, ctr := range ctrs {
		if task, taskErr := ctr.Task(ctx, nil); taskErr == nil {
			task.Kill(ctx, syscall.SIGKILL, containerd.WithKillAll)
			task.Delete(ctx, containerd.WithProcessKill)
		}
		if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %v", ErrRuntime, err)
		}
		slog.Warn("removed orphaned sandbox", "id", ctr.ID())
	}

	return nil
}

// Applies memory, memory+swap, and pids ceilings to the sandbox OCI spec.
// Enforcement is the runtime's responsibility, never application-level
// accounting.
func withResourceLimits(limits Limits) oci.SpecOpts {
	return func(_ context.Context, _ oci.Client, _ *containers.Container, s *oci.Spec) error {
		if s.Linux == nil {
			s.Linux = &specs.Linux{}
		}
		if s.Linux.Resources == nil {
			s.Linux.Resources = &specs.LinuxResources{}
		}

		memory := limits.Memory
		swap := limits.MemorySwap
		pids := int64(pidsLimit)
		s.Linux.Resources.Memory = &specs.LinuxMemory{
			Limit: &memory,
			Swap:  &swap,
		}
		s.Linux.Resources.Pids = &specs.LinuxPids{Limit: &pids}
		return nil
	}
}
