package volume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// Prefix for volume backing files under the images path. The startup sweep
// uses it to find backing files left behind by an unclean shutdown.
const backingPrefix = "volume-"

var (
	ErrProvision = errors.New("volume provisioning failed")

	// Loop device detach failed. A leaked loop device accumulates host
	// resource pressure across builds, so callers escalate this instead of
	// absorbing it into the session outcome.
	ErrDetach = errors.New("volume detach failed")
)

// Creates and destroys fixed-capacity, ext4-formatted loop devices backing
// each build's private storage.
type Manager struct {
	dir  string // Directory holding backing files.
	size string // Capacity per volume, in fallocate -l format.
}

// Creates a manager that places backing files in dir, each with the given
// capacity.
func NewManager(dir, size string) *Manager {
	return &Manager{dir: dir, size: size}
}

// A fixed-capacity block-backed store owned by exactly one build session.
type Volume struct {
	device   string // Loop device path (e.g. /dev/loop3).
	file     string // ext4-formatted backing file.
	released atomic.Bool
}

// Allocates a backing file, formats it as ext4, and exposes it as a loop
// device.
//
// Failures frequently indicate exhausted host capacity rather than a
// transient condition, so callers must not retry automatically.
func (m *Manager) Provision(ctx context.Context) (*Volume, error) {
	f, err := os.CreateTemp(m.dir, backingPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvision, err)
	}
	file := f.Name()
	f.Close()

	if err := runQuiet(ctx, "fallocate", "-l", m.size, file); err != nil {
		os.Remove(file)
		return nil, fmt.Errorf("%w: fallocate: %v", ErrProvision, err)
	}

	if err := runQuiet(ctx, "mkfs.ext4", "-q", file); err != nil {
		os.Remove(file)
		return nil, fmt.Errorf("%w: mkfs.ext4: %v", ErrProvision, err)
	}

	out, err := exec.CommandContext(ctx, "udisksctl", "loop-setup", "--no-user-interaction", "-f", file).Output()
	if err != nil {
		os.Remove(file)
		return nil, fmt.Errorf("%w: udisksctl loop-setup: %v", ErrProvision, err)
	}

	device, ok := parseLoopDevice(string(out))
	if !ok {
		os.Remove(file)
		return nil, fmt.Errorf("%w: unrecognized udisksctl output %q", ErrProvision, strings.TrimSpace(string(out)))
	}

	slog.Debug("volume provisioned", "device", device, "file", file, "size", m.size)

	return &Volume{device: device, file: file}, nil
}

// Returns the loop device path to mount inside a sandbox.
func (v *Volume) Device() string {
	return v.device
}

// Detaches the loop device and removes the backing file.
//
// Release is idempotent: it runs once per volume and later calls are
// no-ops, so the normal completion path and the crash-recovery sweep can
// both call it safely. A detach failure is returned as [ErrDetach] and
// requires operator intervention.
func (v *Volume) Release(ctx context.Context) error {
	if !v.released.CompareAndSwap(false, true) {
		return nil
	}

	if err := runQuiet(ctx, "udisksctl", "loop-delete", "--no-user-interaction", "-b", v.device); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDetach, v.device, err)
	}

	if err := os.Remove(v.file); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing backing file: %v", ErrDetach, err)
	}

	slog.Debug("volume released", "device", v.device)
	return nil
}

// Detaches and removes backing files left under the images path by an
// unclean shutdown. Runs before any new session is admitted.
func (m *Manager) Sweep(ctx context.Context) error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: sweep: %v", ErrDetach, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), backingPrefix) {
			continue
		}
		file := filepath.Join(m.dir, entry.Name())

		// If the file is still attached to a loop device, detach it first.
		out, err := exec.CommandContext(ctx, "losetup", "--noheadings", "--output", "NAME", "-j", file).Output()
		if err == nil {
			for device := range strings.Lines(string(out)) {
				device = strings.TrimSpace(device)
				if device == "" {
					continue
				}
				if err := runQuiet(ctx, "udisksctl", "loop-delete", "--no-user-interaction", "-b", device); err != nil {
					return fmt.Errorf("%w: orphaned device %s: %v", ErrDetach, device, err)
				}
				slog.Warn("detached orphaned volume device", "device", device, "file", file)
			}
		}

		if err := os.Remove(file); err != nil {
			return fmt.Errorf("%w: orphaned backing file %s: %v", ErrDetach, file, err)
		}
		slog.Warn("removed orphaned volume backing file", "file", file)
	}

	return nil
}

// Extracts the loop device path from udisksctl loop-setup output, which
// has the form "Mapped file /tmp/x as /dev/loop3.".
func parseLoopDevice(out string) (string, bool) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", false
	}
	device, ok := strings.CutSuffix(fields[len(fields)-1], ".")
	if !ok || !strings.HasPrefix(device, "/dev/") {
		return "", false
	}
	return device, true
}

// Runs a command discarding its output, returning an error that includes
// trailing stderr when the command fails.
func runQuiet(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 200 {
			msg = msg[len(msg)-200:]
		}
		if msg != "" {
			return fmt.Errorf("%v (%s)", err, msg)
		}
		return err
	}
	return nil
}
