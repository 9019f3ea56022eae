package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/Brushfam/patron-backend/internal"
)

const (

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/builderd or /run/user/<uid>/builderd
//	macOS:   ~/Library/Caches/builderd/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, internal.Name)
	}
	return filepath.Join(xdg.CacheHome, internal.Name, "run")
}

// Default path to the Unix domain socket for operator-to-daemon communication.
//
//	Linux:   $XDG_RUNTIME_DIR/builderd/builderd.sock
//	macOS:   ~/Library/Caches/builderd/run/builderd.sock
func Socket() string {
	return filepath.Join(Runtime(), internal.Name+".sock")
}

// Default path to the PID file.
//
//	Linux:   $XDG_RUNTIME_DIR/builderd/builderd.pid
//	macOS:   ~/Library/Caches/builderd/run/builderd.pid
func PIDFile() string {
	return filepath.Join(Runtime(), internal.Name+".pid")
}
