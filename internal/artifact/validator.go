// Package artifact validates and collects the canonical build outputs of a
// session before it may be marked succeeded.
package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/Brushfam/patron-backend/internal/sandbox"
	"github.com/Brushfam/patron-backend/internal/session"
)

// Canonical artifact paths inside the sandbox. The normalize-output stage
// guarantees these names regardless of the original contract name.
const (
	WasmPath     = sandbox.WorkDir + "/target/ink/main.wasm"
	MetadataPath = sandbox.WorkDir + "/target/ink/main.json"
)

// Reads single files out of a sandbox with a size ceiling. Implemented by
// [sandbox.Sandbox].
type FileReader interface {
	ReadFile(ctx context.Context, path string, limit int64) ([]byte, error)
}

// Checks produced files against presence and size ceilings.
type Validator struct {
	WasmLimit     int64 // Compiled module size ceiling, bytes.
	MetadataLimit int64 // Interface metadata size ceiling, bytes.
}

// Collects both canonical artifacts from a sandbox that exited cleanly.
//
// A missing artifact yields [session.ErrArtifactMissing]. An artifact over
// its ceiling yields [session.ErrArtifactTooLarge], distinct from a
// compile failure, since it is a policy violation rather than a toolchain
// error.
func (v *Validator) Collect(ctx context.Context, reader FileReader) (*session.Result, error) {
	wasm, err := v.read(ctx, reader, WasmPath, v.WasmLimit)
	if err != nil {
		return nil, err
	}

	metadata, err := v.read(ctx, reader, MetadataPath, v.MetadataLimit)
	if err != nil {
		return nil, err
	}

	return &session.Result{Wasm: wasm, Metadata: metadata}, nil
}

// Reads one artifact, translating sandbox file errors into the session
// failure taxonomy.
func (v *Validator) read(ctx context.Context, reader FileReader, path string, limit int64) ([]byte, error) {
	data, err := reader.ReadFile(ctx, path, limit)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, sandbox.ErrFileNotFound):
		return nil, fmt.Errorf("%w: %s", session.ErrArtifactMissing, path)
	case errors.Is(err, sandbox.ErrFileTooLarge):
		return nil, fmt.Errorf("%w: %s over %d bytes", session.ErrArtifactTooLarge, path, limit)
	default:
		return nil, fmt.Errorf("%w: %v", session.ErrSandboxRuntime, err)
	}
}
