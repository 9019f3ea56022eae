package artifact

import (
	"context"
	"errors"
	"testing"

	"github.com/Brushfam/patron-backend/internal/sandbox"
	"github.com/Brushfam/patron-backend/internal/session"
)

type fakeReader struct {
	files map[string][]byte
	err   error
}

func (r *fakeReader) ReadFile(ctx context.Context, path string, limit int64) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	b, ok := r.files[path]
	if !ok {
		return nil, sandbox.ErrFileNotFound
	}
	if int64(len(b)) > limit {
		return nil, sandbox.ErrFileTooLarge
	}
	return b, nil
}

func TestCollect(t *testing.T) {
	v := &Validator{WasmLimit: 1024, MetadataLimit: 1024}
	reader := &fakeReader{files: map[string][]byte{
		WasmPath:     []byte("\x00asm\x01\x00\x00\x00"),
		MetadataPath: []byte(`{"source":{}}`),
	}}

	result, err := v.Collect(context.Background(), reader)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(result.Wasm) != 8 || len(result.Metadata) != 13 {
		t.Fatalf("result sizes = %d/%d", len(result.Wasm), len(result.Metadata))
	}
}

func TestCollectMissingWasm(t *testing.T) {
	v := &Validator{WasmLimit: 1024, MetadataLimit: 1024}
	reader := &fakeReader{files: map[string][]byte{
		MetadataPath: []byte("{}"),
	}}

	_, err := v.Collect(context.Background(), reader)
	if !errors.Is(err, session.ErrArtifactMissing) {
		t.Fatalf("err = %v, want ErrArtifactMissing", err)
	}
}

func TestCollectMissingMetadata(t *testing.T) {
	v := &Validator{WasmLimit: 1024, MetadataLimit: 1024}
	reader := &fakeReader{files: map[string][]byte{
		WasmPath: []byte("\x00asm"),
	}}

	_, err := v.Collect(context.Background(), reader)
	if !errors.Is(err, session.ErrArtifactMissing) {
		t.Fatalf("err = %v, want ErrArtifactMissing", err)
	}
}

func TestCollectOversized(t *testing.T) {
	v := &Validator{WasmLimit: 4, MetadataLimit: 1024}
	reader := &fakeReader{files: map[string][]byte{
		WasmPath:     []byte("\x00asm\x01\x00\x00\x00"),
		MetadataPath: []byte("{}"),
	}}

	_, err := v.Collect(context.Background(), reader)
	if !errors.Is(err, session.ErrArtifactTooLarge) {
		t.Fatalf("err = %v, want ErrArtifactTooLarge", err)
	}
}

func TestCollectRuntimeError(t *testing.T) {
	v := &Validator{WasmLimit: 1024, MetadataLimit: 1024}
	reader := &fakeReader{err: errors.New("task not responding")}

	_, err := v.Collect(context.Background(), reader)
	if !errors.Is(err, session.ErrSandboxRuntime) {
		t.Fatalf("err = %v, want ErrSandboxRuntime", err)
	}
}
