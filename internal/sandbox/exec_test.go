package sandbox

import (
	"errors"
	"strings"
	"testing"
)

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/root", "RUSTC_VERSION=1.70.0"}
	overrides := []string{"RUSTC_VERSION=1.75.0", "CARGO_HOME=/usr/local/cargo"}

	merged := mergeEnv(base, overrides)

	want := []string{
		"PATH=/usr/bin",
		"HOME=/root",
		"RUSTC_VERSION=1.75.0",
		"CARGO_HOME=/usr/local/cargo",
	}
	if len(merged) != len(want) {
		t.Fatalf("merged = %v, want %v", merged, want)
	}
	for i, kv := range want {
		if merged[i] != kv {
			t.Fatalf("merged[%d] = %q, want %q", i, merged[i], kv)
		}
	}
}

func TestMergeEnvSkipsMalformedEntries(t *testing.T) {
	merged := mergeEnv([]string{"VALID=1", "notakeyvalue"}, nil)
	if len(merged) != 1 || merged[0] != "VALID=1" {
		t.Fatalf("merged = %v, want [VALID=1]", merged)
	}
}

func TestMergeEnvEmpty(t *testing.T) {
	if merged := mergeEnv(nil, nil); len(merged) != 0 {
		t.Fatalf("merged = %v, want empty", merged)
	}
}

func TestCappedWriterUnderCap(t *testing.T) {
	w := newCappedWriter(16)

	n, err := w.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("write = %d, %v", n, err)
	}
	if w.truncated {
		t.Fatal("truncated before cap")
	}
	if w.buf.String() != "hello" {
		t.Fatalf("buf = %q", w.buf.String())
	}
}

func TestCappedWriterOverflow(t *testing.T) {
	w := newCappedWriter(8)

	if _, err := w.Write([]byte("12345")); err != nil {
		t.Fatalf("first write: %v", err)
	}

	n, err := w.Write([]byte("67890"))
	if !errors.Is(err, errCapExceeded) {
		t.Fatalf("overflow err = %v, want errCapExceeded", err)
	}
	if n != 3 {
		t.Fatalf("partial write = %d, want 3", n)
	}
	if !w.truncated {
		t.Fatal("not flagged truncated")
	}
	if w.buf.String() != "12345678" {
		t.Fatalf("buf = %q, want first 8 bytes", w.buf.String())
	}

	// Everything after overflow is rejected outright.
	if n, err := w.Write([]byte("x")); n != 0 || !errors.Is(err, errCapExceeded) {
		t.Fatalf("post-overflow write = %d, %v", n, err)
	}
}

func TestNextExecIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := nextExecID()
		if !strings.HasPrefix(id, "exec-") {
			t.Fatalf("id = %q, want exec- prefix", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
