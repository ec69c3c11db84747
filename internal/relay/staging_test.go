package relay

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestStageNotifierBinaryNoopOffWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("this test covers the non-windows no-op path")
	}

	src := filepath.Join(t.TempDir(), "notifier")
	if err := os.WriteFile(src, []byte("binary"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := stageNotifierBinary("/some/project", "sess-1", src)
	if err != nil {
		t.Fatalf("stageNotifierBinary: %v", err)
	}
	if got != src {
		t.Fatalf("expected original path %q unchanged, got %q", src, got)
	}
}

func TestStageNotifierBinaryEmptyPath(t *testing.T) {
	got, err := stageNotifierBinary("/some/project", "sess-1", "")
	if err != nil {
		t.Fatalf("stageNotifierBinary: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty path to pass through, got %q", got)
	}
}

func TestCopyFileByteForByte(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")

	want := []byte("some binary content\x00\x01\x02")
	if err := os.WriteFile(src, want, 0644); err != nil {
		t.Fatal(err)
	}

	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Fatalf("copied content = %q, want %q", got, want)
	}
}
