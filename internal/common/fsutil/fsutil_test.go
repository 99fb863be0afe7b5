package fsutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
	// raw path unaffected
	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	p, err := ExpandHome("~")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p != home {
		t.Fatalf("expected %q, got %q", home, p)
	}
	exp, err := ExpandHome("~/data")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if filepath.Base(exp) != "data" {
		t.Fatalf("unexpected expanded path: %q", exp)
	}
}

func TestFirstExisting(t *testing.T) {
	d := t.TempDir()
	b := filepath.Join(d, "b")
	if err := os.WriteFile(b, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := FirstExisting(filepath.Join(d, "a"), b); got != b {
		t.Fatalf("got %q want %q", got, b)
	}
	if got := FirstExisting(filepath.Join(d, "a")); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if !PathExists(b) || PathExists(filepath.Join(d, "a")) {
		t.Fatalf("PathExists mismatch")
	}
}

func TestWriteFileAtomic_OverwritesAndCreatesDirs(t *testing.T) {
	d := t.TempDir()
	p := filepath.Join(d, "nested", "out.bin")
	for _, content := range []string{"first", "second"} {
		err := WriteFileAtomic(p, 0o644, func(w io.Writer) error {
			_, err := io.WriteString(w, content)
			return err
		})
		if err != nil {
			t.Fatalf("write %s: %v", content, err)
		}
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "second" {
		t.Fatalf("got %q", b)
	}
	entries, _ := os.ReadDir(filepath.Dir(p))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestWriteFileAtomic_ErrorKeepsOldFile(t *testing.T) {
	d := t.TempDir()
	p := filepath.Join(d, "out.bin")
	if err := os.WriteFile(p, []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	boom := errors.New("boom")
	err := WriteFileAtomic(p, 0o644, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	b, _ := os.ReadFile(p)
	if string(b) != "old" {
		t.Fatalf("old file clobbered: %q", b)
	}
	entries, _ := os.ReadDir(d)
	if len(entries) != 1 {
		t.Fatalf("temp file left behind")
	}
}
