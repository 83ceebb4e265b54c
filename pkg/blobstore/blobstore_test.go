package blobstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPreallocateAndRelease(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p, err := Preallocate(s.ContentPath, "photo.jpg", 100)
	if err != nil {
		t.Fatalf("Preallocate: %v", err)
	}
	fi, err := os.Stat(p.Path)
	if err != nil {
		t.Fatalf("stat preallocated file: %v", err)
	}
	if fi.Size() != 100 {
		t.Fatalf("size = %d, want 100", fi.Size())
	}
	p.Release()
	if _, err := os.Stat(p.Path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed after Release, err=%v", err)
	}
}

func TestPreallocateReleaseIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	p, _ := Preallocate(s.ContentPath, "", 0)
	p.Release()
	p.Release() // must not panic
}

func TestConcatenateToFinalSameDevice(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "session.tmp")
	if err := os.WriteFile(tmp, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write tmp: %v", err)
	}
	final := filepath.Join(dir, "final-id")
	if err := ConcatenateToFinal(tmp, final); err != nil {
		t.Fatalf("ConcatenateToFinal: %v", err)
	}
	got, err := os.ReadFile(final)
	if err != nil || string(got) != "hello" {
		t.Fatalf("final content = %q, %v", got, err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatalf("expected tmp file gone after rename")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	if err := s.Remove("nonexistent", ""); err != nil {
		t.Fatalf("Remove of missing id should be a no-op, got %v", err)
	}
}

func TestPathLayout(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	if got := s.ContentPath("abc", "jpg"); got != filepath.Join(dir, "abc.jpg") {
		t.Fatalf("ContentPath = %q", got)
	}
	if got := s.ThumbnailPath("abc", "jpg"); got != filepath.Join(dir, "abc.jpg.thumbnail") {
		t.Fatalf("ThumbnailPath = %q", got)
	}
	if got := s.IndexPath("abc", ""); got != filepath.Join(dir, "abc.idx") {
		t.Fatalf("IndexPath = %q", got)
	}
}
