package archive

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ephemera/pkg/tarindex"
)

type fakeStore struct {
	path, mime string
}

func (f fakeStore) ArchivePath(id string) (string, string, error) { return f.path, f.mime, nil }

func buildTar(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.tar")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), ModTime: time.Unix(1700000000, 0), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tw.Close: %v", err)
	}
	return path
}

func TestListEntriesRequiresTarMIME(t *testing.T) {
	path := buildTar(t, map[string]string{"a.txt": "hello"})
	svc := New(fakeStore{path: path, mime: "text/plain"}, tarindex.New())
	if _, err := svc.ListEntries("id1"); err == nil {
		t.Fatalf("expected an error for a non-tar record")
	}
}

func TestListEntriesReturnsParsedEntries(t *testing.T) {
	path := buildTar(t, map[string]string{"a.txt": "hello", "b.txt": "world!"})
	svc := New(fakeStore{path: path, mime: "application/x-tar"}, tarindex.New())
	entries, err := svc.ListEntries("id1")
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
}

func TestGetEntryByPathServesContent(t *testing.T) {
	path := buildTar(t, map[string]string{"a.txt": "hello"})
	svc := New(fakeStore{path: path, mime: "application/x-tar"}, tarindex.New())
	res, err := svc.GetEntry("id1", "a.txt")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if res.Size != 5 {
		t.Fatalf("size = %d, want 5", res.Size)
	}
	r, err := res.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	buf := make([]byte, 5)
	n, _ := r.ReadAt(buf, 0)
	if string(buf[:n]) != "hello" {
		t.Fatalf("content = %q, want hello", string(buf[:n]))
	}
}

func TestGetEntryUnknownPath(t *testing.T) {
	path := buildTar(t, map[string]string{"a.txt": "hello"})
	svc := New(fakeStore{path: path, mime: "application/x-tar"}, tarindex.New())
	if _, err := svc.GetEntry("id1", "missing.txt"); err == nil {
		t.Fatalf("expected NotFound for an unknown entry")
	}
}

func TestGetEntryByHashFallback(t *testing.T) {
	path := buildTar(t, map[string]string{"a.txt": "hello"})
	svc := New(fakeStore{path: path, mime: "application/x-tar"}, tarindex.New())
	entries, err := svc.ListEntries("id1")
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	res, err := svc.GetEntry("id1", entries[0].Hash)
	if err != nil {
		t.Fatalf("GetEntry by hash: %v", err)
	}
	if res.DisplayName != "a.txt" {
		t.Fatalf("DisplayName = %q, want a.txt", res.DisplayName)
	}
}
