// Package blobstore implements the deterministic on-disk blob layout
// of §4.4: content file, thumbnail sidecar, archive-index sidecar, all
// named by id under a single storage directory. Grounded on the
// teacher's pkg/blobserver/localdisk (receive.go's tempfile-then-rename
// write path, path.go's naming scheme), flattened from localdisk's
// sharded two-level directory fan-out to the single flat directory
// §4.4 specifies — ephemera's ids are already high-entropy UUIDs, so
// localdisk's directory-fanout rationale (avoiding huge flat
// directories of content-hash names) doesn't carry over at the scale
// this server targets.
package blobstore

import (
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"ephemera/pkg/apperr"
)

// Store is the content-addressed blob directory.
type Store struct {
	root    string
	staging string
}

// Open prepares root as the blob directory and a staging directory
// under the OS temp root for in-progress multipart uploads (§6's
// "Persisted state"), creating both if absent. Staging living outside
// root is why ConcatenateToFinal below needs the EXDEV fallback:
// /tmp is commonly a separate (or tmpfs) filesystem from the storage
// directory on Linux.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "create storage directory", err)
	}
	staging := filepath.Join(os.TempDir(), "ephemera-staging")
	if err := os.MkdirAll(staging, 0o700); err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "create staging directory", err)
	}
	return &Store{root: root, staging: staging}, nil
}

// ContentPath returns the path of id's content file given its
// extension (empty if none).
func (s *Store) ContentPath(id, ext string) string {
	if ext == "" {
		return filepath.Join(s.root, id)
	}
	return filepath.Join(s.root, id+"."+ext)
}

// ThumbnailPath returns the path of id's thumbnail sidecar.
func (s *Store) ThumbnailPath(id, ext string) string {
	return s.ContentPath(id, ext) + ".thumbnail"
}

// IndexPath returns the path of id's tar-index sidecar.
func (s *Store) IndexPath(id, ext string) string {
	return s.ContentPath(id, ext) + ".idx"
}

// StagingPath returns the path of sessionID's in-progress multipart
// tmp file.
func (s *Store) StagingPath(sessionID string) string {
	return filepath.Join(s.staging, sessionID+".tmp")
}

// StagingDir exposes the staging directory for the administrative
// sweep (§4.5.2's "joins staging entries against live session ids").
func (s *Store) StagingDir() string { return s.staging }

// Preallocation is a handle over a freshly created, possibly
// length-preset file. Release deletes the file and is safe to call on
// every error path, including after a successful write if the caller
// still decides to abort — §4.4's "must expose a release operation."
type Preallocation struct {
	ID   string
	Path string
	File *os.File

	released bool
}

// Preallocate generates a fresh id, derives an extension from
// filename if given, creates the file, and — if size is non-zero —
// truncates it to that length up front.
func Preallocate(dir func(id, ext string) string, filename string, size int64) (*Preallocation, error) {
	id := uuid.New().String()
	ext := ""
	if filename != "" {
		if e := filepath.Ext(filename); len(e) > 1 {
			ext = e[1:]
		}
	}
	path := dir(id, ext)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "preallocate blob", err)
	}
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			os.Remove(path)
			return nil, apperr.Wrap(apperr.KindIO, "preallocate blob size", err)
		}
	}
	return &Preallocation{ID: id, Path: path, File: f}, nil
}

// Release closes and deletes the preallocated file. Idempotent.
func (p *Preallocation) Release() {
	if p.released {
		return
	}
	p.released = true
	p.File.Close()
	os.Remove(p.Path)
}

// Finalize closes the file without deleting it, consuming the handle
// so a later Release is a no-op.
func (p *Preallocation) Finalize() error {
	p.released = true
	return p.File.Close()
}

// ConcatenateToFinal moves tmpPath to finalPath, falling back to
// copy-then-unlink when rename fails across devices (EXDEV) — §4.4's
// "relevant on Linux /tmp vs storage dir" note.
func ConcatenateToFinal(tmpPath, finalPath string) error {
	err := os.Rename(tmpPath, finalPath)
	if err == nil {
		return nil
	}
	linkErr, ok := err.(*os.LinkError)
	if !ok || linkErr.Err != syscall.EXDEV {
		return apperr.Wrap(apperr.KindIO, "rename blob to final path", err)
	}
	if copyErr := copyThenUnlink(tmpPath, finalPath); copyErr != nil {
		return apperr.Wrap(apperr.KindIO, "copy blob to final path", copyErr)
	}
	return nil
}

func copyThenUnlink(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// Remove deletes id's content, thumbnail, and index sidecars. Missing
// files are not an error: delete is idempotent at the filesystem
// level, matching §8's "deleting a nonexistent id returns false
// without error" at the store layer.
func (s *Store) Remove(id, ext string) error {
	for _, p := range []string{s.ContentPath(id, ext), s.ThumbnailPath(id, ext), s.IndexPath(id, ext)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return apperr.Wrap(apperr.KindIO, "remove blob file", err)
		}
	}
	return nil
}

// WriteThumbnail writes data to id's thumbnail sidecar.
func (s *Store) WriteThumbnail(id, ext string, data []byte) error {
	if err := os.WriteFile(s.ThumbnailPath(id, ext), data, 0o600); err != nil {
		return apperr.Wrap(apperr.KindIO, "write thumbnail", err)
	}
	return nil
}

// Stat returns the file's size and modification time, surfaced as
// NotFound/Forbidden/Internal per §7's I/O-cause refinement.
func Stat(path string) (size int64, mtimeUnix int64, err error) {
	fi, statErr := os.Stat(path)
	if statErr != nil {
		return 0, 0, apperr.Wrap(apperr.KindIO, "stat blob", statErr)
	}
	return fi.Size(), fi.ModTime().Unix(), nil
}

// OpenRead opens path for reading, wrapping the error per the I/O
// refinement table.
func OpenRead(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "open blob", err)
	}
	return f, nil
}
