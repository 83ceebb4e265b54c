// Package tarindex implements the Tar Index of §4.2: materializing a
// sidecar entry list for a tar archive, and opening a bounds-checked
// reader onto one entry's data suitable for handing to pkg/rangeio.
// Grounded on the teacher's pkg/importer archive-walking idiom (read
// sequentially, record offsets) and pkg/blob's streaming SHA-256 hash
// style (blob.NewHash + io.MultiWriter in receive.go);
// golang.org/x/sync/singleflight collapses concurrent first-touch
// materialization of the same archive, the same duplicate-suppression
// role perkeep's blobhub.go gives its own hook dispatch.
package tarindex

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"ephemera/pkg/apperr"
	"ephemera/pkg/mimesniff"
)

// sniffLen is how much of an entry's data is read up front to guess
// its MIME type and seed the streaming hash, per §4.2's "read up to 4
// KiB" materialization step.
const sniffLen = 4096

// Entry is one archive member, §4.2's ArchiveEntry.
type Entry struct {
	Path         string `json:"path"`
	MTimeUnix    int64  `json:"mtime"`
	Size         int64  `json:"size"`
	IsFile       bool   `json:"is_file"`
	MIME         string `json:"mime,omitempty"`
	Hash         string `json:"hash,omitempty"` // sha256 hex, file entries only
	HeaderOffset int64  `json:"header_offset"`
	DataOffset   int64  `json:"data_offset"`
}

// Indexer materializes and caches sidecar indices for archive files.
type Indexer struct {
	group singleflight.Group

	mu    sync.Mutex
	cache map[string][]Entry
}

func New() *Indexer {
	return &Indexer{cache: make(map[string][]Entry)}
}

func sidecarPath(archivePath string) string { return archivePath + ".idx" }

// Entries returns archivePath's entry list, reading the sidecar if
// present and parseable, else materializing it (and persisting the
// result) exactly once even under concurrent callers.
func (ix *Indexer) Entries(archivePath string) ([]Entry, error) {
	ix.mu.Lock()
	if cached, ok := ix.cache[archivePath]; ok {
		ix.mu.Unlock()
		return cached, nil
	}
	ix.mu.Unlock()

	v, err, _ := ix.group.Do(archivePath, func() (interface{}, error) {
		if entries, ok := readSidecar(sidecarPath(archivePath)); ok {
			ix.store(archivePath, entries)
			return entries, nil
		}
		entries, err := materialize(archivePath)
		if err != nil {
			return nil, err
		}
		// Sidecar write failures are recovered locally per §7: the
		// index is still usable in memory even if persistence fails.
		_ = writeSidecar(sidecarPath(archivePath), entries)
		ix.store(archivePath, entries)
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

func (ix *Indexer) store(archivePath string, entries []Entry) {
	ix.mu.Lock()
	ix.cache[archivePath] = entries
	ix.mu.Unlock()
}

// Invalidate drops archivePath's cached entries, forcing the next
// Entries call to re-read or rematerialize.
func (ix *Indexer) Invalidate(archivePath string) {
	ix.mu.Lock()
	delete(ix.cache, archivePath)
	ix.mu.Unlock()
}

func readSidecar(path string) ([]Entry, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		// Corrupt sidecar: rebuild rather than fail, per §7.
		return nil, false
	}
	return entries, true
}

func writeSidecar(path string, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// materialize walks the tar sequentially, recording each entry's
// offsets, sniffing MIME and hashing file entries' full contents.
func materialize(archivePath string) ([]Entry, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "open archive", err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	var entries []Entry
	for {
		headerOffset, serr := f.Seek(0, io.SeekCurrent)
		if serr != nil {
			return nil, apperr.Wrap(apperr.KindIO, "seek archive", serr)
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindBadRequest, "read tar header", err)
		}
		dataOffset, serr := f.Seek(0, io.SeekCurrent)
		if serr != nil {
			return nil, apperr.Wrap(apperr.KindIO, "seek archive", serr)
		}

		isFile := hdr.Typeflag == tar.TypeReg || hdr.Typeflag == tar.TypeRegA

		entry := Entry{
			Path:         hdr.Name,
			MTimeUnix:    hdr.ModTime.Unix(),
			Size:         hdr.Size,
			IsFile:       isFile,
			HeaderOffset: headerOffset,
			DataOffset:   dataOffset,
		}

		if isFile {
			mime, hash, err := sniffAndHash(tr, hdr.Size)
			if err != nil {
				return nil, err
			}
			entry.MIME = mime
			entry.Hash = hash
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func sniffAndHash(r io.Reader, size int64) (mime, hash string, err error) {
	h := sha256.New()
	sniffBuf := make([]byte, 0, sniffLen)

	buf := make([]byte, 32*1024)
	var read int64
	for read < size {
		want := int64(len(buf))
		if remaining := size - read; remaining < want {
			want = remaining
		}
		n, rerr := r.Read(buf[:want])
		if n > 0 {
			h.Write(buf[:n])
			if len(sniffBuf) < sniffLen {
				take := n
				if len(sniffBuf)+take > sniffLen {
					take = sniffLen - len(sniffBuf)
				}
				sniffBuf = append(sniffBuf, buf[:take]...)
			}
			read += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", "", apperr.Wrap(apperr.KindIO, "read tar entry", rerr)
		}
	}

	return mimesniff.Guess(sniffBuf, ""), hex.EncodeToString(h.Sum(nil)), nil
}

// EntryReader is a bounds-checked io.ReaderAt over one archive entry's
// data span, satisfying pkg/rangeio.Source directly.
type EntryReader struct {
	f      *os.File
	offset int64
	size   int64
}

// OpenEntry opens archivePath and returns a reader clamped to entry's
// [DataOffset, DataOffset+Size) span, plus the entry itself. §4.2's
// "rejecting seeks that cross the entry bounds."
func OpenEntry(archivePath string, entry Entry) (*EntryReader, error) {
	if !entry.IsFile {
		return nil, apperr.BadRequest("not a file entry")
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "open archive", err)
	}
	return &EntryReader{f: f, offset: entry.DataOffset, size: entry.Size}, nil
}

// ReadAt implements io.ReaderAt, clamping reads to the entry's bounds
// so no byte beyond DataOffset+Size is ever returned.
func (er *EntryReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > er.size {
		return 0, fmt.Errorf("tarindex: offset %d out of entry bounds [0,%d)", off, er.size)
	}
	max := er.size - off
	if int64(len(p)) > max {
		p = p[:max]
	}
	if len(p) == 0 {
		return 0, io.EOF
	}
	n, err := er.f.ReadAt(p, er.offset+off)
	if err == nil && int64(off)+int64(n) >= er.size {
		err = io.EOF
	}
	return n, err
}

// Close releases the underlying file handle.
func (er *EntryReader) Close() error { return er.f.Close() }

// FindByPathOrHash resolves path_or_hash against entries: literal path
// match first, then hash match, first hit wins, per §4.7.
func FindByPathOrHash(entries []Entry, pathOrHash string) (Entry, bool) {
	for _, e := range entries {
		if e.Path == pathOrHash {
			return e, true
		}
	}
	for _, e := range entries {
		if e.Hash == pathOrHash {
			return e, true
		}
	}
	return Entry{}, false
}

// IndexPath returns the sidecar path for an archive file, exported for
// callers (e.g. administrative cleanup) that need to name it without
// materializing.
func IndexPath(archivePath string) string { return sidecarPath(archivePath) }
