// Package archive implements the Archive Service of §4.7: listing and
// serving individual entries of a stored tar file through the same
// download pipeline ordinary blobs use. Grounded on the teacher's
// pkg/blobserver/gethandler.go dispatch shape, reused via
// pkg/download, with entry resolution delegated entirely to
// pkg/tarindex.
package archive

import (
	"time"

	"ephemera/pkg/apperr"
	"ephemera/pkg/download"
	"ephemera/pkg/tarindex"
)

// Store is the narrow slice of the metadata store archive listing
// needs: resolve a record's MIME and blob path.
type Store interface {
	ArchivePath(id string) (path, mime string, err error)
}

// Service wires the tar indexer to record resolution.
type Service struct {
	Store Store
	Index *tarindex.Indexer
}

func New(store Store, index *tarindex.Indexer) *Service {
	return &Service{Store: store, Index: index}
}

// ListEntries implements list_entries(id): requires the record's MIME
// to be application/x-tar, then returns its parsed entries.
func (s *Service) ListEntries(id string) ([]tarindex.Entry, error) {
	path, mime, err := s.Store.ArchivePath(id)
	if err != nil {
		return nil, err
	}
	if mime != "application/x-tar" {
		return nil, apperr.BadRequest("record is not a tar archive")
	}
	return s.Index.Entries(path)
}

// GetEntry implements get_entry(id, path_or_hash, ...): resolves the
// entry by path then hash, rejects non-file entries, and returns a
// download.Resource wired to a bounds-clamped archive-interior reader.
func (s *Service) GetEntry(id, pathOrHash string) (download.Resource, error) {
	archivePath, mime, err := s.Store.ArchivePath(id)
	if err != nil {
		return download.Resource{}, err
	}
	if mime != "application/x-tar" {
		return download.Resource{}, apperr.BadRequest("record is not a tar archive")
	}

	entries, err := s.Index.Entries(archivePath)
	if err != nil {
		return download.Resource{}, err
	}
	entry, ok := tarindex.FindByPathOrHash(entries, pathOrHash)
	if !ok {
		return download.Resource{}, apperr.NotFound("no such archive entry")
	}
	if !entry.IsFile {
		return download.Resource{}, apperr.BadRequest("entry is not a file")
	}

	return download.Resource{
		Open: func() (download.Source, error) {
			return tarindex.OpenEntry(archivePath, entry)
		},
		Size:        entry.Size,
		Hash:        entry.Hash,
		MIME:        entry.MIME,
		DisplayName: entry.Path,
		ModTime:     time.Unix(entry.MTimeUnix, 0),
	}, nil
}
