// Package store is the authoritative metadata store: one SQLite row
// per stored file, hash-indexed for dedup, cursor-paginated for
// listing. Grounded on the teacher's pkg/mysqlindexer (a relational
// blob index) and pkg/index (the search index's storage shape), but
// using modernc.org/sqlite for the embedded single-file database §6
// calls for instead of MySQL.
package store

// MetaKind discriminates the typed metadata variant of a Record.
type MetaKind string

const (
	MetaNone    MetaKind = "none"
	MetaImage   MetaKind = "image"
	MetaArchive MetaKind = "archive"
)

// ImageMeta is the Image variant: decoded dimensions, and the
// thumbnail's dimensions when one was written (§4.5.1 step 7 skips
// the thumbnail file when the source already fits the 500x500 box,
// in which case ThumbWidth/ThumbHeight are nil).
type ImageMeta struct {
	Width, Height           int
	ThumbWidth, ThumbHeight *int
}

// ArchiveMeta is the Archive variant. Entries are not duplicated here:
// they live canonically in the tar index sidecar (§4.2) and are
// served by pkg/archive, which reads them fresh or rebuilds them from
// the blob. The archive handlers recognize archive files by their
// application/x-tar MIME type, not by this variant tag.
type ArchiveMeta struct{}

// Metadata is the tagged union described by §3.
type Metadata struct {
	Kind    MetaKind
	Image   *ImageMeta
	Archive *ArchiveMeta
}

// Record is one row of the files table.
type Record struct {
	ID       string
	OwnerID  string // optional; empty means the "public" quota scope
	DeviceID string // optional
	Name     string
	Hash     string // hex-encoded SHA-256
	Size     int64
	MIME     string
	Ext      string
	IP       string
	Caption  string
	Tags     []string
	Encrypted bool
	Pinned    bool
	CreatedAt int64
	UpdatedAt int64
	Metadata  Metadata
}

// ContentDescriptor is the narrow projection the download pipeline
// needs: enough to resolve a blob path and negotiate headers without
// paying for the full Record scan.
type ContentDescriptor struct {
	ID      string
	OwnerID string
	Name    string
	Hash    string
	Size    int64
	MIME    string
	Ext     string
	Pinned  bool
}

// ownerScope returns the key used for the (hash, owner) uniqueness
// invariant and for quota accounting: the owner id, or the
// well-known "public" sentinel when there is none.
func ownerScope(ownerID string) string {
	if ownerID == "" {
		return "public"
	}
	return ownerID
}
