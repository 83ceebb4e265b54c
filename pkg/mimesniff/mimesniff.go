// Package mimesniff guesses a content's MIME type from its leading
// bytes, falling back to filename extension. Grounded on the teacher's
// pkg/magic/magic.go prefix table, trimmed to the types ephemera's
// upload and tar-index paths care about (§4.5.1 step 7's recognized
// image set, §4.2's archive-entry sniffing, and the general-purpose
// fallback every upload goes through).
package mimesniff

import (
	"mime"
	"path/filepath"
	"strings"
)

type prefixEntry struct {
	offset int
	prefix []byte
	mtype  string
}

var prefixTable = []prefixEntry{
	{0, []byte("GIF87a"), "image/gif"},
	{0, []byte("GIF89a"), "image/gif"},
	{0, []byte("\xff\xd8\xff\xe2"), "image/jpeg"},
	{0, []byte("\xff\xd8\xff\xe1"), "image/jpeg"},
	{0, []byte("\xff\xd8\xff\xe0"), "image/jpeg"},
	{0, []byte("\xff\xd8\xff\xdb"), "image/jpeg"},
	{0, []byte{137, 'P', 'N', 'G', '\r', '\n', 26, 10}, "image/png"},
	{0, []byte("RIFF"), "image/webp"}, // refined below: RIFF....WEBP
	{0, []byte{0, 0, 0, 0x18, 0x66, 0x74, 0x79, 0x70}, "image/heic"},
	{0, []byte{0, 0, 0, 0x1c, 0x66, 0x74, 0x79, 0x70}, "image/heic"},
	{0, []byte{0x1A, 0x45, 0xDF, 0xA3}, "video/webm"},
	{0, []byte{0x1F, 0x8B, 0x08}, "application/x-gzip"},
	{0, []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}, "application/x-7z-compressed"},
	{0, []byte("BZh"), "application/x-bzip2"},
	{0, []byte{'P', 'K', 3, 4}, "application/zip"},
	{0, []byte("%PDF"), "application/pdf"},
	{257, []byte("ustar\x0000"), "application/x-tar"},
	{257, []byte("ustar  \x00"), "application/x-tar"},
}

// MIMEType returns the sniffed MIME type for hdr, the leading bytes of
// a stream (4 KiB is ample per §4.2's materialization step), or "" if
// nothing in the table matches.
func MIMEType(hdr []byte) string {
	for _, e := range prefixTable {
		if e.offset+len(e.prefix) > len(hdr) {
			continue
		}
		if string(hdr[e.offset:e.offset+len(e.prefix)]) == string(e.prefix) {
			if e.mtype == "image/webp" {
				if len(hdr) < 12 || string(hdr[8:12]) != "WEBP" {
					continue
				}
			}
			return e.mtype
		}
	}
	return ""
}

// ByExtension maps a filename's extension to a MIME type via the
// standard library's registered set, the same fallback order the
// teacher's magic.MIMETypeByExtension uses.
func ByExtension(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return ""
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return ""
}

// Guess sniffs hdr first, falling back to the filename extension, and
// finally to application/octet-stream — §7's "MIME-guess failures
// default to application/octet-stream" recovered-locally rule.
func Guess(hdr []byte, filename string) string {
	if t := MIMEType(hdr); t != "" {
		return t
	}
	if t := ByExtension(filename); t != "" {
		return t
	}
	return "application/octet-stream"
}

// IsImage reports whether mtype is one of the recognized image MIMEs
// from §4.5.1 step 7 that trigger thumbnail generation.
func IsImage(mtype string) bool {
	switch mtype {
	case "image/jpeg", "image/png", "image/webp", "image/heic", "image/avif":
		return true
	default:
		return false
	}
}

// IsText reports whether mtype should be served with a charset suffix
// per §4.6's header rule.
func IsText(mtype string) bool {
	return strings.HasPrefix(mtype, "text/")
}
