package store

import (
	"encoding/base64"
	"encoding/binary"

	"ephemera/pkg/apperr"

	"github.com/google/uuid"
)

// Pager encodes the cursor-pagination request of §4.3: at most one of
// First/Last (neither means a page of 10), at most one of After/Before.
type Pager struct {
	First, Last   *int
	After, Before *string
}

const defaultPageSize = 10

// Validate rejects the illegal combinations named in §4.3:
// first+before and last+after.
func (p Pager) Validate() error {
	if p.First != nil && p.Last != nil {
		return apperr.BadRequest("at most one of first or last may be set")
	}
	if p.After != nil && p.Before != nil {
		return apperr.BadRequest("at most one of after or before may be set")
	}
	if p.First != nil && p.Before != nil {
		return apperr.BadRequest("first and before are mutually exclusive")
	}
	if p.Last != nil && p.After != nil {
		return apperr.BadRequest("last and after are mutually exclusive")
	}
	if p.First != nil && *p.First < 0 {
		return apperr.BadRequest("first must be non-negative")
	}
	if p.Last != nil && *p.Last < 0 {
		return apperr.BadRequest("last must be non-negative")
	}
	return nil
}

func (p Pager) limit() int {
	if p.First != nil {
		return *p.First
	}
	if p.Last != nil {
		return *p.Last
	}
	return defaultPageSize
}

func (p Pager) backward() bool {
	return p.Last != nil || p.Before != nil
}

// cursor is the decoded form of a pagination cursor: an id, and
// (for ids other than UUIDv7, which are not time-ordered) a created_at
// timestamp.
type cursor struct {
	id        string
	createdAt int64
	hasTime   bool
}

// encodeCursor produces the URL-safe base64 form described in §6: 16
// raw id bytes alone for UUIDv7 ids (already time-ordered), or those
// 16 bytes plus an 8-byte big-endian signed created_at otherwise.
func encodeCursor(id string, createdAt int64) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", err
	}
	raw := u[:]
	buf := make([]byte, 0, 24)
	buf = append(buf, raw...)
	if u.Version() != 7 {
		var tbuf [8]byte
		binary.BigEndian.PutUint64(tbuf[:], uint64(createdAt))
		buf = append(buf, tbuf[:]...)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func decodeCursor(s string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, apperr.BadRequest("invalid cursor encoding")
	}
	switch len(raw) {
	case 16:
		u, err := uuid.FromBytes(raw)
		if err != nil {
			return cursor{}, apperr.BadRequest("invalid cursor id")
		}
		return cursor{id: u.String()}, nil
	case 24:
		u, err := uuid.FromBytes(raw[:16])
		if err != nil {
			return cursor{}, apperr.BadRequest("invalid cursor id")
		}
		createdAt := int64(binary.BigEndian.Uint64(raw[16:]))
		return cursor{id: u.String(), createdAt: createdAt, hasTime: true}, nil
	default:
		return cursor{}, apperr.BadRequest("invalid cursor length")
	}
}
