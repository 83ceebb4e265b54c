package store

import (
	"context"
	"database/sql"
	"strings"

	"ephemera/pkg/apperr"

	_ "modernc.org/sqlite"
)

// Store is the metadata store: a pooled connection to a single-file
// SQLite database. Each operation below is its own transaction except
// InsertMany, which runs the legacy migration's whole batch in one
// explicit *sql.Tx (see pkg/legacymigrate).
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and
// ensures the schema exists. A creation failure here is fatal at
// startup per §7.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "open metadata store", err)
	}
	// A single-file SQLite database serializes writers at the file
	// level regardless of pool size; allowing up to 8 pooled
	// connections lets list/get queries proceed while a write
	// transaction is open.
	db.SetMaxOpenConns(8)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.KindDatabase, "create schema", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Insert adds a new record. Fails with a Conflict *apperr.Error if
// (hash, owner scope) already exists.
func (s *Store) Insert(ctx context.Context, r *Record) error {
	scope := ownerScope(r.OwnerID)
	var img ImageMeta
	if r.Metadata.Kind == MetaImage && r.Metadata.Image != nil {
		img = *r.Metadata.Image
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (
			id, owner_scope, owner_id, device_id, name, hash, size, mime, ext,
			ip, caption, tags, encrypted, pinned, created_at, updated_at,
			meta_kind, image_width, image_height, image_thumb_width, image_thumb_height
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, scope, r.OwnerID, r.DeviceID, r.Name, r.Hash, r.Size, r.MIME, r.Ext,
		r.IP, r.Caption, strings.Join(r.Tags, ","), boolInt(r.Encrypted), boolInt(r.Pinned),
		r.CreatedAt, r.UpdatedAt, string(r.Metadata.Kind),
		nullableInt(img.Width, r.Metadata.Kind == MetaImage),
		nullableInt(img.Height, r.Metadata.Kind == MetaImage),
		nullablePtrInt(img.ThumbWidth), nullablePtrInt(img.ThumbHeight),
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, _ := s.ExistsByHash(ctx, r.Hash, r.OwnerID)
			return apperr.Conflict("hash already exists for owner scope", existing)
		}
		return apperr.Wrap(apperr.KindDatabase, "insert record", err)
	}
	return nil
}

// InsertMany inserts every record in one transaction, per §5's "the
// legacy migration is a single transaction" note — used only by
// pkg/legacymigrate. A row whose (hash, owner scope) already exists is
// skipped rather than aborting the whole import.
func (s *Store) InsertMany(ctx context.Context, records []*Record) (imported int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, "begin migration transaction", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		scope := ownerScope(r.OwnerID)
		var img ImageMeta
		if r.Metadata.Kind == MetaImage && r.Metadata.Image != nil {
			img = *r.Metadata.Image
		}
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO files (
				id, owner_scope, owner_id, device_id, name, hash, size, mime, ext,
				ip, caption, tags, encrypted, pinned, created_at, updated_at,
				meta_kind, image_width, image_height, image_thumb_width, image_thumb_height
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			r.ID, scope, r.OwnerID, r.DeviceID, r.Name, r.Hash, r.Size, r.MIME, r.Ext,
			r.IP, r.Caption, strings.Join(r.Tags, ","), boolInt(r.Encrypted), boolInt(r.Pinned),
			r.CreatedAt, r.UpdatedAt, string(r.Metadata.Kind),
			nullableInt(img.Width, r.Metadata.Kind == MetaImage),
			nullableInt(img.Height, r.Metadata.Kind == MetaImage),
			nullablePtrInt(img.ThumbWidth), nullablePtrInt(img.ThumbHeight),
		)
		if execErr != nil {
			if isUniqueViolation(execErr) {
				continue
			}
			return 0, apperr.Wrap(apperr.KindDatabase, "insert migrated record", execErr)
		}
		imported++
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, "commit migration transaction", err)
	}
	return imported, nil
}

// Delete removes id, returning the owner id and size of the
// removed row for quota bookkeeping, or ok=false if absent.
func (s *Store) Delete(ctx context.Context, id string) (ownerID string, size int64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT owner_id, size FROM files WHERE id = ?`, id)
	if scanErr := row.Scan(&ownerID, &size); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", 0, false, nil
		}
		return "", 0, false, apperr.Wrap(apperr.KindDatabase, "lookup record for delete", scanErr)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return "", 0, false, apperr.Wrap(apperr.KindDatabase, "delete record", err)
	}
	return ownerID, size, true, nil
}

// ExistsByHash returns the existing id for hash within owner's scope,
// if any.
func (s *Store) ExistsByHash(ctx context.Context, hash, ownerID string) (string, bool) {
	scope := ownerScope(ownerID)
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM files WHERE hash = ? AND owner_scope = ?`, hash, scope).Scan(&id)
	if err != nil {
		return "", false
	}
	return id, true
}

// Get returns the full record for id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, device_id, name, hash, size, mime, ext, ip, caption, tags,
		       encrypted, pinned, created_at, updated_at, meta_kind,
		       image_width, image_height, image_thumb_width, image_thumb_height
		FROM files WHERE id = ?`, id)
	return scanRecord(row)
}

// GetContentDescriptor is the narrow projection the download pipeline
// consumes.
func (s *Store) GetContentDescriptor(ctx context.Context, id string) (*ContentDescriptor, error) {
	var cd ContentDescriptor
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, hash, size, mime, ext, pinned FROM files WHERE id = ?`, id).
		Scan(&cd.ID, &cd.OwnerID, &cd.Name, &cd.Hash, &cd.Size, &cd.MIME, &cd.Ext, &cd.Pinned)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("file not found")
		}
		return nil, apperr.Wrap(apperr.KindDatabase, "get content descriptor", err)
	}
	return &cd, nil
}

// ListFilter narrows a List/Count call.
type ListFilter struct {
	OwnerID  string
	DeviceID string // supplements the distilled spec: groups listing by device (§ SPEC_FULL "group" param)
}

// List returns up to pager's page size records, over-fetching by one
// to compute HasNext/HasPrev.
func (s *Store) List(ctx context.Context, filter ListFilter, pager Pager) (records []*Record, hasNext, hasPrev bool, err error) {
	if err := pager.Validate(); err != nil {
		return nil, false, false, err
	}
	scope := ownerScope(filter.OwnerID)
	limit := pager.limit()

	var args []interface{}
	q := strings.Builder{}
	q.WriteString(`SELECT id, owner_id, device_id, name, hash, size, mime, ext, ip, caption, tags,
		encrypted, pinned, created_at, updated_at, meta_kind,
		image_width, image_height, image_thumb_width, image_thumb_height
		FROM files WHERE owner_scope = ?`)
	args = append(args, scope)
	if filter.DeviceID != "" {
		q.WriteString(` AND device_id = ?`)
		args = append(args, filter.DeviceID)
	}

	backward := pager.backward()
	boundary := pager.After
	if pager.Before != nil {
		boundary = pager.Before
	}
	if boundary != nil {
		c, cerr := decodeCursor(*boundary)
		if cerr != nil {
			return nil, false, false, cerr
		}
		op := "<"
		if backward {
			op = ">"
		}
		if c.hasTime {
			q.WriteString(` AND (created_at, id) ` + op + ` (?, ?)`)
			args = append(args, c.createdAt, c.id)
		} else {
			q.WriteString(` AND id ` + op + ` ?`)
			args = append(args, c.id)
		}
	}

	if backward {
		q.WriteString(` ORDER BY created_at ASC, id ASC LIMIT ?`)
	} else {
		q.WriteString(` ORDER BY created_at DESC, id DESC LIMIT ?`)
	}
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, false, false, apperr.Wrap(apperr.KindDatabase, "list records", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, serr := scanRecordRows(rows)
		if serr != nil {
			return nil, false, false, serr
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, false, apperr.Wrap(apperr.KindDatabase, "list records", err)
	}

	over := len(records) > limit
	if over {
		records = records[:limit]
	}
	if backward {
		// Results were fetched ascending to bound from "before";
		// reverse to the canonical newest-first order before
		// reporting them, matching the forward page's ordering.
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
		hasPrev = over
		hasNext = boundary != nil
	} else {
		hasNext = over
		hasPrev = boundary != nil
	}
	return records, hasNext, hasPrev, nil
}

// Count returns the number of records in filter's scope.
func (s *Store) Count(ctx context.Context, filter ListFilter) (uint32, error) {
	scope := ownerScope(filter.OwnerID)
	q := `SELECT COUNT(*) FROM files WHERE owner_scope = ?`
	args := []interface{}{scope}
	if filter.DeviceID != "" {
		q += ` AND device_id = ?`
		args = append(args, filter.DeviceID)
	}
	var n uint32
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, "count records", err)
	}
	return n, nil
}

// SumSizeByOwner sums the size of every record in owner's scope, used
// by the quota accountant to seed a cold cache entry.
func (s *Store) SumSizeByOwner(ctx context.Context, ownerID string) (int64, error) {
	scope := ownerScope(ownerID)
	var sum sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(size) FROM files WHERE owner_scope = ?`, scope).Scan(&sum); err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, "sum owner size", err)
	}
	return sum.Int64, nil
}

// EncodeCursor exposes cursor encoding for handlers building page
// responses.
func EncodeCursor(id string, createdAt int64) (string, error) {
	return encodeCursor(id, createdAt)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	r, err := scanRecordRows(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("file not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "get record", err)
	}
	return r, nil
}

func scanRecordRows(row scanner) (*Record, error) {
	var r Record
	var tags string
	var encrypted, pinned int
	var metaKind string
	var iw, ih, tw, th sql.NullInt64

	if err := row.Scan(
		&r.ID, &r.OwnerID, &r.DeviceID, &r.Name, &r.Hash, &r.Size, &r.MIME, &r.Ext,
		&r.IP, &r.Caption, &tags, &encrypted, &pinned, &r.CreatedAt, &r.UpdatedAt,
		&metaKind, &iw, &ih, &tw, &th,
	); err != nil {
		return nil, err
	}
	if tags != "" {
		r.Tags = strings.Split(tags, ",")
	}
	r.Encrypted = encrypted != 0
	r.Pinned = pinned != 0
	r.Metadata.Kind = MetaKind(metaKind)
	switch r.Metadata.Kind {
	case MetaImage:
		im := &ImageMeta{Width: int(iw.Int64), Height: int(ih.Int64)}
		if tw.Valid {
			v := int(tw.Int64)
			im.ThumbWidth = &v
		}
		if th.Valid {
			v := int(th.Int64)
			im.ThumbHeight = &v
		}
		r.Metadata.Image = im
	case MetaArchive:
		r.Metadata.Archive = &ArchiveMeta{}
	}
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v int, present bool) interface{} {
	if !present {
		return nil
	}
	return v
}

func nullablePtrInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
