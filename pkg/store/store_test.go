package store

import (
	"context"
	"path/filepath"
	"testing"

	"ephemera/pkg/apperr"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mkRecord(id, owner, hash string, size int64, createdAt int64) *Record {
	return &Record{
		ID: id, OwnerID: owner, Hash: hash, Size: size,
		MIME: "application/octet-stream", CreatedAt: createdAt, UpdatedAt: createdAt,
		Metadata: Metadata{Kind: MetaNone},
	}
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.New().String()
	r := mkRecord(id, "alice", "deadbeef", 10, 100)
	if err := s.Insert(ctx, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Hash != "deadbeef" || got.Size != 10 {
		t.Fatalf("got = %+v", got)
	}
}

func TestInsertDedupConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id1, id2 := uuid.New().String(), uuid.New().String()
	if err := s.Insert(ctx, mkRecord(id1, "alice", "samehash", 10, 100)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.Insert(ctx, mkRecord(id2, "alice", "samehash", 10, 200))
	aerr, ok := apperr.As(err)
	if !ok || aerr.Kind != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if aerr.ConflictID != id1 {
		t.Fatalf("conflict id = %q, want %q", aerr.ConflictID, id1)
	}
}

func TestDedupScopedPerOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id1, id2 := uuid.New().String(), uuid.New().String()
	if err := s.Insert(ctx, mkRecord(id1, "alice", "samehash", 10, 100)); err != nil {
		t.Fatalf("alice insert: %v", err)
	}
	// Same hash, different owner: allowed.
	if err := s.Insert(ctx, mkRecord(id2, "bob", "samehash", 10, 100)); err != nil {
		t.Fatalf("bob insert should not conflict: %v", err)
	}
}

func TestExistsByHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.New().String()
	s.Insert(ctx, mkRecord(id, "alice", "h1", 5, 1))
	got, ok := s.ExistsByHash(ctx, "h1", "alice")
	if !ok || got != id {
		t.Fatalf("ExistsByHash = %q, %v; want %q, true", got, ok, id)
	}
	if _, ok := s.ExistsByHash(ctx, "nope", "alice"); ok {
		t.Fatalf("expected miss")
	}
}

func TestDeleteReturnsOwnerAndSize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.New().String()
	s.Insert(ctx, mkRecord(id, "alice", "h1", 42, 1))
	owner, size, ok, err := s.Delete(ctx, id)
	if err != nil || !ok || owner != "alice" || size != 42 {
		t.Fatalf("Delete = %q %d %v %v", owner, size, ok, err)
	}
	_, _, ok, err = s.Delete(ctx, id)
	if err != nil || ok {
		t.Fatalf("second delete should be a no-op false, got ok=%v err=%v", ok, err)
	}
}

func TestListPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		id := uuid.New().String()
		ids = append(ids, id)
		if err := s.Insert(ctx, mkRecord(id, "alice", id, 1, int64(100+i))); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	first := 2
	records, hasNext, hasPrev, err := s.List(ctx, ListFilter{OwnerID: "alice"}, Pager{First: &first})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 || !hasNext || hasPrev {
		t.Fatalf("page1 len=%d hasNext=%v hasPrev=%v", len(records), hasNext, hasPrev)
	}
	// Newest first: last inserted (createdAt=104) should lead.
	if records[0].CreatedAt != 104 {
		t.Fatalf("records[0].CreatedAt = %d, want 104", records[0].CreatedAt)
	}
}

func TestListRejectsIllegalPagerCombos(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first, last := 1, 1
	_, _, _, err := s.List(ctx, ListFilter{}, Pager{First: &first, Last: &last})
	if err == nil {
		t.Fatalf("expected error for first+last")
	}
	cur := "x"
	_, _, _, err = s.List(ctx, ListFilter{}, Pager{First: &first, Before: &cur})
	if err == nil {
		t.Fatalf("expected error for first+before")
	}
}

func TestCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := uuid.New().String()
		s.Insert(ctx, mkRecord(id, "alice", id, 1, int64(i)))
	}
	n, err := s.Count(ctx, ListFilter{OwnerID: "alice"})
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v; want 3", n, err)
	}
}
