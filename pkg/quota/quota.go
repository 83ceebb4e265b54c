// Package quota implements the per-owner (committed, reserved) byte
// accountant of §4.8. Grounded on the teacher's sharded-map discipline:
// pkg/blobserver/proxycache and pkg/index use the same per-key locked
// map shape this package generalizes to owner scope.
package quota

import (
	"context"
	"sync"

	"ephemera/pkg/apperr"
)

// Sizer is the subset of the metadata store quota accounting needs to
// seed a cold cache entry.
type Sizer interface {
	SumSizeByOwner(ctx context.Context, ownerID string) (int64, error)
}

type entry struct {
	mu        sync.Mutex
	committed int64
	reserved  int64
}

// Accountant is the concurrent map of owner scope to (committed,
// reserved). Each entry is guarded by its own lock, held only long
// enough for one add/sub, per §5's "Shared resource policy".
type Accountant struct {
	quota int64
	sizer Sizer

	mu      sync.Mutex
	entries map[string]*entry
}

func New(quota int64, sizer Sizer) *Accountant {
	return &Accountant{quota: quota, sizer: sizer, entries: make(map[string]*entry)}
}

func scopeKey(ownerID string) string {
	if ownerID == "" {
		return "public"
	}
	return ownerID
}

func (a *Accountant) entryFor(key string) *entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[key]
	if !ok {
		e = &entry{}
		a.entries[key] = e
	}
	return e
}

// Used returns committed+reserved for ownerID, seeding the cache from
// the metadata store's size sum on first touch.
func (a *Accountant) Used(ctx context.Context, ownerID string) (int64, error) {
	key := scopeKey(ownerID)
	a.mu.Lock()
	e, ok := a.entries[key]
	a.mu.Unlock()
	if ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.committed + e.reserved, nil
	}

	sum, err := a.sizer.SumSizeByOwner(ctx, key)
	if err != nil {
		return 0, err
	}
	e = a.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	// Another goroutine may have raced us to seed/mutate this entry
	// between SumSizeByOwner and the lock; only seed if still zero.
	if e.committed == 0 && e.reserved == 0 {
		e.committed = sum
	}
	return e.committed + e.reserved, nil
}

// Ensure fails with UserQuotaExceeded if used(key)+add would exceed
// quota.
func (a *Accountant) Ensure(ctx context.Context, ownerID string, add int64) error {
	used, err := a.Used(ctx, ownerID)
	if err != nil {
		return err
	}
	if used+add > a.quota {
		return apperr.UserQuotaExceeded(used, add, a.quota)
	}
	return nil
}

// Reservation is a scoped handle over uncommitted bytes. Release
// restores them; it is idempotent and safe to call on every error
// path including via defer, mirroring §9's reservation-handle design.
type Reservation struct {
	a        *Accountant
	key      string
	amount   int64
	done     bool
	mu       sync.Mutex
}

// Reserve adds n to ownerID's reserved bucket and returns a handle
// whose Release gives it back. Call Ensure first; Reserve itself does
// not re-check the quota ceiling (it is meant to be called right
// after a successful Ensure, under the same request).
func (a *Accountant) Reserve(ownerID string, n int64) *Reservation {
	key := scopeKey(ownerID)
	e := a.entryFor(key)
	e.mu.Lock()
	e.reserved += n
	e.mu.Unlock()
	return &Reservation{a: a, key: key, amount: n}
}

// Commit moves the reservation's bytes from reserved to committed and
// consumes the handle; a later Release on a committed handle is a
// no-op.
func (r *Reservation) Commit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	e := r.a.entryFor(r.key)
	e.mu.Lock()
	e.reserved -= r.amount
	e.committed += r.amount
	e.mu.Unlock()
	r.done = true
}

// Release gives back the reservation without committing it. Must be
// called on every error path that does not Commit; safe to call
// after Commit (no-op) and safe to call twice.
func (r *Reservation) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	e := r.a.entryFor(r.key)
	e.mu.Lock()
	e.reserved -= r.amount
	e.mu.Unlock()
	r.done = true
}

// OnDelete adjusts committed down by size when a file is removed.
func (a *Accountant) OnDelete(ownerID string, size int64) {
	key := scopeKey(ownerID)
	e := a.entryFor(key)
	e.mu.Lock()
	e.committed -= size
	if e.committed < 0 {
		e.committed = 0
	}
	e.mu.Unlock()
}

// Snapshot returns the current (committed, reserved) for ownerID,
// without seeding from the store; used by /api/stats.
func (a *Accountant) Snapshot(ownerID string) (committed, reserved int64) {
	key := scopeKey(ownerID)
	a.mu.Lock()
	e, ok := a.entries[key]
	a.mu.Unlock()
	if !ok {
		return 0, 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committed, e.reserved
}

// Quota returns the configured byte ceiling.
func (a *Accountant) Quota() int64 { return a.quota }
