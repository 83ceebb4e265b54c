package quota

import (
	"context"
	"testing"
)

type fakeSizer struct{ sizes map[string]int64 }

func (f fakeSizer) SumSizeByOwner(ctx context.Context, ownerID string) (int64, error) {
	return f.sizes[ownerID], nil
}

func TestUsedSeedsFromStore(t *testing.T) {
	a := New(1000, fakeSizer{sizes: map[string]int64{"alice": 300}})
	used, err := a.Used(context.Background(), "alice")
	if err != nil || used != 300 {
		t.Fatalf("Used = %d, %v; want 300", used, err)
	}
}

func TestEnsureRejectsOverQuota(t *testing.T) {
	a := New(1000, fakeSizer{sizes: map[string]int64{"alice": 900}})
	if err := a.Ensure(context.Background(), "alice", 50); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := a.Ensure(context.Background(), "alice", 200); err == nil {
		t.Fatalf("expected quota exceeded")
	}
}

func TestReserveCommitRelease(t *testing.T) {
	a := New(1000, fakeSizer{})
	r := a.Reserve("alice", 100)
	committed, reserved := a.Snapshot("alice")
	if committed != 0 || reserved != 100 {
		t.Fatalf("after reserve: committed=%d reserved=%d", committed, reserved)
	}
	r.Commit()
	committed, reserved = a.Snapshot("alice")
	if committed != 100 || reserved != 0 {
		t.Fatalf("after commit: committed=%d reserved=%d", committed, reserved)
	}
	// Commit again is a no-op.
	r.Commit()
	committed, reserved = a.Snapshot("alice")
	if committed != 100 || reserved != 0 {
		t.Fatalf("after second commit: committed=%d reserved=%d", committed, reserved)
	}
}

func TestReleaseRestoresReservation(t *testing.T) {
	a := New(1000, fakeSizer{})
	r := a.Reserve("alice", 100)
	r.Release()
	committed, reserved := a.Snapshot("alice")
	if committed != 0 || reserved != 0 {
		t.Fatalf("after release: committed=%d reserved=%d", committed, reserved)
	}
	// Release after release is a no-op, not a double-subtract.
	r.Release()
	committed, reserved = a.Snapshot("alice")
	if committed != 0 || reserved != 0 {
		t.Fatalf("after double release: committed=%d reserved=%d", committed, reserved)
	}
}

func TestOnDeleteDecrementsCommitted(t *testing.T) {
	a := New(1000, fakeSizer{})
	r := a.Reserve("alice", 100)
	r.Commit()
	a.OnDelete("alice", 40)
	committed, _ := a.Snapshot("alice")
	if committed != 60 {
		t.Fatalf("committed = %d, want 60", committed)
	}
}

func TestPublicScopeSentinel(t *testing.T) {
	a := New(1000, fakeSizer{sizes: map[string]int64{"public": 10}})
	used, err := a.Used(context.Background(), "")
	if err != nil || used != 10 {
		t.Fatalf("Used(\"\") = %d, %v; want 10", used, err)
	}
}
