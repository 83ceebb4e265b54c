// Package legacymigrate is the one-time importer named in §9's first
// Open Question decision: the source exhibits two metadata store
// implementations in parallel (a TOML-indexed file store and the
// relational store this rewrite freezes on); this package reads the
// former's persisted format and inserts rows into the latter, run only
// as an explicit operator action (ephemerad -migrate), never
// automatically at server startup.
package legacymigrate

import (
	"context"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"ephemera/pkg/store"
)

// legacyIndex mirrors the TOML-indexed store's on-disk shape: a flat
// array of [[item]] tables, one per stored file.
type legacyIndex struct {
	Items []legacyItem `toml:"item"`
}

type legacyItem struct {
	UID      string   `toml:"uid"`
	Created  string   `toml:"created"`  // RFC3339
	Modified string   `toml:"modified"` // RFC3339, optional
	Name     string   `toml:"name"`
	Hash     string   `toml:"hash"`
	Size     int64    `toml:"size"`
	Type     string   `toml:"type"`
	Ext      string   `toml:"ext"`
	IP       string   `toml:"ip"`
	Caption  string   `toml:"caption"`
	Tags     []string `toml:"tags"`
}

// Result summarizes one import run for the operator.
type Result struct {
	Imported int
	Skipped  int
	Total    int
}

// Import reads <dir>/index.toml and inserts every entry into st in a
// single transaction (§5's "the legacy migration is a single
// transaction" note). Entries already present under the same
// (hash, owner scope) — the public scope, since the legacy store
// predates per-owner JWTs — are silently skipped rather than aborting
// the run.
func Import(ctx context.Context, dir string, st *store.Store) (Result, error) {
	var idx legacyIndex
	if _, err := toml.DecodeFile(filepath.Join(dir, "index.toml"), &idx); err != nil {
		return Result{}, err
	}

	records := make([]*store.Record, 0, len(idx.Items))
	for _, it := range idx.Items {
		if _, err := uuid.Parse(it.UID); err != nil {
			continue // malformed id in the legacy index; skip rather than abort
		}
		created := parseTime(it.Created)
		updated := created
		if m := parseTime(it.Modified); m != 0 {
			updated = m
		}
		records = append(records, &store.Record{
			ID: it.UID, Name: it.Name, Hash: it.Hash, Size: it.Size, MIME: it.Type, Ext: it.Ext,
			IP: it.IP, Caption: it.Caption, Tags: it.Tags,
			CreatedAt: created, UpdatedAt: updated,
			Metadata: store.Metadata{Kind: store.MetaNone},
		})
	}

	imported, err := st.InsertMany(ctx, records)
	if err != nil {
		return Result{}, err
	}
	return Result{Imported: imported, Skipped: len(records) - imported, Total: len(idx.Items)}, nil
}

func parseTime(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.Unix()
}
