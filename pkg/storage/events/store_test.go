package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gitfeed/pkg/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "events.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func pushRecord(id string, at time.Time) storage.EventRecord {
	return storage.EventRecord{
		RequestID:  id,
		Author:     "Travis",
		Action:     "PUSH",
		ToBranch:   "staging",
		EventAt:    at,
		Repository: "acme/widgets",
		Message:    "Travis pushed to \"staging\"",
	}
}

// TestUpsertIdempotency tests that two upserts sharing (request_id,
// action) but differing timestamps leave one record with the latest
// timestamp.
func TestUpsertIdempotency(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := time.Date(2021, time.April, 1, 21, 30, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	if err := store.UpsertEvent(ctx, pushRecord("abc123", first)); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := store.UpsertEvent(ctx, pushRecord("abc123", second)); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	records, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 record, got %d", len(records))
	}
	if !records[0].EventAt.Equal(second) {
		t.Fatalf("expected latest timestamp %v, got %v", second, records[0].EventAt)
	}
}

// TestUpsertSameIDDifferentAction tests that the same request id can
// appear once per action kind.
func TestUpsertSameIDDifferentAction(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2021, time.April, 1, 21, 30, 0, 0, time.UTC)

	record := pushRecord("42", at)
	if err := store.UpsertEvent(ctx, record); err != nil {
		t.Fatalf("push upsert: %v", err)
	}
	record.Action = "MERGE"
	record.FromBranch = "staging"
	record.ToBranch = "master"
	if err := store.UpsertEvent(ctx, record); err != nil {
		t.Fatalf("merge upsert: %v", err)
	}

	records, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

// TestListRecentOrdering tests newest-first ordering with insertion-order
// tie break.
func TestListRecentOrdering(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	t1 := time.Date(2021, time.April, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)

	for i, at := range []time.Time{t1, t2, t3} {
		id := []string{"one", "two", "three"}[i]
		if err := store.UpsertEvent(ctx, pushRecord(id, at)); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	records, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].RequestID != "three" || records[1].RequestID != "two" {
		t.Fatalf("unexpected order: %q, %q", records[0].RequestID, records[1].RequestID)
	}

	// Tie on the timestamp: the later insert wins.
	if err := store.UpsertEvent(ctx, pushRecord("four", t3)); err != nil {
		t.Fatalf("upsert four: %v", err)
	}
	records, err = store.ListRecent(ctx, 1)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if records[0].RequestID != "four" {
		t.Fatalf("expected insertion-order tie break, got %q", records[0].RequestID)
	}
}

// TestListRecentLimitBeyondCount tests that a limit larger than the
// stored volume returns everything available.
func TestListRecentLimitBeyondCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.UpsertEvent(ctx, pushRecord("only", time.Now().UTC())); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	records, err := store.ListRecent(ctx, 100)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}

func TestDeleteOlderThan(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()
	if err := store.UpsertEvent(ctx, pushRecord("old", old)); err != nil {
		t.Fatalf("upsert old: %v", err)
	}
	if err := store.UpsertEvent(ctx, pushRecord("fresh", fresh)); err != nil {
		t.Fatalf("upsert fresh: %v", err)
	}

	removed, err := store.DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	records, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(records) != 1 || records[0].RequestID != "fresh" {
		t.Fatalf("expected only the fresh record, got %+v", records)
	}
}

func TestUpsertRequiresKey(t *testing.T) {
	store := openTestStore(t)
	if err := store.UpsertEvent(context.Background(), storage.EventRecord{Author: "Travis"}); err == nil {
		t.Fatalf("expected error for missing request_id and action")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
