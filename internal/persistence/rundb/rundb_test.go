package rundb

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.sqlite")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := Run{ID: "r1", URL: "ws://x", StartedAt: t0, FinishedAt: t0.Add(time.Second), OK: true,
		Checks: []Check{{Name: "buyer currency", Expected: "110", Actual: "110", OK: true}}}
	second := Run{ID: "r2", URL: "ws://x", StartedAt: t0.Add(time.Minute), FinishedAt: t0.Add(2 * time.Minute),
		Error: "buy listing L3: timeout",
		Checks: []Check{
			{Name: "seller bank", Expected: "86", Actual: "0"},
			{Name: "buyer items", Expected: "2", Actual: "2", OK: true},
		}}
	for _, r := range []Run{first, second} {
		if err := db.RecordRun(ctx, r); err != nil {
			t.Fatalf("record %s: %v", r.ID, err)
		}
	}

	runs, err := db.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r2" || runs[1].ID != "r1" {
		t.Fatalf("unexpected order: %+v", runs)
	}
	if runs[0].OK || runs[0].Error == "" || !runs[1].OK {
		t.Fatalf("status not persisted: %+v", runs)
	}
	if !runs[1].StartedAt.Equal(t0) {
		t.Fatalf("started_at %v want %v", runs[1].StartedAt, t0)
	}

	checks, err := db.Checks(ctx, "r2")
	if err != nil {
		t.Fatalf("checks: %v", err)
	}
	if len(checks) != 2 || checks[0].Name != "seller bank" || checks[0].OK || !checks[1].OK {
		t.Fatalf("checks: %+v", checks)
	}
}

func TestRecordRunReplaces(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "runs.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	r := Run{ID: "same", Checks: []Check{{Name: "a"}, {Name: "b"}}}
	if err := db.RecordRun(ctx, r); err != nil {
		t.Fatalf("record: %v", err)
	}
	r.OK = true
	r.Checks = []Check{{Name: "c", OK: true}}
	if err := db.RecordRun(ctx, r); err != nil {
		t.Fatalf("re-record: %v", err)
	}
	checks, err := db.Checks(ctx, "same")
	if err != nil {
		t.Fatalf("checks: %v", err)
	}
	if len(checks) != 1 || checks[0].Name != "c" {
		t.Fatalf("old checks survived: %+v", checks)
	}
	runs, _ := db.ListRuns(ctx, 0)
	if len(runs) != 1 || !runs[0].OK {
		t.Fatalf("runs: %+v", runs)
	}
}

func TestOpenEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error")
	}
}
