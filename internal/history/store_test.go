package history_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/synthiacore/synthia/internal/history"
)

func openStore(t *testing.T, path string) *history.Store {
	t.Helper()
	store, err := history.Open(path)
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func ptr[T any](v T) *T { return &v }

func baseRow(jobID string, at time.Time) history.JobRow {
	return history.JobRow{
		JobID:          jobID,
		AddonID:        "transcoder",
		Type:           "encode",
		Priority:       "normal",
		RequestedUnits: 20,
		State:          "leased",
		WorkerID:       "w1",
		LeaseID:        "lease-1",
		CreatedAt:      at,
		UpdatedAt:      at,
		LeasedAt:       ptr(at.Add(2 * time.Second)),
		QueueWaitS:     ptr(2.0),
	}
}

func TestUpsertJob_PreservesFirstLeaseMarks(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "history.sqlite3"))
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := store.UpsertJob(baseRow("job-1", at)); err != nil {
		t.Fatalf("upsert leased: %v", err)
	}

	// Finalization carries no new leased_at; the original must survive.
	final := baseRow("job-1", at)
	final.State = "completed"
	final.LeasedAt = nil
	final.FinishedAt = ptr(at.Add(12 * time.Second))
	final.RuntimeS = ptr(10.0)
	final.UpdatedAt = at.Add(12 * time.Second)
	if err := store.UpsertJob(final); err != nil {
		t.Fatalf("upsert completed: %v", err)
	}

	stats, err := store.Stats(1, at.Add(time.Minute))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("expected 1 row, got %d", stats.Total)
	}
	if stats.TotalsByState["completed"] != 1 {
		t.Fatalf("expected completed=1, got %+v", stats.TotalsByState)
	}
	if stats.AvgQueueWaitS == nil || *stats.AvgQueueWaitS != 2.0 {
		t.Fatalf("queue wait lost on finalize: %+v", stats.AvgQueueWaitS)
	}
}

func TestStats_Aggregation(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "history.sqlite3"))
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, spec := range []struct {
		state   string
		runtime float64
	}{
		{"completed", 10},
		{"completed", 20},
		{"failed", 5},
		{"expired", 0},
	} {
		row := baseRow(string(rune('a'+i)), at)
		row.State = spec.state
		row.FinishedAt = ptr(at.Add(30 * time.Second))
		row.RuntimeS = ptr(spec.runtime)
		if err := store.UpsertJob(row); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	stats, err := store.Stats(1, at.Add(time.Minute))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 {
		t.Fatalf("total %d, want 4", stats.Total)
	}
	if stats.SuccessRate == nil || *stats.SuccessRate != 0.5 {
		t.Fatalf("success rate %+v, want 0.5", stats.SuccessRate)
	}
	if len(stats.Addons) != 1 {
		t.Fatalf("expected one addon bucket, got %d", len(stats.Addons))
	}
	addon := stats.Addons[0]
	if addon.AddonID != "transcoder" || addon.Count != 4 {
		t.Fatalf("unexpected addon stats: %+v", addon)
	}
	if addon.AvgRuntimeS == nil || *addon.AvgRuntimeS != 8.75 {
		t.Fatalf("avg runtime %+v, want 8.75", addon.AvgRuntimeS)
	}
}

func TestCleanup_RemovesAgedRows(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "history.sqlite3"))
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	old := baseRow("old", now.Add(-40*24*time.Hour))
	old.State = "completed"
	old.FinishedAt = ptr(now.Add(-40 * 24 * time.Hour))
	fresh := baseRow("fresh", now.Add(-time.Hour))
	fresh.State = "completed"
	fresh.FinishedAt = ptr(now.Add(-time.Hour))

	for _, row := range []history.JobRow{old, fresh} {
		if err := store.UpsertJob(row); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	removed, err := store.Cleanup(now.Add(-30 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}

	stats, err := store.Stats(60, now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("expected only the fresh row, got %d", stats.Total)
	}
}

// History must survive a process restart: reopen the same file and read
// back what was written.
func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.sqlite3")
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store, err := history.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	row := baseRow("job-1", at)
	row.State = "completed"
	row.FinishedAt = ptr(at.Add(10 * time.Second))
	if err := store.UpsertJob(row); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.AppendEvent(history.EventRow{
		TS: at, EntityKind: "job", EntityID: "job-1", Type: "JOB_SUBMITTED",
	}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openStore(t, path)
	stats, err := reopened.Stats(1, at.Add(time.Minute))
	if err != nil {
		t.Fatalf("stats after reopen: %v", err)
	}
	if stats.Total != 1 || stats.TotalsByState["completed"] != 1 {
		t.Fatalf("history lost across restart: %+v", stats)
	}
}
