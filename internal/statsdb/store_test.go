package statsdb_test

import (
	"path/filepath"
	"testing"

	"github.com/synthiacore/synthia/internal/statsdb"
)

func openStore(t *testing.T) *statsdb.Store {
	t.Helper()
	store, err := statsdb.Open(filepath.Join(t.TempDir(), "stats.sqlite3"))
	if err != nil {
		t.Fatalf("open stats store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInsertMinute_ReplacesSameTimestamp(t *testing.T) {
	store := openStore(t)

	if err := store.InsertMinute(600, 3.0, []byte(`{}`)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.InsertMinute(600, 7.5, []byte(`{}`)); err != nil {
		t.Fatalf("replace: %v", err)
	}

	points, err := store.LastN(10)
	if err != nil {
		t.Fatalf("lastN: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 row, got %d", len(points))
	}
	if points[0].Busy != 7.5 {
		t.Fatalf("busy %f, want 7.5 (replaced)", points[0].Busy)
	}
}

func TestLastN_AscendingOrder(t *testing.T) {
	store := openStore(t)

	for _, ts := range []int64{180, 60, 120} {
		if err := store.InsertMinute(ts, float64(ts), []byte(`{}`)); err != nil {
			t.Fatalf("insert %d: %v", ts, err)
		}
	}

	points, err := store.LastN(2)
	if err != nil {
		t.Fatalf("lastN: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(points))
	}
	if points[0].TS != 120 || points[1].TS != 180 {
		t.Fatalf("expected [120 180], got [%d %d]", points[0].TS, points[1].TS)
	}
}

func TestPruneOlderThan(t *testing.T) {
	store := openStore(t)

	for _, ts := range []int64{60, 120, 180} {
		if err := store.InsertMinute(ts, 1, []byte(`{}`)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := store.PruneOlderThan(120); err != nil {
		t.Fatalf("prune: %v", err)
	}

	points, err := store.LastN(10)
	if err != nil {
		t.Fatalf("lastN: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 rows after prune, got %d", len(points))
	}
	if points[0].TS != 120 {
		t.Fatalf("row at cutoff must survive, got %d", points[0].TS)
	}
}

func TestAvgSince(t *testing.T) {
	store := openStore(t)

	for ts, busy := range map[int64]float64{60: 2, 120: 4, 180: 6} {
		if err := store.InsertMinute(ts, busy, []byte(`{}`)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	avg, err := store.AvgSince(120)
	if err != nil {
		t.Fatalf("avg: %v", err)
	}
	if avg != 5 {
		t.Fatalf("avg %f, want 5", avg)
	}

	empty, err := store.AvgSince(10000)
	if err != nil {
		t.Fatalf("avg empty: %v", err)
	}
	if empty != 0 {
		t.Fatalf("empty avg %f, want 0", empty)
	}
}
