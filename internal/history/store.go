// Package history is the durable record of job lifecycles and the
// append-only audit event log.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
  job_id TEXT PRIMARY KEY,
  addon_id TEXT,
  type TEXT,
  priority TEXT,
  requested_units INTEGER,
  unique_flag INTEGER,
  idempotency_key TEXT,
  state TEXT,
  worker_id TEXT,
  lease_id TEXT,
  created_at TEXT,
  updated_at TEXT,
  leased_at TEXT,
  started_at TEXT,
  finished_at TEXT,
  queue_wait_s REAL,
  runtime_s REAL,
  error TEXT,
  result BLOB
);
CREATE INDEX IF NOT EXISTS idx_job_history_updated ON job_history(updated_at);
CREATE INDEX IF NOT EXISTS idx_job_history_addon ON job_history(addon_id);
CREATE INDEX IF NOT EXISTS idx_job_history_state ON job_history(state);

CREATE TABLE IF NOT EXISTS job_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts TEXT NOT NULL,
  entity_kind TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  type TEXT NOT NULL,
  data BLOB
);
CREATE INDEX IF NOT EXISTS idx_job_events_ts ON job_events(ts);

CREATE TABLE IF NOT EXISTS app_settings (
  key TEXT PRIMARY KEY,
  value_json TEXT,
  updated_at TEXT
);
`

// Store owns the job-history database file. Single writer; WAL permits
// concurrent readers.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history db pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history db schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for the settings store and health checks.
func (s *Store) DB() *sql.DB { return s.db }

// JobRow is the denormalized projection of a non-queued job.
type JobRow struct {
	JobID          string
	AddonID        string
	Type           string
	Priority       string
	RequestedUnits int
	Unique         bool
	IdempotencyKey string
	State          string
	WorkerID       string
	LeaseID        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LeasedAt       *time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	QueueWaitS     *float64
	RuntimeS       *float64
	Error          string
	Result         []byte
}

func isoPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func iso(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// UpsertJob writes a job projection, keeping the first observed leased_at
// and started_at and never un-setting a finished_at.
func (s *Store) UpsertJob(row JobRow) error {
	_, err := s.db.Exec(`
		INSERT INTO job_history (
		  job_id, addon_id, type, priority, requested_units, unique_flag,
		  idempotency_key, state, worker_id, lease_id,
		  created_at, updated_at, leased_at, started_at, finished_at,
		  queue_wait_s, runtime_s, error, result
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
		  addon_id=excluded.addon_id,
		  type=excluded.type,
		  priority=excluded.priority,
		  requested_units=excluded.requested_units,
		  unique_flag=excluded.unique_flag,
		  idempotency_key=excluded.idempotency_key,
		  state=excluded.state,
		  worker_id=COALESCE(excluded.worker_id, job_history.worker_id),
		  lease_id=COALESCE(excluded.lease_id, job_history.lease_id),
		  updated_at=excluded.updated_at,
		  leased_at=COALESCE(job_history.leased_at, excluded.leased_at),
		  started_at=COALESCE(job_history.started_at, excluded.started_at),
		  finished_at=COALESCE(excluded.finished_at, job_history.finished_at),
		  queue_wait_s=COALESCE(excluded.queue_wait_s, job_history.queue_wait_s),
		  runtime_s=COALESCE(excluded.runtime_s, job_history.runtime_s),
		  error=excluded.error,
		  result=COALESCE(excluded.result, job_history.result)`,
		row.JobID, row.AddonID, row.Type, row.Priority, row.RequestedUnits, boolToInt(row.Unique),
		row.IdempotencyKey, row.State, row.WorkerID, row.LeaseID,
		iso(row.CreatedAt), iso(row.UpdatedAt), isoPtr(row.LeasedAt), isoPtr(row.StartedAt), isoPtr(row.FinishedAt),
		floatPtr(row.QueueWaitS), floatPtr(row.RuntimeS), row.Error, row.Result,
	)
	if err != nil {
		return fmt.Errorf("upsert job history: %w", err)
	}
	return nil
}

// EventRow is one append-only audit entry.
type EventRow struct {
	TS         time.Time
	EntityKind string
	EntityID   string
	Type       string
	Data       map[string]any
}

func (s *Store) AppendEvent(ev EventRow) error {
	var data []byte
	if ev.Data != nil {
		data, _ = json.Marshal(ev.Data)
	}
	_, err := s.db.Exec(
		"INSERT INTO job_events (ts, entity_kind, entity_id, type, data) VALUES (?, ?, ?, ?, ?)",
		iso(ev.TS), ev.EntityKind, ev.EntityID, ev.Type, data,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Cleanup deletes job rows whose finish (or last update) predates the
// cutoff, plus events older than the cutoff. Returns rows removed.
func (s *Store) Cleanup(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		"DELETE FROM job_history WHERE COALESCE(finished_at, updated_at) < ?", iso(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup job history: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.Exec("DELETE FROM job_events WHERE ts < ?", iso(cutoff)); err != nil {
		return n, fmt.Errorf("cleanup job events: %w", err)
	}
	return n, nil
}

// AddonStats aggregates runtimes for one addon.
type AddonStats struct {
	AddonID       string         `json:"addon_id"`
	Count         int            `json:"count"`
	States        map[string]int `json:"states"`
	AvgRuntimeS   *float64       `json:"avg_runtime_s"`
	P95RuntimeS   *float64       `json:"p95_runtime_s"`
	AvgQueueWaitS *float64       `json:"avg_queue_wait_s"`
}

// Stats is the retrospective summary over a day range.
type Stats struct {
	RangeStart    time.Time      `json:"range_start"`
	RangeEnd      time.Time      `json:"range_end"`
	Total         int            `json:"total"`
	TotalsByState map[string]int `json:"totals_by_state"`
	SuccessRate   *float64       `json:"success_rate"`
	AvgQueueWaitS *float64       `json:"avg_queue_wait_s"`
	Addons        []AddonStats   `json:"addons"`
}

// Stats aggregates job history over the trailing range.
func (s *Store) Stats(days int, now time.Time) (Stats, error) {
	start := now.Add(-time.Duration(days) * 24 * time.Hour)
	out := Stats{
		RangeStart:    start,
		RangeEnd:      now,
		TotalsByState: make(map[string]int),
	}

	rows, err := s.db.Query(`
		SELECT addon_id, state, queue_wait_s, runtime_s
		FROM job_history
		WHERE COALESCE(finished_at, updated_at) >= ?`, iso(start))
	if err != nil {
		return out, fmt.Errorf("query history stats: %w", err)
	}
	defer rows.Close()

	type agg struct {
		count    int
		states   map[string]int
		runtimes []float64
		waits    []float64
	}
	perAddon := make(map[string]*agg)
	var allWaits []float64

	for rows.Next() {
		var addonID, state sql.NullString
		var wait, runtime sql.NullFloat64
		if err := rows.Scan(&addonID, &state, &wait, &runtime); err != nil {
			return out, fmt.Errorf("scan history stats: %w", err)
		}

		st := state.String
		if st == "" {
			st = "unknown"
		}
		out.Total++
		out.TotalsByState[st]++

		addon := addonID.String
		if addon == "" {
			addon = "unknown"
		}
		a := perAddon[addon]
		if a == nil {
			a = &agg{states: make(map[string]int)}
			perAddon[addon] = a
		}
		a.count++
		a.states[st]++
		if runtime.Valid {
			a.runtimes = append(a.runtimes, runtime.Float64)
		}
		if wait.Valid {
			a.waits = append(a.waits, wait.Float64)
			allWaits = append(allWaits, wait.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	completed := out.TotalsByState["completed"]
	finished := completed + out.TotalsByState["failed"] + out.TotalsByState["expired"]
	if finished > 0 {
		rate := float64(completed) / float64(finished)
		out.SuccessRate = &rate
	}
	out.AvgQueueWaitS = mean(allWaits)

	addonIDs := make([]string, 0, len(perAddon))
	for id := range perAddon {
		addonIDs = append(addonIDs, id)
	}
	sort.Strings(addonIDs)
	for _, id := range addonIDs {
		a := perAddon[id]
		out.Addons = append(out.Addons, AddonStats{
			AddonID:       id,
			Count:         a.count,
			States:        a.states,
			AvgRuntimeS:   mean(a.runtimes),
			P95RuntimeS:   p95(a.runtimes),
			AvgQueueWaitS: mean(a.waits),
		})
	}
	return out, nil
}

func mean(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	m := sum / float64(len(vals))
	return &m
}

func p95(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	k := int(0.95 * float64(len(sorted)-1))
	v := sorted[k]
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func floatPtr(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
