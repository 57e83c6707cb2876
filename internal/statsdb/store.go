// Package statsdb persists minute-aligned health samples in a single
// WAL-journaled SQLite file.
package statsdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS stats_minute (
  ts INTEGER PRIMARY KEY,
  busy REAL NOT NULL,
  snapshot BLOB NOT NULL
);
`

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create stats dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}
	// Single writer; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("stats db pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("stats db schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// InsertMinute upserts one minute-aligned row.
func (s *Store) InsertMinute(ts int64, busy float64, snapshot []byte) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO stats_minute(ts, busy, snapshot) VALUES (?, ?, ?)",
		ts, busy, snapshot,
	)
	if err != nil {
		return fmt.Errorf("insert minute sample: %w", err)
	}
	return nil
}

// PruneOlderThan deletes rows with ts < cutoff (unix seconds).
func (s *Store) PruneOlderThan(cutoff int64) error {
	if _, err := s.db.Exec("DELETE FROM stats_minute WHERE ts < ?", cutoff); err != nil {
		return fmt.Errorf("prune minute samples: %w", err)
	}
	return nil
}

// MinutePoint is one persisted sample.
type MinutePoint struct {
	TS       int64   `json:"ts"`
	Busy     float64 `json:"busy"`
	Snapshot []byte  `json:"-"`
}

// LastN returns up to n most recent samples in ascending ts order.
func (s *Store) LastN(n int) ([]MinutePoint, error) {
	rows, err := s.db.Query(
		"SELECT ts, busy, snapshot FROM stats_minute ORDER BY ts DESC LIMIT ?", n,
	)
	if err != nil {
		return nil, fmt.Errorf("query minute samples: %w", err)
	}
	defer rows.Close()

	var out []MinutePoint
	for rows.Next() {
		var p MinutePoint
		if err := rows.Scan(&p.TS, &p.Busy, &p.Snapshot); err != nil {
			return nil, fmt.Errorf("scan minute sample: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AvgSince returns the mean busy rating over samples at or after ts.
func (s *Store) AvgSince(ts int64) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRow("SELECT AVG(busy) FROM stats_minute WHERE ts >= ?", ts).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("avg busy: %w", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}
