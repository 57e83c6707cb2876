// Package settings is a small durable key/value store for UI-editable
// app settings. Values are opaque JSON.
package settings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store reuses the job-history database file; the app_settings table is
// created by history.Open.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the value for key, or ok=false when unset.
func (s *Store) Get(key string) (json.RawMessage, bool, error) {
	var raw string
	err := s.db.QueryRow("SELECT value_json FROM app_settings WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return json.RawMessage(raw), true, nil
}

// GetAll returns every setting.
func (s *Store) GetAll() (map[string]json.RawMessage, error) {
	rows, err := s.db.Query("SELECT key, value_json FROM app_settings")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[key] = json.RawMessage(raw)
	}
	return out, rows.Err()
}

// Set upserts a key.
func (s *Store) Set(key string, value json.RawMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO app_settings (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		  value_json=excluded.value_json,
		  updated_at=excluded.updated_at`,
		key, string(value), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}
