// Package store persists accessory contexts between runs in SQLite, so accessories can be
// restored before the first discovery completes.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cloudkucooland/cowaybridge/accessory"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store is the accessory cache
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens the database and initializes the schema
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accessory_context (
			uuid TEXT PRIMARY KEY,
			device_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			version INTEGER DEFAULT 1,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create accessory_context table: %w", err)
	}
	return nil
}

// Save stores the context of one accessory, bumping its version
func (s *Store) Save(id string, c accessory.Context) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO accessory_context (uuid, device_type, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			device_type = excluded.device_type,
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, id, c.DeviceType, string(payload), time.Now().UTC().Unix())

	if err == nil {
		log.Debug().Str("uuid", id).Str("type", c.DeviceType).Msg("accessory context saved")
	}
	return err
}

// Entry is one cached accessory
type Entry struct {
	UUID    string
	Context accessory.Context
	Version int64
}

// Load returns every cached accessory in the order they were first saved.
// Rows which no longer decode are skipped.
func (s *Store) Load() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT uuid, payload, version FROM accessory_context ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var payload string
		if err := rows.Scan(&e.UUID, &payload, &e.Version); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Context); err != nil {
			log.Warn().Err(err).Str("uuid", e.UUID).Msg("dropping undecodable accessory context")
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete forgets one accessory
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM accessory_context WHERE uuid = ?`, id)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
