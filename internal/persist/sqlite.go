package persist

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"fsqcal/internal/model"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS checkins (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	record     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkins_created_at ON checkins(created_at);
`

// SQLite keeps the store in a single-file SQLite database. The connection
// is opened lazily on first use.
type SQLite struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLite(path string) *SQLite {
	return &SQLite{path: path}
}

func (s *SQLite) Location() string { return s.path }

func (s *SQLite) open() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return nil, err
	}
	// One writer; the store already serializes saves.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}

	s.db = db
	return db, nil
}

func (s *SQLite) Load() (map[string]model.CheckinRecord, bool, error) {
	empty := map[string]model.CheckinRecord{}

	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return empty, false, nil
	}

	db, err := s.open()
	if err != nil {
		return empty, false, fmt.Errorf("persist: open %s: %w", s.path, err)
	}

	rows, err := db.Query(`SELECT id, record FROM checkins`)
	if err != nil {
		return empty, false, fmt.Errorf("persist: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.CheckinRecord)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return empty, false, fmt.Errorf("persist: scan: %w", err)
		}
		var rec model.CheckinRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			// One bad row should not cost the rest of the history.
			continue
		}
		out[id] = rec
	}
	if err := rows.Err(); err != nil {
		return empty, false, fmt.Errorf("persist: rows: %w", err)
	}
	return normalize(out), true, nil
}

// Save replaces every row inside a single transaction.
func (s *SQLite) Save(records map[string]model.CheckinRecord) error {
	db, err := s.open()
	if err != nil {
		return fmt.Errorf("persist: open %s: %w", s.path, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("persist: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM checkins`); err != nil {
		return fmt.Errorf("persist: clear: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO checkins (id, created_at, record) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("persist: prepare: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := records[id]
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("persist: encode %s: %w", id, err)
		}
		if _, err := stmt.Exec(id, rec.CreatedAt, string(raw)); err != nil {
			return fmt.Errorf("persist: insert %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist: commit: %w", err)
	}
	return nil
}

// Close releases the database handle, if one was opened.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
