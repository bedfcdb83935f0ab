// Package persist stores the canonical check-in map as a single durable
// blob and restores it at startup.
package persist

import (
	"fmt"
	"path/filepath"
	"strings"

	appLog "fsqcal/internal/log"
	"fsqcal/internal/model"
)

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"

	jsonFileName   = "checkins_backup.json"
	sqliteFileName = "checkins.db"
)

// Gateway loads and saves the raw record map keyed by check-in id.
//
// Save is a full overwrite. Load never fails hard: a missing store yields
// an empty map with found == false, a corrupt one yields an empty map plus
// the decoding error so the caller can log it.
type Gateway interface {
	Load() (records map[string]model.CheckinRecord, found bool, err error)
	Save(records map[string]model.CheckinRecord) error
	Location() string
}

// Open returns the gateway for backend rooted at dir.
func Open(backend, dir string) (Gateway, error) {
	switch strings.ToLower(backend) {
	case "", BackendJSON:
		return NewJSONFile(filepath.Join(dir, jsonFileName)), nil
	case BackendSQLite:
		return NewSQLite(filepath.Join(dir, sqliteFileName)), nil
	default:
		return nil, fmt.Errorf("persist: unknown storage backend %q", backend)
	}
}

// normalize drops entries that cannot be valid and repairs ids from keys.
// A record without a timestamp is dropped, as the API parser does: it
// would otherwise sit in 1970, below every partial sync window.
func normalize(in map[string]model.CheckinRecord) map[string]model.CheckinRecord {
	out := make(map[string]model.CheckinRecord, len(in))
	dropped := 0
	for id, rec := range in {
		if id == "" {
			dropped++
			continue
		}
		if rec.ID == "" {
			rec.ID = id
		}
		if rec.ID != id || rec.CreatedAt == 0 {
			dropped++
			continue
		}
		out[id] = rec
	}
	if dropped > 0 {
		appLog.Warn("dropped invalid persisted entries", "count", dropped)
	}
	return out
}
