package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/tidwall/gjson"

	"fsqcal/internal/atomicfile"
	"fsqcal/internal/foursquare"
	appLog "fsqcal/internal/log"
	"fsqcal/internal/model"
)

// JSONFile keeps the store in one indented, UTF-8 JSON document.
type JSONFile struct {
	path string
}

func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

func (j *JSONFile) Location() string { return j.path }

func (j *JSONFile) Load() (map[string]model.CheckinRecord, bool, error) {
	empty := map[string]model.CheckinRecord{}

	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return empty, false, nil
		}
		return empty, false, fmt.Errorf("persist: read %s: %w", j.path, err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return empty, false, fmt.Errorf("persist: decode %s: %w", j.path, err)
	}

	records := make(map[string]model.CheckinRecord, len(entries))
	migrated := 0
	for id, raw := range entries {
		rec, legacy, err := decodeEntry(raw)
		if err != nil {
			appLog.Warn("persisted entry unreadable; skipping", "id", id, "err", err)
			continue
		}
		if legacy {
			migrated++
		}
		records[id] = rec
	}
	if migrated > 0 {
		appLog.Info("migrated raw foursquare entries", "count", migrated, "location", j.path)
	}
	return normalize(records), true, nil
}

// decodeEntry reads one stored entry. Older backups hold the raw API item
// (camelCase createdAt, nested venue) instead of a CheckinRecord; those go
// through the API parser and legacy is true.
func decodeEntry(raw json.RawMessage) (rec model.CheckinRecord, legacy bool, err error) {
	if gjson.GetBytes(raw, "createdAt").Exists() {
		rec, err = foursquare.ParseItem(raw)
		return rec, true, err
	}
	err = json.Unmarshal(raw, &rec)
	return rec, false, err
}

// Save writes the whole map. Keys are sorted by encoding/json so equal maps
// always produce identical files.
func (j *JSONFile) Save(records map[string]model.CheckinRecord) error {
	if records == nil {
		records = map[string]model.CheckinRecord{}
	}

	data, err := Encode(records)
	if err != nil {
		return fmt.Errorf("persist: encode: %w", err)
	}
	if err := atomicfile.Write(j.path, data, 0o600); err != nil {
		return fmt.Errorf("persist: write %s: %w", j.path, err)
	}
	return nil
}

// Encode renders records the way JSONFile stores them.
func Encode(records map[string]model.CheckinRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
