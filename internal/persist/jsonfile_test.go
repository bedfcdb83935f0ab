package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsqcal/internal/model"
)

func fixture() map[string]model.CheckinRecord {
	return map[string]model.CheckinRecord{
		"b": {ID: "b", CreatedAt: 200, VenueName: "Beta & Co", VenueID: "vb", Shout: "<3", Link: model.VenueLink("vb")},
		"a": {ID: "a", CreatedAt: 100, VenueName: "카페 Alpha", VenueID: "va", Address: "1 Main St, Seoul", Link: model.VenueLink("va")},
	}
}

func TestJSONFileGolden(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkins_backup.json")
	require.NoError(t, NewJSONFile(path).Save(fixture()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "store", data)
}

func TestJSONFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkins_backup.json")
	gw := NewJSONFile(path)

	require.NoError(t, gw.Save(fixture()))

	got, found, err := gw.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, fixture(), got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestJSONFileSaveIsByteStable(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "one.json")
	p2 := filepath.Join(dir, "two.json")

	require.NoError(t, NewJSONFile(p1).Save(fixture()))
	require.NoError(t, NewJSONFile(p2).Save(fixture()))

	b1, _ := os.ReadFile(p1)
	b2, _ := os.ReadFile(p2)
	assert.Equal(t, b1, b2)
}

func TestJSONFileMissingIsEmpty(t *testing.T) {
	got, found, err := NewJSONFile(filepath.Join(t.TempDir(), "nope.json")).Load()
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestJSONFileCorruptIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	got, found, err := NewJSONFile(path).Load()
	assert.Error(t, err)
	assert.False(t, found)
	assert.Empty(t, got)
}

func TestJSONFileLoadRepairsIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	raw := `{"a": {"created_at": 1}, "b": {"id": "other", "created_at": 2}, "": {"id": "", "created_at": 3}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	got, found, err := NewJSONFile(path).Load()
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got["a"].ID)
}

func TestOpenBackends(t *testing.T) {
	dir := t.TempDir()

	gw, err := Open("json", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "checkins_backup.json"), gw.Location())

	gw, err = Open("sqlite", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "checkins.db"), gw.Location())

	_, err = Open("redis", dir)
	assert.Error(t, err)
}

func TestJSONFileDropsRecordsWithoutTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkins_backup.json")
	raw := `{"ok": {"id": "ok", "created_at": 1700000000}, "zero": {"id": "zero", "shout": "hi"}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	got, found, err := NewJSONFile(path).Load()
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, got, 1)
	assert.Contains(t, got, "ok")
}

func TestJSONFileMigratesRawAPIItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkins_backup.json")
	raw := `{
  "4f1": {
    "id": "4f1",
    "createdAt": 1700000000,
    "shout": "hi",
    "venue": {"id": "v1", "name": "Cafe", "location": {"formattedAddress": ["1 Main St", "Seoul"]}}
  },
  "4f2": {"id": "4f2", "venue": {"id": "v2", "name": "No Time"}},
  "4f3": {"id": "4f3", "created_at": 1700000100, "venue_name": "Already New", "venue_id": "v3", "address": "", "link": "https://foursquare.com/v/v3"}
}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	got, found, err := NewJSONFile(path).Load()
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, got, 2)

	assert.Equal(t, model.CheckinRecord{
		ID:        "4f1",
		CreatedAt: 1700000000,
		VenueName: "Cafe",
		VenueID:   "v1",
		Address:   "1 Main St, Seoul",
		Shout:     "hi",
		Link:      "https://foursquare.com/v/v1",
	}, got["4f1"])
	assert.Equal(t, "Already New", got["4f3"].VenueName)

	// The next save rewrites the migrated entries in the current schema.
	require.NoError(t, NewJSONFile(path).Save(got))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "createdAt")
	assert.Contains(t, string(data), `"created_at": 1700000000`)
}
