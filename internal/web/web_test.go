package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsqcal/internal/engine"
	"fsqcal/internal/propagate"
)

type fakeFeed struct {
	doc   string
	ready bool
	count int
}

func (f *fakeFeed) Document() (string, bool) { return f.doc, f.ready }
func (f *fakeFeed) Count() int               { return f.count }
func (f *fakeFeed) Location() string         { return "/data/checkins_backup.json" }

type fakeRuns struct{ run *engine.Run }

func (f fakeRuns) LastRun() (engine.Run, bool) {
	if f.run == nil {
		return engine.Run{}, false
	}
	return *f.run, true
}

type countingTrigger struct{ n atomic.Int32 }

func (c *countingTrigger) Trigger() { c.n.Add(1) }

type fixedStats propagate.Stats

func (f fixedStats) Stats() propagate.Stats { return propagate.Stats(f) }

func serve(t *testing.T, h http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestFeedNotReady(t *testing.T) {
	s := NewServer(&fakeFeed{}, fakeRuns{}, &countingTrigger{}, Options{})

	rec := serve(t, s.Handler(), http.MethodGet, "/foursquare.ics", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Initializing...", rec.Body.String())
}

func TestFeedServesDocumentWithoutCaching(t *testing.T) {
	feed := &fakeFeed{doc: "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n", ready: true, count: 0}
	s := NewServer(feed, fakeRuns{}, &countingTrigger{}, Options{})

	for _, path := range []string{"/foursquare.ics", "/feed.ics"} {
		rec := serve(t, s.Handler(), http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
		assert.Equal(t, feed.doc, rec.Body.String())
	}
}

func TestWebhookTriggersAndReturnsAccepted(t *testing.T) {
	trig := &countingTrigger{}
	s := NewServer(&fakeFeed{}, fakeRuns{}, trig, Options{})

	rec := serve(t, s.Handler(), http.MethodPost, "/webhook", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "Sync Triggered", rec.Body.String())

	rec = serve(t, s.Handler(), http.MethodGet, "/webhook", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int32(2), trig.n.Load())

	rec = serve(t, s.Handler(), http.MethodDelete, "/webhook", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, int32(2), trig.n.Load())
}

func TestStatus(t *testing.T) {
	feed := &fakeFeed{doc: "x", ready: true, count: 42}
	run := &engine.Run{Kind: engine.KindPartial, ID: "run-1", Created: 2}
	s := NewServer(feed, fakeRuns{run: run}, &countingTrigger{}, Options{Push: fixedStats{Pushed: 3}})

	for _, path := range []string{"/", "/api/status"} {
		rec := serve(t, s.Handler(), http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, float64(42), got["event_count"])
		assert.Equal(t, "/data/checkins_backup.json", got["storage"])
		assert.Equal(t, true, got["ready"])

		last, ok := got["last_sync"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "run-1", last["run_id"])
		assert.Equal(t, "partial", last["kind"])

		push, ok := got["push"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(3), push["pushed"])
	}
}

func TestStatusBeforeFirstSync(t *testing.T) {
	s := NewServer(&fakeFeed{}, fakeRuns{}, &countingTrigger{}, Options{})

	rec := serve(t, s.Handler(), http.MethodGet, "/api/status", nil)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, false, got["ready"])
	assert.Nil(t, got["last_sync"])
	assert.NotContains(t, got, "push")
}

func TestAccessSecret(t *testing.T) {
	trig := &countingTrigger{}
	s := NewServer(&fakeFeed{doc: "doc", ready: true}, fakeRuns{}, trig, Options{AccessSecret: "s3cret"})
	h := s.Handler()

	cases := []struct {
		name   string
		method string
		target string
		hdr    map[string]string
		want   int
	}{
		{"no key feed", http.MethodGet, "/foursquare.ics", nil, http.StatusForbidden},
		{"wrong key", http.MethodGet, "/foursquare.ics?key=nope", nil, http.StatusForbidden},
		{"no key health", http.MethodGet, "/health", nil, http.StatusForbidden},
		{"no key unknown path", http.MethodGet, "/nope", nil, http.StatusForbidden},
		{"no key webhook", http.MethodPost, "/webhook", nil, http.StatusForbidden},
		{"query key", http.MethodGet, "/foursquare.ics?key=s3cret", nil, http.StatusOK},
		{"header key", http.MethodGet, "/health", map[string]string{"X-Access-Key": "s3cret"}, http.StatusOK},
		{"key webhook", http.MethodPost, "/webhook?key=s3cret", nil, http.StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, h, tc.method, tc.target, tc.hdr)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
	// Only the authorized webhook call got through.
	assert.Equal(t, int32(1), trig.n.Load())
}

func TestHealth(t *testing.T) {
	s := NewServer(&fakeFeed{}, fakeRuns{}, &countingTrigger{}, Options{})
	rec := serve(t, s.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "ab"))
}
