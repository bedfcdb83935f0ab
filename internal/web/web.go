package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"fsqcal/internal/engine"
	appLog "fsqcal/internal/log"
	"fsqcal/internal/propagate"
)

const (
	feedContentType = "text/calendar; charset=utf-8"
	noCache         = "no-cache, no-store, must-revalidate"
)

// Feed is the read side of the canonical store.
type Feed interface {
	Document() (string, bool)
	Count() int
	Location() string
}

// Runs reports the last completed sync.
type Runs interface {
	LastRun() (engine.Run, bool)
}

// Trigger schedules a (debounced) partial sync. It must return at once.
type Trigger interface {
	Trigger()
}

// PushStats is implemented by the propagator when external push is on.
type PushStats interface {
	Stats() propagate.Stats
}

// Server serves the calendar feed, the webhook trigger and a small status
// API. 모든 요청은 access secret 검사를 먼저 거친다.
type Server struct {
	mux *http.ServeMux

	accessSecret string

	feed    Feed
	runs    Runs
	trigger Trigger
	push    PushStats
}

type Options struct {
	// AccessSecret, when non-empty, is required on every request as the
	// "key" query parameter or the X-Access-Key header.
	AccessSecret string
	// Push is optional.
	Push PushStats
}

// NewServer constructs a new Server.
func NewServer(feed Feed, runs Runs, trigger Trigger, opts Options) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		accessSecret: opts.AccessSecret,
		feed:         feed,
		runs:         runs,
		trigger:      trigger,
		push:         opts.Push,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.accessSecret != "" {
		appLog.Info("HTTP access secret enabled")
		return s.accessMiddleware(h)
	}
	return h
}

// accessMiddleware rejects every request that does not carry the secret,
// before routing. There is no exempt path.
func (s *Server) accessMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			key = r.Header.Get("X-Access-Key")
		}
		if !secureCompare(key, s.accessSecret) {
			appLog.Warn("forbidden request", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /foursquare.ics", s.handleFeed)
	s.mux.HandleFunc("GET /feed.ics", s.handleFeed)
	s.mux.HandleFunc("GET /webhook", s.handleWebhook)
	s.mux.HandleFunc("POST /webhook", s.handleWebhook)
	s.mux.HandleFunc("GET /{$}", s.handleStatus)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleFeed serves the last published document. It never waits on a
// running sync.
func (s *Server) handleFeed(w http.ResponseWriter, _ *http.Request) {
	doc, ok := s.feed.Document()
	if !ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Initializing..."))
		return
	}

	w.Header().Set("Content-Type", feedContentType)
	w.Header().Set("Cache-Control", noCache)
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// handleWebhook acknowledges immediately; the sync itself runs later on
// the debouncer's goroutine, detached from this request.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	appLog.Info("webhook received", "method", r.Method, "remote", r.RemoteAddr)
	s.trigger.Trigger()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Sync Triggered"))
}

type statusResponse struct {
	EventCount int              `json:"event_count"`
	Storage    string           `json:"storage"`
	Ready      bool             `json:"ready"`
	LastSync   *engine.Run      `json:"last_sync"`
	Push       *propagate.Stats `json:"push,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	_, ready := s.feed.Document()
	resp := statusResponse{
		EventCount: s.feed.Count(),
		Storage:    s.feed.Location(),
		Ready:      ready,
	}
	if s.runs != nil {
		if run, ok := s.runs.LastRun(); ok {
			resp.LastSync = &run
		}
	}
	if s.push != nil {
		st := s.push.Stats()
		resp.Push = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}
