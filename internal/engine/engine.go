// Package engine decides what to fetch from the remote source, reconciles
// the result against the canonical store and hands the resulting deltas to
// the propagator.
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"fsqcal/internal/foursquare"
	appLog "fsqcal/internal/log"
	"fsqcal/internal/model"
	"fsqcal/internal/store"
)

const (
	KindFull    = "full"
	KindPartial = "partial"

	DefaultWindowDays = 7
)

// Source is the remote check-in history.
type Source interface {
	Fetch(ctx context.Context, since *int64) ([]json.RawMessage, error)
	RemoteCount(ctx context.Context) int
}

// Sink receives committed deltas. Calls must not block on the network.
type Sink interface {
	Push(rec model.CheckinRecord)
	Delete(checkinID string)
	Backfill(records []model.CheckinRecord) bool
}

type Options struct {
	// WindowDays is the partial sync look-back used by Startup and by
	// PartialSync(ctx, 0).
	WindowDays int
	// Backfill hands the whole store to the sink after Startup.
	Backfill bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Run describes one completed sync.
type Run struct {
	Kind       string    `json:"kind"`
	ID         string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Fetched    int       `json:"fetched"`
	Skipped    int       `json:"skipped"`
	Created    int       `json:"created"`
	Deleted    int       `json:"deleted"`
	Count      int       `json:"count"`
	Error      string    `json:"error,omitempty"`
}

type Engine struct {
	src   Source
	store *store.Store
	sink  Sink
	opts  Options

	mu   sync.Mutex
	last *Run
}

// New wires an engine. sink may be nil when nothing is propagated.
func New(src Source, st *store.Store, sink Sink, opts Options) *Engine {
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultWindowDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &Engine{src: src, store: st, sink: sink, opts: opts}
}

// FullSync replaces the store with the complete remote history. It
// produces no deltas.
func (e *Engine) FullSync(ctx context.Context) error {
	run := e.begin(KindFull)
	appLog.Info("full sync start", "run", run.ID)

	raws, err := e.src.Fetch(ctx, nil)
	if err != nil {
		return e.fail(run, err)
	}
	records := e.parse(run, raws)

	res := e.store.Replace(records)
	run.Count = res.Count
	e.finish(run)
	return nil
}

// PartialSync reconciles the last windowDays days (the configured window
// when windowDays <= 0). Items inside the window that the remote no longer
// lists are deleted.
//
// The fetched listing is trusted to be complete for the window. If the
// remote hides a recent item between pages, that item is deleted here and
// comes back on the next sync that sees it.
func (e *Engine) PartialSync(ctx context.Context, windowDays int) error {
	if windowDays <= 0 {
		windowDays = e.opts.WindowDays
	}
	run := e.begin(KindPartial)

	threshold := e.opts.Now().Add(-time.Duration(windowDays) * 24 * time.Hour).Unix()
	appLog.Info("partial sync start", "run", run.ID, "window_days", windowDays, "threshold", threshold)

	// afterTimestamp is exclusive; step back one second so an item sitting
	// exactly on the threshold is part of the authoritative listing.
	since := threshold - 1
	raws, err := e.src.Fetch(ctx, &since)
	if err != nil {
		return e.fail(run, err)
	}
	records := e.parse(run, raws)

	res := e.store.ApplyWindow(threshold, records)
	run.Count = res.Count
	run.Created = len(res.Delta.Created)
	run.Deleted = len(res.Delta.Deleted)

	// Propagation happens after commit, outside the store lock.
	for _, rec := range res.Delta.Created {
		e.sink.Push(rec)
	}
	for _, id := range res.Delta.Deleted {
		e.sink.Delete(id)
	}

	e.finish(run)
	return nil
}

// Startup picks the first sync: a full one when the store is empty or the
// remote reports more check-ins than we hold, a partial one otherwise.
func (e *Engine) Startup(ctx context.Context) error {
	local := e.store.Count()

	var err error
	if local == 0 {
		appLog.Info("startup: store empty; running full sync")
		err = e.FullSync(ctx)
	} else if remote := e.src.RemoteCount(ctx); local < remote {
		appLog.Info("startup: local store behind remote; running full sync", "local", local, "remote", remote)
		err = e.FullSync(ctx)
	} else {
		appLog.Info("startup: running partial sync", "local", local, "remote", remote)
		err = e.PartialSync(ctx, e.opts.WindowDays)
	}

	if e.opts.Backfill {
		snap := e.store.Snapshot()
		if e.sink.Backfill(snap) {
			appLog.Info("history backfill scheduled", "items", len(snap))
		}
	}
	return err
}

// LastRun returns the most recent completed sync, if any.
func (e *Engine) LastRun() (Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Run{}, false
	}
	return *e.last, true
}

func (e *Engine) parse(run *Run, raws []json.RawMessage) []model.CheckinRecord {
	records, errs := foursquare.ParseItems(raws)
	run.Fetched = len(raws)
	run.Skipped = len(errs)
	return records
}

func (e *Engine) begin(kind string) *Run {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Run{Kind: kind, ID: id.String(), StartedAt: e.opts.Now()}
}

func (e *Engine) fail(run *Run, err error) error {
	run.Error = err.Error()
	run.Count = e.store.Count()
	appLog.Error(run.Kind+" sync aborted; store unchanged", err, "run", run.ID)
	e.record(run)
	return err
}

func (e *Engine) finish(run *Run) {
	appLog.Info(run.Kind+" sync done", "run", run.ID,
		"fetched", run.Fetched, "skipped", run.Skipped,
		"created", run.Created, "deleted", run.Deleted, "count", run.Count)
	e.record(run)
}

func (e *Engine) record(run *Run) {
	run.FinishedAt = e.opts.Now()
	e.mu.Lock()
	e.last = run
	e.mu.Unlock()
}

type noopSink struct{}

func (noopSink) Push(model.CheckinRecord)            {}
func (noopSink) Delete(string)                       {}
func (noopSink) Backfill([]model.CheckinRecord) bool { return false }
