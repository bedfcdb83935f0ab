// Package propagate mirrors store deltas onto an external calendar.
//
// Calls are idempotent: every event id is derived from the check-in id, an
// insert that hits an existing event counts as success and so does a
// delete of an event that is already gone. Failures are logged and
// dropped; they never reach the sync that produced the delta.
package propagate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	appLog "fsqcal/internal/log"
	"fsqcal/internal/model"
)

var (
	// ErrConflict means the event id already exists on the remote side.
	ErrConflict = errors.New("propagate: event already exists")
	// ErrNotFound means the event id does not exist on the remote side.
	ErrNotFound = errors.New("propagate: event not found")
)

// Calendar is the external calendar service. Implementations map their
// "already exists" / "not found" responses to ErrConflict / ErrNotFound.
type Calendar interface {
	Insert(ctx context.Context, eventID string, ev model.CalendarEvent) error
	Delete(ctx context.Context, eventID string) error
}

// EventID derives the external event id for a check-in. The alphabet
// (0-9a-f plus the "fq" prefix) is valid for Google Calendar ids.
func EventID(checkinID string) string {
	sum := sha256.Sum256([]byte(checkinID))
	return "fq" + hex.EncodeToString(sum[:16])
}

// Options tunes the worker pool.
type Options struct {
	// Workers is the number of concurrent calls to the calendar.
	Workers int
	// RatePerSecond caps calls across all workers.
	RatePerSecond float64
	// BackfillDelay is the pause between two backfill pushes.
	BackfillDelay time.Duration
	// CallTimeout bounds a single calendar call.
	CallTimeout time.Duration
}

func (o *Options) normalize() {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 5
	}
	if o.BackfillDelay < 0 {
		o.BackfillDelay = 0
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 20 * time.Second
	}
}

// Stats counts calendar calls by outcome.
type Stats struct {
	Pushed   int64 `json:"pushed"`
	Deleted  int64 `json:"deleted"`
	Ignored  int64 `json:"ignored"` // conflict on push, not-found on delete
	Failed   int64 `json:"failed"`
	Queued   int   `json:"queued"`
	Backfill bool  `json:"backfill_running"`
}

type Propagator struct {
	cal     Calendar
	opts    Options
	queue   *jobQueue
	limiter *rate.Limiter

	// ctx is used for calendar calls and cancelled last on Close.
	ctx    context.Context
	cancel context.CancelFunc
	// stop ends a running backfill early.
	stop     chan struct{}
	stopOnce sync.Once

	workers     sync.WaitGroup
	backfillWG  sync.WaitGroup
	backfilling atomic.Bool

	pushed, deleted, ignored, failed atomic.Int64
}

// New starts the worker pool.
func New(cal Calendar, opts Options) *Propagator {
	opts.normalize()
	ctx, cancel := context.WithCancel(context.Background())

	p := &Propagator{
		cal:     cal,
		opts:    opts,
		queue:   newJobQueue(),
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		ctx:     ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
	}

	for i := 0; i < opts.Workers; i++ {
		p.workers.Add(1)
		go p.work(i)
	}
	appLog.Info("propagator started", "workers", opts.Workers, "rate_per_second", opts.RatePerSecond)
	return p
}

// Push schedules an upsert of rec.
func (p *Propagator) Push(rec model.CheckinRecord) {
	if !p.queue.Enqueue(job{kind: jobPush, checkinID: rec.ID, record: rec}) {
		appLog.Warn("propagator closed; dropping push", "checkin_id", rec.ID)
	}
}

// Delete schedules removal of the event for checkinID.
func (p *Propagator) Delete(checkinID string) {
	if !p.queue.Enqueue(job{kind: jobDelete, checkinID: checkinID}) {
		appLog.Warn("propagator closed; dropping delete", "checkin_id", checkinID)
	}
}

// Backfill pushes every record in the background, pausing BackfillDelay
// between items. It returns false (and does nothing) if a backfill is
// already running.
func (p *Propagator) Backfill(records []model.CheckinRecord) bool {
	if !p.backfilling.CompareAndSwap(false, true) {
		appLog.Info("backfill already running; ignoring request")
		return false
	}

	items := make([]model.CheckinRecord, len(records))
	copy(items, records)

	p.backfillWG.Add(1)
	go func() {
		defer p.backfillWG.Done()
		defer p.backfilling.Store(false)

		appLog.Info("backfill start", "items", len(items))
		for i, rec := range items {
			select {
			case <-p.stop:
				appLog.Info("backfill stopped", "done", i, "items", len(items))
				return
			default:
			}

			p.run(job{kind: jobPush, checkinID: rec.ID, record: rec})

			if p.opts.BackfillDelay > 0 && i < len(items)-1 {
				t := time.NewTimer(p.opts.BackfillDelay)
				select {
				case <-t.C:
				case <-p.stop:
					t.Stop()
					appLog.Info("backfill stopped", "done", i+1, "items", len(items))
					return
				}
			}
		}
		appLog.Info("backfill done", "items", len(items))
	}()
	return true
}

// Stats returns current counters.
func (p *Propagator) Stats() Stats {
	return Stats{
		Pushed:   p.pushed.Load(),
		Deleted:  p.deleted.Load(),
		Ignored:  p.ignored.Load(),
		Failed:   p.failed.Load(),
		Queued:   p.queue.Len(),
		Backfill: p.backfilling.Load(),
	}
}

// WaitBackfill blocks until a running backfill has pushed every item or
// ctx is done. It returns at once when no backfill runs.
func (p *Propagator) WaitBackfill(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.backfillWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, aborts a running backfill, lets the workers
// drain what is already queued and waits for them.
func (p *Propagator) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.queue.Close()
	p.backfillWG.Wait()
	p.workers.Wait()
	p.cancel()
}

func (p *Propagator) work(n int) {
	defer p.workers.Done()
	for {
		j, ok := p.queue.Dequeue(p.ctx)
		if !ok {
			appLog.Debug("propagator worker exiting", "worker", n)
			return
		}
		p.run(j)
	}
}

func (p *Propagator) run(j job) {
	if err := p.limiter.Wait(p.ctx); err != nil {
		p.failed.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.opts.CallTimeout)
	defer cancel()

	eventID := EventID(j.checkinID)
	var err error
	switch j.kind {
	case jobPush:
		err = p.cal.Insert(ctx, eventID, model.ToEvent(j.record))
	case jobDelete:
		err = p.cal.Delete(ctx, eventID)
	}

	switch {
	case err == nil:
		if j.kind == jobPush {
			p.pushed.Add(1)
		} else {
			p.deleted.Add(1)
		}
		appLog.Debug("propagated", "op", j.kind, "checkin_id", j.checkinID, "event_id", eventID)
	case j.kind == jobPush && errors.Is(err, ErrConflict),
		j.kind == jobDelete && errors.Is(err, ErrNotFound):
		p.ignored.Add(1)
		appLog.Debug("propagation already applied", "op", j.kind, "checkin_id", j.checkinID)
	default:
		p.failed.Add(1)
		appLog.Error("propagation failed", err, "op", j.kind, "checkin_id", j.checkinID, "event_id", eventID)
	}
}
