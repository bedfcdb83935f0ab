// Package store owns the canonical check-in state: the raw record map, the
// derived event map and the published feed document.
//
// All mutation goes through transaction methods that run the map update,
// feed regeneration and persistence write as one critical section. Callers
// never lock anything themselves.
package store

import (
	"sort"
	"sync"
	"sync/atomic"

	appLog "fsqcal/internal/log"
	"fsqcal/internal/model"
	"fsqcal/internal/persist"
)

// Renderer turns a store snapshot into the published document.
type Renderer func(events []model.CalendarEvent) string

// Delta lists what a transaction changed in a way the outside world
// should hear about.
type Delta struct {
	// Created holds records whose id was absent before the transaction.
	Created []model.CheckinRecord
	// Deleted holds ids removed by the transaction.
	Deleted []string
}

// Empty reports whether the delta carries nothing to propagate.
func (d Delta) Empty() bool { return len(d.Created) == 0 && len(d.Deleted) == 0 }

// Result is the outcome of a committed transaction.
type Result struct {
	Delta Delta
	Count int
	// PersistErr is set when the durable write failed. The in-memory state
	// and the published document are still updated.
	PersistErr error
}

type Store struct {
	mu      sync.Mutex
	records map[string]model.CheckinRecord
	events  map[string]model.CalendarEvent

	doc atomic.Pointer[string]

	render  Renderer
	gateway persist.Gateway
}

// New creates an empty store. gateway may be nil (nothing is persisted).
func New(render Renderer, gateway persist.Gateway) *Store {
	return &Store{
		records: map[string]model.CheckinRecord{},
		events:  map[string]model.CalendarEvent{},
		render:  render,
		gateway: gateway,
	}
}

// Restore installs previously persisted records and publishes their
// document without writing them back.
func (s *Store) Restore(records map[string]model.CheckinRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRecords := make(map[string]model.CheckinRecord, len(records))
	nextEvents := make(map[string]model.CalendarEvent, len(records))
	for id, rec := range records {
		nextRecords[id] = rec
		nextEvents[id] = model.ToEvent(rec)
	}
	s.install(nextRecords, nextEvents)
	return len(nextRecords)
}

// Replace swaps the whole state for records. There is no per-item diff, so
// the delta is always empty.
func (s *Store) Replace(records []model.CheckinRecord) Result {
	nextRecords := make(map[string]model.CheckinRecord, len(records))
	nextEvents := make(map[string]model.CalendarEvent, len(records))
	for _, rec := range records {
		nextRecords[rec.ID] = rec
		nextEvents[rec.ID] = model.ToEvent(rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.install(nextRecords, nextEvents)
	return Result{Count: len(nextRecords), PersistErr: s.persist()}
}

// ApplyWindow reconciles the store against records, an authoritative
// listing of everything with CreatedAt >= threshold:
//
//   - every record is upserted; ids that were absent become Created
//   - every stored id at or after threshold missing from records is
//     removed and becomes Deleted
//   - stored ids before threshold are left alone
func (s *Store) ApplyWindow(threshold int64, records []model.CheckinRecord) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRecords := make(map[string]model.CheckinRecord, len(s.records)+len(records))
	nextEvents := make(map[string]model.CalendarEvent, len(s.records)+len(records))
	for id, rec := range s.records {
		nextRecords[id] = rec
		nextEvents[id] = s.events[id]
	}

	var delta Delta
	fetched := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, seen := fetched[rec.ID]; !seen {
			if _, existed := s.records[rec.ID]; !existed {
				delta.Created = append(delta.Created, rec)
			}
		}
		fetched[rec.ID] = struct{}{}
		nextRecords[rec.ID] = rec
		nextEvents[rec.ID] = model.ToEvent(rec)
	}

	for id, rec := range s.records {
		if rec.CreatedAt < threshold {
			continue
		}
		if _, ok := fetched[id]; ok {
			continue
		}
		delete(nextRecords, id)
		delete(nextEvents, id)
		delta.Deleted = append(delta.Deleted, id)
	}
	sort.Strings(delta.Deleted)

	s.install(nextRecords, nextEvents)
	return Result{Delta: delta, Count: len(nextRecords), PersistErr: s.persist()}
}

// install swaps in the new maps and publishes their document. Caller holds mu.
func (s *Store) install(records map[string]model.CheckinRecord, events map[string]model.CalendarEvent) {
	s.records = records
	s.events = events

	list := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		list = append(list, ev)
	}

	doc := ""
	if s.render != nil {
		doc = s.render(list)
	}
	s.doc.Store(&doc)
	appLog.Info("feed regenerated", "events", len(list))
}

// persist writes the current records. Caller holds mu.
func (s *Store) persist() error {
	if s.gateway == nil {
		return nil
	}
	if err := s.gateway.Save(s.records); err != nil {
		appLog.Error("store persist failed; keeping in-memory state", err, "location", s.gateway.Location())
		return err
	}
	appLog.Info("store persisted", "items", len(s.records), "location", s.gateway.Location())
	return nil
}

// Document returns the last published document. ok is false until the
// first Restore or transaction. It never blocks on the store lock.
func (s *Store) Document() (doc string, ok bool) {
	p := s.doc.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Snapshot returns a copy of all records, newest first.
func (s *Store) Snapshot() []model.CheckinRecord {
	s.mu.Lock()
	out := make([]model.CheckinRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Location describes where the store is persisted.
func (s *Store) Location() string {
	if s.gateway == nil {
		return "memory"
	}
	return s.gateway.Location()
}
