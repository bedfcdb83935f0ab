package propagate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsqcal/internal/model"
)

type call struct {
	op      string
	eventID string
	title   string
}

type fakeCalendar struct {
	mu        sync.Mutex
	calls     []call
	insertErr map[string]error // keyed by event id
	deleteErr map[string]error
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{insertErr: map[string]error{}, deleteErr: map[string]error{}}
}

func (f *fakeCalendar) Insert(_ context.Context, eventID string, ev model.CalendarEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "insert", eventID: eventID, title: ev.Title})
	return f.insertErr[eventID]
}

func (f *fakeCalendar) Delete(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "delete", eventID: eventID})
	return f.deleteErr[eventID]
}

func (f *fakeCalendar) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

func fastOptions() Options {
	return Options{Workers: 2, RatePerSecond: 1000, CallTimeout: time.Second}
}

func TestEventID(t *testing.T) {
	id := EventID("5f1a2b")
	assert.Equal(t, id, EventID("5f1a2b"))
	assert.NotEqual(t, id, EventID("5f1a2c"))
	assert.Len(t, id, 34)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-v]+$`), id)
}

func TestPushAndDelete(t *testing.T) {
	cal := newFakeCalendar()
	p := New(cal, fastOptions())

	p.Push(model.CheckinRecord{ID: "a", CreatedAt: 10, VenueName: "Alpha"})
	p.Delete("b")
	p.Close()

	calls := cal.snapshot()
	require.Len(t, calls, 2)
	assert.ElementsMatch(t, []call{
		{op: "insert", eventID: EventID("a"), title: "@Alpha"},
		{op: "delete", eventID: EventID("b")},
	}, calls)

	st := p.Stats()
	assert.Equal(t, int64(1), st.Pushed)
	assert.Equal(t, int64(1), st.Deleted)
	assert.Zero(t, st.Failed)
}

func TestIgnorableResponsesCountAsSuccess(t *testing.T) {
	cal := newFakeCalendar()
	cal.insertErr[EventID("dup")] = ErrConflict
	cal.deleteErr[EventID("gone")] = ErrNotFound
	cal.insertErr[EventID("bad")] = errors.New("500 backend error")
	// A not-found on insert is not ignorable.
	cal.insertErr[EventID("odd")] = ErrNotFound

	p := New(cal, fastOptions())
	p.Push(model.CheckinRecord{ID: "dup"})
	p.Delete("gone")
	p.Push(model.CheckinRecord{ID: "bad"})
	p.Push(model.CheckinRecord{ID: "odd"})
	p.Close()

	st := p.Stats()
	assert.Equal(t, int64(2), st.Ignored)
	assert.Equal(t, int64(2), st.Failed)
	// Failures are never retried.
	assert.Len(t, cal.snapshot(), 4)
}

func TestCloseDrainsQueueAndRejectsLateWork(t *testing.T) {
	cal := newFakeCalendar()
	p := New(cal, Options{Workers: 1, RatePerSecond: 1000})

	for i := 0; i < 20; i++ {
		p.Push(model.CheckinRecord{ID: string(rune('a' + i))})
	}
	p.Close()
	assert.Len(t, cal.snapshot(), 20)

	p.Push(model.CheckinRecord{ID: "late"})
	assert.Len(t, cal.snapshot(), 20)
}

func TestBackfill(t *testing.T) {
	cal := newFakeCalendar()
	p := New(cal, Options{Workers: 1, RatePerSecond: 1000, BackfillDelay: 20 * time.Millisecond})
	defer p.Close()

	records := []model.CheckinRecord{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	require.True(t, p.Backfill(records))
	assert.False(t, p.Backfill(records), "second backfill must be ignored while one runs")

	require.Eventually(t, func() bool { return !p.Stats().Backfill }, 2*time.Second, 5*time.Millisecond)

	calls := cal.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, EventID("a"), calls[0].eventID)
	assert.Equal(t, EventID("c"), calls[2].eventID)
	assert.Equal(t, int64(3), p.Stats().Pushed)

	// Finished backfills can be started again.
	assert.True(t, p.Backfill(records[:1]))
}

func TestCloseStopsBackfill(t *testing.T) {
	cal := newFakeCalendar()
	p := New(cal, Options{Workers: 1, RatePerSecond: 1000, BackfillDelay: time.Hour})

	require.True(t, p.Backfill([]model.CheckinRecord{{ID: "a"}, {ID: "b"}}))
	require.Eventually(t, func() bool { return len(cal.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() { p.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not interrupt the backfill delay")
	}
	assert.Len(t, cal.snapshot(), 1)
}

func TestWaitBackfillLetsCloseKeepEveryPush(t *testing.T) {
	cal := newFakeCalendar()
	p := New(cal, Options{Workers: 1, RatePerSecond: 1000, BackfillDelay: time.Millisecond})

	records := make([]model.CheckinRecord, 50)
	for i := range records {
		records[i] = model.CheckinRecord{ID: fmt.Sprintf("c%02d", i), CreatedAt: int64(i + 1)}
	}
	require.True(t, p.Backfill(records))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.WaitBackfill(ctx))
	p.Close()

	assert.Len(t, cal.snapshot(), 50)
	assert.Equal(t, int64(50), p.Stats().Pushed)
}

func TestWaitBackfillWithoutBackfillReturnsAtOnce(t *testing.T) {
	p := New(newFakeCalendar(), fastOptions())
	defer p.Close()

	assert.NoError(t, p.WaitBackfill(context.Background()))
}

func TestWaitBackfillHonorsContext(t *testing.T) {
	p := New(newFakeCalendar(), Options{Workers: 1, RatePerSecond: 1000, BackfillDelay: time.Hour})
	defer p.Close()
	require.True(t, p.Backfill([]model.CheckinRecord{{ID: "a"}, {ID: "b"}}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.WaitBackfill(ctx), context.DeadlineExceeded)
}
