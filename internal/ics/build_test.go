package ics

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsqcal/internal/model"
)

func sampleEvents() []model.CalendarEvent {
	return []model.CalendarEvent{
		model.ToEvent(model.CheckinRecord{ID: "a", CreatedAt: 100, VenueName: "Alpha", VenueID: "va"}),
		model.ToEvent(model.CheckinRecord{ID: "c", CreatedAt: 300, VenueName: "Gamma", VenueID: "vc", Address: "Somewhere"}),
		model.ToEvent(model.CheckinRecord{ID: "b", CreatedAt: 200, VenueName: "Beta", VenueID: "vb", Shout: "hi"}),
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	meta := FeedMeta{DisplayName: "My History", Timezone: "Asia/Seoul"}
	events := sampleEvents()

	reversed := make([]model.CalendarEvent, len(events))
	for i, ev := range events {
		reversed[len(events)-1-i] = ev
	}

	assert.Equal(t, Build(meta, events), Build(meta, events))
	assert.Equal(t, Build(meta, events), Build(meta, reversed))
}

func TestBuildContent(t *testing.T) {
	doc := Build(FeedMeta{DisplayName: "My History", Timezone: "Asia/Seoul"}, sampleEvents())

	assert.Contains(t, doc, "X-WR-CALNAME:My History")
	assert.Contains(t, doc, "X-WR-TIMEZONE:Asia/Seoul")
	assert.Contains(t, doc, "METHOD:PUBLISH")

	cal, err := ical.ParseCalendar(strings.NewReader(doc))
	require.NoError(t, err)

	evs := cal.Events()
	require.Len(t, evs, 3)

	// Newest first.
	assert.Equal(t, "fq-c@foursquare.com", evs[0].Id())
	assert.Equal(t, "fq-b@foursquare.com", evs[1].Id())
	assert.Equal(t, "fq-a@foursquare.com", evs[2].Id())

	summary := evs[0].GetProperty(ical.ComponentPropertySummary)
	require.NotNil(t, summary)
	assert.Equal(t, "@Gamma", summary.Value)

	loc := evs[0].GetProperty(ical.ComponentPropertyLocation)
	require.NotNil(t, loc)
	assert.Equal(t, "Somewhere", loc.Value)

	desc := evs[1].GetProperty(ical.ComponentPropertyDescription)
	require.NotNil(t, desc)
	assert.Contains(t, desc.Value, "Comment: hi")
	assert.Contains(t, desc.Value, "Link: https://foursquare.com/v/vb")

	start, err := evs[0].GetStartAt()
	require.NoError(t, err)
	end, err := evs[0].GetEndAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Unix(300, 0)))
	assert.Equal(t, 15*time.Minute, end.Sub(start))
}

func TestBuildEmpty(t *testing.T) {
	doc := Build(FeedMeta{DisplayName: "Empty"}, nil)

	cal, err := ical.ParseCalendar(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Empty(t, cal.Events())
	assert.NotContains(t, doc, "X-WR-TIMEZONE")
}
