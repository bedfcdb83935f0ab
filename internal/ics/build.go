package ics

import (
	"sort"

	ical "github.com/arran4/golang-ical"

	"fsqcal/internal/model"
)

const productID = "-//fsqcal//FoursquareToICS//EN"

// FeedMeta is the fixed document-level metadata of the published feed.
type FeedMeta struct {
	// DisplayName is shown by calendar clients (X-WR-CALNAME / NAME).
	DisplayName string
	// Timezone is the IANA zone advertised via X-WR-TIMEZONE. Event times
	// themselves are always serialized in UTC.
	Timezone string
}

// Build renders events into a single iCalendar document.
//
// The output depends only on meta and the set of events: entries are
// ordered newest first (ties broken by UID) and DTSTAMP is pinned to the
// event start, so identical input always yields identical bytes.
func Build(meta FeedMeta, events []model.CalendarEvent) string {
	sorted := make([]model.CalendarEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.After(sorted[j].Start)
		}
		return sorted[i].UID < sorted[j].UID
	})

	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	if meta.DisplayName != "" {
		cal.SetName(meta.DisplayName)
		cal.SetXWRCalName(meta.DisplayName)
	}
	if meta.Timezone != "" {
		cal.SetXWRTimezone(meta.Timezone)
	}

	for _, ev := range sorted {
		ve := cal.AddEvent(ev.UID)
		ve.SetDtStampTime(ev.Start)
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
	}

	return cal.Serialize()
}
