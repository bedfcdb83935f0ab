package model

import (
	"strings"
	"time"
)

// EventDuration is the fixed length of every derived calendar entry.
const EventDuration = 15 * time.Minute

const (
	uidPrefix        = "fq-"
	uidSuffix        = "@foursquare.com"
	venueLinkBase    = "https://foursquare.com/v/"
	unknownVenueName = "Unknown Place"
)

// CheckinRecord is the canonical, persisted form of one remote check-in.
// Only the fields the feed and the external calendar need are kept.
type CheckinRecord struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"` // epoch seconds, UTC

	VenueName string `json:"venue_name"`
	VenueID   string `json:"venue_id"`
	Address   string `json:"address"`

	// Shout is the optional user comment attached to the check-in.
	Shout string `json:"shout,omitempty"`

	Link string `json:"link"`
}

// Time returns the check-in instant in UTC.
func (r CheckinRecord) Time() time.Time {
	return time.Unix(r.CreatedAt, 0).UTC()
}

// VenueLink builds the public venue page URL for a venue id.
func VenueLink(venueID string) string {
	return venueLinkBase + venueID
}

// CalendarEvent is the derived calendar entry for a single check-in.
type CalendarEvent struct {
	CheckinID string
	UID       string

	Title       string
	Description string
	Location    string

	Start time.Time
	End   time.Time
}

// UIDFor returns the calendar UID for a check-in id.
func UIDFor(checkinID string) string {
	return uidPrefix + checkinID + uidSuffix
}

// ToEvent derives the calendar entry for r. The result depends only on r.
func ToEvent(r CheckinRecord) CalendarEvent {
	venue := r.VenueName
	if venue == "" {
		venue = unknownVenueName
	}
	link := r.Link
	if link == "" {
		link = VenueLink(r.VenueID)
	}

	lines := make([]string, 0, 3)
	if r.Shout != "" {
		lines = append(lines, "Comment: "+r.Shout)
	}
	if r.Address != "" {
		lines = append(lines, "Address: "+r.Address)
	}
	lines = append(lines, "Link: "+link)

	start := r.Time()
	return CalendarEvent{
		CheckinID:   r.ID,
		UID:         UIDFor(r.ID),
		Title:       "@" + venue,
		Description: strings.Join(lines, "\n"),
		Location:    r.Address,
		Start:       start,
		End:         start.Add(EventDuration),
	}
}
