// Package gcal adapts Google Calendar to the propagate.Calendar interface.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"fsqcal/internal/model"
	"fsqcal/internal/propagate"
)

// Client writes events into one Google calendar.
type Client struct {
	svc        *calendar.Service
	calendarID string
}

// New builds a client from explicit client options (tests point it at an
// httptest server with option.WithEndpoint / option.WithHTTPClient).
func New(ctx context.Context, calendarID string, opts ...option.ClientOption) (*Client, error) {
	if calendarID == "" {
		return nil, errors.New("gcal: calendar id is empty")
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcal: create service: %w", err)
	}
	return &Client{svc: svc, calendarID: calendarID}, nil
}

// NewFromCredentialsFile authenticates with a service account JSON key.
func NewFromCredentialsFile(ctx context.Context, calendarID, path string) (*Client, error) {
	if path == "" {
		return nil, errors.New("gcal: credentials path is empty")
	}
	return New(ctx, calendarID,
		option.WithCredentialsFile(path),
		option.WithScopes(calendar.CalendarEventsScope),
	)
}

// Insert creates the event under eventID. An existing id yields
// propagate.ErrConflict.
func (c *Client) Insert(ctx context.Context, eventID string, ev model.CalendarEvent) error {
	body := &calendar.Event{
		Id:          eventID,
		ICalUID:     ev.UID,
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start: &calendar.EventDateTime{
			DateTime: ev.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: ev.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}

	_, err := c.svc.Events.Insert(c.calendarID, body).Context(ctx).Do()
	return classify(err)
}

// Delete removes eventID. A missing or already deleted event yields
// propagate.ErrNotFound.
func (c *Client) Delete(ctx context.Context, eventID string) error {
	err := c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusConflict:
			return fmt.Errorf("%w: %v", propagate.ErrConflict, err)
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("%w: %v", propagate.ErrNotFound, err)
		}
	}
	return err
}
