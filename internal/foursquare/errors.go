package foursquare

import (
	"errors"
	"fmt"
)

// ErrNoToken is returned when the client has no OAuth token configured.
var ErrNoToken = errors.New("foursquare: oauth token is missing")

// FetchError reports a page that could not be fetched after all retries.
type FetchError struct {
	Op       string
	Offset   int
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("foursquare: %s fetch failed at offset %d after %d attempt(s): %v", e.Op, e.Offset, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "foursquare: unexpected status " + e.Status
}

// ParseError describes a single item that could not be turned into a record.
type ParseError struct {
	Index int
	ID    string
	Err   error
}

func (e *ParseError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("foursquare: item %d (id %s): %v", e.Index, e.ID, e.Err)
	}
	return fmt.Sprintf("foursquare: item %d: %v", e.Index, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
