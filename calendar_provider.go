package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	providerGoogle = "google"
	providerCalDAV = "caldav"
)

var ErrUnauthenticated = errors.New("not authenticated with calendar provider")

// RemoteError is returned for any failed exchange with the calendar
// provider. StatusCode is zero when no response was received.
type RemoteError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("calendar request failed: %v", e.Err)
	}
	if e.Message == "" {
		return fmt.Sprintf("calendar request failed: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("calendar request failed: status=%d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth another attempt on a later
// cycle: transport failures, throttling and server errors.
func (e *RemoteError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// EventFetcher retrieves single-occurrence events whose start falls in
// [start, end), ordered by start ascending.
type EventFetcher interface {
	Fetch(ctx context.Context, start, end time.Time) ([]RawCalendarEvent, error)
}

// credentialChecker is implemented by fetchers that can tell, without a
// request, whether Fetch would fail with ErrUnauthenticated.
type credentialChecker interface {
	Authenticated() bool
}

// EventStart holds exactly one of DateTime (RFC 3339) or Date (YYYY-MM-DD).
type EventStart struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

func (s EventStart) Value() string {
	if s.DateTime != "" {
		return s.DateTime
	}
	return s.Date
}

type RawCalendarEvent struct {
	ID          string     `json:"id"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Start       EventStart `json:"start"`
	Status      string     `json:"status,omitempty"`
	Location    string     `json:"location,omitempty"`
	HTMLLink    string     `json:"htmlLink,omitempty"`
	Provider    string     `json:"provider"`
}
