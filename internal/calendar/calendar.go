// Package calendar defines the provider-neutral event types the sync engine
// works with and the interface a remote calendar service must implement.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ResponseAccepted is the attendee response status that marks an invitation
// as accepted.
const ResponseAccepted = "accepted"

// ErrProvider is wrapped by every ProviderError.
var ErrProvider = errors.New("calendar provider error")

// EventTime is either a timed instant (DateTime, RFC 3339) or an all-day date
// (Date, YYYY-MM-DD). TimeZone is optional.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// IsZero reports whether neither a date nor a date-time is set.
func (t EventTime) IsZero() bool {
	return t.DateTime == "" && t.Date == ""
}

// Attendee is the subset of attendee data needed for filtering.
type Attendee struct {
	Self           bool   `json:"self"`
	ResponseStatus string `json:"responseStatus"`
}

// Event is a single (already expanded) event instance read from a calendar.
type Event struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Start           EventTime  `json:"start"`
	End             EventTime  `json:"end"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	OrganizerIsSelf bool       `json:"organizerIsSelf"`
	Attendees       []Attendee `json:"attendees,omitempty"`
}

// ShadowEvent is the reduced copy of an event written to a target calendar.
// Anything not listed here is never propagated.
type ShadowEvent struct {
	Title   string    `json:"title"`
	Start   EventTime `json:"start"`
	End     EventTime `json:"end"`
	ColorID string    `json:"colorId,omitempty"`
}

// Summary describes one calendar of a connected account.
type Summary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Primary  bool   `json:"primary"`
	TimeZone string `json:"timeZone,omitempty"`
}

// Provider is the remote calendar API. The access token is passed on every
// call so implementations hold no credential state.
type Provider interface {
	ListCalendars(ctx context.Context, accessToken string) ([]Summary, error)
	ListEvents(ctx context.Context, accessToken, calendarID string, timeMin, timeMax time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, accessToken, calendarID string, ev ShadowEvent) (string, error)
	UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, ev ShadowEvent) (string, error)
	DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error
}

// ProviderError describes a failed remote call.
type ProviderError struct {
	Op         string
	HTTPStatus int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s: %s failed (HTTP %d): %s", ErrProvider, e.Op, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s failed: %s", ErrProvider, e.Op, e.Message)
}

// Unwrap lets errors.Is match both ErrProvider and the underlying cause.
func (e *ProviderError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProvider, e.Err}
	}
	return []error{ErrProvider}
}
