// Package google talks to the Google Calendar and OAuth APIs on behalf of
// connected accounts.
package google

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/macjediwizard/calmirror/internal/calendar"
)

const maxEventsPerPage = 2500

// CalendarProvider implements calendar.Provider over the Google Calendar v3
// API. It keeps no credentials; every call builds a client from the access
// token it is given.
type CalendarProvider struct {
	base     *http.Client
	endpoint string
}

var _ calendar.Provider = (*CalendarProvider)(nil)

// ProviderOption configures a CalendarProvider.
type ProviderOption func(*CalendarProvider)

// WithHTTPClient sets the client whose transport and timeout are used for
// API calls.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *CalendarProvider) {
		p.base = c
	}
}

// WithCalendarEndpoint overrides the API base URL, e.g. for tests.
func WithCalendarEndpoint(url string) ProviderOption {
	return func(p *CalendarProvider) {
		p.endpoint = url
	}
}

// NewCalendarProvider creates a new CalendarProvider.
func NewCalendarProvider(opts ...ProviderOption) *CalendarProvider {
	p := &CalendarProvider{base: http.DefaultClient}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *CalendarProvider) service(ctx context.Context, accessToken string) (*gcal.Service, error) {
	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
			Base:   p.base.Transport,
		},
		Timeout: p.base.Timeout,
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.endpoint))
	}

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, &calendar.ProviderError{Op: "create calendar service", Message: err.Error(), Err: err}
	}
	return svc, nil
}

// ListCalendars returns every calendar on the account's calendar list.
func (p *CalendarProvider) ListCalendars(ctx context.Context, accessToken string) ([]calendar.Summary, error) {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var out []calendar.Summary
	err = svc.CalendarList.List().Context(ctx).Pages(ctx, func(page *gcal.CalendarList) error {
		for _, item := range page.Items {
			name := item.SummaryOverride
			if name == "" {
				name = item.Summary
			}
			out = append(out, calendar.Summary{
				ID:       item.Id,
				Name:     name,
				Primary:  item.Primary,
				TimeZone: item.TimeZone,
			})
		}
		return nil
	})
	if err != nil {
		return nil, providerError("list calendars", err)
	}
	return out, nil
}

// ListEvents returns the expanded event instances between timeMin and
// timeMax, following pagination.
func (p *CalendarProvider) ListEvents(ctx context.Context, accessToken, calendarID string, timeMin, timeMax time.Time) ([]calendar.Event, error) {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	call := svc.Events.List(calendarID).
		Context(ctx).
		TimeMin(timeMin.UTC().Format(time.RFC3339)).
		TimeMax(timeMax.UTC().Format(time.RFC3339)).
		MaxResults(maxEventsPerPage).
		SingleEvents(true).
		OrderBy("startTime").
		ShowDeleted(false)

	var out []calendar.Event
	err = call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			out = append(out, toEvent(item))
		}
		return nil
	})
	if err != nil {
		return nil, providerError("list events", err)
	}
	return out, nil
}

// CreateEvent inserts a shadow event and returns the new event's ID.
func (p *CalendarProvider) CreateEvent(ctx context.Context, accessToken, calendarID string, ev calendar.ShadowEvent) (string, error) {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return "", err
	}

	created, err := svc.Events.Insert(calendarID, fromShadow(ev)).Context(ctx).Do()
	if err != nil {
		return "", providerError("create event", err)
	}
	return created.Id, nil
}

// UpdateEvent replaces the fields of an existing event with the shadow.
func (p *CalendarProvider) UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, ev calendar.ShadowEvent) (string, error) {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return "", err
	}

	updated, err := svc.Events.Update(calendarID, eventID, fromShadow(ev)).Context(ctx).Do()
	if err != nil {
		return "", providerError("update event", err)
	}
	return updated.Id, nil
}

// DeleteEvent removes an event.
func (p *CalendarProvider) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return providerError("delete event", err)
	}
	return nil
}

func toEvent(item *gcal.Event) calendar.Event {
	ev := calendar.Event{
		ID:    item.Id,
		Title: item.Summary,
		Start: toEventTime(item.Start),
		End:   toEventTime(item.End),
	}

	// A missing or malformed timestamp stays zero.
	if item.Updated != "" {
		if t, err := time.Parse(time.RFC3339Nano, item.Updated); err == nil {
			ev.UpdatedAt = t.UTC()
		}
	}
	if item.Organizer != nil {
		ev.OrganizerIsSelf = item.Organizer.Self
	}
	for _, a := range item.Attendees {
		if a == nil {
			continue
		}
		ev.Attendees = append(ev.Attendees, calendar.Attendee{Self: a.Self, ResponseStatus: a.ResponseStatus})
	}
	return ev
}

func toEventTime(t *gcal.EventDateTime) calendar.EventTime {
	if t == nil {
		return calendar.EventTime{}
	}
	return calendar.EventTime{DateTime: t.DateTime, Date: t.Date, TimeZone: t.TimeZone}
}

func fromShadow(ev calendar.ShadowEvent) *gcal.Event {
	return &gcal.Event{
		Summary: ev.Title,
		Start:   &gcal.EventDateTime{DateTime: ev.Start.DateTime, Date: ev.Start.Date, TimeZone: ev.Start.TimeZone},
		End:     &gcal.EventDateTime{DateTime: ev.End.DateTime, Date: ev.End.Date, TimeZone: ev.End.TimeZone},
		ColorId: ev.ColorID,
	}
}

func providerError(op string, err error) error {
	pe := &calendar.ProviderError{Op: op, Message: err.Error(), Err: err}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		pe.HTTPStatus = gerr.Code
		if gerr.Message != "" {
			pe.Message = gerr.Message
		}
	}
	return pe
}
