package privacy

import (
	"testing"

	"github.com/macjediwizard/calmirror/internal/calendar"
	"github.com/macjediwizard/calmirror/internal/db"
)

func TestShouldPropagate(t *testing.T) {
	all := db.DirectionSettings{EventFilterType: db.FilterAll}
	accepted := db.DirectionSettings{EventFilterType: db.FilterAcceptedOnly}

	declined := calendar.Event{ID: "1", Attendees: []calendar.Attendee{
		{Self: false, ResponseStatus: "accepted"},
		{Self: true, ResponseStatus: "declined"},
	}}
	acceptedEv := calendar.Event{ID: "2", Attendees: []calendar.Attendee{
		{Self: true, ResponseStatus: "accepted"},
	}}
	tentative := calendar.Event{ID: "3", Attendees: []calendar.Attendee{
		{Self: true, ResponseStatus: "tentative"},
	}}
	organizer := calendar.Event{ID: "4", OrganizerIsSelf: true, Attendees: []calendar.Attendee{
		{Self: true, ResponseStatus: "needsAction"},
	}}
	noSelf := calendar.Event{ID: "5", Attendees: []calendar.Attendee{
		{Self: false, ResponseStatus: "accepted"},
	}}
	solo := calendar.Event{ID: "6"}

	tests := []struct {
		name string
		ev   calendar.Event
		ds   db.DirectionSettings
		want bool
	}{
		{"all keeps declined", declined, all, true},
		{"empty filter type behaves like all", declined, db.DirectionSettings{}, true},
		{"accepted_only drops declined", declined, accepted, false},
		{"accepted_only keeps accepted", acceptedEv, accepted, true},
		{"accepted_only drops tentative", tentative, accepted, false},
		{"accepted_only keeps own events", organizer, accepted, true},
		{"accepted_only drops events without own entry", noSelf, accepted, false},
		{"no attendees always kept", solo, accepted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldPropagate(tt.ev, tt.ds); got != tt.want {
				t.Errorf("ShouldPropagate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransform(t *testing.T) {
	ev := calendar.Event{
		ID:        "src1",
		Title:     "Lunch with Sam",
		Start:     calendar.EventTime{DateTime: "2026-03-02T12:00:00Z"},
		End:       calendar.EventTime{DateTime: "2026-03-02T13:00:00Z"},
		Attendees: []calendar.Attendee{{Self: true, ResponseStatus: "accepted"}},
	}

	t.Run("privacy mode uses placeholder verbatim", func(t *testing.T) {
		ds := db.DirectionSettings{PrivacyMode: true, PlaceholderText: "Busy", Prefix: "[P] "}
		got := Transform(ev, ds, "#D50000")
		if got.Title != "Busy" {
			t.Errorf("expected placeholder title, got %q", got.Title)
		}
		if got.ColorID != "11" {
			t.Errorf("expected color 11, got %q", got.ColorID)
		}
	})

	t.Run("prefix is prepended", func(t *testing.T) {
		got := Transform(ev, db.DirectionSettings{Prefix: "[P] "}, "#D50000")
		if got.Title != "[P] Lunch with Sam" {
			t.Errorf("unexpected title %q", got.Title)
		}
	})

	t.Run("original title kept", func(t *testing.T) {
		got := Transform(ev, db.DirectionSettings{}, "#D50000")
		if got.Title != "Lunch with Sam" {
			t.Errorf("unexpected title %q", got.Title)
		}
	})

	t.Run("times copied", func(t *testing.T) {
		got := Transform(ev, db.DirectionSettings{}, "")
		if got.Start != ev.Start || got.End != ev.End {
			t.Errorf("times not copied: %+v", got)
		}
	})

	t.Run("no source color leaves color unset", func(t *testing.T) {
		got := Transform(ev, db.DirectionSettings{}, "")
		if got.ColorID != "" {
			t.Errorf("expected empty color, got %q", got.ColorID)
		}
	})

	t.Run("malformed source color maps to default", func(t *testing.T) {
		got := Transform(ev, db.DirectionSettings{}, "blue")
		if got.ColorID != "1" {
			t.Errorf("expected default color, got %q", got.ColorID)
		}
	})
}
