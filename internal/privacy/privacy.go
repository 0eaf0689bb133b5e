// Package privacy decides which events a directional pass propagates and
// reduces each propagated event to the fields that are safe to copy.
package privacy

import (
	"github.com/macjediwizard/calmirror/internal/calendar"
	"github.com/macjediwizard/calmirror/internal/db"
	"github.com/macjediwizard/calmirror/internal/palette"
)

// ShouldPropagate reports whether ev passes the direction's event filter.
// With accepted_only, an event is kept if it has no attendees, if the
// calendar owner organizes it, or if the owner accepted the invitation.
func ShouldPropagate(ev calendar.Event, ds db.DirectionSettings) bool {
	if ds.EventFilterType != db.FilterAcceptedOnly {
		return true
	}
	if len(ev.Attendees) == 0 || ev.OrganizerIsSelf {
		return true
	}
	for _, a := range ev.Attendees {
		if a.Self && a.ResponseStatus == calendar.ResponseAccepted {
			return true
		}
	}
	return false
}

// Transform builds the copy written to the target calendar. Description,
// location, attendees and reminders are never carried over.
func Transform(ev calendar.Event, ds db.DirectionSettings, sourceColorTag string) calendar.ShadowEvent {
	shadow := calendar.ShadowEvent{
		Title: Title(ev.Title, ds),
		Start: ev.Start,
		End:   ev.End,
	}
	if sourceColorTag != "" {
		shadow.ColorID = palette.NearestColorID(sourceColorTag)
	}
	return shadow
}

// Title returns the title a propagated event gets.
func Title(original string, ds db.DirectionSettings) string {
	switch {
	case ds.PrivacyMode:
		return ds.PlaceholderText
	case ds.Prefix != "":
		return ds.Prefix + original
	default:
		return original
	}
}
