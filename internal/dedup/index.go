package dedup

import (
	"time"

	"github.com/macjediwizard/calmirror/internal/db"
)

// Entry is one side of a stored mapping.
type Entry struct {
	// CounterpartID is the target event ID for a forward entry and the
	// source event ID for a reverse entry.
	CounterpartID string
	LastUpdated   time.Time
	IsReverse     bool
	MappingID     string
}

// Index maps event IDs to mapping entries. Every mapping contributes a
// forward entry keyed by its source event ID and a reverse entry keyed by
// its target event ID.
type Index map[string]Entry

// BuildIndex builds an Index in one pass. When an ID is both the source of
// one mapping and the target of another, the reverse entry is kept.
func BuildIndex(events []*db.SyncedEvent) Index {
	idx := make(Index, len(events)*2)
	for _, ev := range events {
		if existing, ok := idx[ev.SourceEventID]; !ok || !existing.IsReverse {
			idx[ev.SourceEventID] = Entry{
				CounterpartID: ev.TargetEventID,
				LastUpdated:   ev.LastSourceUpdated,
				MappingID:     ev.ID,
			}
		}
		idx[ev.TargetEventID] = Entry{
			CounterpartID: ev.SourceEventID,
			LastUpdated:   ev.LastSourceUpdated,
			IsReverse:     true,
			MappingID:     ev.ID,
		}
	}
	return idx
}

// Lookup returns the entry for an event ID.
func (idx Index) Lookup(eventID string) (Entry, bool) {
	e, ok := idx[eventID]
	return e, ok
}
