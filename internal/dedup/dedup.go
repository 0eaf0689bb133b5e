// Package dedup tracks which events a sync has already propagated so that a
// run neither duplicates an event nor reflects a copy back to its origin.
package dedup

import (
	"errors"
	"fmt"
	"time"

	"github.com/macjediwizard/calmirror/internal/db"
)

// ErrMappingStore wraps every persistence failure returned by Service.
var ErrMappingStore = errors.New("mapping store error")

// MappingStore is the persistence the service needs. *db.DB implements it.
type MappingStore interface {
	GetSyncedEventBySource(syncID, sourceEventID string) (*db.SyncedEvent, error)
	GetSyncedEventByTarget(syncID, targetCalendarID, targetEventID string) (*db.SyncedEvent, error)
	GetSyncedEventsBySync(syncID string) ([]*db.SyncedEvent, error)
	UpsertSyncedEvent(ev *db.SyncedEvent) error
	DeleteSyncedEvent(id string) error
	DeleteSyncedEventsForSync(syncID string) (int64, error)
}

// Mapping is the input to Upsert.
type Mapping struct {
	SourceEventID     string
	TargetEventID     string
	SourceCalendarID  string
	TargetCalendarID  string
	LastSourceUpdated time.Time
}

// Service is the event mapping store used by the sync engine.
type Service struct {
	store MappingStore
}

// NewService creates a Service backed by store.
func NewService(store MappingStore) *Service {
	return &Service{store: store}
}

// FindForward returns the mapping for a source event, or nil if the event has
// never been propagated by this sync.
func (s *Service) FindForward(syncID, sourceEventID string) (*db.SyncedEvent, error) {
	ev, err := s.store.GetSyncedEventBySource(syncID, sourceEventID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find forward %s: %w", ErrMappingStore, sourceEventID, err)
	}
	return ev, nil
}

// FindReverse returns the mapping whose propagated copy is targetEventID on
// calendarID. A non-nil result means the event is a reflection of an event
// this sync already propagated.
func (s *Service) FindReverse(syncID, calendarID, targetEventID string) (*db.SyncedEvent, error) {
	ev, err := s.store.GetSyncedEventByTarget(syncID, calendarID, targetEventID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find reverse %s: %w", ErrMappingStore, targetEventID, err)
	}
	return ev, nil
}

// Upsert records that m.SourceEventID was propagated as m.TargetEventID.
func (s *Service) Upsert(syncID string, m Mapping) error {
	err := s.store.UpsertSyncedEvent(&db.SyncedEvent{
		SyncID:            syncID,
		SourceEventID:     m.SourceEventID,
		TargetEventID:     m.TargetEventID,
		SourceCalendarID:  m.SourceCalendarID,
		TargetCalendarID:  m.TargetCalendarID,
		LastSourceUpdated: m.LastSourceUpdated,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %w", ErrMappingStore, m.SourceEventID, err)
	}
	return nil
}

// Delete removes a single mapping.
func (s *Service) Delete(mappingID string) error {
	if err := s.store.DeleteSyncedEvent(mappingID); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrMappingStore, mappingID, err)
	}
	return nil
}

// DeleteAll removes every mapping of a sync.
func (s *Service) DeleteAll(syncID string) (int64, error) {
	n, err := s.store.DeleteSyncedEventsForSync(syncID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete all for %s: %w", ErrMappingStore, syncID, err)
	}
	return n, nil
}

// LoadIndex builds the bidirectional index of all mappings of a sync.
func (s *Service) LoadIndex(syncID string) (Index, error) {
	events, err := s.store.GetSyncedEventsBySync(syncID)
	if err != nil {
		return nil, fmt.Errorf("%w: load index for %s: %w", ErrMappingStore, syncID, err)
	}
	return BuildIndex(events), nil
}
