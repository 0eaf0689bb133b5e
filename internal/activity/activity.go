// Package activity keeps an in-memory view of running and recently finished
// sync runs for the dashboard API.
package activity

import (
	"sync"
	"time"

	"github.com/macjediwizard/calmirror/internal/db"
	"github.com/macjediwizard/calmirror/internal/engine"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// SyncActivity represents the current state of a sync run.
type SyncActivity struct {
	SyncID           string           `json:"sync_id"`
	Status           string           `json:"status"` // "running", "completed", "error"
	CurrentDirection db.SyncDirection `json:"current_direction,omitempty"`
	EventsProcessed  int              `json:"events_processed"`
	EventsCreated    int              `json:"events_created"`
	EventsUpdated    int              `json:"events_updated"`
	EventsFailed     int              `json:"events_failed"`
	EventsSkipped    int              `json:"events_skipped"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	Duration         string           `json:"duration,omitempty"`
	Message          string           `json:"message,omitempty"`
}

// Tracker tracks sync activity across all syncs. It implements
// engine.Observer.
type Tracker struct {
	mu             sync.RWMutex
	active         map[string]*SyncActivity // syncID -> activity
	recent         []*SyncActivity          // Recently completed runs
	maxRecentSyncs int
	now            func() time.Time
}

var _ engine.Observer = (*Tracker)(nil)

// NewTracker creates a new activity tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:         make(map[string]*SyncActivity),
		recent:         make([]*SyncActivity, 0),
		maxRecentSyncs: 20, // Keep last 20 completed runs
		now:            time.Now,
	}
}

// RunStarted begins tracking a run.
func (t *Tracker) RunStarted(syncID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[syncID] = &SyncActivity{
		SyncID:    syncID,
		Status:    StatusRunning,
		StartedAt: t.now(),
	}
}

// DirectionStarted records which pass is running.
func (t *Tracker) DirectionStarted(syncID string, pass db.SyncDirection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a, exists := t.active[syncID]; exists {
		a.CurrentDirection = pass
	}
}

// EventProcessed increments the counter matching the outcome.
func (t *Tracker) EventProcessed(syncID string, _ db.SyncDirection, outcome engine.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, exists := t.active[syncID]
	if !exists {
		return
	}

	switch outcome {
	case engine.OutcomeFiltered:
		a.EventsSkipped++
		return
	case engine.OutcomeCreated:
		a.EventsCreated++
	case engine.OutcomeUpdated:
		a.EventsUpdated++
	case engine.OutcomeFailed:
		a.EventsFailed++
	}
	a.EventsProcessed++
}

// RunFinished marks a run as completed and moves it to recent.
func (t *Tracker) RunFinished(result *engine.RunResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, exists := t.active[result.SyncID]
	if !exists {
		return
	}

	now := t.now()
	a.CompletedAt = &now
	a.Duration = now.Sub(a.StartedAt).Round(time.Millisecond).String()
	a.CurrentDirection = ""
	// The result's counters are authoritative.
	a.EventsProcessed = result.EventsProcessed
	a.EventsCreated = result.EventsCreated
	a.EventsUpdated = result.EventsUpdated
	a.EventsFailed = result.EventsFailed

	if result.Success() {
		a.Status = StatusCompleted
	} else {
		a.Status = StatusError
		a.Message = result.ErrorMessage
	}

	t.recent = append([]*SyncActivity{a}, t.recent...)
	if len(t.recent) > t.maxRecentSyncs {
		t.recent = t.recent[:t.maxRecentSyncs]
	}

	delete(t.active, result.SyncID)
}

// GetActive returns all currently running syncs.
func (t *Tracker) GetActive() []*SyncActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	result := make([]*SyncActivity, 0, len(t.active))
	for _, a := range t.active {
		// Copy so callers never see later mutations.
		c := *a
		c.Duration = now.Sub(a.StartedAt).Round(time.Millisecond).String()
		result = append(result, &c)
	}
	return result
}

// GetRecent returns recently completed runs, newest first.
func (t *Tracker) GetRecent() []*SyncActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*SyncActivity, len(t.recent))
	for i, a := range t.recent {
		c := *a
		result[i] = &c
	}
	return result
}

// IsSyncRunning returns true if the given sync has a run in flight.
func (t *Tracker) IsSyncRunning(syncID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.active[syncID]
	return exists
}
