package engine

import (
	"time"

	"github.com/macjediwizard/calmirror/internal/db"
)

// Outcome is what happened to a single source event.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeLoop      Outcome = "loop"
	OutcomeFiltered  Outcome = "filtered"
	OutcomeFailed    Outcome = "failed"
)

// DirectionStats counts the outcomes of one directional pass. Filtered
// events are not part of Processed.
type DirectionStats struct {
	Direction db.SyncDirection `json:"direction"`
	Processed int              `json:"processed"`
	Created   int              `json:"created"`
	Updated   int              `json:"updated"`
	Deleted   int              `json:"deleted"`
	Loops     int              `json:"loops"`
	Filtered  int              `json:"filtered"`
	Failed    int              `json:"failed"`
}

// RunResult is the outcome of one ExecuteSyncJob call.
type RunResult struct {
	SyncID          string           `json:"sync_id"`
	Status          db.SyncStatus    `json:"status"`
	EventsProcessed int              `json:"events_processed"`
	EventsCreated   int              `json:"events_created"`
	EventsUpdated   int              `json:"events_updated"`
	EventsDeleted   int              `json:"events_deleted"`
	EventsFailed    int              `json:"events_failed"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	Directions      []DirectionStats `json:"directions,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`

	// Err is the run-level error behind ErrorMessage, for errors.Is checks.
	Err error `json:"-"`
}

// Success reports whether the run completed without a run-level error.
func (r *RunResult) Success() bool {
	return r.Status == db.SyncStatusSuccess
}

// Duration returns how long the run took.
func (r *RunResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

func (r *RunResult) add(s DirectionStats) {
	r.Directions = append(r.Directions, s)
	r.EventsProcessed += s.Processed
	r.EventsCreated += s.Created
	r.EventsUpdated += s.Updated
	r.EventsDeleted += s.Deleted
	r.EventsFailed += s.Failed
}

// Observer receives progress notifications from the engine. Calls for one
// run happen on the goroutine executing it.
type Observer interface {
	RunStarted(syncID string)
	DirectionStarted(syncID string, pass db.SyncDirection)
	EventProcessed(syncID string, pass db.SyncDirection, outcome Outcome)
	RunFinished(result *RunResult)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) RunStarted(string) {}
func (NopObserver) DirectionStarted(string, db.SyncDirection) {}
func (NopObserver) EventProcessed(string, db.SyncDirection, Outcome) {}
func (NopObserver) RunFinished(*RunResult) {}

// Option configures a SyncEngine.
type Option func(*SyncEngine)

// WithWindow sets how far back and forward events are fetched.
func WithWindow(back, forward time.Duration) Option {
	return func(e *SyncEngine) {
		e.windowBack = back
		e.windowForward = forward
	}
}

// WithPause sets the pause between the two passes of a bidirectional sync.
func WithPause(d time.Duration) Option {
	return func(e *SyncEngine) {
		e.pause = d
	}
}

// WithCallTimeout bounds each provider call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(e *SyncEngine) {
		e.callTimeout = d
	}
}

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return func(e *SyncEngine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithClock replaces time.Now and time.Sleep.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(e *SyncEngine) {
		if now != nil {
			e.now = now
		}
		if sleep != nil {
			e.sleep = sleep
		}
	}
}
