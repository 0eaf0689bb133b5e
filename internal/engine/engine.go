// Package engine runs sync jobs: it mirrors events between the two calendars
// of a sync in one or both directions and records the outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/macjediwizard/calmirror/internal/calendar"
	"github.com/macjediwizard/calmirror/internal/db"
	"github.com/macjediwizard/calmirror/internal/dedup"
)

const (
	defaultWindowBack    = 7 * 24 * time.Hour
	defaultWindowForward = 15 * 24 * time.Hour
	defaultPause         = 100 * time.Millisecond
	defaultCallTimeout   = 30 * time.Second
)

// ErrConfig is returned when a sync cannot run because its configuration is
// missing, inactive or inconsistent.
var ErrConfig = errors.New("sync configuration error")

// Store is the persistence the engine reads configuration from and writes
// results to. *db.DB implements it.
type Store interface {
	GetSyncByID(id string) (*db.Sync, error)
	GetSyncSettings(syncID string) (*db.SyncSettings, error)
	GetCalendarByID(id string) (*db.Calendar, error)
	GetConnectionByID(id string) (*db.Connection, error)
	UpdateLastSyncedAt(id string, at time.Time) error
	CreateSyncLog(log *db.SyncLog) error
}

// MappingService is the event mapping store. *dedup.Service implements it.
type MappingService interface {
	LoadIndex(syncID string) (dedup.Index, error)
	FindReverse(syncID, calendarID, targetEventID string) (*db.SyncedEvent, error)
	Upsert(syncID string, m dedup.Mapping) error
}

// TokenGuard returns a usable access token for a connection.
// *tokens.Guard implements it.
type TokenGuard interface {
	EnsureValidToken(ctx context.Context, conn *db.Connection) (string, error)
}

// SyncEngine executes sync jobs.
type SyncEngine struct {
	store    Store
	mappings MappingService
	guard    TokenGuard
	provider calendar.Provider
	observer Observer

	windowBack    time.Duration
	windowForward time.Duration
	pause         time.Duration
	callTimeout   time.Duration
	now           func() time.Time
	sleep         func(time.Duration)
}

// NewSyncEngine creates a new sync engine.
func NewSyncEngine(store Store, mappings MappingService, guard TokenGuard, provider calendar.Provider, opts ...Option) *SyncEngine {
	e := &SyncEngine{
		store:         store,
		mappings:      mappings,
		guard:         guard,
		provider:      provider,
		observer:      NopObserver{},
		windowBack:    defaultWindowBack,
		windowForward: defaultWindowForward,
		pause:         defaultPause,
		callTimeout:   defaultCallTimeout,
		now:           time.Now,
		sleep:         time.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// endpoint is one resolved side of a sync.
type endpoint struct {
	calendar   *db.Calendar
	connection *db.Connection
	token      string
}

// ExecuteSyncJob runs every enabled directional pass of a sync once and
// writes a log row. It never returns nil. Per-event failures are counted in
// EventsFailed and do not change the run's status; anything that stops the
// run before or between passes makes it an error.
func (e *SyncEngine) ExecuteSyncJob(ctx context.Context, syncID string) *RunResult {
	result := &RunResult{
		SyncID:    syncID,
		Status:    db.SyncStatusSuccess,
		StartedAt: e.now().UTC(),
	}
	e.observer.RunStarted(syncID)

	if err := e.run(ctx, syncID, result); err != nil {
		result.Status = db.SyncStatusError
		result.ErrorMessage = err.Error()
		result.Err = err
		log.Printf("[Sync] Run for sync %s failed: %v", syncID, err)
	}

	result.CompletedAt = e.now().UTC()
	e.writeLog(result)
	e.observer.RunFinished(result)

	return result
}

func (e *SyncEngine) run(ctx context.Context, syncID string, result *RunResult) error {
	sync, err := e.store.GetSyncByID(syncID)
	if err != nil {
		return configError("load sync", err)
	}
	if !sync.IsActive {
		return fmt.Errorf("%w: sync %s is inactive", ErrConfig, syncID)
	}

	settings, err := e.store.GetSyncSettings(syncID)
	if err != nil {
		return configError("load sync settings", err)
	}

	source, target, err := e.resolveEndpoints(sync)
	if err != nil {
		return err
	}

	if source.token, err = e.guard.EnsureValidToken(ctx, source.connection); err != nil {
		return err
	}
	if target.connection == source.connection {
		target.token = source.token
	} else if target.token, err = e.guard.EnsureValidToken(ctx, target.connection); err != nil {
		return err
	}

	dir := sync.SyncDirection
	if dir.Includes(db.SyncDirectionSourceToTarget) {
		stats, err := e.syncDirection(ctx, sync.ID, settings.SourceToTarget, source, target, db.SyncDirectionSourceToTarget)
		result.add(stats)
		if err != nil {
			return err
		}
	}

	if dir == db.SyncDirectionBidirectional {
		e.sleep(e.pause)
	}

	if dir.Includes(db.SyncDirectionTargetToSource) {
		stats, err := e.syncDirection(ctx, sync.ID, settings.TargetToSource, target, source, db.SyncDirectionTargetToSource)
		result.add(stats)
		if err != nil {
			return err
		}
	}

	if err := e.store.UpdateLastSyncedAt(sync.ID, e.now().UTC()); err != nil {
		log.Printf("[Sync] Failed to update last synced time for sync %s: %v", sync.ID, err)
	}

	return nil
}

// resolveEndpoints loads both calendars and their connections. When both
// calendars belong to the same connection the endpoints share one
// *db.Connection so a token refresh happens at most once.
func (e *SyncEngine) resolveEndpoints(sync *db.Sync) (*endpoint, *endpoint, error) {
	sourceCal, err := e.store.GetCalendarByID(sync.SourceCalendarID)
	if err != nil {
		return nil, nil, configError("load source calendar", err)
	}
	targetCal, err := e.store.GetCalendarByID(sync.TargetCalendarID)
	if err != nil {
		return nil, nil, configError("load target calendar", err)
	}

	sourceConn, err := e.store.GetConnectionByID(sourceCal.ConnectionID)
	if err != nil {
		return nil, nil, configError("load source connection", err)
	}
	targetConn := sourceConn
	if targetCal.ConnectionID != sourceCal.ConnectionID {
		if targetConn, err = e.store.GetConnectionByID(targetCal.ConnectionID); err != nil {
			return nil, nil, configError("load target connection", err)
		}
	}

	return &endpoint{calendar: sourceCal, connection: sourceConn},
		&endpoint{calendar: targetCal, connection: targetConn}, nil
}

func (e *SyncEngine) writeLog(result *RunResult) {
	entry := &db.SyncLog{
		SyncID:          result.SyncID,
		Status:          result.Status,
		EventsProcessed: result.EventsProcessed,
		EventsCreated:   result.EventsCreated,
		EventsUpdated:   result.EventsUpdated,
		EventsDeleted:   result.EventsDeleted,
		EventsFailed:    result.EventsFailed,
		ErrorMessage:    result.ErrorMessage,
		StartedAt:       result.StartedAt,
		CompletedAt:     result.CompletedAt,
	}
	if err := e.store.CreateSyncLog(entry); err != nil {
		log.Printf("[Sync] Failed to create sync log for sync %s: %v", result.SyncID, err)
	}
}

func configError(what string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrConfig, what, err)
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}
