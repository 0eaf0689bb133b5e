package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/macjediwizard/calmirror/internal/db"
	"github.com/macjediwizard/calmirror/internal/engine"
)

const (
	cleanupSchedule         = "@daily"
	defaultLogRetentionDays = 30
)

// ErrSyncInProgress is returned by TriggerSync when a run for the same sync
// is already executing.
var ErrSyncInProgress = errors.New("sync already in progress")

// Store is the persistence the scheduler needs.
type Store interface {
	GetActiveSyncs() ([]*db.Sync, error)
	CleanOldSyncLogs(olderThan time.Time) (int64, error)
}

// Runner executes a single sync run.
type Runner interface {
	ExecuteSyncJob(ctx context.Context, syncID string) *engine.RunResult
}

// Notifier is told about every finished run.
type Notifier interface {
	RunCompleted(ctx context.Context, syncID string, result *engine.RunResult) bool
}

// Config controls when syncs run.
type Config struct {
	// Schedule is a cron spec ("*/10 * * * *", "@every 10m").
	Schedule         string
	LogRetentionDays int
}

// Scheduler runs every active sync on a cron schedule and serializes runs
// per sync so scheduled and manual triggers never overlap.
type Scheduler struct {
	store    Store
	runner   Runner
	notifier Notifier
	cfg      Config
	now      func() time.Time

	cron *cron.Cron

	mu        sync.Mutex
	syncLocks map[string]*sync.Mutex // Per-sync locks to prevent concurrent runs
	wg        sync.WaitGroup
	ctx       context.Context // Cancelled by Stop; gates new runs only
	cancel    context.CancelFunc
	started   bool
}

// New creates a new scheduler. notifier may be nil.
func New(store Store, runner Runner, notifier Notifier, cfg Config) *Scheduler {
	if cfg.LogRetentionDays <= 0 {
		cfg.LogRetentionDays = defaultLogRetentionDays
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:     store,
		runner:    runner,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		syncLocks: make(map[string]*sync.Mutex),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the sync and cleanup entries, starts the cron loop and
// kicks off one pass immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.runAll); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", s.cfg.Schedule, err)
	}
	if _, err := s.cron.AddFunc(cleanupSchedule, s.cleanupOldLogs); err != nil {
		return fmt.Errorf("invalid cleanup schedule: %w", err)
	}

	s.cron.Start()
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runAll()
	}()

	log.Printf("[Scheduler] Started with schedule %q", s.cfg.Schedule)
	return nil
}

// Stop keeps new runs from starting and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

// TriggerSync runs a sync right away and returns its result. Cancelling ctx
// after the run has started does not stop it.
func (s *Scheduler) TriggerSync(ctx context.Context, syncID string) (*engine.RunResult, error) {
	lock := s.getSyncLock(syncID)
	if !lock.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer lock.Unlock()

	return s.execute(ctx, syncID), nil
}

// ForgetSync drops the run lock of a deleted sync.
func (s *Scheduler) ForgetSync(syncID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.syncLocks[syncID]; ok && lock.TryLock() {
		delete(s.syncLocks, syncID)
		lock.Unlock()
	}
}

// runAll runs every active sync one after another. One sync's failure never
// stops the others.
func (s *Scheduler) runAll() {
	syncs, err := s.store.GetActiveSyncs()
	if err != nil {
		log.Printf("[Scheduler] Failed to load active syncs: %v", err)
		return
	}

	log.Printf("[Scheduler] Running %d active syncs", len(syncs))
	for _, sc := range syncs {
		if s.ctx.Err() != nil {
			return
		}
		s.executeScheduled(sc.ID)
	}
}

// executeScheduled runs one sync unless a run for it is already in flight.
func (s *Scheduler) executeScheduled(syncID string) {
	lock := s.getSyncLock(syncID)

	// Try to acquire lock without blocking - skip if another run is in progress
	if !lock.TryLock() {
		log.Printf("[Scheduler] Skipping sync %s - another run is already in progress", syncID)
		return
	}
	defer lock.Unlock()

	s.execute(s.ctx, syncID)
}

// execute runs one sync to completion. Runs are never cut short: each
// provider call carries its own timeout inside the engine, so a slow call
// fails one event instead of every event after it.
func (s *Scheduler) execute(parent context.Context, syncID string) *engine.RunResult {
	ctx := context.WithoutCancel(parent)

	result := s.runner.ExecuteSyncJob(ctx, syncID)

	if result.Success() {
		log.Printf("[Scheduler] Sync %s completed: %d processed, %d created, %d updated, %d failed in %v",
			syncID, result.EventsProcessed, result.EventsCreated, result.EventsUpdated, result.EventsFailed, result.Duration())
	} else {
		log.Printf("[Scheduler] Sync %s failed: %s", syncID, result.ErrorMessage)
	}

	if s.notifier != nil {
		s.notifier.RunCompleted(ctx, syncID, result)
	}
	return result
}

// getSyncLock returns the mutex for a sync, creating one if needed.
func (s *Scheduler) getSyncLock(syncID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, exists := s.syncLocks[syncID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.syncLocks[syncID] = lock
	return lock
}

// cleanupOldLogs deletes sync logs older than the retention period.
func (s *Scheduler) cleanupOldLogs() {
	cutoff := s.now().AddDate(0, 0, -s.cfg.LogRetentionDays)
	deleted, err := s.store.CleanOldSyncLogs(cutoff)
	if err != nil {
		log.Printf("[Scheduler] Failed to clean old sync logs: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[Scheduler] Cleaned %d old sync logs", deleted)
	}
}
