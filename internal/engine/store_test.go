package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/macjediwizard/calmirror/internal/calendar"
	"github.com/macjediwizard/calmirror/internal/db"
	"github.com/macjediwizard/calmirror/internal/dedup"
)

// sqliteHarness runs the engine against a real store and mapping service.
type sqliteHarness struct {
	db       *db.DB
	provider *fakeProvider
	engine   *SyncEngine
	sync     *db.Sync
	source   *db.Calendar
	target   *db.Calendar
}

func newSQLiteHarness(t *testing.T) *sqliteHarness {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	user, err := database.GetOrCreateUser("runner@example.com", "Runner")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	conn := &db.Connection{
		UserID:            user.ID,
		ProviderAccountID: "runner@gmail.com",
		AccountEmail:      "runner@gmail.com",
		AccessToken:       "tok",
		RefreshToken:      "refresh",
		TokenExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := database.UpsertConnection(conn); err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}

	h := &sqliteHarness{db: database}
	h.source = &db.Calendar{ConnectionID: conn.ID, ProviderCalendarID: "a@x", Name: "Personal"}
	h.target = &db.Calendar{ConnectionID: conn.ID, ProviderCalendarID: "b@x", Name: "Work"}
	for _, cal := range []*db.Calendar{h.source, h.target} {
		if err := database.UpsertCalendar(cal); err != nil {
			t.Fatalf("failed to create calendar: %v", err)
		}
	}

	h.sync = &db.Sync{UserID: user.ID, SourceCalendarID: h.source.ID, TargetCalendarID: h.target.ID}
	if _, err := database.CreateSync(h.sync); err != nil {
		t.Fatalf("failed to create sync: %v", err)
	}

	h.provider = &fakeProvider{
		events:    map[string][]calendar.Event{},
		listErr:   map[string]error{},
		createErr: map[string]error{},
		now:       func() time.Time { return baseTime },
	}
	h.engine = NewSyncEngine(database, dedup.NewService(database), &fakeGuard{}, h.provider,
		WithClock(func() time.Time { return baseTime }, func(time.Duration) {}),
	)
	return h
}

func (h *sqliteHarness) logs(t *testing.T, syncID string) []*db.SyncLog {
	t.Helper()

	logs, err := h.db.GetSyncLogs(syncID, 10)
	if err != nil {
		t.Fatalf("GetSyncLogs() error = %v", err)
	}
	return logs
}

func TestRunLogWrittenForFailedRuns(t *testing.T) {
	t.Run("unknown sync", func(t *testing.T) {
		h := newSQLiteHarness(t)

		result := h.engine.ExecuteSyncJob(context.Background(), "does-not-exist")
		if result.Status != db.SyncStatusError {
			t.Fatalf("expected error status, got %q", result.Status)
		}

		logs := h.logs(t, "does-not-exist")
		if len(logs) != 1 {
			t.Fatalf("expected one log row, got %d", len(logs))
		}
		if logs[0].Status != db.SyncStatusError || logs[0].ErrorMessage == "" {
			t.Errorf("unexpected log row: %+v", logs[0])
		}
	})

	t.Run("inactive sync", func(t *testing.T) {
		h := newSQLiteHarness(t)
		h.sync.IsActive = false
		if err := h.db.UpdateSync(h.sync); err != nil {
			t.Fatalf("UpdateSync() error = %v", err)
		}

		result := h.engine.ExecuteSyncJob(context.Background(), h.sync.ID)
		if result.Status != db.SyncStatusError {
			t.Fatalf("expected error status, got %q", result.Status)
		}
		if logs := h.logs(t, h.sync.ID); len(logs) != 1 || logs[0].Status != db.SyncStatusError {
			t.Errorf("expected one error log row, got %+v", logs)
		}
	})
}

func TestExecuteSyncJobWithSQLiteStore(t *testing.T) {
	h := newSQLiteHarness(t)
	h.provider.events["a@x"] = []calendar.Event{event("src1", "Lunch", baseTime.Add(-time.Hour))}

	first := h.engine.ExecuteSyncJob(context.Background(), h.sync.ID)
	if first.Status != db.SyncStatusSuccess || first.EventsCreated != 1 || first.EventsFailed != 0 {
		t.Fatalf("unexpected first run: %+v", first)
	}

	mappings, err := h.db.GetSyncedEventsBySync(h.sync.ID)
	if err != nil {
		t.Fatalf("GetSyncedEventsBySync() error = %v", err)
	}
	if len(mappings) != 1 || mappings[0].SourceEventID != "src1" || mappings[0].TargetCalendarID != h.target.ID {
		t.Fatalf("unexpected mappings: %+v", mappings)
	}

	// The copy in the target calendar is recognized as ours on the way back,
	// and nothing is created twice.
	second := h.engine.ExecuteSyncJob(context.Background(), h.sync.ID)
	if second.EventsCreated != 0 || second.EventsFailed != 0 {
		t.Errorf("expected an idempotent second run, got %+v", second)
	}
	if len(h.provider.created) != 1 {
		t.Errorf("expected a single provider create, got %d", len(h.provider.created))
	}

	if logs := h.logs(t, h.sync.ID); len(logs) != 2 {
		t.Errorf("expected a log row per run, got %d", len(logs))
	}
	s, err := h.db.GetSyncByID(h.sync.ID)
	if err != nil || s.LastSyncedAt == nil {
		t.Errorf("expected last_synced_at to be set, got %v %v", s, err)
	}
}
