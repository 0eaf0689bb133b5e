package dedup

import (
	"errors"
	"testing"
	"time"

	"github.com/macjediwizard/calmirror/internal/db"
)

// memStore is an in-memory MappingStore.
type memStore struct {
	events []*db.SyncedEvent
	err    error
	nextID int
}

func (m *memStore) GetSyncedEventBySource(syncID, sourceEventID string) (*db.SyncedEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, ev := range m.events {
		if ev.SyncID == syncID && ev.SourceEventID == sourceEventID {
			return ev, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) GetSyncedEventByTarget(syncID, targetCalendarID, targetEventID string) (*db.SyncedEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, ev := range m.events {
		if ev.SyncID == syncID && ev.TargetCalendarID == targetCalendarID && ev.TargetEventID == targetEventID {
			return ev, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) GetSyncedEventsBySync(syncID string) ([]*db.SyncedEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*db.SyncedEvent
	for _, ev := range m.events {
		if ev.SyncID == syncID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStore) UpsertSyncedEvent(ev *db.SyncedEvent) error {
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.events {
		if existing.SyncID == ev.SyncID && existing.SourceEventID == ev.SourceEventID {
			existing.TargetEventID = ev.TargetEventID
			existing.LastSourceUpdated = ev.LastSourceUpdated
			return nil
		}
	}
	m.nextID++
	cp := *ev
	cp.ID = string(rune('a' + m.nextID))
	m.events = append(m.events, &cp)
	return nil
}

func (m *memStore) DeleteSyncedEvent(id string) error {
	if m.err != nil {
		return m.err
	}
	for i, ev := range m.events {
		if ev.ID == id {
			m.events = append(m.events[:i], m.events[i+1:]...)
			return nil
		}
	}
	return db.ErrNotFound
}

func (m *memStore) DeleteSyncedEventsForSync(syncID string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	var kept []*db.SyncedEvent
	var n int64
	for _, ev := range m.events {
		if ev.SyncID == syncID {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return n, nil
}

func TestServiceUpsertAndFind(t *testing.T) {
	store := &memStore{}
	svc := NewService(store)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("absent mapping is nil without error", func(t *testing.T) {
		got, err := svc.FindForward("s1", "e1")
		if err != nil || got != nil {
			t.Errorf("FindForward() = %v, %v; want nil, nil", got, err)
		}
		got, err = svc.FindReverse("s1", "calB", "e1")
		if err != nil || got != nil {
			t.Errorf("FindReverse() = %v, %v; want nil, nil", got, err)
		}
	})

	if err := svc.Upsert("s1", Mapping{SourceEventID: "e1", TargetEventID: "t1", SourceCalendarID: "calA", TargetCalendarID: "calB", LastSourceUpdated: t0}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	t.Run("forward and reverse", func(t *testing.T) {
		fwd, err := svc.FindForward("s1", "e1")
		if err != nil || fwd == nil || fwd.TargetEventID != "t1" {
			t.Errorf("FindForward() = %+v, %v", fwd, err)
		}
		rev, err := svc.FindReverse("s1", "calB", "t1")
		if err != nil || rev == nil || rev.SourceEventID != "e1" {
			t.Errorf("FindReverse() = %+v, %v", rev, err)
		}
		other, err := svc.FindForward("s2", "e1")
		if err != nil || other != nil {
			t.Errorf("mapping leaked across syncs: %+v", other)
		}
	})

	t.Run("upsert keeps one mapping per source event", func(t *testing.T) {
		if err := svc.Upsert("s1", Mapping{SourceEventID: "e1", TargetEventID: "t2", LastSourceUpdated: t0.Add(time.Minute)}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if len(store.events) != 1 {
			t.Fatalf("expected 1 mapping, got %d", len(store.events))
		}
		if store.events[0].TargetEventID != "t2" || store.events[0].TargetCalendarID != "calB" {
			t.Errorf("unexpected mapping after update: %+v", store.events[0])
		}
	})

	t.Run("delete all", func(t *testing.T) {
		n, err := svc.DeleteAll("s1")
		if err != nil || n != 1 {
			t.Errorf("DeleteAll() = %d, %v", n, err)
		}
	})
}

func TestServiceWrapsStoreErrors(t *testing.T) {
	boom := errors.New("disk full")
	svc := NewService(&memStore{err: boom})

	checks := map[string]error{}
	_, checks["FindForward"] = svc.FindForward("s", "e")
	_, checks["FindReverse"] = svc.FindReverse("s", "c", "e")
	checks["Upsert"] = svc.Upsert("s", Mapping{SourceEventID: "e"})
	checks["Delete"] = svc.Delete("m")
	_, checks["DeleteAll"] = svc.DeleteAll("s")
	_, checks["LoadIndex"] = svc.LoadIndex("s")

	for name, err := range checks {
		if !errors.Is(err, ErrMappingStore) {
			t.Errorf("%s: expected ErrMappingStore, got %v", name, err)
		}
		if !errors.Is(err, boom) {
			t.Errorf("%s: expected cause to be preserved, got %v", name, err)
		}
	}
}

func TestBuildIndex(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("two entries per mapping", func(t *testing.T) {
		idx := BuildIndex([]*db.SyncedEvent{
			{ID: "m1", SourceEventID: "a1", TargetEventID: "b1", LastSourceUpdated: t0},
			{ID: "m2", SourceEventID: "b2", TargetEventID: "a2", LastSourceUpdated: t0},
		})
		if len(idx) != 4 {
			t.Fatalf("expected 4 entries, got %d", len(idx))
		}

		fwd, ok := idx.Lookup("a1")
		if !ok || fwd.IsReverse || fwd.CounterpartID != "b1" || fwd.MappingID != "m1" || !fwd.LastUpdated.Equal(t0) {
			t.Errorf("unexpected forward entry: %+v", fwd)
		}
		rev, ok := idx.Lookup("b1")
		if !ok || !rev.IsReverse || rev.CounterpartID != "a1" {
			t.Errorf("unexpected reverse entry: %+v", rev)
		}
		if _, ok := idx.Lookup("zzz"); ok {
			t.Error("expected unknown id to be absent")
		}
	})

	t.Run("reverse entry wins regardless of order", func(t *testing.T) {
		forwardFirst := []*db.SyncedEvent{
			{ID: "m1", SourceEventID: "x", TargetEventID: "y"},
			{ID: "m2", SourceEventID: "z", TargetEventID: "x"},
		}
		reverseFirst := []*db.SyncedEvent{forwardFirst[1], forwardFirst[0]}

		for name, events := range map[string][]*db.SyncedEvent{"forward first": forwardFirst, "reverse first": reverseFirst} {
			e, ok := BuildIndex(events).Lookup("x")
			if !ok || !e.IsReverse || e.CounterpartID != "z" {
				t.Errorf("%s: expected reverse entry for x, got %+v", name, e)
			}
		}
	})
}
