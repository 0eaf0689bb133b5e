package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/macjediwizard/calmirror/internal/calendar"
	"github.com/macjediwizard/calmirror/internal/db"
	"github.com/macjediwizard/calmirror/internal/dedup"
	"github.com/macjediwizard/calmirror/internal/privacy"
)

// syncDirection propagates events from one endpoint to the other. A returned
// error means the pass could not run at all; errors for single events are
// logged and counted.
func (e *SyncEngine) syncDirection(ctx context.Context, syncID string, ds db.DirectionSettings,
	from, to *endpoint, pass db.SyncDirection) (DirectionStats, error) {
	stats := DirectionStats{Direction: pass}
	tag := fmt.Sprintf("[Sync %s]", pass)

	e.observer.DirectionStarted(syncID, pass)

	now := e.now()
	timeMin := now.Add(-e.windowBack)
	timeMax := now.Add(e.windowForward)

	log.Printf("%s Fetching events from %s (%s), window %s to %s", tag,
		from.calendar.Name, from.calendar.ProviderCalendarID,
		timeMin.UTC().Format(time.RFC3339), timeMax.UTC().Format(time.RFC3339))

	listCtx, cancel := e.callContext(ctx)
	events, err := e.provider.ListEvents(listCtx, from.token, from.calendar.ProviderCalendarID, timeMin, timeMax)
	cancel()
	if err != nil {
		return stats, fmt.Errorf("failed to list events for %s: %w", pass, err)
	}
	fetchedAt := e.now()

	index, err := e.mappings.LoadIndex(syncID)
	if err != nil {
		return stats, err
	}

	log.Printf("%s Found %d events, %d existing mapping entries", tag, len(events), len(index))

	for _, ev := range events {
		if !privacy.ShouldPropagate(ev, ds) {
			stats.Filtered++
			e.observer.EventProcessed(syncID, pass, OutcomeFiltered)
			continue
		}
		if ev.ID == "" {
			log.Printf("%s Skipping event without ID: %q", tag, ev.Title)
			continue
		}

		stats.Processed++
		outcome, err := e.syncEvent(ctx, syncID, ds, from, to, ev, index, fetchedAt)
		if err != nil {
			outcome = OutcomeFailed
			log.Printf("%s Error syncing event %s: %v", tag, ev.ID, err)
		}

		switch outcome {
		case OutcomeCreated:
			stats.Created++
		case OutcomeUpdated:
			stats.Updated++
		case OutcomeLoop:
			stats.Loops++
		case OutcomeFailed:
			stats.Failed++
		}
		e.observer.EventProcessed(syncID, pass, outcome)
	}

	log.Printf("%s Complete: processed %d, created %d, updated %d, loops %d, filtered %d, failed %d",
		tag, stats.Processed, stats.Created, stats.Updated, stats.Loops, stats.Filtered, stats.Failed)

	return stats, nil
}

// syncEvent decides what to do with a single source event and does it.
func (e *SyncEngine) syncEvent(ctx context.Context, syncID string, ds db.DirectionSettings,
	from, to *endpoint, ev calendar.Event, index dedup.Index, fetchedAt time.Time) (Outcome, error) {
	entry, mapped := index.Lookup(ev.ID)

	// A reverse entry means ev is itself a copy made by the opposite pass.
	if mapped && entry.IsReverse {
		return OutcomeLoop, nil
	}

	shadow := privacy.Transform(ev, ds, from.connection.ColorTag)

	if mapped {
		if !ev.UpdatedAt.After(entry.LastUpdated) {
			return OutcomeUnchanged, nil
		}

		callCtx, cancel := e.callContext(ctx)
		_, err := e.provider.UpdateEvent(callCtx, to.token, to.calendar.ProviderCalendarID, entry.CounterpartID, shadow)
		cancel()
		if err != nil {
			return OutcomeFailed, fmt.Errorf("update %s: %w", entry.CounterpartID, err)
		}

		err = e.mappings.Upsert(syncID, dedup.Mapping{
			SourceEventID:     ev.ID,
			TargetEventID:     entry.CounterpartID,
			SourceCalendarID:  from.calendar.ID,
			TargetCalendarID:  to.calendar.ID,
			LastSourceUpdated: ev.UpdatedAt,
		})
		if err != nil {
			return OutcomeFailed, err
		}
		return OutcomeUpdated, nil
	}

	// The index was loaded before this pass. Check the store again so a
	// concurrent run's copy is not propagated back as a new event.
	reflected, err := e.mappings.FindReverse(syncID, from.calendar.ID, ev.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if reflected != nil {
		return OutcomeLoop, nil
	}

	callCtx, cancel := e.callContext(ctx)
	createdID, err := e.provider.CreateEvent(callCtx, to.token, to.calendar.ProviderCalendarID, shadow)
	cancel()
	if err != nil {
		return OutcomeFailed, fmt.Errorf("create: %w", err)
	}
	if createdID == "" {
		return OutcomeFailed, fmt.Errorf("create: provider returned no event id")
	}

	lastUpdated := ev.UpdatedAt
	if lastUpdated.IsZero() {
		lastUpdated = fetchedAt
	}

	err = e.mappings.Upsert(syncID, dedup.Mapping{
		SourceEventID:     ev.ID,
		TargetEventID:     createdID,
		SourceCalendarID:  from.calendar.ID,
		TargetCalendarID:  to.calendar.ID,
		LastSourceUpdated: lastUpdated,
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return OutcomeCreated, nil
}

func (e *SyncEngine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.callTimeout)
}
