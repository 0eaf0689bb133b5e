package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const syncedEventColumns = `id, sync_id, source_event_id, target_event_id, source_calendar_id,
	target_calendar_id, last_source_updated, created_at, updated_at`

// GetSyncedEventBySource returns the mapping for a source event of a sync.
func (db *DB) GetSyncedEventBySource(syncID, sourceEventID string) (*SyncedEvent, error) {
	query := `SELECT ` + syncedEventColumns + ` FROM synced_events WHERE sync_id = ? AND source_event_id = ?`
	return scanSyncedEvent(db.conn.QueryRow(query, syncID, sourceEventID))
}

// GetSyncedEventByTarget returns the mapping whose target copy is the given
// event on the given calendar.
func (db *DB) GetSyncedEventByTarget(syncID, targetCalendarID, targetEventID string) (*SyncedEvent, error) {
	query := `SELECT ` + syncedEventColumns + ` FROM synced_events
		WHERE sync_id = ? AND target_calendar_id = ? AND target_event_id = ?`
	return scanSyncedEvent(db.conn.QueryRow(query, syncID, targetCalendarID, targetEventID))
}

// GetSyncedEventsBySync returns every mapping of a sync.
func (db *DB) GetSyncedEventsBySync(syncID string) ([]*SyncedEvent, error) {
	query := `SELECT ` + syncedEventColumns + ` FROM synced_events WHERE sync_id = ? ORDER BY created_at`

	rows, err := db.conn.Query(query, syncID)
	if err != nil {
		return nil, fmt.Errorf("failed to query synced events: %w", err)
	}
	defer rows.Close()

	var events []*SyncedEvent
	for rows.Next() {
		ev, err := scanSyncedEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating synced events: %w", err)
	}

	return events, nil
}

// UpsertSyncedEvent inserts a mapping or, when one exists for the same source
// event, updates only its target event ID and last source update time.
func (db *DB) UpsertSyncedEvent(ev *SyncedEvent) error {
	now := time.Now().UTC()
	ev.LastSourceUpdated = ev.LastSourceUpdated.UTC()
	ev.UpdatedAt = now

	query := `UPDATE synced_events SET target_event_id = ?, last_source_updated = ?, updated_at = ?
		WHERE sync_id = ? AND source_event_id = ?`

	result, err := db.conn.Exec(query, ev.TargetEventID, ev.LastSourceUpdated, now, ev.SyncID, ev.SourceEventID)
	if err != nil {
		return fmt.Errorf("failed to update synced event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.CreatedAt = now

	insertQuery := `INSERT INTO synced_events (` + syncedEventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.conn.Exec(insertQuery, ev.ID, ev.SyncID, ev.SourceEventID, ev.TargetEventID,
		ev.SourceCalendarID, ev.TargetCalendarID, ev.LastSourceUpdated, ev.CreatedAt, ev.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: synced event %s/%s", ErrDuplicate, ev.SyncID, ev.SourceEventID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert synced event: %w", err)
	}

	return nil
}

// DeleteSyncedEvent removes one mapping by its ID.
func (db *DB) DeleteSyncedEvent(id string) error {
	result, err := db.conn.Exec(`DELETE FROM synced_events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete synced event: %w", err)
	}

	return requireAffected(result)
}

// DeleteSyncedEventsForSync removes every mapping of a sync and returns how
// many were deleted.
func (db *DB) DeleteSyncedEventsForSync(syncID string) (int64, error) {
	result, err := db.conn.Exec(`DELETE FROM synced_events WHERE sync_id = ?`, syncID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete synced events for sync: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected, nil
}

func scanSyncedEvent(s scanner) (*SyncedEvent, error) {
	ev := &SyncedEvent{}
	err := s.Scan(&ev.ID, &ev.SyncID, &ev.SourceEventID, &ev.TargetEventID, &ev.SourceCalendarID,
		&ev.TargetCalendarID, &ev.LastSourceUpdated, &ev.CreatedAt, &ev.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan synced event: %w", err)
	}
	return ev, nil
}
