package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const syncColumns = `id, user_id, source_calendar_id, target_calendar_id, sync_direction,
	is_active, last_synced_at, created_at, updated_at`

// CreateSync creates a sync and its default settings in one transaction.
func (db *DB) CreateSync(s *Sync) (*SyncSettings, error) {
	if s.SourceCalendarID == s.TargetCalendarID {
		return nil, ErrSameCalendar
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.SyncDirection == "" {
		s.SyncDirection = SyncDirectionBidirectional
	}
	now := time.Now().UTC()
	s.IsActive = true
	s.CreatedAt = now
	s.UpdatedAt = now

	settings := &SyncSettings{
		ID:             uuid.New().String(),
		SyncID:         s.ID,
		SourceToTarget: DefaultDirectionSettings(),
		TargetToSource: DefaultDirectionSettings(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`INSERT INTO syncs (`+syncColumns+`) VALUES (?, ?, ?, ?, ?, 1, NULL, ?, ?)`,
		s.ID, s.UserID, s.SourceCalendarID, s.TargetCalendarID, s.SyncDirection, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync: %w", err)
	}

	if err := insertSettings(tx, settings); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sync: %w", err)
	}

	return settings, nil
}

func insertSettings(tx *sql.Tx, st *SyncSettings) error {
	query := `INSERT INTO sync_settings (id, sync_id,
		s2t_privacy_mode, s2t_placeholder_text, s2t_event_filter_type, s2t_prefix,
		t2s_privacy_mode, t2s_placeholder_text, t2s_event_filter_type, t2s_prefix,
		created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	s2t, t2s := st.SourceToTarget, st.TargetToSource
	_, err := tx.Exec(query, st.ID, st.SyncID,
		s2t.PrivacyMode, s2t.PlaceholderText, s2t.EventFilterType, s2t.Prefix,
		t2s.PrivacyMode, t2s.PlaceholderText, t2s.EventFilterType, t2s.Prefix,
		st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync settings: %w", err)
	}
	return nil
}

// GetSyncByID returns a sync by its ID.
func (db *DB) GetSyncByID(id string) (*Sync, error) {
	query := `SELECT ` + syncColumns + ` FROM syncs WHERE id = ?`
	return scanSync(db.conn.QueryRow(query, id))
}

// GetSyncsByUserID returns all syncs of a user, newest first.
func (db *DB) GetSyncsByUserID(userID string) ([]*Sync, error) {
	query := `SELECT ` + syncColumns + ` FROM syncs WHERE user_id = ? ORDER BY created_at DESC`
	return db.querySyncs(query, userID)
}

// GetActiveSyncs returns all syncs with is_active set.
func (db *DB) GetActiveSyncs() ([]*Sync, error) {
	query := `SELECT ` + syncColumns + ` FROM syncs WHERE is_active = 1 ORDER BY created_at`
	return db.querySyncs(query)
}

func (db *DB) querySyncs(query string, args ...any) ([]*Sync, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query syncs: %w", err)
	}
	defer rows.Close()

	var syncs []*Sync
	for rows.Next() {
		s, err := scanSync(rows)
		if err != nil {
			return nil, err
		}
		syncs = append(syncs, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating syncs: %w", err)
	}

	return syncs, nil
}

// UpdateSync stores the direction and active flag of a sync.
func (db *DB) UpdateSync(s *Sync) error {
	s.UpdatedAt = time.Now().UTC()
	if s.SyncDirection == "" {
		s.SyncDirection = SyncDirectionBidirectional
	}

	query := `UPDATE syncs SET sync_direction = ?, is_active = ?, updated_at = ? WHERE id = ?`
	result, err := db.conn.Exec(query, s.SyncDirection, s.IsActive, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update sync: %w", err)
	}

	return requireAffected(result)
}

// UpdateLastSyncedAt records when a sync last completed its directional passes.
func (db *DB) UpdateLastSyncedAt(id string, at time.Time) error {
	result, err := db.conn.Exec(`UPDATE syncs SET last_synced_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update last synced time: %w", err)
	}

	return requireAffected(result)
}

// DeleteSync deletes a sync together with its settings, mappings and logs.
func (db *DB) DeleteSync(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM sync_logs WHERE sync_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete sync logs: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM syncs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sync: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sync delete: %w", err)
	}
	return nil
}

const settingsColumns = `id, sync_id,
	s2t_privacy_mode, s2t_placeholder_text, s2t_event_filter_type, s2t_prefix,
	t2s_privacy_mode, t2s_placeholder_text, t2s_event_filter_type, t2s_prefix,
	created_at, updated_at`

// GetSyncSettings returns the settings row of a sync.
func (db *DB) GetSyncSettings(syncID string) (*SyncSettings, error) {
	query := `SELECT ` + settingsColumns + ` FROM sync_settings WHERE sync_id = ?`

	st := &SyncSettings{}
	s2t, t2s := &st.SourceToTarget, &st.TargetToSource
	err := db.conn.QueryRow(query, syncID).Scan(&st.ID, &st.SyncID,
		&s2t.PrivacyMode, &s2t.PlaceholderText, &s2t.EventFilterType, &s2t.Prefix,
		&t2s.PrivacyMode, &t2s.PlaceholderText, &t2s.EventFilterType, &t2s.Prefix,
		&st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync settings: %w", err)
	}

	return st, nil
}

// UpdateSyncSettings applies a partial update and returns the stored result.
func (db *DB) UpdateSyncSettings(syncID string, patch SettingsPatch) (*SyncSettings, error) {
	st, err := db.GetSyncSettings(syncID)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return st, nil
	}

	patch.Apply(st)
	st.UpdatedAt = time.Now().UTC()

	query := `UPDATE sync_settings SET
		s2t_privacy_mode = ?, s2t_placeholder_text = ?, s2t_event_filter_type = ?, s2t_prefix = ?,
		t2s_privacy_mode = ?, t2s_placeholder_text = ?, t2s_event_filter_type = ?, t2s_prefix = ?,
		updated_at = ? WHERE sync_id = ?`

	s2t, t2s := st.SourceToTarget, st.TargetToSource
	result, err := db.conn.Exec(query,
		s2t.PrivacyMode, s2t.PlaceholderText, s2t.EventFilterType, s2t.Prefix,
		t2s.PrivacyMode, t2s.PlaceholderText, t2s.EventFilterType, t2s.Prefix,
		st.UpdatedAt, syncID)
	if err != nil {
		return nil, fmt.Errorf("failed to update sync settings: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return nil, err
	}

	return st, nil
}

// CreateSyncLog appends a run record.
func (db *DB) CreateSyncLog(log *SyncLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}

	query := `INSERT INTO sync_logs (id, sync_id, status, events_processed, events_created,
		events_updated, events_deleted, events_failed, error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var errMsg sql.NullString
	if log.ErrorMessage != "" {
		errMsg = sql.NullString{String: log.ErrorMessage, Valid: true}
	}

	_, err := db.conn.Exec(query, log.ID, log.SyncID, log.Status, log.EventsProcessed, log.EventsCreated,
		log.EventsUpdated, log.EventsDeleted, log.EventsFailed, errMsg, log.StartedAt.UTC(), log.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}

	return nil
}

// GetSyncLogs returns the most recent run records of a sync.
func (db *DB) GetSyncLogs(syncID string, limit int) ([]*SyncLog, error) {
	query := `SELECT id, sync_id, status, events_processed, events_created, events_updated,
		events_deleted, events_failed, error_message, started_at, completed_at
		FROM sync_logs WHERE sync_id = ? ORDER BY started_at DESC LIMIT ?`

	rows, err := db.conn.Query(query, syncID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		log := &SyncLog{}
		var errMsg sql.NullString
		err := rows.Scan(&log.ID, &log.SyncID, &log.Status, &log.EventsProcessed, &log.EventsCreated,
			&log.EventsUpdated, &log.EventsDeleted, &log.EventsFailed, &errMsg, &log.StartedAt, &log.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		log.ErrorMessage = errMsg.String
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}

	return logs, nil
}

// CleanOldSyncLogs deletes sync logs that started before the given time.
func (db *DB) CleanOldSyncLogs(olderThan time.Time) (int64, error) {
	result, err := db.conn.Exec(`DELETE FROM sync_logs WHERE started_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean old sync logs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected, nil
}

func scanSync(s scanner) (*Sync, error) {
	sync := &Sync{}
	var lastSyncedAt sql.NullTime
	var direction string

	err := s.Scan(&sync.ID, &sync.UserID, &sync.SourceCalendarID, &sync.TargetCalendarID, &direction,
		&sync.IsActive, &lastSyncedAt, &sync.CreatedAt, &sync.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync: %w", err)
	}

	if lastSyncedAt.Valid {
		sync.LastSyncedAt = &lastSyncedAt.Time
	}
	sync.SyncDirection = SyncDirection(direction)
	if sync.SyncDirection == "" {
		sync.SyncDirection = SyncDirectionBidirectional
	}

	return sync, nil
}
