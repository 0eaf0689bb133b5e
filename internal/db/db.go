package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("duplicate record")
	ErrDatabaseInit = errors.New("database initialization failed")
	ErrSameCalendar = errors.New("source and target calendar must differ")
	ErrTokenCipher  = errors.New("token encryption failed")
)

// TokenCipher encrypts OAuth tokens before they are written and decrypts them
// after they are read. A nil cipher stores tokens as given.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Option configures a DB.
type Option func(*DB)

// WithTokenCipher sets the cipher used for connection tokens.
func WithTokenCipher(c TokenCipher) Option {
	return func(db *DB) {
		db.cipher = c
	}
}

// DB represents the database connection.
type DB struct {
	conn   *sql.DB
	cipher TokenCipher
}

// New creates a new database connection and initializes the schema.
func New(dbPath string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %w", ErrDatabaseInit, err)
	}

	// Per-connection pragmas go in the DSN so every pooled connection
	// enforces foreign keys, not only the one that ran the PRAGMA.
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseInit, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA secure_delete=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: failed to set pragma: %w", ErrDatabaseInit, err)
		}
	}

	db := &DB{conn: conn}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	// Best effort; in WAL mode the file may not exist until the first write.
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Ping checks the database connection.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate creates the database schema.
func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT 'google',
			provider_account_id TEXT NOT NULL,
			account_email TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			token_expires_at DATETIME NOT NULL,
			calendar_prefix TEXT NOT NULL DEFAULT 'Personal',
			color_tag TEXT NOT NULL DEFAULT '#3B82F6',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, provider, provider_account_id),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_user_id ON connections(user_id)`,

		`CREATE TABLE IF NOT EXISTS calendars (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL,
			provider_calendar_id TEXT NOT NULL,
			name TEXT NOT NULL,
			is_primary INTEGER NOT NULL DEFAULT 0,
			time_zone TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(connection_id, provider_calendar_id),
			FOREIGN KEY (connection_id) REFERENCES connections(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS syncs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			source_calendar_id TEXT NOT NULL,
			target_calendar_id TEXT NOT NULL,
			sync_direction TEXT NOT NULL DEFAULT 'bidirectional',
			is_active INTEGER NOT NULL DEFAULT 1,
			last_synced_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK (source_calendar_id <> target_calendar_id),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (source_calendar_id) REFERENCES calendars(id) ON DELETE CASCADE,
			FOREIGN KEY (target_calendar_id) REFERENCES calendars(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_syncs_user_id ON syncs(user_id)`,

		`CREATE TABLE IF NOT EXISTS sync_settings (
			id TEXT PRIMARY KEY,
			sync_id TEXT UNIQUE NOT NULL,
			s2t_privacy_mode INTEGER NOT NULL DEFAULT 0,
			s2t_placeholder_text TEXT NOT NULL DEFAULT 'Busy',
			s2t_event_filter_type TEXT NOT NULL DEFAULT 'all',
			s2t_prefix TEXT NOT NULL DEFAULT '',
			t2s_privacy_mode INTEGER NOT NULL DEFAULT 0,
			t2s_placeholder_text TEXT NOT NULL DEFAULT 'Busy',
			t2s_event_filter_type TEXT NOT NULL DEFAULT 'all',
			t2s_prefix TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (sync_id) REFERENCES syncs(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS synced_events (
			id TEXT PRIMARY KEY,
			sync_id TEXT NOT NULL,
			source_event_id TEXT NOT NULL,
			target_event_id TEXT NOT NULL,
			source_calendar_id TEXT NOT NULL,
			target_calendar_id TEXT NOT NULL,
			last_source_updated DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(sync_id, source_event_id),
			FOREIGN KEY (sync_id) REFERENCES syncs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_synced_events_target ON synced_events(sync_id, target_calendar_id, target_event_id)`,

		// Run logs carry no foreign key: a run for an unknown sync still
		// records its failure. DeleteSync removes a sync's logs itself.
		`CREATE TABLE IF NOT EXISTS sync_logs (` + syncLogsTableBody + `)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_sync_id ON sync_logs(sync_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_started_at ON sync_logs(started_at DESC)`,

		// Migration: track per-event failures separately from processed events
		`ALTER TABLE sync_logs ADD COLUMN events_failed INTEGER NOT NULL DEFAULT 0`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("%w: migration failed: %w", ErrDatabaseInit, err)
			}
		}
	}

	return db.dropSyncLogsForeignKey()
}

const syncLogsTableBody = `
			id TEXT PRIMARY KEY,
			sync_id TEXT NOT NULL,
			status TEXT NOT NULL,
			events_processed INTEGER NOT NULL DEFAULT 0,
			events_created INTEGER NOT NULL DEFAULT 0,
			events_updated INTEGER NOT NULL DEFAULT 0,
			events_deleted INTEGER NOT NULL DEFAULT 0,
			events_failed INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME NOT NULL
		`

// dropSyncLogsForeignKey rebuilds a sync_logs table created by an older
// schema that tied logs to syncs(id). SQLite cannot drop a constraint in
// place, so rows are copied into a fresh table.
func (db *DB) dropSyncLogsForeignKey() error {
	var fks int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM pragma_foreign_key_list('sync_logs')`).Scan(&fks); err != nil {
		return fmt.Errorf("%w: failed to inspect sync_logs: %w", ErrDatabaseInit, err)
	}
	if fks == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("%w: failed to begin migration: %w", ErrDatabaseInit, err)
	}
	defer func() { _ = tx.Rollback() }()

	const columns = `id, sync_id, status, events_processed, events_created, events_updated,
		events_deleted, events_failed, error_message, started_at, completed_at`

	steps := []string{
		`CREATE TABLE sync_logs_rebuild (` + syncLogsTableBody + `)`,
		`INSERT INTO sync_logs_rebuild (` + columns + `) SELECT ` + columns + ` FROM sync_logs`,
		`DROP TABLE sync_logs`,
		`ALTER TABLE sync_logs_rebuild RENAME TO sync_logs`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_sync_id ON sync_logs(sync_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_started_at ON sync_logs(started_at DESC)`,
	}
	for _, step := range steps {
		if _, err := tx.Exec(step); err != nil {
			return fmt.Errorf("%w: sync_logs rebuild failed: %w", ErrDatabaseInit, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit sync_logs rebuild: %w", ErrDatabaseInit, err)
	}

	log.Println("[DB] Rebuilt sync_logs without its syncs foreign key")
	return nil
}

// isDuplicateColumnError checks if the error is due to a duplicate column in ALTER TABLE.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists")
}

// isUniqueViolation checks if the error is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (db *DB) encryptToken(token string) (string, error) {
	if db.cipher == nil || token == "" {
		return token, nil
	}
	enc, err := db.cipher.Encrypt(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenCipher, err)
	}
	return enc, nil
}

func (db *DB) decryptToken(token string) (string, error) {
	if db.cipher == nil || token == "" {
		return token, nil
	}
	dec, err := db.cipher.Decrypt(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenCipher, err)
	}
	return dec, nil
}
