package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetOrCreateUser returns an existing user by email or creates a new one.
func (db *DB) GetOrCreateUser(email, name string) (*User, error) {
	user, err := db.GetUserByEmail(email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	user = &User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `INSERT INTO users (id, email, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	_, err = db.conn.Exec(query, user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUserByEmail returns a user by their email address.
func (db *DB) GetUserByEmail(email string) (*User, error) {
	query := `SELECT id, email, name, created_at, updated_at FROM users WHERE email = ?`
	row := db.conn.QueryRow(query, email)

	user := &User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// GetUserByID returns a user by their ID.
func (db *DB) GetUserByID(id string) (*User, error) {
	query := `SELECT id, email, name, created_at, updated_at FROM users WHERE id = ?`
	row := db.conn.QueryRow(query, id)

	user := &User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

const connectionColumns = `id, user_id, provider, provider_account_id, account_email,
	access_token, refresh_token, token_expires_at, calendar_prefix, color_tag,
	is_active, created_at, updated_at`

// UpsertConnection stores a connection. A connection for the same user and
// provider account is updated in place (new tokens, prefix and color) and
// keeps its ID, so existing syncs survive a reconnect.
func (db *DB) UpsertConnection(c *Connection) error {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.CalendarPrefix == "" {
		c.CalendarPrefix = DefaultCalendarPrefix
	}
	if c.ColorTag == "" {
		c.ColorTag = DefaultColorTag
	}

	accessToken, err := db.encryptToken(c.AccessToken)
	if err != nil {
		return err
	}
	refreshToken, err := db.encryptToken(c.RefreshToken)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	c.TokenExpiresAt = c.TokenExpiresAt.UTC()
	c.IsActive = true
	c.UpdatedAt = now

	query := `UPDATE connections SET account_email = ?, access_token = ?, refresh_token = ?,
		token_expires_at = ?, calendar_prefix = ?, color_tag = ?, is_active = 1, updated_at = ?
		WHERE user_id = ? AND provider = ? AND provider_account_id = ?`

	result, err := db.conn.Exec(query, c.AccountEmail, accessToken, refreshToken,
		c.TokenExpiresAt, c.CalendarPrefix, c.ColorTag, now,
		c.UserID, c.Provider, c.ProviderAccountID)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected > 0 {
		row := db.conn.QueryRow(`SELECT id, created_at FROM connections
			WHERE user_id = ? AND provider = ? AND provider_account_id = ?`,
			c.UserID, c.Provider, c.ProviderAccountID)
		if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
			return fmt.Errorf("failed to read connection id: %w", err)
		}
		return nil
	}

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = now

	insertQuery := `INSERT INTO connections (` + connectionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`

	_, err = db.conn.Exec(insertQuery, c.ID, c.UserID, c.Provider, c.ProviderAccountID, c.AccountEmail,
		accessToken, refreshToken, c.TokenExpiresAt, c.CalendarPrefix, c.ColorTag,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}

	return nil
}

// GetConnectionByID returns a connection with its tokens decrypted.
func (db *DB) GetConnectionByID(id string) (*Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = ?`
	return db.scanConnection(db.conn.QueryRow(query, id))
}

// GetConnectionsByUserID returns all connections of a user, newest first.
func (db *DB) GetConnectionsByUserID(userID string) ([]*Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = ? ORDER BY created_at DESC`

	rows, err := db.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		c, err := db.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return conns, nil
}

// UpdateConnectionTokens stores refreshed credentials.
func (db *DB) UpdateConnectionTokens(id, accessToken, refreshToken string, expiresAt time.Time) error {
	encAccess, err := db.encryptToken(accessToken)
	if err != nil {
		return err
	}
	encRefresh, err := db.encryptToken(refreshToken)
	if err != nil {
		return err
	}

	query := `UPDATE connections SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = ? WHERE id = ?`
	result, err := db.conn.Exec(query, encAccess, encRefresh, expiresAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update connection tokens: %w", err)
	}

	return requireAffected(result)
}

// UpdateConnectionAppearance changes the prefix and color tag of a connection.
func (db *DB) UpdateConnectionAppearance(id, calendarPrefix, colorTag string) error {
	query := `UPDATE connections SET calendar_prefix = ?, color_tag = ?, updated_at = ? WHERE id = ?`
	result, err := db.conn.Exec(query, calendarPrefix, colorTag, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}

	return requireAffected(result)
}

// SetConnectionActive enables or disables a connection.
func (db *DB) SetConnectionActive(id string, active bool) error {
	query := `UPDATE connections SET is_active = ?, updated_at = ? WHERE id = ?`
	result, err := db.conn.Exec(query, active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}

	return requireAffected(result)
}

// DeleteConnection deletes a connection and, through cascades, its calendars
// and every sync that uses one of them.
func (db *DB) DeleteConnection(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Syncs go with the calendars by cascade; their logs have no foreign key.
	_, err = tx.Exec(`DELETE FROM sync_logs WHERE sync_id IN (
		SELECT s.id FROM syncs s JOIN calendars c
			ON c.id = s.source_calendar_id OR c.id = s.target_calendar_id
		WHERE c.connection_id = ?)`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sync logs: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit connection delete: %w", err)
	}
	return nil
}

const calendarColumns = `id, connection_id, provider_calendar_id, name, is_primary, time_zone, created_at, updated_at`

// UpsertCalendar stores a calendar of a connection, keyed by its provider ID.
func (db *DB) UpsertCalendar(cal *Calendar) error {
	now := time.Now().UTC()
	cal.UpdatedAt = now

	query := `UPDATE calendars SET name = ?, is_primary = ?, time_zone = ?, updated_at = ?
		WHERE connection_id = ? AND provider_calendar_id = ?`

	result, err := db.conn.Exec(query, cal.Name, cal.IsPrimary, cal.TimeZone, now,
		cal.ConnectionID, cal.ProviderCalendarID)
	if err != nil {
		return fmt.Errorf("failed to update calendar: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected > 0 {
		row := db.conn.QueryRow(`SELECT id, created_at FROM calendars WHERE connection_id = ? AND provider_calendar_id = ?`,
			cal.ConnectionID, cal.ProviderCalendarID)
		if err := row.Scan(&cal.ID, &cal.CreatedAt); err != nil {
			return fmt.Errorf("failed to read calendar id: %w", err)
		}
		return nil
	}

	if cal.ID == "" {
		cal.ID = uuid.New().String()
	}
	cal.CreatedAt = now

	insertQuery := `INSERT INTO calendars (` + calendarColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.conn.Exec(insertQuery, cal.ID, cal.ConnectionID, cal.ProviderCalendarID, cal.Name,
		cal.IsPrimary, cal.TimeZone, cal.CreatedAt, cal.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create calendar: %w", err)
	}

	return nil
}

// GetCalendarByID returns a calendar by its ID.
func (db *DB) GetCalendarByID(id string) (*Calendar, error) {
	query := `SELECT ` + calendarColumns + ` FROM calendars WHERE id = ?`
	return scanCalendar(db.conn.QueryRow(query, id))
}

// GetCalendarsByConnectionID returns the calendars of a connection, primary first.
func (db *DB) GetCalendarsByConnectionID(connectionID string) ([]*Calendar, error) {
	query := `SELECT ` + calendarColumns + ` FROM calendars WHERE connection_id = ? ORDER BY is_primary DESC, name`

	rows, err := db.conn.Query(query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendars: %w", err)
	}
	defer rows.Close()

	var cals []*Calendar
	for rows.Next() {
		cal, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		cals = append(cals, cal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating calendars: %w", err)
	}

	return cals, nil
}

// CalendarOwnedBy reports whether the calendar belongs to one of the user's connections.
func (db *DB) CalendarOwnedBy(calendarID, userID string) (bool, error) {
	query := `SELECT COUNT(*) FROM calendars c JOIN connections cn ON cn.id = c.connection_id
		WHERE c.id = ? AND cn.user_id = ?`

	var n int
	if err := db.conn.QueryRow(query, calendarID, userID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check calendar ownership: %w", err)
	}
	return n > 0, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanConnection(s scanner) (*Connection, error) {
	c := &Connection{}
	err := s.Scan(&c.ID, &c.UserID, &c.Provider, &c.ProviderAccountID, &c.AccountEmail,
		&c.AccessToken, &c.RefreshToken, &c.TokenExpiresAt, &c.CalendarPrefix, &c.ColorTag,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	if c.AccessToken, err = db.decryptToken(c.AccessToken); err != nil {
		return nil, err
	}
	if c.RefreshToken, err = db.decryptToken(c.RefreshToken); err != nil {
		return nil, err
	}

	return c, nil
}

func scanCalendar(s scanner) (*Calendar, error) {
	cal := &Calendar{}
	err := s.Scan(&cal.ID, &cal.ConnectionID, &cal.ProviderCalendarID, &cal.Name,
		&cal.IsPrimary, &cal.TimeZone, &cal.CreatedAt, &cal.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan calendar: %w", err)
	}
	return cal, nil
}

// requireAffected maps a zero-row update or delete to ErrNotFound.
func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
