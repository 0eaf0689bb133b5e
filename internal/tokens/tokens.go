// Package tokens keeps connection access tokens valid, refreshing and
// persisting them when they expire.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/macjediwizard/calmirror/internal/db"
)

// ErrAuth is returned when a connection's credentials cannot be refreshed.
var ErrAuth = errors.New("authentication failed")

// TokenInfo is a set of OAuth credentials.
type TokenInfo struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenInfo, error)
}

// ConnectionStore persists refreshed credentials.
type ConnectionStore interface {
	UpdateConnectionTokens(id, accessToken, refreshToken string, expiresAt time.Time) error
}

// Guard hands out valid access tokens for connections.
type Guard struct {
	store     ConnectionStore
	refresher Refresher
	now       func() time.Time
}

// NewGuard creates a Guard.
func NewGuard(store ConnectionStore, refresher Refresher) *Guard {
	return &Guard{store: store, refresher: refresher, now: time.Now}
}

// WithClock returns a copy of g that reads the current time from now.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	cp := *g
	cp.now = now
	return &cp
}

// EnsureValidToken returns an access token for conn. A token that has not
// expired is returned as is. Otherwise it is refreshed, stored, and conn is
// updated in place. The stored refresh token is kept unless the provider
// issues a new one.
func (g *Guard) EnsureValidToken(ctx context.Context, conn *db.Connection) (string, error) {
	if conn.TokenExpiresAt.After(g.now()) {
		return conn.AccessToken, nil
	}

	if conn.RefreshToken == "" {
		return "", fmt.Errorf("%w: connection %s has no refresh token", ErrAuth, conn.ID)
	}

	info, err := g.refresher.Refresh(ctx, conn.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrAuth) {
			return "", fmt.Errorf("refreshing token for connection %s: %w", conn.ID, err)
		}
		return "", fmt.Errorf("%w: refreshing token for connection %s: %w", ErrAuth, conn.ID, err)
	}

	refreshToken := conn.RefreshToken
	if info.RefreshToken != "" {
		refreshToken = info.RefreshToken
	}

	if err := g.store.UpdateConnectionTokens(conn.ID, info.AccessToken, refreshToken, info.ExpiresAt); err != nil {
		return "", fmt.Errorf("failed to store refreshed token for connection %s: %w", conn.ID, err)
	}

	log.Printf("[Tokens] Refreshed access token for connection %s (expires %s)", conn.ID, info.ExpiresAt.Format(time.RFC3339))

	conn.AccessToken = info.AccessToken
	conn.RefreshToken = refreshToken
	conn.TokenExpiresAt = info.ExpiresAt

	return info.AccessToken, nil
}
