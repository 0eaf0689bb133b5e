package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	sessionName       = "calmirror_session"
	oauthStateName    = "calmirror_oauth_state"
	connectStateName  = "calmirror_connect_state"
	defaultMaxAge     = 7 * 24 * 60 * 60 // 7 days in seconds
	stateMaxAge       = 600              // 10 minutes
	randomTokenLength = 32
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidSession  = errors.New("invalid session data")
)

// SessionData represents the data stored in a user session.
type SessionData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ConnectState is carried across the calendar account OAuth round trip.
type ConnectState struct {
	State  string
	Prefix string
	Color  string
}

// SessionManager manages user sessions and short-lived OAuth state.
type SessionManager struct {
	store  *sessions.CookieStore
	secure bool
}

// NewSessionManager creates a new session manager. maxAgeSecs <= 0 uses
// the default of 7 days.
func NewSessionManager(secret string, secure bool, maxAgeSecs int) *SessionManager {
	if maxAgeSecs <= 0 {
		maxAgeSecs = defaultMaxAge
	}

	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAgeSecs,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &SessionManager{
		store:  store,
		secure: secure,
	}
}

// Get retrieves the session data from the request.
func (sm *SessionManager) Get(r *http.Request) (*SessionData, error) {
	session, err := sm.store.Get(r, sessionName)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	userID, ok := session.Values["user_id"].(string)
	if !ok || userID == "" {
		return nil, ErrSessionNotFound
	}

	// Missing values default to empty string
	email, _ := session.Values["email"].(string)
	name, _ := session.Values["name"].(string)

	return &SessionData{
		UserID: userID,
		Email:  email,
		Name:   name,
	}, nil
}

// Set stores the session data.
func (sm *SessionManager) Set(w http.ResponseWriter, r *http.Request, data *SessionData) error {
	session, err := sm.getOrNew(r, sessionName)
	if err != nil {
		return err
	}

	session.Values["user_id"] = data.UserID
	session.Values["email"] = data.Email
	session.Values["name"] = data.Name

	return session.Save(r, w)
}

// Clear removes the session.
func (sm *SessionManager) Clear(w http.ResponseWriter, r *http.Request) error {
	session, err := sm.store.Get(r, sessionName)
	if err != nil {
		return nil // Session doesn't exist, nothing to clear
	}

	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// SetOAuthState stores the login state and nonce.
func (sm *SessionManager) SetOAuthState(w http.ResponseWriter, r *http.Request, state, nonce string) error {
	session, err := sm.getOrNew(r, oauthStateName)
	if err != nil {
		return err
	}

	session.Values["state"] = state
	session.Values["nonce"] = nonce
	session.Options.MaxAge = stateMaxAge

	return session.Save(r, w)
}

// GetOAuthState retrieves and clears the login state and nonce.
func (sm *SessionManager) GetOAuthState(w http.ResponseWriter, r *http.Request) (state, nonce string, err error) {
	session, err := sm.store.Get(r, oauthStateName)
	if err != nil {
		return "", "", err
	}

	state, _ = session.Values["state"].(string)
	nonce, _ = session.Values["nonce"].(string)
	if state == "" {
		return "", "", ErrInvalidSession
	}

	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		return "", "", err
	}

	return state, nonce, nil
}

// SetConnectState stores the state of a calendar account connect flow.
func (sm *SessionManager) SetConnectState(w http.ResponseWriter, r *http.Request, cs *ConnectState) error {
	session, err := sm.getOrNew(r, connectStateName)
	if err != nil {
		return err
	}

	session.Values["state"] = cs.State
	session.Values["prefix"] = cs.Prefix
	session.Values["color"] = cs.Color
	session.Options.MaxAge = stateMaxAge

	return session.Save(r, w)
}

// PopConnectState retrieves and clears the connect flow state.
func (sm *SessionManager) PopConnectState(w http.ResponseWriter, r *http.Request) (*ConnectState, error) {
	session, err := sm.store.Get(r, connectStateName)
	if err != nil {
		return nil, err
	}

	cs := &ConnectState{}
	cs.State, _ = session.Values["state"].(string)
	cs.Prefix, _ = session.Values["prefix"].(string)
	cs.Color, _ = session.Values["color"].(string)
	if cs.State == "" {
		return nil, ErrInvalidSession
	}

	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		return nil, err
	}

	return cs, nil
}

func (sm *SessionManager) getOrNew(r *http.Request, name string) (*sessions.Session, error) {
	session, err := sm.store.Get(r, name)
	if err != nil {
		// Create a new session if the current one is invalid
		return sm.store.New(r, name)
	}
	return session, nil
}

// GenerateState generates a random state or nonce string for OAuth.
func GenerateState() (string, error) {
	b := make([]byte, randomTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
