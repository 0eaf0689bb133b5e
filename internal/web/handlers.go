package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/calmirror/internal/activity"
	"github.com/macjediwizard/calmirror/internal/auth"
	"github.com/macjediwizard/calmirror/internal/calendar"
	"github.com/macjediwizard/calmirror/internal/config"
	"github.com/macjediwizard/calmirror/internal/db"
	"github.com/macjediwizard/calmirror/internal/engine"
	"github.com/macjediwizard/calmirror/internal/google"
	"github.com/macjediwizard/calmirror/internal/palette"
	"github.com/macjediwizard/calmirror/internal/tokens"
)

const redirectCookie = "redirect_after_login"

// LoginProvider signs users in through OIDC.
type LoginProvider interface {
	AuthCodeURL(state, nonce string) string
	Authenticate(ctx context.Context, code, nonce string) (*auth.OIDCClaims, error)
}

// AccountConnector runs the OAuth flow that links a calendar account.
type AccountConnector interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*tokens.TokenInfo, error)
	UserInfo(ctx context.Context, accessToken string) (*google.AccountInfo, error)
}

// CalendarLister lists the calendars of a connected account.
type CalendarLister interface {
	ListCalendars(ctx context.Context, accessToken string) ([]calendar.Summary, error)
}

// MappingRemover drops the event mappings of a sync.
type MappingRemover interface {
	DeleteAll(syncID string) (int64, error)
}

// SyncTrigger runs syncs on demand.
type SyncTrigger interface {
	TriggerSync(ctx context.Context, syncID string) (*engine.RunResult, error)
	ForgetSync(syncID string)
}

// ActivitySource reports running and recently finished runs.
type ActivitySource interface {
	GetActive() []*activity.SyncActivity
	GetRecent() []*activity.SyncActivity
	IsSyncRunning(syncID string) bool
}

// AlertState is the alerting bookkeeping: which syncs are failing, and
// forgetting deleted ones.
type AlertState interface {
	FailingSyncIDs() []string
	ClearState(syncID string)
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	cfg       *config.Config
	db        *db.DB
	session   *auth.SessionManager
	login     LoginProvider
	accounts  AccountConnector
	calendars CalendarLister
	mappings  MappingRemover
	scheduler SyncTrigger
	activity  ActivitySource
	alerts    AlertState
}

// NewHandlers creates a new Handlers instance. alerts may be nil.
func NewHandlers(
	cfg *config.Config,
	database *db.DB,
	session *auth.SessionManager,
	login LoginProvider,
	accounts AccountConnector,
	calendars CalendarLister,
	mappings MappingRemover,
	sched SyncTrigger,
	tracker ActivitySource,
	alerts AlertState,
) *Handlers {
	return &Handlers{
		cfg:       cfg,
		db:        database,
		session:   session,
		login:     login,
		accounts:  accounts,
		calendars: calendars,
		mappings:  mappings,
		scheduler: sched,
		activity:  tracker,
		alerts:    alerts,
	}
}

// HealthCheck returns a full health report.
func (h *Handlers) HealthCheck(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		log.Printf("[HTTP] Health check: database unavailable: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "ok"})
}

// Liveness returns a simple liveness check.
func (h *Handlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Readiness reports whether the database can serve requests.
func (h *Handlers) Readiness(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Login initiates OIDC authentication.
func (h *Handlers) Login(c *gin.Context) {
	state, err := auth.GenerateState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate state"})
		return
	}
	nonce, err := auth.GenerateState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate state"})
		return
	}

	if err := h.session.SetOAuthState(c.Writer, c.Request, state, nonce); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save state"})
		return
	}

	if redirect := c.Query("redirect"); IsSafeRedirectURL(redirect) {
		c.SetCookie(redirectCookie, redirect, 600, "/", "", h.cfg.IsProduction(), true)
	}

	c.Redirect(http.StatusFound, h.login.AuthCodeURL(state, nonce))
}

// Callback handles the OIDC callback.
func (h *Handlers) Callback(c *gin.Context) {
	savedState, nonce, err := h.session.GetOAuthState(c.Writer, c.Request)
	if err != nil || c.Query("state") != savedState {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid state parameter"})
		return
	}

	// Check for error from OIDC provider
	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authentication failed: " + errParam})
		return
	}

	claims, err := h.login.Authenticate(c.Request.Context(), c.Query("code"), nonce)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeError(err, "Failed to verify login")})
		return
	}

	user, err := h.db.GetOrCreateUser(claims.Email, claims.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to create user")})
		return
	}

	sessionData := &auth.SessionData{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}
	if err := h.session.Set(c.Writer, c.Request, sessionData); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	// Check for redirect cookie with validation to prevent open redirect
	redirectURL := "/"
	if cookie, err := c.Cookie(redirectCookie); err == nil && cookie != "" {
		if IsSafeRedirectURL(cookie) {
			redirectURL = cookie
		}
		c.SetCookie(redirectCookie, "", -1, "/", "", h.cfg.IsProduction(), true)
	}

	c.Redirect(http.StatusFound, h.frontendURL(redirectURL))
}

// Logout clears the session.
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.session.Clear(c.Writer, c.Request); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		return
	}
	c.Redirect(http.StatusFound, h.frontendURL("/"))
}

// GoogleConnect starts linking a Google account. The optional prefix and
// color query parameters are applied to the stored connection.
func (h *Handlers) GoogleConnect(c *gin.Context) {
	cs := &auth.ConnectState{
		Prefix: strings.TrimSpace(c.Query("prefix")),
		Color:  c.Query("color"),
	}
	if cs.Color != "" && !palette.IsHexColor(cs.Color) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "color must be a #RRGGBB value"})
		return
	}

	state, err := auth.GenerateState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate state"})
		return
	}
	cs.State = state

	if err := h.session.SetConnectState(c.Writer, c.Request, cs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save state"})
		return
	}

	c.Redirect(http.StatusFound, h.accounts.AuthCodeURL(state))
}

// GoogleCallback finishes linking a Google account: it stores the
// connection with its tokens and every calendar of the account.
func (h *Handlers) GoogleCallback(c *gin.Context) {
	session := auth.GetCurrentUser(c)

	cs, err := h.session.PopConnectState(c.Writer, c.Request)
	if err != nil || c.Query("state") != cs.State {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid state parameter"})
		return
	}

	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authorization failed: " + errParam})
		return
	}

	ctx := c.Request.Context()

	info, err := h.accounts.ExchangeCode(ctx, c.Query("code"))
	if err != nil {
		msg := "Failed to connect account"
		if errors.Is(err, google.ErrNoRefreshToken) {
			msg = "Google did not grant offline access. Remove the app from your Google account and try again."
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeError(err, msg)})
		return
	}

	account, err := h.accounts.UserInfo(ctx, info.AccessToken)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": sanitizeError(err, "Failed to read account details")})
		return
	}

	conn := &db.Connection{
		UserID:            session.UserID,
		Provider:          db.DefaultProvider,
		ProviderAccountID: account.Email,
		AccountEmail:      account.Email,
		AccessToken:       info.AccessToken,
		RefreshToken:      info.RefreshToken,
		TokenExpiresAt:    info.ExpiresAt,
		CalendarPrefix:    cs.Prefix,
		ColorTag:          cs.Color,
	}
	if err := h.db.UpsertConnection(conn); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to save connection")})
		return
	}

	summaries, err := h.calendars.ListCalendars(ctx, info.AccessToken)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": sanitizeError(err, "Failed to list calendars")})
		return
	}
	for _, s := range summaries {
		cal := &db.Calendar{
			ConnectionID:       conn.ID,
			ProviderCalendarID: s.ID,
			Name:               s.Name,
			IsPrimary:          s.Primary,
			TimeZone:           s.TimeZone,
		}
		if err := h.db.UpsertCalendar(cal); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to save calendars")})
			return
		}
	}

	log.Printf("[HTTP] Connected account %s for user %s with %d calendars", conn.ID, session.UserID, len(summaries))
	c.Redirect(http.StatusFound, h.frontendURL("/connections?connected="+conn.ID))
}

// frontendURL joins a relative path onto the configured dashboard URL.
func (h *Handlers) frontendURL(path string) string {
	if h.cfg == nil || h.cfg.Server.FrontendURL == "" {
		return path
	}
	return strings.TrimSuffix(h.cfg.Server.FrontendURL, "/") + path
}
