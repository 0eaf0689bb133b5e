package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/calmirror/internal/activity"
	"github.com/macjediwizard/calmirror/internal/auth"
	"github.com/macjediwizard/calmirror/internal/calendar"
	"github.com/macjediwizard/calmirror/internal/config"
	"github.com/macjediwizard/calmirror/internal/db"
	"github.com/macjediwizard/calmirror/internal/dedup"
	"github.com/macjediwizard/calmirror/internal/engine"
	"github.com/macjediwizard/calmirror/internal/google"
	"github.com/macjediwizard/calmirror/internal/tokens"
)

type fakeLogin struct {
	claims   *auth.OIDCClaims
	err      error
	gotCode  string
	gotNonce string
}

func (f *fakeLogin) AuthCodeURL(state, nonce string) string {
	return "https://idp.example.com/authorize?state=" + state + "&nonce=" + nonce
}

func (f *fakeLogin) Authenticate(_ context.Context, code, nonce string) (*auth.OIDCClaims, error) {
	f.gotCode, f.gotNonce = code, nonce
	return f.claims, f.err
}

type fakeAccounts struct {
	info    *tokens.TokenInfo
	err     error
	account *google.AccountInfo
}

func (f *fakeAccounts) AuthCodeURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (f *fakeAccounts) ExchangeCode(context.Context, string) (*tokens.TokenInfo, error) {
	return f.info, f.err
}

func (f *fakeAccounts) UserInfo(context.Context, string) (*google.AccountInfo, error) {
	return f.account, nil
}

type fakeCalendars struct {
	summaries []calendar.Summary
	err       error
}

func (f *fakeCalendars) ListCalendars(context.Context, string) ([]calendar.Summary, error) {
	return f.summaries, f.err
}

type fakeTrigger struct {
	mu          sync.Mutex
	err         error
	cancellable bool
	forgotten   []string
}

func (f *fakeTrigger) TriggerSync(ctx context.Context, syncID string) (*engine.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancellable = ctx.Done() != nil
	if f.err != nil {
		return nil, f.err
	}
	return &engine.RunResult{SyncID: syncID, Status: db.SyncStatusSuccess, EventsProcessed: 4, EventsCreated: 2}, nil
}

func (f *fakeTrigger) ForgetSync(syncID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, syncID)
}

type fakeActivity struct {
	active  []*activity.SyncActivity
	recent  []*activity.SyncActivity
	running map[string]bool
}

func (f *fakeActivity) GetActive() []*activity.SyncActivity { return f.active }
func (f *fakeActivity) GetRecent() []*activity.SyncActivity { return f.recent }
func (f *fakeActivity) IsSyncRunning(id string) bool      { return f.running[id] }

type fakeAlerts struct {
	cleared []string
	failing []string
}

func (f *fakeAlerts) FailingSyncIDs() []string { return f.failing }

func (f *fakeAlerts) ClearState(syncID string) {
	f.cleared = append(f.cleared, syncID)
}

// testHandlers holds test dependencies.
type testHandlers struct {
	db        *db.DB
	handlers  *Handlers
	session   *auth.SessionManager
	login     *fakeLogin
	accounts  *fakeAccounts
	calendars *fakeCalendars
	trigger   *fakeTrigger
	activity  *fakeActivity
	alerts    *fakeAlerts
}

// setupTestHandlers creates handlers with a test database.
func setupTestHandlers(t *testing.T) *testHandlers {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{}
	cfg.Server.BaseURL = "https://calmirror.example.com"
	cfg.Server.FrontendURL = "https://calmirror.example.com"
	cfg.Server.Environment = config.EnvProduction
	cfg.RateLimiting.RPS = 100
	cfg.RateLimiting.Burst = 100

	th := &testHandlers{
		db:        database,
		session:   auth.NewSessionManager(strings.Repeat("k", 32), false, 3600),
		login:     &fakeLogin{},
		accounts:  &fakeAccounts{},
		calendars: &fakeCalendars{},
		trigger:   &fakeTrigger{},
		activity:  &fakeActivity{},
		alerts:    &fakeAlerts{},
	}
	th.handlers = NewHandlers(cfg, database, th.session, th.login, th.accounts, th.calendars,
		dedup.NewService(database), th.trigger, th.activity, th.alerts)

	return th
}

// setAuthContext sets the authenticated user context for testing.
func setAuthContext(c *gin.Context, userID, email string) {
	session := &auth.SessionData{
		UserID: userID,
		Email:  email,
		Name:   "Test User",
	}
	c.Set(auth.ContextKeySession, session)
}

// newTestContext builds a gin context for one request. id fills the :id
// route parameter when non-empty.
func newTestContext(method, target, body, id string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	c.Request = req

	if id != "" {
		c.Params = gin.Params{{Key: "id", Value: id}}
	}
	return c, w
}

func createTestUser(t *testing.T, database *db.DB, email string) string {
	t.Helper()

	user, err := database.GetOrCreateUser(email, "Test User")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user.ID
}

// createTestConnection stores a connection with a primary and a secondary calendar.
func createTestConnection(t *testing.T, database *db.DB, userID, account string) (*db.Connection, []*db.Calendar) {
	t.Helper()

	conn := &db.Connection{
		UserID:            userID,
		ProviderAccountID: account,
		AccountEmail:      account,
		AccessToken:       "access-secret",
		RefreshToken:      "refresh-secret",
	}
	if err := database.UpsertConnection(conn); err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}

	var cals []*db.Calendar
	for i, name := range []string{"Primary", "Team"} {
		cal := &db.Calendar{
			ConnectionID:       conn.ID,
			ProviderCalendarID: name + "@" + account,
			Name:               name,
			IsPrimary:          i == 0,
		}
		if err := database.UpsertCalendar(cal); err != nil {
			t.Fatalf("failed to create calendar: %v", err)
		}
		cals = append(cals, cal)
	}
	return conn, cals
}

func createTestSync(t *testing.T, database *db.DB, userID, sourceID, targetID string) *db.Sync {
	t.Helper()

	s := &db.Sync{UserID: userID, SourceCalendarID: sourceID, TargetCalendarID: targetID}
	if _, err := database.CreateSync(s); err != nil {
		t.Fatalf("failed to create sync: %v", err)
	}
	return s
}

// withCookies copies the cookies set on a response onto a request.
func withCookies(req *http.Request, w *httptest.ResponseRecorder) {
	for _, ck := range w.Result().Cookies() {
		req.AddCookie(ck)
	}
}
