package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/calmirror/internal/activity"
	"github.com/macjediwizard/calmirror/internal/auth"
	"github.com/macjediwizard/calmirror/internal/db"
	"github.com/macjediwizard/calmirror/internal/palette"
	"github.com/macjediwizard/calmirror/internal/scheduler"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// sanitizeError returns a user-safe error message without exposing internal details.
// Internal error details are logged but not returned to the client.
func sanitizeError(err error, userMessage string) string {
	if err != nil {
		log.Printf("[HTTP] Error: %s - Details: %v", userMessage, err)
	}
	return userMessage
}

// APIAuthStatus represents auth status response.
type APIAuthStatus struct {
	Authenticated bool     `json:"authenticated"`
	User          *APIUser `json:"user,omitempty"`
}

// APIUser represents a user in JSON format.
type APIUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// APISync is a sync with its settings and live state.
type APISync struct {
	*db.Sync
	Settings *db.SyncSettings `json:"settings,omitempty"`
	Running  bool             `json:"running"`
	Failing  bool             `json:"failing"`
}

// APIAuthStatus returns the authentication status.
func (h *Handlers) APIAuthStatus(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusOK, APIAuthStatus{Authenticated: false})
		return
	}

	c.JSON(http.StatusOK, APIAuthStatus{
		Authenticated: true,
		User: &APIUser{
			ID:    session.UserID,
			Email: session.Email,
			Name:  session.Name,
		},
	})
}

// APILogout logs out the user.
func (h *Handlers) APILogout(c *gin.Context) {
	if err := h.session.Clear(c.Writer, c.Request); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// APIListConnections returns the user's connections with their calendars.
func (h *Handlers) APIListConnections(c *gin.Context) {
	session := auth.GetCurrentUser(c)

	conns, err := h.db.GetConnectionsByUserID(session.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load connections")})
		return
	}

	for _, conn := range conns {
		cals, err := h.db.GetCalendarsByConnectionID(conn.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load calendars")})
			return
		}
		conn.Calendars = cals
	}

	if conns == nil {
		conns = []*db.Connection{}
	}
	c.JSON(http.StatusOK, conns)
}

// APIListCalendars returns the calendars of one connection.
func (h *Handlers) APIListCalendars(c *gin.Context) {
	conn, ok := h.ownedConnection(c)
	if !ok {
		return
	}

	cals, err := h.db.GetCalendarsByConnectionID(conn.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load calendars")})
		return
	}
	if cals == nil {
		cals = []*db.Calendar{}
	}
	c.JSON(http.StatusOK, cals)
}

// updateConnectionRequest is the body of PATCH /api/connections/:id.
type updateConnectionRequest struct {
	CalendarPrefix *string `json:"calendar_prefix"`
	ColorTag       *string `json:"color_tag"`
	IsActive       *bool   `json:"is_active"`
}

// APIUpdateConnection changes a connection's prefix, color or active flag.
func (h *Handlers) APIUpdateConnection(c *gin.Context) {
	conn, ok := h.ownedConnection(c)
	if !ok {
		return
	}

	var req updateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	prefix, color := conn.CalendarPrefix, conn.ColorTag
	if req.CalendarPrefix != nil {
		prefix = strings.TrimSpace(*req.CalendarPrefix)
	}
	if req.ColorTag != nil {
		if !palette.IsHexColor(*req.ColorTag) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "color_tag must be a #RRGGBB value"})
			return
		}
		color = *req.ColorTag
	}

	if req.CalendarPrefix != nil || req.ColorTag != nil {
		if err := h.db.UpdateConnectionAppearance(conn.ID, prefix, color); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to update connection")})
			return
		}
	}
	if req.IsActive != nil {
		if err := h.db.SetConnectionActive(conn.ID, *req.IsActive); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to update connection")})
			return
		}
	}

	updated, err := h.db.GetConnectionByID(conn.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load connection")})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// APIDeleteConnection removes a connection with its calendars and syncs.
func (h *Handlers) APIDeleteConnection(c *gin.Context) {
	conn, ok := h.ownedConnection(c)
	if !ok {
		return
	}

	if err := h.db.DeleteConnection(conn.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to delete connection")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Connection deleted"})
}

// APIListSyncs returns the user's syncs.
func (h *Handlers) APIListSyncs(c *gin.Context) {
	session := auth.GetCurrentUser(c)

	syncs, err := h.db.GetSyncsByUserID(session.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load syncs")})
		return
	}
	if syncs == nil {
		syncs = []*db.Sync{}
	}
	c.JSON(http.StatusOK, syncs)
}

// createSyncRequest is the body of POST /api/syncs.
type createSyncRequest struct {
	SourceCalendarID string           `json:"source_calendar_id"`
	TargetCalendarID string           `json:"target_calendar_id"`
	SyncDirection    db.SyncDirection `json:"sync_direction"`
}

// APICreateSync pairs two of the user's calendars.
func (h *Handlers) APICreateSync(c *gin.Context) {
	session := auth.GetCurrentUser(c)

	var req createSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.SourceCalendarID == "" || req.TargetCalendarID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_calendar_id and target_calendar_id are required"})
		return
	}
	if req.SourceCalendarID == req.TargetCalendarID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Source and target calendar must differ"})
		return
	}
	if req.SyncDirection != "" && !req.SyncDirection.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sync_direction"})
		return
	}

	for _, id := range []string{req.SourceCalendarID, req.TargetCalendarID} {
		owned, err := h.db.CalendarOwnedBy(id, session.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to verify calendars")})
			return
		}
		if !owned {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Calendar not found"})
			return
		}
	}

	s := &db.Sync{
		UserID:           session.UserID,
		SourceCalendarID: req.SourceCalendarID,
		TargetCalendarID: req.TargetCalendarID,
		SyncDirection:    req.SyncDirection,
	}
	settings, err := h.db.CreateSync(s)
	if err != nil {
		if errors.Is(err, db.ErrSameCalendar) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Source and target calendar must differ"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to create sync")})
		return
	}

	c.JSON(http.StatusCreated, APISync{Sync: s, Settings: settings})
}

// APIGetSync returns one sync with its settings.
func (h *Handlers) APIGetSync(c *gin.Context) {
	s, ok := h.ownedSync(c)
	if !ok {
		return
	}

	settings, err := h.db.GetSyncSettings(s.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load settings")})
		return
	}
	c.JSON(http.StatusOK, APISync{
		Sync:     s,
		Settings: settings,
		Running:  h.activity.IsSyncRunning(s.ID),
		Failing:  slices.Contains(h.failingSyncIDs(), s.ID),
	})
}

// failingSyncIDs returns the syncs whose last run failed, sorted.
func (h *Handlers) failingSyncIDs() []string {
	if h.alerts == nil {
		return nil
	}
	ids := h.alerts.FailingSyncIDs()
	slices.Sort(ids)
	return ids
}

// updateSyncRequest is the body of PATCH /api/syncs/:id.
type updateSyncRequest struct {
	IsActive      *bool             `json:"is_active"`
	SyncDirection *db.SyncDirection `json:"sync_direction"`
}

// APIUpdateSync toggles a sync or changes its direction.
func (h *Handlers) APIUpdateSync(c *gin.Context) {
	s, ok := h.ownedSync(c)
	if !ok {
		return
	}

	var req updateSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.SyncDirection != nil {
		if !req.SyncDirection.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sync_direction"})
			return
		}
		s.SyncDirection = *req.SyncDirection
	}
	if req.IsActive != nil {
		s.IsActive = *req.IsActive
	}

	if err := h.db.UpdateSync(s); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to update sync")})
		return
	}
	c.JSON(http.StatusOK, s)
}

// APIDeleteSync deletes a sync with its settings, mappings and logs.
func (h *Handlers) APIDeleteSync(c *gin.Context) {
	s, ok := h.ownedSync(c)
	if !ok {
		return
	}

	if err := h.db.DeleteSync(s.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to delete sync")})
		return
	}

	h.scheduler.ForgetSync(s.ID)
	if h.alerts != nil {
		h.alerts.ClearState(s.ID)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Sync deleted"})
}

// APIGetSyncSettings returns the per-direction settings of a sync.
func (h *Handlers) APIGetSyncSettings(c *gin.Context) {
	s, ok := h.ownedSync(c)
	if !ok {
		return
	}

	settings, err := h.db.GetSyncSettings(s.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load settings")})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// settingsRequest is the body of PATCH /api/syncs/:id/settings. The
// top-level fields are the older shared settings and apply to both
// directions; a per-direction value wins over a shared one.
type settingsRequest struct {
	PrivacyMode     *bool          `json:"privacy_mode"`
	PlaceholderText *string        `json:"placeholder_text"`
	EventFilterType *db.FilterType `json:"event_filter_type"`

	SourceToTarget db.DirectionPatch `json:"source_to_target"`
	TargetToSource db.DirectionPatch `json:"target_to_source"`
}

func (r *settingsRequest) patch() db.SettingsPatch {
	shared := db.DirectionPatch{
		PrivacyMode:     r.PrivacyMode,
		PlaceholderText: r.PlaceholderText,
		EventFilterType: r.EventFilterType,
	}
	return db.SettingsPatch{
		SourceToTarget: mergePatch(shared, r.SourceToTarget),
		TargetToSource: mergePatch(shared, r.TargetToSource),
	}
}

// mergePatch overlays specific onto shared.
func mergePatch(shared, specific db.DirectionPatch) db.DirectionPatch {
	out := shared
	if specific.PrivacyMode != nil {
		out.PrivacyMode = specific.PrivacyMode
	}
	if specific.PlaceholderText != nil {
		out.PlaceholderText = specific.PlaceholderText
	}
	if specific.EventFilterType != nil {
		out.EventFilterType = specific.EventFilterType
	}
	if specific.Prefix != nil {
		out.Prefix = specific.Prefix
	}
	return out
}

func validateDirectionPatch(p db.DirectionPatch) string {
	if p.EventFilterType != nil && !p.EventFilterType.IsValid() {
		return "Invalid event_filter_type"
	}
	if p.PlaceholderText != nil && strings.TrimSpace(*p.PlaceholderText) == "" {
		return "placeholder_text must not be empty"
	}
	return ""
}

// APIUpdateSyncSettings applies a partial settings update.
func (h *Handlers) APIUpdateSyncSettings(c *gin.Context) {
	s, ok := h.ownedSync(c)
	if !ok {
		return
	}

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	patch := req.patch()
	for _, p := range []db.DirectionPatch{patch.SourceToTarget, patch.TargetToSource} {
		if msg := validateDirectionPatch(p); msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}
	}

	settings, err := h.db.UpdateSyncSettings(s.ID, patch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to update settings")})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// APITriggerSync runs a sync now and returns the run result.
func (h *Handlers) APITriggerSync(c *gin.Context) {
	s, ok := h.ownedSync(c)
	if !ok {
		return
	}

	// A client disconnect must not abort a run halfway through its writes.
	result, err := h.scheduler.TriggerSync(context.WithoutCancel(c.Request.Context()), s.ID)
	if errors.Is(err, scheduler.ErrSyncInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "Sync already in progress"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to run sync")})
		return
	}

	c.JSON(http.StatusOK, result)
}

// APIGetSyncLogs returns recent run records of a sync.
func (h *Handlers) APIGetSyncLogs(c *gin.Context) {
	s, ok := h.ownedSync(c)
	if !ok {
		return
	}

	limit := defaultLogLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, maxLogLimit)
		}
	}

	logs, err := h.db.GetSyncLogs(s.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load logs")})
		return
	}
	if logs == nil {
		logs = []*db.SyncLog{}
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":  logs,
		"limit": limit,
	})
}

// APIDeleteMappings forgets every event mapping of a sync. The next run
// recreates copies for all source events in the window.
func (h *Handlers) APIDeleteMappings(c *gin.Context) {
	s, ok := h.ownedSync(c)
	if !ok {
		return
	}

	deleted, err := h.mappings.DeleteAll(s.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to delete mappings")})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// APIActivity returns running and recent runs of the user's syncs, plus the
// ones whose last run failed.
func (h *Handlers) APIActivity(c *gin.Context) {
	session := auth.GetCurrentUser(c)

	syncs, err := h.db.GetSyncsByUserID(session.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load syncs")})
		return
	}
	owned := make(map[string]bool, len(syncs))
	for _, s := range syncs {
		owned[s.ID] = true
	}

	failing := []string{}
	for _, id := range h.failingSyncIDs() {
		if owned[id] {
			failing = append(failing, id)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"active":  filterActivity(h.activity.GetActive(), owned),
		"recent":  filterActivity(h.activity.GetRecent(), owned),
		"failing": failing,
	})
}

func filterActivity(all []*activity.SyncActivity, owned map[string]bool) []*activity.SyncActivity {
	out := make([]*activity.SyncActivity, 0, len(all))
	for _, a := range all {
		if owned[a.SyncID] {
			out = append(out, a)
		}
	}
	return out
}

// APIColors returns the event color palette.
func (h *Handlers) APIColors(c *gin.Context) {
	c.JSON(http.StatusOK, palette.Colors())
}

// ownedSync loads the :id sync and writes a 404 unless it belongs to the
// current user.
func (h *Handlers) ownedSync(c *gin.Context) (*db.Sync, bool) {
	session := auth.GetCurrentUser(c)

	s, err := h.db.GetSyncByID(c.Param("id"))
	if err != nil || s.UserID != session.UserID {
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			log.Printf("[HTTP] Failed to load sync %s: %v", c.Param("id"), err)
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Sync not found"})
		return nil, false
	}
	return s, true
}

// ownedConnection loads the :id connection and writes a 404 unless it
// belongs to the current user.
func (h *Handlers) ownedConnection(c *gin.Context) (*db.Connection, bool) {
	session := auth.GetCurrentUser(c)

	conn, err := h.db.GetConnectionByID(c.Param("id"))
	if err != nil || conn.UserID != session.UserID {
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			log.Printf("[HTTP] Failed to load connection %s: %v", c.Param("id"), err)
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
		return nil, false
	}
	return conn, true
}
