package web

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/calmirror/internal/auth"
)

// SetupRoutes configures all application routes.
func SetupRoutes(r *gin.Engine, h *Handlers, sm *auth.SessionManager) {
	// Health endpoints (no auth, no rate limit)
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.Liveness)
	r.GET("/ready", h.Readiness)

	origins := AllowedOrigins(h.cfg.IsDevelopment(), h.cfg.Server.BaseURL, h.cfg.Server.FrontendURL)

	// Auth endpoints with rate limiting to prevent brute force attacks
	authRateLimiter := RateLimiter(5, 10) // 5 requests/sec, burst of 10
	authGroup := r.Group("/auth")
	authGroup.Use(authRateLimiter)
	{
		authGroup.GET("/login", h.Login)
		authGroup.POST("/login", h.Login)
		authGroup.GET("/callback", h.Callback)
		authGroup.POST("/logout", h.Logout)
	}

	// Calendar account connect flow (requires a signed-in user)
	connectGroup := r.Group("/auth/google")
	connectGroup.Use(authRateLimiter)
	connectGroup.Use(auth.RequireAuth(sm))
	{
		connectGroup.GET("/init", h.GoogleConnect)
		connectGroup.GET("/callback", h.GoogleCallback)
	}

	apiRateLimiter := RateLimiter(h.cfg.RateLimiting.RPS, h.cfg.RateLimiting.Burst)
	apiGroup := r.Group("/api")
	apiGroup.Use(apiRateLimiter)
	apiGroup.Use(auth.OptionalAuth(sm))
	{
		apiGroup.GET("/auth/status", h.APIAuthStatus)
		apiGroup.POST("/auth/logout", h.APILogout)
	}

	// Protected API routes with rate limiting, origin validation, and content-type validation
	protectedAPI := r.Group("/api")
	protectedAPI.Use(apiRateLimiter)
	protectedAPI.Use(auth.RequireAuth(sm))
	protectedAPI.Use(ValidateOrigin(origins))  // CSRF protection via origin check
	protectedAPI.Use(RequireJSONContentType()) // Validate Content-Type header
	{
		protectedAPI.GET("/connections", h.APIListConnections)
		protectedAPI.GET("/connections/:id/calendars", h.APIListCalendars)
		protectedAPI.PATCH("/connections/:id", h.APIUpdateConnection)
		protectedAPI.DELETE("/connections/:id", h.APIDeleteConnection)

		protectedAPI.GET("/syncs", h.APIListSyncs)
		protectedAPI.POST("/syncs", h.APICreateSync)
		protectedAPI.GET("/syncs/:id", h.APIGetSync)
		protectedAPI.PATCH("/syncs/:id", h.APIUpdateSync)
		protectedAPI.DELETE("/syncs/:id", h.APIDeleteSync)
		protectedAPI.GET("/syncs/:id/settings", h.APIGetSyncSettings)
		protectedAPI.PATCH("/syncs/:id/settings", h.APIUpdateSyncSettings)
		protectedAPI.GET("/syncs/:id/logs", h.APIGetSyncLogs)
		protectedAPI.DELETE("/syncs/:id/mappings", h.APIDeleteMappings)

		protectedAPI.GET("/activity", h.APIActivity)
		protectedAPI.GET("/colors", h.APIColors)
	}

	// Expensive operations with stricter rate limiting (calls the calendar provider)
	expensiveRateLimiter := RateLimiter(2, 5) // 2 requests/sec, burst of 5
	expensiveAPI := r.Group("/api")
	expensiveAPI.Use(expensiveRateLimiter)
	expensiveAPI.Use(auth.RequireAuth(sm))
	expensiveAPI.Use(ValidateOrigin(origins))
	expensiveAPI.Use(RequireJSONContentType())
	{
		expensiveAPI.POST("/syncs/:id/trigger", h.APITriggerSync)
	}

	// Serve dashboard static files
	setupDashboard(r)
}

// setupDashboard serves the built dashboard from web/dist when present.
func setupDashboard(r *gin.Engine) {
	webDistPath := "web/dist"
	if _, err := os.Stat(webDistPath); os.IsNotExist(err) {
		// API-only deployment
		return
	}

	r.Static("/assets", filepath.Join(webDistPath, "assets"))

	// SPA fallback - serve index.html for all unmatched routes
	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api") || strings.HasPrefix(path, "/auth") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.File(filepath.Join(webDistPath, "index.html"))
	})
}
