package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/macjediwizard/calmirror/internal/activity"
	"github.com/macjediwizard/calmirror/internal/auth"
	"github.com/macjediwizard/calmirror/internal/config"
	"github.com/macjediwizard/calmirror/internal/crypto"
	"github.com/macjediwizard/calmirror/internal/db"
	"github.com/macjediwizard/calmirror/internal/dedup"
	"github.com/macjediwizard/calmirror/internal/engine"
	"github.com/macjediwizard/calmirror/internal/google"
	"github.com/macjediwizard/calmirror/internal/notify"
	"github.com/macjediwizard/calmirror/internal/scheduler"
	"github.com/macjediwizard/calmirror/internal/tokens"
	"github.com/macjediwizard/calmirror/internal/web"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 10 * time.Minute // Manual triggers run synchronously
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
	validateTimeout = 15 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting CalMirror...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	validateCtx, cancelValidate := context.WithTimeout(context.Background(), validateTimeout)
	err = cfg.Validate(validateCtx)
	cancelValidate()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Tokens are encrypted at rest
	encryptor, err := crypto.NewEncryptor(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize encryptor: %v", err)
	}

	database, err := db.New(cfg.Database.Path, db.WithTokenCipher(encryptor))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	ctx := context.Background()
	oidcProvider, err := auth.NewOIDCProvider(
		ctx,
		cfg.OIDC.Issuer,
		cfg.OIDC.ClientID,
		cfg.OIDC.ClientSecret,
		cfg.OIDC.RedirectURL,
	)
	if err != nil {
		log.Fatalf("Failed to initialize OIDC provider: %v", err)
	}

	sessionManager := auth.NewSessionManager(
		cfg.Security.SessionSecret,
		cfg.IsProduction(),
		cfg.Security.SessionMaxAgeSecs,
	)

	// Google account linking and calendar access
	tokenProvider := google.NewTokenProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)
	calendarProvider := google.NewCalendarProvider()

	mappings := dedup.NewService(database)
	tracker := activity.NewTracker()

	syncEngine := engine.NewSyncEngine(
		database,
		mappings,
		tokens.NewGuard(database, tokenProvider),
		calendarProvider,
		engine.WithPause(cfg.Sync.Pause),
		engine.WithCallTimeout(cfg.Sync.CallTimeout),
		engine.WithObserver(tracker),
	)

	notifyCfg := &notify.Config{
		WebhookEnabled: cfg.Alerts.WebhookEnabled,
		WebhookURL:     cfg.Alerts.WebhookURL,
		CooldownPeriod: time.Duration(cfg.Alerts.CooldownMinutes) * time.Minute,
	}
	if notifyCfg.WebhookEnabled {
		if err := notify.ValidateConfig(notifyCfg); err != nil {
			log.Fatalf("Invalid alert configuration: %v", err)
		}
	}
	notifier := notify.New(notifyCfg)

	if notifier.IsEnabled() {
		log.Printf("Alert notifications enabled (cooldown: %d min)", cfg.Alerts.CooldownMinutes)
	}

	sched := scheduler.New(database, syncEngine, notifier, scheduler.Config{
		Schedule:         cfg.Sync.Schedule,
		LogRetentionDays: cfg.Sync.LogRetentionDays,
	})

	handlers := web.NewHandlers(
		cfg,
		database,
		sessionManager,
		oidcProvider,
		tokenProvider,
		calendarProvider,
		mappings,
		sched,
		tracker,
		notifier,
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestLogger())
	router.Use(web.SecurityHeaders())

	web.SetupRoutes(router, handlers, sessionManager)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Let in-flight runs and alerts finish before the database closes
	sched.Stop()
	notifier.Wait()

	log.Println("Server stopped")
}
