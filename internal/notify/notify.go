// Package notify sends webhook alerts when a sync starts failing and when it
// recovers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/macjediwizard/calmirror/internal/engine"
	"github.com/macjediwizard/calmirror/internal/validator"
)

// AlertType represents the type of alert.
type AlertType string

const (
	AlertTypeError    AlertType = "error"
	AlertTypeRecovery AlertType = "recovery"
)

// Alert represents a notification alert.
type Alert struct {
	Type      AlertType
	SyncID    string
	Message   string
	Details   string
	Timestamp time.Time
}

// Config holds notification configuration.
type Config struct {
	WebhookEnabled bool
	WebhookURL     string

	// How long to wait before re-alerting for the same sync.
	CooldownPeriod time.Duration
}

// Notifier sends alert notifications.
type Notifier struct {
	cfg        *Config
	httpClient *http.Client
	now        func() time.Time

	// Track last alert time per sync to implement cooldown
	mu             sync.Mutex
	lastAlertTimes map[string]time.Time
	failing        map[string]bool
	inflight       sync.WaitGroup
}

// New creates a new Notifier. Webhook requests go through a client that
// refuses private addresses.
func New(cfg *Config) *Notifier {
	client := validator.New().HTTPClient()
	client.Timeout = 30 * time.Second

	return &Notifier{
		cfg:            cfg,
		httpClient:     client,
		now:            time.Now,
		lastAlertTimes: make(map[string]time.Time),
		failing:        make(map[string]bool),
	}
}

// ValidateConfig validates the notification configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.WebhookEnabled {
		if cfg.WebhookURL == "" {
			return fmt.Errorf("webhook URL is required when webhook is enabled")
		}
		if err := validator.New().ValidateWebhookURL(cfg.WebhookURL); err != nil {
			return fmt.Errorf("invalid webhook URL: %w", err)
		}
	}

	if cfg.CooldownPeriod < time.Minute {
		return fmt.Errorf("cooldown period must be at least 1 minute")
	}

	return nil
}

// IsEnabled returns true if alerts will be delivered.
func (n *Notifier) IsEnabled() bool {
	return n.cfg.WebhookEnabled && n.cfg.WebhookURL != ""
}

// RunCompleted inspects a finished run and sends an error alert (subject to
// cooldown) or a recovery alert. Returns true if an alert was dispatched.
func (n *Notifier) RunCompleted(ctx context.Context, syncID string, result *engine.RunResult) bool {
	if result == nil {
		return false
	}

	n.mu.Lock()
	now := n.now()

	var alert Alert
	if result.Success() {
		if !n.failing[syncID] {
			n.mu.Unlock()
			return false
		}
		delete(n.failing, syncID)
		delete(n.lastAlertTimes, syncID)
		alert = Alert{
			Type:      AlertTypeRecovery,
			SyncID:    syncID,
			Message:   fmt.Sprintf("Sync %s has recovered", syncID),
			Details:   fmt.Sprintf("Processed %d events, created %d, updated %d", result.EventsProcessed, result.EventsCreated, result.EventsUpdated),
			Timestamp: now,
		}
	} else {
		if n.failing[syncID] {
			if last, ok := n.lastAlertTimes[syncID]; ok && now.Sub(last) < n.cfg.CooldownPeriod {
				n.mu.Unlock()
				return false
			}
		}
		n.failing[syncID] = true
		n.lastAlertTimes[syncID] = now
		alert = Alert{
			Type:      AlertTypeError,
			SyncID:    syncID,
			Message:   fmt.Sprintf("Sync %s failed", syncID),
			Details:   result.ErrorMessage,
			Timestamp: now,
		}
	}
	n.mu.Unlock()

	if !n.IsEnabled() {
		return false
	}

	// Send in background to not block the scheduler.
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		if err := n.sendWebhook(context.WithoutCancel(ctx), alert); err != nil {
			log.Printf("[Notify] Webhook error: %v", err)
		}
	}()
	return true
}

// Wait blocks until all dispatched alerts have been sent or have failed.
func (n *Notifier) Wait() {
	n.inflight.Wait()
}

// ClearState forgets a sync's alert state (used on sync deletion).
func (n *Notifier) ClearState(syncID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.failing, syncID)
	delete(n.lastAlertTimes, syncID)
}

// FailingSyncIDs returns the syncs whose last run failed.
func (n *Notifier) FailingSyncIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	ids := make([]string, 0, len(n.failing))
	for id := range n.failing {
		ids = append(ids, id)
	}
	return ids
}

// WebhookPayload is the JSON payload sent to webhooks.
type WebhookPayload struct {
	AlertType string `json:"alert_type"`
	SyncID    string `json:"sync_id"`
	Message   string `json:"message"`
	Details   string `json:"details"`
	Timestamp string `json:"timestamp"`
	// Slack-compatible fields
	Text string `json:"text,omitempty"`
}

func (n *Notifier) sendWebhook(ctx context.Context, alert Alert) error {
	emoji := ":x:"
	if alert.Type == AlertTypeRecovery {
		emoji = ":white_check_mark:"
	}

	payload := WebhookPayload{
		AlertType: string(alert.Type),
		SyncID:    alert.SyncID,
		Message:   alert.Message,
		Details:   alert.Details,
		Timestamp: alert.Timestamp.Format(time.RFC3339),
		Text:      fmt.Sprintf("%s *%s*\n%s", emoji, alert.Message, alert.Details),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Printf("[Notify] Webhook sent: %s", alert.Message)
	return nil
}
