package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/macjediwizard/calmirror/internal/db"
	"github.com/macjediwizard/calmirror/internal/engine"
)

type webhookRecorder struct {
	mu       sync.Mutex
	payloads []WebhookPayload
}

func (r *webhookRecorder) handler(w http.ResponseWriter, req *http.Request) {
	var p WebhookPayload
	_ = json.NewDecoder(req.Body).Decode(&p)
	r.mu.Lock()
	r.payloads = append(r.payloads, p)
	r.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (r *webhookRecorder) all() []WebhookPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WebhookPayload(nil), r.payloads...)
}

func newTestNotifier(t *testing.T) (*Notifier, *webhookRecorder, *time.Time) {
	t.Helper()

	rec := &webhookRecorder{}
	srv := httptest.NewTLSServer(http.HandlerFunc(rec.handler))
	t.Cleanup(srv.Close)

	n := New(&Config{WebhookEnabled: true, WebhookURL: srv.URL, CooldownPeriod: time.Hour})
	n.httpClient = srv.Client()

	clock := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return clock }
	return n, rec, &clock
}

var (
	failed = &engine.RunResult{Status: db.SyncStatusError, ErrorMessage: "token refresh failed"}
	ok     = &engine.RunResult{Status: db.SyncStatusSuccess, EventsProcessed: 3, EventsCreated: 1}
)

func TestRunCompleted(t *testing.T) {
	ctx := context.Background()

	t.Run("success without prior failure is silent", func(t *testing.T) {
		n, rec, _ := newTestNotifier(t)
		if n.RunCompleted(ctx, "s1", ok) {
			t.Error("expected no alert")
		}
		n.Wait()
		if len(rec.all()) != 0 {
			t.Errorf("unexpected webhook calls: %+v", rec.all())
		}
	})

	t.Run("error then cooldown then recovery", func(t *testing.T) {
		n, rec, clock := newTestNotifier(t)

		if !n.RunCompleted(ctx, "s1", failed) {
			t.Fatal("expected error alert")
		}
		*clock = clock.Add(10 * time.Minute)
		if n.RunCompleted(ctx, "s1", failed) {
			t.Error("expected second failure to be suppressed by cooldown")
		}
		*clock = clock.Add(time.Hour)
		if !n.RunCompleted(ctx, "s1", failed) {
			t.Error("expected alert after cooldown")
		}
		if ids := n.FailingSyncIDs(); len(ids) != 1 || ids[0] != "s1" {
			t.Errorf("unexpected failing syncs: %v", ids)
		}
		if !n.RunCompleted(ctx, "s1", ok) {
			t.Error("expected recovery alert")
		}
		n.Wait()

		got := rec.all()
		if len(got) != 3 {
			t.Fatalf("expected 3 webhook calls, got %d", len(got))
		}
		var errors, recoveries int
		for _, p := range got {
			switch AlertType(p.AlertType) {
			case AlertTypeError:
				errors++
				if p.Details != "token refresh failed" || p.SyncID != "s1" {
					t.Errorf("unexpected error payload: %+v", p)
				}
			case AlertTypeRecovery:
				recoveries++
			}
			if p.Text == "" {
				t.Error("expected Slack text")
			}
		}
		if errors != 2 || recoveries != 1 {
			t.Errorf("expected 2 errors and 1 recovery, got %d and %d", errors, recoveries)
		}
		if len(n.FailingSyncIDs()) != 0 {
			t.Error("expected failing state cleared")
		}
	})

	t.Run("disabled webhook still tracks state", func(t *testing.T) {
		n := New(&Config{CooldownPeriod: time.Hour})
		if n.RunCompleted(ctx, "s1", failed) {
			t.Error("expected no dispatch when disabled")
		}
		if len(n.FailingSyncIDs()) != 1 {
			t.Error("expected failure to be tracked")
		}
		n.ClearState("s1")
		if len(n.FailingSyncIDs()) != 0 {
			t.Error("expected state cleared")
		}
	})

	t.Run("nil result", func(t *testing.T) {
		n, _, _ := newTestNotifier(t)
		if n.RunCompleted(ctx, "s1", nil) {
			t.Error("expected no alert")
		}
	})
}

func TestSendWebhookStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := New(&Config{WebhookEnabled: true, WebhookURL: srv.URL, CooldownPeriod: time.Hour})
	n.httpClient = srv.Client()

	if err := n.sendWebhook(context.Background(), Alert{Type: AlertTypeError, SyncID: "s1"}); err == nil {
		t.Error("expected error for 502 response")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled", Config{CooldownPeriod: time.Hour}, false},
		{"valid webhook", Config{WebhookEnabled: true, WebhookURL: "https://hooks.slack.com/services/x", CooldownPeriod: time.Hour}, false},
		{"missing url", Config{WebhookEnabled: true, CooldownPeriod: time.Hour}, true},
		{"http url", Config{WebhookEnabled: true, WebhookURL: "http://hooks.slack.com/x", CooldownPeriod: time.Hour}, true},
		{"private url", Config{WebhookEnabled: true, WebhookURL: "https://192.168.1.10/x", CooldownPeriod: time.Hour}, true},
		{"short cooldown", Config{CooldownPeriod: time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
