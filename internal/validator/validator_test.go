package validator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateURL(t *testing.T) {
	v := New()

	tests := []struct {
		name         string
		url          string
		requireHTTPS bool
		wantErr      error
	}{
		{"https ok", "https://calmirror.example.com", true, nil},
		{"http ok when not required", "http://localhost:8080", false, nil},
		{"http rejected when required", "http://calmirror.example.com", true, ErrHTTPSRequired},
		{"empty", "", false, ErrInvalidURL},
		{"missing host", "https://", false, ErrInvalidURL},
		{"bad scheme", "ftp://example.com", false, ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateURL(tt.url, tt.requireHTTPS)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateURL() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateURL() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateWebhookURL(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"public https", "https://hooks.slack.com/services/T000/B000/XXX", nil},
		{"plain http", "http://hooks.slack.com/services/x", ErrHTTPSRequired},
		{"localhost", "https://localhost/hook", ErrInternalHost},
		{"local suffix", "https://printer.local/hook", ErrInternalHost},
		{"internal suffix", "https://alerts.corp.internal/hook", ErrInternalHost},
		{"loopback ip", "https://127.0.0.1/hook", ErrPrivateIP},
		{"private ip", "https://10.1.2.3/hook", ErrPrivateIP},
		{"private 172 range", "https://172.20.0.5/hook", ErrPrivateIP},
		{"link local", "https://169.254.169.254/latest", ErrPrivateIP},
		{"ipv6 loopback", "https://[::1]/hook", ErrPrivateIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateWebhookURL(tt.url)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateWebhookURL() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateWebhookURL() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("private allowed when configured", func(t *testing.T) {
		if err := New(WithAllowPrivateIPs()).ValidateWebhookURL("https://10.0.0.1/hook"); err != nil {
			t.Errorf("expected private address to be allowed, got %v", err)
		}
	})
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.1", true},
		{"192.168.1.1", true},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"0.0.0.0", true},
		{"fe80::1", true},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := isPrivateIP(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}

	if isPrivateIP(nil) {
		t.Error("nil IP must not be private")
	}
}

func TestValidateOIDCIssuer(t *testing.T) {
	t.Run("requires https", func(t *testing.T) {
		err := New().ValidateOIDCIssuer(context.Background(), "http://idp.example.com")
		if !errors.Is(err, ErrInvalidOIDCIssuer) || !errors.Is(err, ErrHTTPSRequired) {
			t.Errorf("expected issuer and https errors, got %v", err)
		}
	})

	t.Run("discovery endpoint checked", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/.well-known/openid-configuration" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		v := New(WithAllowPrivateIPs())
		v.client = srv.Client()

		if err := v.ValidateOIDCIssuer(context.Background(), srv.URL+"/"); err != nil {
			t.Errorf("ValidateOIDCIssuer() error = %v", err)
		}
	})

	t.Run("discovery failure", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		v := New()
		v.client = srv.Client()

		err := v.ValidateOIDCIssuer(context.Background(), srv.URL)
		if !errors.Is(err, ErrInvalidOIDCIssuer) {
			t.Errorf("expected ErrInvalidOIDCIssuer, got %v", err)
		}
	})

	t.Run("private issuer refused by dialer", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		err := New().ValidateOIDCIssuer(context.Background(), srv.URL)
		if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, ErrPrivateIP) {
			t.Errorf("expected private IP refusal, got %v", err)
		}
	})
}
