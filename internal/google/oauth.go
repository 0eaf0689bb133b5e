package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/macjediwizard/calmirror/internal/tokens"
)

var (
	ErrCodeExchange   = errors.New("authorization code exchange failed")
	ErrNoRefreshToken = errors.New("no refresh token returned")
	ErrUserInfo       = errors.New("failed to read account info")
)

// Scopes requested when connecting a calendar account.
var Scopes = []string{
	gcal.CalendarReadonlyScope,
	gcal.CalendarEventsScope,
	oauth2api.UserinfoEmailScope,
	oauth2api.UserinfoProfileScope,
}

// AccountInfo identifies a connected Google account.
type AccountInfo struct {
	Email string
	Name  string
}

// TokenProvider runs the OAuth flow for calendar connections and refreshes
// their access tokens. It implements tokens.Refresher.
type TokenProvider struct {
	config           *oauth2.Config
	httpClient       *http.Client
	userinfoEndpoint string
}

var _ tokens.Refresher = (*TokenProvider)(nil)

// NewTokenProvider creates a TokenProvider for the given OAuth client.
func NewTokenProvider(clientID, clientSecret, redirectURL string) *TokenProvider {
	return &TokenProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     googleoauth.Endpoint,
			Scopes:       Scopes,
		},
	}
}

// AuthCodeURL returns the consent URL. Offline access with a forced consent
// prompt makes Google issue a refresh token on every connect.
func (p *TokenProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode trades an authorization code for tokens. A response without
// a refresh token is rejected since the connection could not outlive the
// first access token.
func (p *TokenProvider) ExchangeCode(ctx context.Context, code string) (*tokens.TokenInfo, error) {
	tok, err := p.config.Exchange(p.context(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodeExchange, err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %w", ErrCodeExchange, ErrNoRefreshToken)
	}

	return &tokens.TokenInfo{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.UTC(),
	}, nil
}

// Refresh obtains a new access token. RefreshToken is set only when Google
// rotated it.
func (p *TokenProvider) Refresh(ctx context.Context, refreshToken string) (*tokens.TokenInfo, error) {
	src := p.config.TokenSource(p.context(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh failed: %w", tokens.ErrAuth, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: refresh returned no access token", tokens.ErrAuth)
	}

	info := &tokens.TokenInfo{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.Expiry.UTC(),
	}
	if tok.RefreshToken != refreshToken {
		info.RefreshToken = tok.RefreshToken
	}
	return info, nil
}

// UserInfo returns the email and display name of the account behind an
// access token.
func (p *TokenProvider) UserInfo(ctx context.Context, accessToken string) (*AccountInfo, error) {
	client := oauth2.NewClient(p.context(ctx), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.userinfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.userinfoEndpoint))
	}

	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserInfo, err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserInfo, err)
	}
	if info.Email == "" {
		return nil, fmt.Errorf("%w: account has no email", ErrUserInfo)
	}

	name := info.Name
	if name == "" {
		name = info.Email
	}
	return &AccountInfo{Email: info.Email, Name: name}, nil
}

func (p *TokenProvider) context(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}
