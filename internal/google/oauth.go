package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"

	"github.com/oneclicktag/server/internal/config"
)

const (
	revokeEndpoint   = "https://oauth2.googleapis.com/revoke"
	userinfoEndpoint = "https://openidconnect.googleapis.com/v1/userinfo"
)

// UserInfo holds the Google identity attached to a grant
type UserInfo struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// OAuth performs the authorization-code exchange, refresh and revocation
// against Google's OAuth2 endpoints. Credentials are passed per call; the
// client itself holds no mutable per-user state.
type OAuth struct {
	cfg        *oauth2.Config
	httpClient *http.Client
}

// NewOAuth creates an OAuth client from the application configuration
func NewOAuth(cfg config.GoogleConfig) *OAuth {
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     oauthgoogle.Endpoint,
		},
		httpClient: newHTTPClient(),
	}
}

// AuthURL returns the consent screen URL for the given state. Offline access
// and forced consent are requested so a refresh token is always issued.
func (o *OAuth) AuthURL(state string) string {
	return o.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange exchanges an authorization code for tokens
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return token, nil
}

// Refresh obtains a fresh access token from a refresh token
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ts := o.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return token, nil
}

// Revoke invalidates a token at Google's revocation endpoint
func (o *OAuth) Revoke(ctx context.Context, token string) error {
	data := url.Values{}
	data.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, "POST", revokeEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("revoke failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// UserInfo fetches the Google identity for an access token
func (o *OAuth) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", userinfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("userinfo request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var userInfo UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}

	if userInfo.Subject == "" {
		return nil, fmt.Errorf("userinfo response missing sub (subject) claim")
	}

	return &userInfo, nil
}

// IsInvalidGrant reports whether err stems from a rejected grant: a reused or
// expired authorization code, or a refresh token the user has revoked.
func IsInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return true
		}
		return strings.Contains(string(retrieveErr.Body), "invalid_grant")
	}
	return err != nil && strings.Contains(err.Error(), "invalid_grant")
}
