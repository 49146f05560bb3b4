package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clipforge/clipforge/pipeline"
	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/sym"
)

// Production OAuth token endpoints.
const (
	DefaultTikTokTokenURL  = "https://open.tiktokapis.com/v2/oauth/token/"
	DefaultYouTubeTokenURL = "https://oauth2.googleapis.com/token"
)

// tokenExpirySkew refreshes tokens this long before their stated expiry so
// an upload never starts with a token about to die.
const tokenExpirySkew = time.Minute

// TokenConfig carries the app credentials for token refresh.
type TokenConfig struct {
	TikTokClientKey     string
	TikTokClientSecret  string
	TikTokTokenURL      string
	YouTubeClientID     string
	YouTubeClientSecret string
	YouTubeTokenURL     string
}

// Tokens implements pipeline.TokenProvider over connected_accounts: a valid
// stored token is returned as-is, an expired one is refreshed through the
// platform's token endpoint and persisted back.
type Tokens struct {
	store *pipeline.Store
	clock queue.Clock
	cfg   TokenConfig
	http  *http.Client
	log   *zap.SugaredLogger
}

// NewTokens creates the provider. Empty endpoint URLs take the production
// defaults.
func NewTokens(store *pipeline.Store, clock queue.Clock, cfg TokenConfig, log *zap.SugaredLogger) *Tokens {
	if clock == nil {
		clock = queue.SystemClock()
	}
	if cfg.TikTokTokenURL == "" {
		cfg.TikTokTokenURL = DefaultTikTokTokenURL
	}
	if cfg.YouTubeTokenURL == "" {
		cfg.YouTubeTokenURL = DefaultYouTubeTokenURL
	}
	return &Tokens{
		store: store,
		clock: clock,
		cfg:   cfg,
		http:  &http.Client{Timeout: defaultHTTPTimeout},
		log:   log.Named("tokens"),
	}
}

var _ pipeline.TokenProvider = (*Tokens)(nil)

// AccessToken returns a usable token for the account, refreshing when the
// stored one is expired or about to expire.
func (t *Tokens) AccessToken(ctx context.Context, account *pipeline.ConnectedAccount) (string, error) {
	if account.AccessTokenRef == "" {
		return "", pipeline.ProviderAuth(http.StatusUnauthorized,
			"account %s has no stored access token", account.ID)
	}
	if account.ExpiresAt == nil || t.clock.Now().Before(account.ExpiresAt.Add(-tokenExpirySkew)) {
		return account.AccessTokenRef, nil
	}
	return t.refresh(ctx, account)
}

func (t *Tokens) refresh(ctx context.Context, account *pipeline.ConnectedAccount) (string, error) {
	if account.RefreshTokenRef == "" {
		return "", pipeline.ProviderAuth(http.StatusUnauthorized,
			"account %s token expired and no refresh token is stored", account.ID)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", account.RefreshTokenRef)

	var endpoint string
	switch account.Platform {
	case pipeline.PlatformTikTok:
		endpoint = t.cfg.TikTokTokenURL
		form.Set("client_key", t.cfg.TikTokClientKey)
		form.Set("client_secret", t.cfg.TikTokClientSecret)
	case pipeline.PlatformYouTube:
		endpoint = t.cfg.YouTubeTokenURL
		form.Set("client_id", t.cfg.YouTubeClientID)
		form.Set("client_secret", t.cfg.YouTubeClientSecret)
	default:
		return "", pipeline.PreconditionFailed("unknown platform %q for account %s",
			account.Platform, account.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", pipeline.Internal("failed to build token request: %v", err).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", pipeline.Cancelled("token refresh cancelled").WithCause(err)
		}
		return "", pipeline.ProviderTransient(0,
			"%s token endpoint unreachable: %v", account.Platform, err).WithCause(err)
	}
	defer resp.Body.Close()

	raw := readBody(resp.Body)
	if resp.StatusCode != http.StatusOK {
		// Refresh rejections mean the grant itself is dead.
		if resp.StatusCode == http.StatusBadRequest {
			return "", pipeline.ProviderAuth(resp.StatusCode,
				"%s refused to refresh token: %s", account.Platform, snippet(raw))
		}
		return "", classify(account.Platform, resp.StatusCode, raw)
	}

	var grant struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal([]byte(raw), &grant); err != nil || grant.AccessToken == "" {
		return "", pipeline.ProviderTransient(resp.StatusCode,
			"%s token endpoint returned no access token: %s", account.Platform, snippet(raw))
	}

	refreshToken := grant.RefreshToken
	if refreshToken == "" {
		refreshToken = account.RefreshTokenRef
	}
	now := t.clock.Now()
	expiresAt := now.Add(time.Duration(grant.ExpiresIn) * time.Second)
	if err := t.store.UpdateAccountTokens(account.ID, grant.AccessToken, refreshToken, expiresAt, now); err != nil {
		return "", pipeline.Internal("failed to persist refreshed token: %v", err).WithCause(err)
	}

	t.log.Infow("Access token refreshed",
		"symbol", sym.Publish, "account_id", account.ID, "platform", account.Platform,
		"expires_at", expiresAt)
	return grant.AccessToken, nil
}
