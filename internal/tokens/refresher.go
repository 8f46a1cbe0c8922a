package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"contentflow/pkg/clients"
	"contentflow/pkg/config"
	"contentflow/pkg/logging"
	"contentflow/pkg/models"
)

// RefreshedTokens is the outcome of a successful platform refresh call
type RefreshedTokens struct {
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *time.Time
}

// Refresher exchanges a refresh token for fresh credentials on one platform
type Refresher interface {
	Refresh(ctx context.Context, platform models.Platform, refreshToken string) (RefreshedTokens, error)
}

// platformOAuth holds the per-platform refresh endpoint and app credentials
type platformOAuth struct {
	tokenURL     string
	clientID     string
	clientSecret string
	grantType    string
}

// HTTPRefresher calls each platform's OAuth token endpoint
type HTTPRefresher struct {
	endpoints map[models.Platform]platformOAuth
	client    *http.Client
	executor  failsafe.Executor[*http.Response]
	logger    logging.Logger
}

// NewHTTPRefresher builds a refresher from environment configuration
func NewHTTPRefresher(logger logging.Logger) *HTTPRefresher {
	return &HTTPRefresher{
		endpoints: map[models.Platform]platformOAuth{
			models.PlatformMeta: {
				tokenURL:     config.GetEnv("META_TOKEN_URL", "https://graph.facebook.com/v19.0/oauth/access_token"),
				clientID:     config.GetEnv("META_CLIENT_ID", ""),
				clientSecret: config.GetEnv("META_CLIENT_SECRET", ""),
				grantType:    "fb_exchange_token",
			},
			models.PlatformLinkedIn: {
				tokenURL:     config.GetEnv("LINKEDIN_TOKEN_URL", "https://www.linkedin.com/oauth/v2/accessToken"),
				clientID:     config.GetEnv("LINKEDIN_CLIENT_ID", ""),
				clientSecret: config.GetEnv("LINKEDIN_CLIENT_SECRET", ""),
				grantType:    "refresh_token",
			},
			models.PlatformX: {
				tokenURL:     config.GetEnv("X_TOKEN_URL", "https://api.twitter.com/2/oauth2/token"),
				clientID:     config.GetEnv("X_CLIENT_ID", ""),
				clientSecret: config.GetEnv("X_CLIENT_SECRET", ""),
				grantType:    "refresh_token",
			},
		},
		client: &http.Client{
			Timeout:   15 * time.Second,
			Transport: clients.DefaultTransport(),
		},
		executor: clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		logger:   logger,
	}
}

// WithEndpoint overrides one platform endpoint, used by tests
func (r *HTTPRefresher) WithEndpoint(platform models.Platform, tokenURL, clientID, clientSecret, grantType string) *HTTPRefresher {
	r.endpoints[platform] = platformOAuth{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		grantType:    grantType,
	}
	return r
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Refresh performs the OAuth refresh grant for the platform
func (r *HTTPRefresher) Refresh(ctx context.Context, platform models.Platform, refreshToken string) (RefreshedTokens, error) {
	endpoint, ok := r.endpoints[platform]
	if !ok {
		return RefreshedTokens{}, fmt.Errorf("no oauth endpoint configured for platform %q", platform)
	}

	form := url.Values{}
	form.Set("grant_type", endpoint.grantType)
	form.Set("client_id", endpoint.clientID)
	form.Set("client_secret", endpoint.clientSecret)
	if endpoint.grantType == "fb_exchange_token" {
		form.Set("fb_exchange_token", refreshToken)
	} else {
		form.Set("refresh_token", refreshToken)
	}

	resp, err := clients.ExecuteHTTP(ctx, r.executor, func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.tokenURL, strings.NewReader(form.Encode()))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return r.client.Do(req)
	})
	if err != nil {
		return RefreshedTokens{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RefreshedTokens{}, fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return RefreshedTokens{}, fmt.Errorf("refresh endpoint returned status %d", resp.StatusCode)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return RefreshedTokens{}, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return RefreshedTokens{}, fmt.Errorf("refresh response missing access token")
	}

	result := RefreshedTokens{AccessToken: parsed.AccessToken}
	if parsed.RefreshToken != "" {
		result.RefreshToken = &parsed.RefreshToken
	}
	if parsed.ExpiresIn > 0 {
		expires := time.Now().UTC().Add(time.Duration(parsed.ExpiresIn) * time.Second)
		result.ExpiresAt = &expires
	}
	return result, nil
}
