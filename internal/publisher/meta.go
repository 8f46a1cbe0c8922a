package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/failsafe-go/failsafe-go"

	"contentflow/pkg/clients"
	"contentflow/pkg/logging"
	"contentflow/pkg/models"
)

const defaultMetaBaseURL = "https://graph.facebook.com/v19.0"

// Meta error text that signals throttling even when the status code is not
// in the retryable set. (#4) and (#17) are the application/user request
// limit subcodes.
var metaRateLimitMarkers = []string{"(#4)", "(#17)", "(#32)", "rate limit", "request limit reached"}

// MetaPublisher posts to a Facebook page feed via the Graph API
type MetaPublisher struct {
	baseURL  string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
	logger   logging.Logger
}

// NewMetaPublisher creates the Meta adapter
func NewMetaPublisher(httpClient *http.Client, logger logging.Logger) *MetaPublisher {
	return &MetaPublisher{
		baseURL:  defaultMetaBaseURL,
		client:   httpClient,
		executor: clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		logger:   logger,
	}
}

// WithExecutorConfig replaces the retry executor, used by tests to disable
// transparent retries.
func (p *MetaPublisher) WithExecutorConfig(cfg clients.HTTPExecutorConfig) *MetaPublisher {
	p.executor = clients.NewHTTPExecutor(cfg)
	return p
}

// WithBaseURL overrides the Graph API base URL, used by tests
func (p *MetaPublisher) WithBaseURL(url string) *MetaPublisher {
	p.baseURL = url
	return p
}

func (p *MetaPublisher) Platform() models.Platform { return models.PlatformMeta }

type metaPostPayload struct {
	Message     string `json:"message"`
	Link        string `json:"link,omitempty"`
	AccessToken string `json:"access_token"`
}

type metaPostResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Publish creates a feed post and returns the Graph post id
func (p *MetaPublisher) Publish(ctx context.Context, req PostRequest) PostResult {
	payload := metaPostPayload{
		Message:     composeText(req),
		AccessToken: req.AccessToken,
	}
	if len(req.ImageURLs) > 0 {
		payload.Link = req.ImageURLs[0]
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return PostResult{ErrorMessage: fmt.Sprintf("failed to encode meta payload: %v", err), IsRetryable: false}
	}

	resp, err := clients.ExecuteHTTP(ctx, p.executor, func() (*http.Response, error) {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/me/feed", bytes.NewReader(body))
		if reqErr != nil {
			return nil, reqErr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return p.client.Do(httpReq)
	})
	if err != nil {
		// Network-level failure, worth another attempt later
		return PostResult{ErrorMessage: fmt.Sprintf("meta request failed: %v", err), IsRetryable: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return PostResult{ErrorMessage: fmt.Sprintf("failed to read meta response: %v", err), IsRetryable: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryable := isRetryableResponse(resp.StatusCode, string(respBody), metaRateLimitMarkers)
		p.logger.WithFields(logging.Fields{
			"platform":  models.PlatformMeta,
			"team_id":   req.TeamID,
			"status":    resp.StatusCode,
			"retryable": retryable,
		}).Warn("Meta publish failed")
		return PostResult{
			ErrorMessage: fmt.Sprintf("meta returned status %d: %s", resp.StatusCode, truncateBody(respBody)),
			IsRetryable:  retryable,
		}
	}

	var parsed metaPostResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return PostResult{ErrorMessage: fmt.Sprintf("failed to parse meta response: %v", err), IsRetryable: false}
	}
	if parsed.ID == "" {
		return PostResult{ErrorMessage: "meta response missing post id", IsRetryable: false}
	}

	return PostResult{Success: true, ExternalPostID: parsed.ID}
}

// truncateBody bounds error bodies stored on failure reasons
func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
