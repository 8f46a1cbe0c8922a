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

const (
	defaultXBaseURL = "https://api.twitter.com/2"

	// maxTweetRunes is the platform post length limit, counted in runes
	maxTweetRunes = 280
)

var xRateLimitMarkers = []string{"too many requests", "rate limit exceeded", "usage cap exceeded"}

// XPublisher posts tweets via the X v2 API
type XPublisher struct {
	baseURL  string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
	logger   logging.Logger
}

// NewXPublisher creates the X adapter
func NewXPublisher(httpClient *http.Client, logger logging.Logger) *XPublisher {
	return &XPublisher{
		baseURL:  defaultXBaseURL,
		client:   httpClient,
		executor: clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		logger:   logger,
	}
}

// WithExecutorConfig replaces the retry executor, used by tests to disable
// transparent retries.
func (p *XPublisher) WithExecutorConfig(cfg clients.HTTPExecutorConfig) *XPublisher {
	p.executor = clients.NewHTTPExecutor(cfg)
	return p
}

// WithBaseURL overrides the API base URL, used by tests
func (p *XPublisher) WithBaseURL(url string) *XPublisher {
	p.baseURL = url
	return p
}

func (p *XPublisher) Platform() models.Platform { return models.PlatformX }

type xPostPayload struct {
	Text string `json:"text"`
}

type xPostResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// truncateTweet bounds text to the platform limit, appending an ellipsis
// marker when content was cut.
func truncateTweet(text string) string {
	runes := []rune(text)
	if len(runes) <= maxTweetRunes {
		return text
	}
	return string(runes[:maxTweetRunes-1]) + "…"
}

// Publish creates a tweet and returns its id
func (p *XPublisher) Publish(ctx context.Context, req PostRequest) PostResult {
	payload := xPostPayload{Text: truncateTweet(composeText(req))}

	body, err := json.Marshal(payload)
	if err != nil {
		return PostResult{ErrorMessage: fmt.Sprintf("failed to encode tweet payload: %v", err), IsRetryable: false}
	}

	resp, err := clients.ExecuteHTTP(ctx, p.executor, func() (*http.Response, error) {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tweets", bytes.NewReader(body))
		if reqErr != nil {
			return nil, reqErr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
		return p.client.Do(httpReq)
	})
	if err != nil {
		return PostResult{ErrorMessage: fmt.Sprintf("x request failed: %v", err), IsRetryable: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return PostResult{ErrorMessage: fmt.Sprintf("failed to read x response: %v", err), IsRetryable: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryable := isRetryableResponse(resp.StatusCode, string(respBody), xRateLimitMarkers)
		p.logger.WithFields(logging.Fields{
			"platform":  models.PlatformX,
			"team_id":   req.TeamID,
			"status":    resp.StatusCode,
			"retryable": retryable,
		}).Warn("X publish failed")
		return PostResult{
			ErrorMessage: fmt.Sprintf("x returned status %d: %s", resp.StatusCode, truncateBody(respBody)),
			IsRetryable:  retryable,
		}
	}

	var parsed xPostResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return PostResult{ErrorMessage: fmt.Sprintf("failed to parse x response: %v", err), IsRetryable: false}
	}
	if parsed.Data.ID == "" {
		return PostResult{ErrorMessage: "x response missing tweet id", IsRetryable: false}
	}

	return PostResult{Success: true, ExternalPostID: parsed.Data.ID}
}
