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

const defaultLinkedInBaseURL = "https://api.linkedin.com/v2"

var linkedInRateLimitMarkers = []string{"throttle", "throttled", "quota", "resource-level throttle"}

// LinkedInPublisher creates UGC posts via the LinkedIn REST API
type LinkedInPublisher struct {
	baseURL  string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
	logger   logging.Logger
}

// NewLinkedInPublisher creates the LinkedIn adapter
func NewLinkedInPublisher(httpClient *http.Client, logger logging.Logger) *LinkedInPublisher {
	return &LinkedInPublisher{
		baseURL:  defaultLinkedInBaseURL,
		client:   httpClient,
		executor: clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		logger:   logger,
	}
}

// WithExecutorConfig replaces the retry executor, used by tests to disable
// transparent retries.
func (p *LinkedInPublisher) WithExecutorConfig(cfg clients.HTTPExecutorConfig) *LinkedInPublisher {
	p.executor = clients.NewHTTPExecutor(cfg)
	return p
}

// WithBaseURL overrides the API base URL, used by tests
func (p *LinkedInPublisher) WithBaseURL(url string) *LinkedInPublisher {
	p.baseURL = url
	return p
}

func (p *LinkedInPublisher) Platform() models.Platform { return models.PlatformLinkedIn }

type linkedInShareContent struct {
	ShareCommentary struct {
		Text string `json:"text"`
	} `json:"shareCommentary"`
	ShareMediaCategory string `json:"shareMediaCategory"`
}

type linkedInPostPayload struct {
	Author          string `json:"author"`
	LifecycleState  string `json:"lifecycleState"`
	SpecificContent struct {
		ShareContent linkedInShareContent `json:"com.linkedin.ugc.ShareContent"`
	} `json:"specificContent"`
	Visibility struct {
		MemberNetworkVisibility string `json:"com.linkedin.ugc.MemberNetworkVisibility"`
	} `json:"visibility"`
}

type linkedInPostResponse struct {
	ID string `json:"id"`
}

// Publish creates a UGC post. The post id comes from the response body or,
// when LinkedIn omits it, from the X-RestLi-Id header.
func (p *LinkedInPublisher) Publish(ctx context.Context, req PostRequest) PostResult {
	payload := linkedInPostPayload{
		Author:         fmt.Sprintf("urn:li:organization:%s", req.TeamID),
		LifecycleState: "PUBLISHED",
	}
	payload.SpecificContent.ShareContent.ShareCommentary.Text = composeText(req)
	payload.SpecificContent.ShareContent.ShareMediaCategory = "NONE"
	if len(req.ImageURLs) > 0 {
		payload.SpecificContent.ShareContent.ShareMediaCategory = "IMAGE"
	}
	payload.Visibility.MemberNetworkVisibility = "PUBLIC"

	body, err := json.Marshal(payload)
	if err != nil {
		return PostResult{ErrorMessage: fmt.Sprintf("failed to encode linkedin payload: %v", err), IsRetryable: false}
	}

	resp, err := clients.ExecuteHTTP(ctx, p.executor, func() (*http.Response, error) {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/ugcPosts", bytes.NewReader(body))
		if reqErr != nil {
			return nil, reqErr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
		httpReq.Header.Set("X-Restli-Protocol-Version", "2.0.0")
		return p.client.Do(httpReq)
	})
	if err != nil {
		return PostResult{ErrorMessage: fmt.Sprintf("linkedin request failed: %v", err), IsRetryable: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return PostResult{ErrorMessage: fmt.Sprintf("failed to read linkedin response: %v", err), IsRetryable: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryable := isRetryableResponse(resp.StatusCode, string(respBody), linkedInRateLimitMarkers)
		p.logger.WithFields(logging.Fields{
			"platform":  models.PlatformLinkedIn,
			"team_id":   req.TeamID,
			"status":    resp.StatusCode,
			"retryable": retryable,
		}).Warn("LinkedIn publish failed")
		return PostResult{
			ErrorMessage: fmt.Sprintf("linkedin returned status %d: %s", resp.StatusCode, truncateBody(respBody)),
			IsRetryable:  retryable,
		}
	}

	var parsed linkedInPostResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return PostResult{ErrorMessage: fmt.Sprintf("failed to parse linkedin response: %v", err), IsRetryable: false}
	}

	postID := parsed.ID
	if postID == "" {
		postID = resp.Header.Get("X-RestLi-Id")
	}
	if postID == "" {
		return PostResult{ErrorMessage: "linkedin response missing post id", IsRetryable: false}
	}

	return PostResult{Success: true, ExternalPostID: postID}
}
