// Package publisher turns content into platform posts. Each adapter issues
// one outbound HTTP call and classifies failures as retryable or terminal;
// nothing escapes an adapter as an error or panic.
package publisher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"contentflow/pkg/clients"
	"contentflow/pkg/logging"
	"contentflow/pkg/models"
)

// PostRequest is the platform-neutral publish input
type PostRequest struct {
	Title       string
	Body        string
	Caption     string
	Hashtags    []string
	ImageURLs   []string
	TeamID      string
	AccessToken string
}

// PostResult is the definite outcome of a publish attempt. Failures carry a
// retryability classification instead of being raised to the caller.
type PostResult struct {
	Success        bool
	ExternalPostID string
	ErrorMessage   string
	IsRetryable    bool
}

// Publisher is a platform-specific adapter
type Publisher interface {
	Platform() models.Platform
	Publish(ctx context.Context, req PostRequest) PostResult
}

// Publish runs an adapter with panic isolation: an unexpected panic inside
// an adapter becomes a terminal failure result.
func Publish(ctx context.Context, p Publisher, req PostRequest) (result PostResult) {
	defer func() {
		if r := recover(); r != nil {
			result = PostResult{
				ErrorMessage: fmt.Sprintf("unexpected publisher panic: %v", r),
				IsRetryable:  false,
			}
		}
	}()
	return p.Publish(ctx, req)
}

// Factory resolves the adapter for a platform
type Factory struct {
	adapters map[models.Platform]Publisher
}

// NewFactory builds a factory over the default adapters
func NewFactory(logger logging.Logger) *Factory {
	httpClient := &http.Client{
		Timeout:   15 * time.Second,
		Transport: clients.DefaultTransport(),
	}
	f := &Factory{adapters: make(map[models.Platform]Publisher)}
	f.Register(NewMetaPublisher(httpClient, logger))
	f.Register(NewLinkedInPublisher(httpClient, logger))
	f.Register(NewXPublisher(httpClient, logger))
	return f
}

// Register adds an adapter, replacing any existing one for its platform
func (f *Factory) Register(p Publisher) {
	f.adapters[p.Platform()] = p
}

// Get returns the adapter for a platform. An unmapped platform is a
// configuration error and fails fast.
func (f *Factory) Get(platform models.Platform) (Publisher, error) {
	p, ok := f.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("no publisher registered for platform %q", platform)
	}
	return p, nil
}

// retryableStatuses are HTTP statuses that warrant another attempt
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// isRetryableResponse classifies a non-success HTTP response. The status
// code set is unioned with platform-specific rate-limit markers in the body.
func isRetryableResponse(statusCode int, body string, markers []string) bool {
	if retryableStatuses[statusCode] {
		return true
	}
	lower := strings.ToLower(body)
	for _, marker := range markers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// composeText builds the human-visible post text from caption (falling back
// to body) plus hashtags.
func composeText(req PostRequest) string {
	text := req.Caption
	if text == "" {
		text = req.Body
	}
	if len(req.Hashtags) == 0 {
		return text
	}
	tags := make([]string, 0, len(req.Hashtags))
	for _, h := range req.Hashtags {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !strings.HasPrefix(h, "#") {
			h = "#" + h
		}
		tags = append(tags, h)
	}
	if len(tags) == 0 {
		return text
	}
	if text == "" {
		return strings.Join(tags, " ")
	}
	return text + "\n\n" + strings.Join(tags, " ")
}
