package models

import (
	"fmt"
	"time"
)

// DefaultMaxRetryCount is applied when a window is created without an
// explicit retry limit.
const DefaultMaxRetryCount = 3

// PublishingWindow is a validated publish time plus retry policy for a
// distribution. Construct it through NewPublishingWindow.
type PublishingWindow struct {
	PublishOn     time.Time
	RetryInterval *time.Duration
	MaxRetryCount int
}

// NewPublishingWindow validates and builds a publishing window. The publish
// time must be strictly in the future.
func NewPublishingWindow(publishOn time.Time, retryInterval *time.Duration, maxRetryCount int) (PublishingWindow, error) {
	if publishOn.IsZero() {
		return PublishingWindow{}, fmt.Errorf("publish time must be provided")
	}
	if !publishOn.After(time.Now().UTC()) {
		return PublishingWindow{}, fmt.Errorf("publish time %s must be in the future", publishOn.UTC().Format(time.RFC3339))
	}
	if retryInterval != nil && *retryInterval <= 0 {
		return PublishingWindow{}, fmt.Errorf("retry interval must be positive")
	}
	if maxRetryCount <= 0 {
		maxRetryCount = DefaultMaxRetryCount
	}
	return PublishingWindow{
		PublishOn:     publishOn.UTC(),
		RetryInterval: retryInterval,
		MaxRetryCount: maxRetryCount,
	}, nil
}
