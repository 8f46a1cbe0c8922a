package models

import (
	"strings"
	"testing"
	"time"
)

func TestNewPublishingWindowRejectsPastTime(t *testing.T) {
	_, err := NewPublishingWindow(time.Now().UTC().Add(-time.Minute), nil, 0)
	if err == nil {
		t.Fatal("expected error for past publish time")
	}
	if !strings.Contains(err.Error(), "must be in the future") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewPublishingWindowRejectsZeroTime(t *testing.T) {
	_, err := NewPublishingWindow(time.Time{}, nil, 0)
	if err == nil {
		t.Fatal("expected error for zero publish time")
	}
}

func TestNewPublishingWindowRejectsNonPositiveInterval(t *testing.T) {
	bad := -time.Minute
	_, err := NewPublishingWindow(time.Now().UTC().Add(time.Hour), &bad, 0)
	if err == nil {
		t.Fatal("expected error for negative retry interval")
	}
}

func TestNewPublishingWindowDefaultsRetryCount(t *testing.T) {
	window, err := NewPublishingWindow(time.Now().UTC().Add(time.Hour), nil, 0)
	if err != nil {
		t.Fatalf("expected valid window, got %v", err)
	}
	if window.MaxRetryCount != DefaultMaxRetryCount {
		t.Errorf("expected default retry count %d, got %d", DefaultMaxRetryCount, window.MaxRetryCount)
	}
}

func TestNewPublishingWindowKeepsExplicitPolicy(t *testing.T) {
	interval := 10 * time.Minute
	publishOn := time.Now().UTC().Add(2 * time.Hour)
	window, err := NewPublishingWindow(publishOn, &interval, 5)
	if err != nil {
		t.Fatalf("expected valid window, got %v", err)
	}
	if window.MaxRetryCount != 5 {
		t.Errorf("expected retry count 5, got %d", window.MaxRetryCount)
	}
	if window.RetryInterval == nil || *window.RetryInterval != interval {
		t.Errorf("expected retry interval %s, got %v", interval, window.RetryInterval)
	}
	if !window.PublishOn.Equal(publishOn) {
		t.Errorf("expected publish time preserved, got %s", window.PublishOn)
	}
}

func TestAccountExpiryAndRefresh(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	refresh := "refresh-token"

	cases := []struct {
		name         string
		account      SocialMediaAccount
		expired      bool
		needsRefresh bool
	}{
		{"no expiry never expires", SocialMediaAccount{}, false, false},
		{"future expiry", SocialMediaAccount{ExpiresAt: &future}, false, false},
		{"expired without refresh token", SocialMediaAccount{ExpiresAt: &past}, true, false},
		{"expired with refresh token", SocialMediaAccount{ExpiresAt: &past, RefreshToken: &refresh}, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.account.IsExpired(); got != tc.expired {
				t.Errorf("IsExpired = %v, want %v", got, tc.expired)
			}
			if got := tc.account.NeedsRefresh(); got != tc.needsRefresh {
				t.Errorf("NeedsRefresh = %v, want %v", got, tc.needsRefresh)
			}
		})
	}
}
