// Package tokens owns the OAuth credential lifecycle for social media
// accounts: handout, refresh, storage and revocation, serialized per
// (team, platform).
package tokens

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"contentflow/internal/metrics"
	"contentflow/pkg/logging"
	"contentflow/pkg/models"
)

// Service manages stored credentials and their refresh lifecycle
type Service struct {
	store     *Store
	refresher Refresher
	logger    logging.Logger
	metrics   *metrics.Conductor

	// Mutations for one (team, platform) key are serialized; concurrent
	// refreshes collapse into one flight.
	locks       sync.Map // key -> *sync.Mutex
	refreshOnce singleflight.Group
}

// NewService creates the token service
func NewService(db *sql.DB, refresher Refresher, logger logging.Logger) *Service {
	return &Service{
		store:     NewStore(db),
		refresher: refresher,
		logger:    logger,
	}
}

// WithMetrics attaches domain metrics recording
func (s *Service) WithMetrics(m *metrics.Conductor) *Service {
	s.metrics = m
	return s
}

func accountKey(teamID string, platform models.Platform) string {
	return teamID + "|" + string(platform)
}

func (s *Service) lock(key string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// GetValidAccessToken returns a usable access token for (team, platform),
// refreshing first when the stored one has expired. A missing, inactive or
// unrefreshable credential yields an empty token and no error.
func (s *Service) GetValidAccessToken(ctx context.Context, teamID string, platform models.Platform) (string, error) {
	account, err := s.store.Get(ctx, teamID, platform)
	if err == sql.ErrNoRows {
		s.logger.WithFields(logging.Fields{
			"team_id":  teamID,
			"platform": platform,
		}).Warn("No social account on file")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load social account: %w", err)
	}
	if !account.IsActive {
		s.logger.WithFields(logging.Fields{
			"team_id":  teamID,
			"platform": platform,
		}).Warn("Social account is deactivated")
		return "", nil
	}

	if account.IsExpired() {
		refreshed, err := s.RefreshToken(ctx, teamID, platform)
		if err != nil {
			return "", err
		}
		if !refreshed {
			return "", nil
		}
		account, err = s.store.Get(ctx, teamID, platform)
		if err != nil {
			return "", fmt.Errorf("failed to reload social account after refresh: %w", err)
		}
	}

	if err := s.store.TouchLastUsed(ctx, teamID, platform); err != nil {
		s.logger.WithError(err).Warn("Failed to record token usage")
	}
	return account.AccessToken, nil
}

// RefreshToken refreshes the stored credential when needed. It is a no-op
// returning false for accounts that are not expired or carry no refresh
// token. A failed platform refresh deactivates the account so a broken
// credential is never retried indefinitely.
func (s *Service) RefreshToken(ctx context.Context, teamID string, platform models.Platform) (bool, error) {
	key := accountKey(teamID, platform)
	result, err, _ := s.refreshOnce.Do(key, func() (interface{}, error) {
		mu := s.lock(key)
		mu.Lock()
		defer mu.Unlock()
		return s.refreshLocked(ctx, teamID, platform)
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (s *Service) refreshLocked(ctx context.Context, teamID string, platform models.Platform) (refreshed bool, err error) {
	// A refresher implementation must never take the service down.
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logging.Fields{
				"team_id":  teamID,
				"platform": platform,
				"panic":    r,
			}).Error("Token refresh panicked")
			refreshed, err = false, nil
		}
	}()

	account, loadErr := s.store.Get(ctx, teamID, platform)
	if loadErr == sql.ErrNoRows {
		return false, nil
	}
	if loadErr != nil {
		return false, fmt.Errorf("failed to load social account: %w", loadErr)
	}
	if !account.NeedsRefresh() {
		return false, nil
	}

	tokens, refreshErr := s.refresher.Refresh(ctx, platform, *account.RefreshToken)
	if refreshErr != nil {
		s.logger.WithError(refreshErr).WithFields(logging.Fields{
			"team_id":  teamID,
			"platform": platform,
		}).Error("Token refresh failed, deactivating account")
		if deactivateErr := s.store.Deactivate(ctx, teamID, platform); deactivateErr != nil {
			s.logger.WithError(deactivateErr).Error("Failed to deactivate account after refresh failure")
		}
		s.metrics.RecordTokenRefresh(string(platform), false)
		return false, nil
	}

	if updateErr := s.store.UpdateTokens(ctx, teamID, platform, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt); updateErr != nil {
		return false, fmt.Errorf("failed to store refreshed tokens: %w", updateErr)
	}

	s.logger.WithFields(logging.Fields{
		"team_id":  teamID,
		"platform": platform,
	}).Info("Refreshed access token")
	s.metrics.RecordTokenRefresh(string(platform), true)
	return true, nil
}

// StoreTokens upserts the credential for (team, platform), reactivating a
// previously revoked account.
func (s *Service) StoreTokens(ctx context.Context, teamID string, platform models.Platform, accountName, accessToken string, refreshToken *string, expiresAt *time.Time) error {
	mu := s.lock(accountKey(teamID, platform))
	mu.Lock()
	defer mu.Unlock()
	return s.store.Upsert(ctx, teamID, platform, accountName, accessToken, refreshToken, expiresAt)
}

// RevokeTokens deactivates the credential for (team, platform). Idempotent.
func (s *Service) RevokeTokens(ctx context.Context, teamID string, platform models.Platform) error {
	mu := s.lock(accountKey(teamID, platform))
	mu.Lock()
	defer mu.Unlock()
	return s.store.Deactivate(ctx, teamID, platform)
}

// HasValidToken reports whether a usable credential exists: active and
// either unexpired or refreshable.
func (s *Service) HasValidToken(ctx context.Context, teamID string, platform models.Platform) (bool, error) {
	account, err := s.store.Get(ctx, teamID, platform)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !account.IsActive {
		return false, nil
	}
	return !account.IsExpired() || account.NeedsRefresh(), nil
}
