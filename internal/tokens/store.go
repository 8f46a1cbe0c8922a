package tokens

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"contentflow/pkg/models"
)

// Store persists social media account credentials
type Store struct {
	db *sql.DB
}

// NewStore creates a credential store over the given database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get loads the account for (team, platform) regardless of active flag.
// Returns database.ErrNoRows via sql when absent.
func (s *Store) Get(ctx context.Context, teamID string, platform models.Platform) (*models.SocialMediaAccount, error) {
	var account models.SocialMediaAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, platform, account_name, access_token, refresh_token,
		       expires_at, is_active, last_used_at, created_at, updated_at
		FROM conductor.social_accounts
		WHERE team_id = $1 AND platform = $2
	`, teamID, platform).Scan(
		&account.ID, &account.TeamID, &account.Platform, &account.AccountName,
		&account.AccessToken, &account.RefreshToken, &account.ExpiresAt,
		&account.IsActive, &account.LastUsedAt, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Upsert stores tokens for (team, platform), reactivating a previously
// deactivated account. Idempotent.
func (s *Store) Upsert(ctx context.Context, teamID string, platform models.Platform, accountName, accessToken string, refreshToken *string, expiresAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conductor.social_accounts
			(id, team_id, platform, account_name, access_token, refresh_token, expires_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, NOW(), NOW())
		ON CONFLICT (team_id, platform) DO UPDATE SET
			account_name = EXCLUDED.account_name,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			is_active = true,
			updated_at = NOW()
	`, uuid.New().String(), teamID, platform, accountName, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert social account: %w", err)
	}
	return nil
}

// UpdateTokens replaces the stored tokens after a successful refresh
func (s *Store) UpdateTokens(ctx context.Context, teamID string, platform models.Platform, accessToken string, refreshToken *string, expiresAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conductor.social_accounts
		SET access_token = $3,
		    refresh_token = COALESCE($4, refresh_token),
		    expires_at = $5,
		    updated_at = NOW()
		WHERE team_id = $1 AND platform = $2
	`, teamID, platform, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	return nil
}

// Deactivate marks the account unusable. Idempotent.
func (s *Store) Deactivate(ctx context.Context, teamID string, platform models.Platform) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conductor.social_accounts
		SET is_active = false, updated_at = NOW()
		WHERE team_id = $1 AND platform = $2
	`, teamID, platform)
	if err != nil {
		return fmt.Errorf("failed to deactivate social account: %w", err)
	}
	return nil
}

// TouchLastUsed records a successful token handout
func (s *Store) TouchLastUsed(ctx context.Context, teamID string, platform models.Platform) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conductor.social_accounts
		SET last_used_at = NOW(), updated_at = NOW()
		WHERE team_id = $1 AND platform = $2
	`, teamID, platform)
	if err != nil {
		return fmt.Errorf("failed to touch last_used_at: %w", err)
	}
	return nil
}
