package models

import "time"

// SocialMediaAccount is the stored OAuth credential for one team on one
// platform. Rows are unique per (team_id, platform).
type SocialMediaAccount struct {
	ID           string     `json:"id" db:"id"`
	TeamID       string     `json:"team_id" db:"team_id"`
	Platform     Platform   `json:"platform" db:"platform"`
	AccountName  string     `json:"account_name" db:"account_name"`
	AccessToken  string     `json:"-" db:"access_token"`
	RefreshToken *string    `json:"-" db:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// IsExpired reports whether the access token has passed its expiry.
// Accounts without an expiry never expire.
func (a *SocialMediaAccount) IsExpired() bool {
	if a.ExpiresAt == nil {
		return false
	}
	return !a.ExpiresAt.After(time.Now().UTC())
}

// NeedsRefresh reports whether a refresh attempt is both necessary and
// possible: the token is expired and a refresh token is on file.
func (a *SocialMediaAccount) NeedsRefresh() bool {
	return a.IsExpired() && a.RefreshToken != nil && *a.RefreshToken != ""
}
