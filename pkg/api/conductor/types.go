// Package conductor defines the request/response types for the content
// pipeline API.
package conductor

import (
	"time"

	"contentflow/pkg/models"
)

// UpdateStatusRequest asks the orchestrator to move a content item to a
// target pipeline status.
type UpdateStatusRequest struct {
	TargetStatus models.ContentStatus `json:"target_status" binding:"required"`
	ActorID      string               `json:"actor_id" binding:"required"`
	ScheduledOn  *time.Time           `json:"scheduled_on,omitempty"`
	Reason       *string              `json:"reason,omitempty"`
	Platform     *models.Platform     `json:"platform,omitempty"`
}

// CommandResponse is the definite outcome of a pipeline command
type CommandResponse struct {
	Success   bool     `json:"success"`
	ContentID string   `json:"content_id,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// ApproveRequest submits an approval decision
type ApproveRequest struct {
	ApproverID string  `json:"approver_id" binding:"required"`
	Comments   *string `json:"comments,omitempty"`
}

// RejectRequest submits a rejection decision
type RejectRequest struct {
	ApproverID string `json:"approver_id" binding:"required"`
	Reason     string `json:"reason,omitempty"`
}

// ScheduleRequest schedules a content item onto a platform
type ScheduleRequest struct {
	ActorID       string           `json:"actor_id" binding:"required"`
	Platform      models.Platform  `json:"platform" binding:"required"`
	PublishOn     time.Time        `json:"publish_on" binding:"required"`
	RetryInterval *string          `json:"retry_interval,omitempty"` // Go duration string, e.g. "5m"
	MaxRetryCount int              `json:"max_retry_count,omitempty"`
}

// StoreTokensRequest upserts an OAuth credential for (team, platform)
type StoreTokensRequest struct {
	TeamID       string          `json:"team_id" binding:"required"`
	Platform     models.Platform `json:"platform" binding:"required"`
	AccountName  string          `json:"account_name" binding:"required"`
	AccessToken  string          `json:"access_token" binding:"required"`
	RefreshToken *string         `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
}

// TokenValidityResponse reports whether a usable token exists
type TokenValidityResponse struct {
	TeamID   string          `json:"team_id"`
	Platform models.Platform `json:"platform"`
	Valid    bool            `json:"valid"`
}

// ContentItemResponse wraps a content item with its collections
type ContentItemResponse struct {
	Item models.ContentItem `json:"item"`
}

// NotificationsResponse lists notifications for a recipient
type NotificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unread_count"`
}
