package models

import (
	"time"

	"github.com/lib/pq"
)

// ContentStatus is the pipeline status of a content item
type ContentStatus string

const (
	StatusDraft           ContentStatus = "draft"
	StatusGenerated       ContentStatus = "generated"
	StatusPendingApproval ContentStatus = "pending_approval"
	StatusApproved        ContentStatus = "approved"
	StatusRejected        ContentStatus = "rejected"
	StatusScheduled       ContentStatus = "scheduled"
	StatusPublished       ContentStatus = "published"
)

// IsValid reports whether s is a known pipeline status
func (s ContentStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusGenerated, StatusPendingApproval,
		StatusApproved, StatusRejected, StatusScheduled, StatusPublished:
		return true
	}
	return false
}

// Platform identifies a social media platform
type Platform string

const (
	PlatformMeta     Platform = "meta"
	PlatformLinkedIn Platform = "linkedin"
	PlatformX        Platform = "x"
)

// IsValid reports whether p is a supported platform
func (p Platform) IsValid() bool {
	switch p {
	case PlatformMeta, PlatformLinkedIn, PlatformX:
		return true
	}
	return false
}

// Audit holds row-level audit fields shared by mutable entities
type Audit struct {
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	CreatedBy *string   `json:"created_by,omitempty" db:"created_by"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	UpdatedBy *string   `json:"updated_by,omitempty" db:"updated_by"`
}

// ContentItem is the aggregate root for one piece of content moving through
// the pipeline. Status is only mutated through pipeline operations.
type ContentItem struct {
	ID                string         `json:"id" db:"id"`
	TeamID            string         `json:"team_id" db:"team_id"`
	AuthorID          *string        `json:"author_id,omitempty" db:"author_id"`
	Title             string         `json:"title" db:"title"`
	Body              string         `json:"body" db:"body"`
	Caption           string         `json:"caption" db:"caption"`
	Status            ContentStatus  `json:"status" db:"status"`
	CurrentApprovalID *string        `json:"current_approval_id,omitempty" db:"current_approval_id"`
	Hashtags          pq.StringArray `json:"hashtags" db:"hashtags"`
	ImageURLs         pq.StringArray `json:"image_urls,omitempty" db:"image_urls"`

	Distributions   []ContentDistribution `json:"distributions,omitempty" db:"-"`
	ApprovalHistory []ApprovalRecord      `json:"approval_history,omitempty" db:"-"`

	Audit
}

// ApprovalDecision is the outcome recorded on an approval record
type ApprovalDecision string

const (
	DecisionApproved ApprovalDecision = "approved"
	DecisionRejected ApprovalDecision = "rejected"
)

// ApprovalRecord is one immutable approve/reject decision in an item's history
type ApprovalRecord struct {
	ID         string           `json:"id" db:"id"`
	ContentID  string           `json:"content_id" db:"content_id"`
	ApproverID string           `json:"approver_id" db:"approver_id"`
	Decision   ApprovalDecision `json:"decision" db:"decision"`
	Comments   *string          `json:"comments,omitempty" db:"comments"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}

// DistributionStatus is the publish lifecycle of a single distribution
type DistributionStatus string

const (
	DistributionScheduled  DistributionStatus = "scheduled"
	DistributionPublishing DistributionStatus = "publishing"
	DistributionPublished  DistributionStatus = "published"
	DistributionFailed     DistributionStatus = "failed"
)

// ContentDistribution is one platform-specific scheduled or published
// instance of a content item
type ContentDistribution struct {
	ID             string             `json:"id" db:"id"`
	ContentID      string             `json:"content_id" db:"content_id"`
	Platform       Platform           `json:"platform" db:"platform"`
	Status         DistributionStatus `json:"status" db:"status"`
	PublishOn      time.Time          `json:"publish_on" db:"publish_on"`
	RetryInterval  *time.Duration     `json:"retry_interval,omitempty" db:"retry_interval"`
	MaxRetryCount  int                `json:"max_retry_count" db:"max_retry_count"`
	AttemptCount   int                `json:"attempt_count" db:"attempt_count"`
	NextAttemptAt  time.Time          `json:"next_attempt_at" db:"next_attempt_at"`
	ExternalPostID *string            `json:"external_post_id,omitempty" db:"external_post_id"`
	FailureReason  *string            `json:"failure_reason,omitempty" db:"failure_reason"`
	PublishedAt    *time.Time         `json:"published_at,omitempty" db:"published_at"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at"`
}
