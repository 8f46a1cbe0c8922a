// Package events carries the domain events raised after committed pipeline
// state changes and the in-process bus that fans them out to handlers.
package events

import (
	"time"

	"contentflow/pkg/models"
)

// Event is an immutable fact raised after a successful state mutation
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// ContentApprovalEvent is raised when an approval decision is recorded
type ContentApprovalEvent struct {
	ContentID    string
	ContentTitle string
	TeamID       string
	AuthorID     *string
	ApproverID   string
	Decision     models.ApprovalDecision
	Reason       *string
	Timestamp    time.Time
}

func (e ContentApprovalEvent) EventName() string     { return "content.approval" }
func (e ContentApprovalEvent) OccurredAt() time.Time { return e.Timestamp }

// ContentScheduledEvent is raised when a distribution is scheduled
type ContentScheduledEvent struct {
	DistributionID string
	ContentID      string
	ContentTitle   string
	TeamID         string
	AuthorID       *string
	Platform       models.Platform
	PublishOn      time.Time
	Timestamp      time.Time
}

func (e ContentScheduledEvent) EventName() string     { return "content.scheduled" }
func (e ContentScheduledEvent) OccurredAt() time.Time { return e.Timestamp }

// ContentPublishedEvent is raised when a distribution reaches the platform
type ContentPublishedEvent struct {
	DistributionID string
	ContentID      string
	ContentTitle   string
	TeamID         string
	AuthorID       *string
	Platform       models.Platform
	ExternalPostID string
	Timestamp      time.Time
}

func (e ContentPublishedEvent) EventName() string     { return "content.published" }
func (e ContentPublishedEvent) OccurredAt() time.Time { return e.Timestamp }

// PublishFailedEvent is raised when a distribution exhausts its retry
// budget and goes terminal
type PublishFailedEvent struct {
	DistributionID string
	ContentID      string
	ContentTitle   string
	TeamID         string
	AuthorID       *string
	Platform       models.Platform
	Reason         string
	Timestamp      time.Time
}

func (e PublishFailedEvent) EventName() string     { return "content.publish_failed" }
func (e PublishFailedEvent) OccurredAt() time.Time { return e.Timestamp }
