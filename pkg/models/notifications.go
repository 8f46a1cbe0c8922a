package models

import "time"

// NotificationType tags a persisted notification with its origin
type NotificationType string

const (
	NotificationContentApproved  NotificationType = "content_approved"
	NotificationContentRejected  NotificationType = "content_rejected"
	NotificationContentScheduled NotificationType = "content_scheduled"
	NotificationContentPublished NotificationType = "content_published"
	NotificationPublishFailed    NotificationType = "publish_failed"
)

// Notification is a persisted, recipient-scoped message. Rows are only
// created by the event dispatch path.
type Notification struct {
	ID          string           `json:"id" db:"id"`
	RecipientID string           `json:"recipient_id" db:"recipient_id"`
	Type        NotificationType `json:"type" db:"type"`
	Message     string           `json:"message" db:"message"`
	IsRead      bool             `json:"is_read" db:"is_read"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}
