package notifications

import (
	"context"
	"fmt"

	"contentflow/internal/events"
	"contentflow/internal/websocket"
	"contentflow/pkg/logging"
	"contentflow/pkg/models"
)

// Fanout subscribes to domain events and turns each into a persisted
// notification plus a real-time push. Every handler is failure-isolated:
// the state change that raised the event has already committed, so errors
// here are logged and swallowed, never reported back to the command.
type Fanout struct {
	service *Service
	hub     *websocket.Hub
	logger  logging.Logger
}

// NewFanout creates the notification fan-out
func NewFanout(service *Service, hub *websocket.Hub, logger logging.Logger) *Fanout {
	return &Fanout{service: service, hub: hub, logger: logger}
}

// Register subscribes all handlers on the bus
func (f *Fanout) Register(bus *events.Bus) {
	bus.Subscribe(events.ContentApprovalEvent{}.EventName(), f.onApproval)
	bus.Subscribe(events.ContentScheduledEvent{}.EventName(), f.onScheduled)
	bus.Subscribe(events.ContentPublishedEvent{}.EventName(), f.onPublished)
	bus.Subscribe(events.PublishFailedEvent{}.EventName(), f.onPublishFailed)
}

// recipientFor picks who gets notified: the content author when the item
// has one, otherwise the fallback actor.
func recipientFor(authorID *string, fallback string) string {
	if authorID != nil && *authorID != "" {
		return *authorID
	}
	return fallback
}

func (f *Fanout) onApproval(ctx context.Context, event events.Event) {
	e, ok := event.(events.ContentApprovalEvent)
	if !ok {
		return
	}

	var notificationType models.NotificationType
	var message string
	switch e.Decision {
	case models.DecisionApproved:
		notificationType = models.NotificationContentApproved
		message = fmt.Sprintf("Content %q was approved", e.ContentTitle)
	case models.DecisionRejected:
		notificationType = models.NotificationContentRejected
		message = fmt.Sprintf("Content %q was rejected", e.ContentTitle)
		if e.Reason != nil && *e.Reason != "" {
			message += ": " + *e.Reason
		}
	default:
		return
	}

	recipient := recipientFor(e.AuthorID, e.ApproverID)
	if _, err := f.service.Dispatch(ctx, recipient, notificationType, message); err != nil {
		f.logger.WithError(err).WithField("content_id", e.ContentID).Error("Failed to persist approval notification")
	}

	f.hub.SendToUser(recipient, websocket.MethodContentApprovalUpdate, map[string]interface{}{
		"content_id":  e.ContentID,
		"decision":    string(e.Decision),
		"approver_id": e.ApproverID,
		"message":     message,
		"type":        string(notificationType),
		"timestamp":   e.OccurredAt(),
	})
}

func (f *Fanout) onScheduled(ctx context.Context, event events.Event) {
	e, ok := event.(events.ContentScheduledEvent)
	if !ok {
		return
	}

	message := fmt.Sprintf("Content %q was scheduled for %s on %s",
		e.ContentTitle, e.Platform, e.PublishOn.Format("2006-01-02 15:04 MST"))

	recipient := recipientFor(e.AuthorID, "")
	if recipient != "" {
		if _, err := f.service.Dispatch(ctx, recipient, models.NotificationContentScheduled, message); err != nil {
			f.logger.WithError(err).WithField("content_id", e.ContentID).Error("Failed to persist scheduled notification")
		}
	}

	// No known recipient means a team-wide push instead of a user one
	payload := map[string]interface{}{
		"content_id":      e.ContentID,
		"distribution_id": e.DistributionID,
		"platform":        string(e.Platform),
		"publish_on":      e.PublishOn,
		"message":         message,
		"type":            string(models.NotificationContentScheduled),
		"timestamp":       e.OccurredAt(),
	}
	if recipient != "" {
		f.hub.SendToUser(recipient, websocket.MethodContentScheduled, payload)
	} else {
		f.hub.SendToTeam(e.TeamID, websocket.MethodContentScheduled, payload)
	}
}

func (f *Fanout) onPublished(ctx context.Context, event events.Event) {
	e, ok := event.(events.ContentPublishedEvent)
	if !ok {
		return
	}

	message := fmt.Sprintf("Content %q was published to %s", e.ContentTitle, e.Platform)

	recipient := recipientFor(e.AuthorID, "")
	if recipient != "" {
		if _, err := f.service.Dispatch(ctx, recipient, models.NotificationContentPublished, message); err != nil {
			f.logger.WithError(err).WithField("content_id", e.ContentID).Error("Failed to persist published notification")
		}
	}

	payload := map[string]interface{}{
		"content_id":       e.ContentID,
		"distribution_id":  e.DistributionID,
		"platform":         string(e.Platform),
		"external_post_id": e.ExternalPostID,
		"message":          message,
		"type":             string(models.NotificationContentPublished),
		"timestamp":        e.OccurredAt(),
	}
	if recipient != "" {
		f.hub.SendToUser(recipient, websocket.MethodContentPublished, payload)
	} else {
		f.hub.SendToTeam(e.TeamID, websocket.MethodContentPublished, payload)
	}
}

func (f *Fanout) onPublishFailed(ctx context.Context, event events.Event) {
	e, ok := event.(events.PublishFailedEvent)
	if !ok {
		return
	}

	message := fmt.Sprintf("Publishing %q to %s failed permanently: %s", e.ContentTitle, e.Platform, e.Reason)

	recipient := recipientFor(e.AuthorID, "")
	if recipient != "" {
		if _, err := f.service.Dispatch(ctx, recipient, models.NotificationPublishFailed, message); err != nil {
			f.logger.WithError(err).WithField("content_id", e.ContentID).Error("Failed to persist publish-failed notification")
		}
	}

	payload := map[string]interface{}{
		"content_id":      e.ContentID,
		"distribution_id": e.DistributionID,
		"platform":        string(e.Platform),
		"reason":          e.Reason,
		"message":         message,
		"type":            string(models.NotificationPublishFailed),
		"timestamp":       e.OccurredAt(),
	}
	if recipient != "" {
		f.hub.SendToUser(recipient, websocket.MethodPublishFailed, payload)
	} else {
		f.hub.SendToTeam(e.TeamID, websocket.MethodPublishFailed, payload)
	}
}
