// Package notifications persists recipient-scoped notification records.
// Rows are only created by the event dispatch path.
package notifications

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"contentflow/pkg/logging"
	"contentflow/pkg/models"
)

// Service stores and reads notifications
type Service struct {
	db     *sql.DB
	logger logging.Logger
}

// NewService creates the notification service
func NewService(db *sql.DB, logger logging.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Dispatch persists a notification for one recipient
func (s *Service) Dispatch(ctx context.Context, recipientID string, notificationType models.NotificationType, message string) (*models.Notification, error) {
	notification := &models.Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Type:        notificationType,
		Message:     message,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conductor.notifications (id, recipient_id, type, message, is_read, created_at)
		VALUES ($1, $2, $3, $4, false, NOW())
		RETURNING created_at
	`, notification.ID, notification.RecipientID, notification.Type, notification.Message).Scan(&notification.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	return notification, nil
}

// ListForRecipient returns the most recent notifications for a recipient
func (s *Service) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_id, type, message, is_read, created_at
		FROM conductor.notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// UnreadCount returns the number of unread notifications for a recipient
func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conductor.notifications
		WHERE recipient_id = $1 AND is_read = false
	`, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead flags one notification read. Scoped to the recipient so a user
// cannot mark someone else's notification.
func (s *Service) MarkRead(ctx context.Context, notificationID, recipientID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conductor.notifications
		SET is_read = true
		WHERE id = $1 AND recipient_id = $2
	`, notificationID, recipientID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
