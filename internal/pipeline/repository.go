package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"contentflow/pkg/models"
)

// Repository owns all persistence for content items, approval records and
// distributions. Mutations run inside the transaction handed to them so a
// command commits atomically or not at all.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository over the given database
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for transaction management
func (r *Repository) DB() *sql.DB {
	return r.db
}

// GetItem loads a content item with its distributions and approval history
func (r *Repository) GetItem(ctx context.Context, id string) (*models.ContentItem, error) {
	var item models.ContentItem
	err := r.db.QueryRowContext(ctx, `
		SELECT id, team_id, author_id, title, body, caption, status,
		       current_approval_id, hashtags, image_urls,
		       created_at, created_by, updated_at, updated_by
		FROM conductor.content_items
		WHERE id = $1
	`, id).Scan(
		&item.ID, &item.TeamID, &item.AuthorID, &item.Title, &item.Body,
		&item.Caption, &item.Status, &item.CurrentApprovalID,
		&item.Hashtags, &item.ImageURLs,
		&item.CreatedAt, &item.CreatedBy, &item.UpdatedAt, &item.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	if item.Distributions, err = r.listDistributions(ctx, id); err != nil {
		return nil, err
	}
	if item.ApprovalHistory, err = r.listApprovals(ctx, id); err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) listDistributions(ctx context.Context, contentID string) ([]models.ContentDistribution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, content_id, platform, status, publish_on, retry_interval_seconds,
		       max_retry_count, attempt_count, next_attempt_at, external_post_id,
		       failure_reason, published_at, created_at, updated_at
		FROM conductor.content_distributions
		WHERE content_id = $1
		ORDER BY created_at ASC
	`, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list distributions: %w", err)
	}
	defer rows.Close()

	var distributions []models.ContentDistribution
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, err
		}
		distributions = append(distributions, d)
	}
	return distributions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDistribution(row rowScanner) (models.ContentDistribution, error) {
	var d models.ContentDistribution
	var retrySeconds sql.NullInt64
	err := row.Scan(
		&d.ID, &d.ContentID, &d.Platform, &d.Status, &d.PublishOn, &retrySeconds,
		&d.MaxRetryCount, &d.AttemptCount, &d.NextAttemptAt, &d.ExternalPostID,
		&d.FailureReason, &d.PublishedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return d, fmt.Errorf("failed to scan distribution: %w", err)
	}
	if retrySeconds.Valid {
		interval := time.Duration(retrySeconds.Int64) * time.Second
		d.RetryInterval = &interval
	}
	return d, nil
}

func (r *Repository) listApprovals(ctx context.Context, contentID string) ([]models.ApprovalRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, content_id, approver_id, decision, comments, created_at
		FROM conductor.approval_records
		WHERE content_id = $1
		ORDER BY created_at ASC
	`, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval records: %w", err)
	}
	defer rows.Close()

	var records []models.ApprovalRecord
	for rows.Next() {
		var a models.ApprovalRecord
		if err := rows.Scan(&a.ID, &a.ContentID, &a.ApproverID, &a.Decision, &a.Comments, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval record: %w", err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}

// GetStatus reads just the current status of an item
func (r *Repository) GetStatus(ctx context.Context, id string) (models.ContentStatus, error) {
	var status models.ContentStatus
	err := r.db.QueryRowContext(ctx, `
		SELECT status FROM conductor.content_items WHERE id = $1
	`, id).Scan(&status)
	if err != nil {
		return "", err
	}
	return status, nil
}

// itemHead is the subset of a content item a transition needs
type itemHead struct {
	ID                string
	TeamID            string
	AuthorID          *string
	Title             string
	Status            models.ContentStatus
	CurrentApprovalID *string
}

// getItemForUpdate loads and row-locks the item head inside a transaction
// so transitions for one item are serialized at the storage boundary.
func (r *Repository) getItemForUpdate(ctx context.Context, tx *sql.Tx, id string) (*itemHead, error) {
	var head itemHead
	err := tx.QueryRowContext(ctx, `
		SELECT id, team_id, author_id, title, status, current_approval_id
		FROM conductor.content_items
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&head.ID, &head.TeamID, &head.AuthorID, &head.Title, &head.Status, &head.CurrentApprovalID)
	if err != nil {
		return nil, err
	}
	return &head, nil
}

// setStatus updates the item status, optionally clearing the approval
// pointer, and stamps the acting user on the audit fields.
func (r *Repository) setStatus(ctx context.Context, tx *sql.Tx, id string, status models.ContentStatus, clearApproval bool, actorID string) error {
	var err error
	if clearApproval {
		_, err = tx.ExecContext(ctx, `
			UPDATE conductor.content_items
			SET status = $2, current_approval_id = NULL, updated_at = NOW(), updated_by = $3
			WHERE id = $1
		`, id, status, actorID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE conductor.content_items
			SET status = $2, updated_at = NOW(), updated_by = $3
			WHERE id = $1
		`, id, status, actorID)
	}
	if err != nil {
		return fmt.Errorf("failed to update content status: %w", err)
	}
	return nil
}

// setApproval records the approval pointer together with the new status
func (r *Repository) setApproval(ctx context.Context, tx *sql.Tx, id, approvalID string, status models.ContentStatus, actorID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE conductor.content_items
		SET status = $2, current_approval_id = $3, updated_at = NOW(), updated_by = $4
		WHERE id = $1
	`, id, status, approvalID, actorID)
	if err != nil {
		return fmt.Errorf("failed to update approval pointer: %w", err)
	}
	return nil
}

// insertApproval appends one immutable approval record
func (r *Repository) insertApproval(ctx context.Context, tx *sql.Tx, record *models.ApprovalRecord) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO conductor.approval_records (id, content_id, approver_id, decision, comments, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`, record.ID, record.ContentID, record.ApproverID, record.Decision, record.Comments).Scan(&record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert approval record: %w", err)
	}
	return nil
}

// insertDistribution creates one scheduled distribution from a window
func (r *Repository) insertDistribution(ctx context.Context, tx *sql.Tx, d *models.ContentDistribution) error {
	var retrySeconds sql.NullInt64
	if d.RetryInterval != nil {
		retrySeconds = sql.NullInt64{Int64: int64(d.RetryInterval.Seconds()), Valid: true}
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO conductor.content_distributions
			(id, content_id, platform, status, publish_on, retry_interval_seconds,
			 max_retry_count, attempt_count, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $5, NOW(), NOW())
		RETURNING created_at
	`, d.ID, d.ContentID, d.Platform, d.Status, d.PublishOn, retrySeconds, d.MaxRetryCount).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert distribution: %w", err)
	}
	return nil
}

// mostRecentPlatform resolves the platform of the item's latest
// distribution, used as the fallback when a schedule request names none.
func (r *Repository) mostRecentPlatform(ctx context.Context, tx *sql.Tx, contentID string) (models.Platform, bool, error) {
	var platform models.Platform
	err := tx.QueryRowContext(ctx, `
		SELECT platform FROM conductor.content_distributions
		WHERE content_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, contentID).Scan(&platform)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve most recent platform: %w", err)
	}
	return platform, true, nil
}

// latestDistribution returns the item's newest distribution head, if any
func (r *Repository) latestDistribution(ctx context.Context, tx *sql.Tx, contentID string) (*models.ContentDistribution, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, content_id, platform, status, publish_on, retry_interval_seconds,
		       max_retry_count, attempt_count, next_attempt_at, external_post_id,
		       failure_reason, published_at, created_at, updated_at
		FROM conductor.content_distributions
		WHERE content_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, contentID)
	d, err := scanDistribution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// CreateItem inserts a new content item in draft, used by the generation
// path and by tests.
func (r *Repository) CreateItem(ctx context.Context, item *models.ContentItem) error {
	if item.Status == "" {
		item.Status = models.StatusDraft
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO conductor.content_items
			(id, team_id, author_id, title, body, caption, status, hashtags, image_urls,
			 created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), $10, NOW(), $10)
		RETURNING created_at, updated_at
	`, item.ID, item.TeamID, item.AuthorID, item.Title, item.Body, item.Caption,
		item.Status, pq.Array(item.Hashtags), pq.Array(item.ImageURLs), item.CreatedBy,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert content item: %w", err)
	}
	return nil
}
