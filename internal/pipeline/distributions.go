package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"contentflow/pkg/database"
	"contentflow/pkg/models"
)

// DueDistribution is a claimed distribution joined with the content fields
// a publish attempt needs.
type DueDistribution struct {
	models.ContentDistribution
	TeamID    string
	AuthorID  *string
	Title     string
	Body      string
	Caption   string
	Hashtags  []string
	ImageURLs []string
}

// ClaimDueDistributions atomically claims up to limit due distributions by
// moving them to publishing and bumping their attempt count. Rows stuck in
// publishing past the claim lease are reclaimed too, so an attempt whose
// outcome write never landed (crash, shutdown mid-batch) re-enters the pool
// instead of being stranded. SKIP LOCKED keeps concurrent runner instances
// from claiming the same rows.
func (r *Repository) ClaimDueDistributions(ctx context.Context, limit int, claimLease time.Duration) ([]DueDistribution, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH due AS (
			SELECT id FROM conductor.content_distributions
			WHERE (status = 'scheduled' AND next_attempt_at <= NOW())
			   OR (status = 'publishing' AND updated_at < NOW() - ($2 * interval '1 second'))
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE conductor.content_distributions d
		SET status = 'publishing', attempt_count = d.attempt_count + 1, updated_at = NOW()
		FROM due
		WHERE d.id = due.id
		RETURNING d.id, d.content_id, d.platform, d.publish_on, d.retry_interval_seconds,
		          d.max_retry_count, d.attempt_count, d.next_attempt_at
	`, limit, int64(claimLease/time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to claim due distributions: %w", err)
	}
	defer rows.Close()

	var claimed []DueDistribution
	for rows.Next() {
		var d DueDistribution
		var retrySeconds sql.NullInt64
		if err := rows.Scan(&d.ID, &d.ContentID, &d.Platform, &d.PublishOn, &retrySeconds,
			&d.MaxRetryCount, &d.AttemptCount, &d.NextAttemptAt); err != nil {
			return nil, fmt.Errorf("failed to scan claimed distribution: %w", err)
		}
		d.Status = models.DistributionPublishing
		if retrySeconds.Valid {
			interval := time.Duration(retrySeconds.Int64) * time.Second
			d.RetryInterval = &interval
		}
		claimed = append(claimed, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range claimed {
		if err := r.attachContentFields(ctx, &claimed[i]); err != nil {
			return nil, err
		}
	}
	return claimed, nil
}

func (r *Repository) attachContentFields(ctx context.Context, d *DueDistribution) error {
	var hashtags, imageURLs pq.StringArray
	err := r.db.QueryRowContext(ctx, `
		SELECT team_id, author_id, title, body, caption, hashtags, image_urls
		FROM conductor.content_items
		WHERE id = $1
	`, d.ContentID).Scan(&d.TeamID, &d.AuthorID, &d.Title, &d.Body, &d.Caption,
		&hashtags, &imageURLs)
	if err != nil {
		return fmt.Errorf("failed to load content for distribution %s: %w", d.ID, err)
	}
	d.Hashtags = hashtags
	d.ImageURLs = imageURLs
	return nil
}

// RecordPublishSuccess marks the distribution published and flips the
// content item to published in the same transaction.
func (r *Repository) RecordPublishSuccess(ctx context.Context, distributionID, contentID, externalPostID string) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE conductor.content_distributions
			SET status = 'published', external_post_id = $2, failure_reason = NULL,
			    published_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, distributionID, externalPostID)
		if err != nil {
			return fmt.Errorf("failed to record publish success: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE conductor.content_items
			SET status = $2, updated_at = NOW()
			WHERE id = $1
		`, contentID, models.StatusPublished)
		if err != nil {
			return fmt.Errorf("failed to mark content published: %w", err)
		}
		return nil
	})
}

// RecordPublishRetry returns the distribution to the scheduled pool with a
// later attempt time and the failure captured for operators.
func (r *Repository) RecordPublishRetry(ctx context.Context, distributionID, reason string, nextAttemptAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conductor.content_distributions
		SET status = 'scheduled', failure_reason = $2, next_attempt_at = $3, updated_at = NOW()
		WHERE id = $1
	`, distributionID, reason, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("failed to record publish retry: %w", err)
	}
	return nil
}

// RecordPublishFailure marks the distribution terminally failed
func (r *Repository) RecordPublishFailure(ctx context.Context, distributionID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conductor.content_distributions
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1
	`, distributionID, reason)
	if err != nil {
		return fmt.Errorf("failed to record publish failure: %w", err)
	}
	return nil
}
