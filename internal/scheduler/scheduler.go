// Package scheduler drives due content distributions to their platforms.
// A poll loop claims distributions whose attempt time has passed, publishes
// each through the platform adapter and records the outcome, re-driving
// retryable failures with exponential backoff until the retry budget runs
// out.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"contentflow/internal/events"
	"contentflow/internal/metrics"
	"contentflow/internal/pipeline"
	"contentflow/internal/publisher"
	"contentflow/internal/tokens"
	"contentflow/pkg/config"
	"contentflow/pkg/logging"
)

const (
	// DefaultRetryInterval is the backoff base when a distribution
	// carries no explicit retry interval.
	DefaultRetryInterval = 5 * time.Minute

	// maxBackoff caps exponential backoff growth
	maxBackoff = 6 * time.Hour
)

// Runner is the background publish job manager
type Runner struct {
	repo       *pipeline.Repository
	tokens     *tokens.Service
	publishers *publisher.Factory
	bus        *events.Bus
	logger     logging.Logger

	pollInterval time.Duration
	batchSize    int
	workers      int
	claimLease   time.Duration
	stopCh       chan struct{}
	metrics      *metrics.Conductor
}

// NewRunner creates the publish runner. Poll cadence and concurrency come
// from the environment.
func NewRunner(repo *pipeline.Repository, tokenService *tokens.Service, publishers *publisher.Factory, bus *events.Bus, logger logging.Logger) *Runner {
	return &Runner{
		repo:         repo,
		tokens:       tokenService,
		publishers:   publishers,
		bus:          bus,
		logger:       logger,
		pollInterval: config.GetEnvDuration("PUBLISH_POLL_INTERVAL", 30*time.Second),
		batchSize:    config.GetEnvInt("PUBLISH_BATCH_SIZE", 25),
		workers:      config.GetEnvInt("PUBLISH_WORKERS", 4),
		claimLease:   config.GetEnvDuration("PUBLISH_CLAIM_LEASE", 10*time.Minute),
		stopCh:       make(chan struct{}),
	}
}

// WithMetrics attaches the domain metrics collector
func (r *Runner) WithMetrics(m *metrics.Conductor) *Runner {
	r.metrics = m
	return r
}

// Start begins the background poll loop
func (r *Runner) Start(ctx context.Context) {
	r.logger.WithFields(logging.Fields{
		"poll_interval": r.pollInterval,
		"batch_size":    r.batchSize,
		"workers":       r.workers,
		"claim_lease":   r.claimLease,
	}).Info("Starting publish runner")
	go r.run(ctx)
}

// Stop stops the poll loop
func (r *Runner) Stop() {
	r.logger.Info("Stopping publish runner")
	close(r.stopCh)
}

func (r *Runner) run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.ProcessDue(ctx)
		}
	}
}

// ProcessDue claims one batch of due distributions and publishes them with
// bounded concurrency. Failures are recorded per distribution; the batch
// never aborts as a whole.
func (r *Runner) ProcessDue(ctx context.Context) {
	claimed, err := r.repo.ClaimDueDistributions(ctx, r.batchSize, r.claimLease)
	if err != nil {
		r.logger.WithError(err).Error("Failed to claim due distributions")
		return
	}
	r.metrics.SetQueueDepth(len(claimed))
	if len(claimed) == 0 {
		return
	}

	r.logger.WithField("count", len(claimed)).Info("Publishing due distributions")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range claimed {
		due := claimed[i]
		g.Go(func() error {
			r.publishOne(gctx, due)
			return nil
		})
	}
	_ = g.Wait()
}

// publishOne runs a single publish attempt end to end
func (r *Runner) publishOne(ctx context.Context, due pipeline.DueDistribution) {
	log := r.logger.WithFields(logging.Fields{
		"distribution_id": due.ID,
		"content_id":      due.ContentID,
		"platform":        due.Platform,
		"attempt":         due.AttemptCount,
	})

	accessToken, err := r.tokens.GetValidAccessToken(ctx, due.TeamID, due.Platform)
	if err != nil {
		log.WithError(err).Error("Token lookup failed")
		r.handleFailure(ctx, due, "token lookup failed: "+err.Error(), true)
		return
	}
	if accessToken == "" {
		// A missing or dead credential may be restored by the team, so
		// the attempt stays inside the retry budget.
		log.Warn("No usable access token for platform")
		r.handleFailure(ctx, due, "no usable access token for platform", true)
		return
	}

	adapter, err := r.publishers.Get(due.Platform)
	if err != nil {
		log.WithError(err).Error("No publisher for platform")
		r.handleFailure(ctx, due, err.Error(), false)
		return
	}

	started := time.Now()
	result := publisher.Publish(ctx, adapter, publisher.PostRequest{
		Title:       due.Title,
		Body:        due.Body,
		Caption:     due.Caption,
		Hashtags:    due.Hashtags,
		ImageURLs:   due.ImageURLs,
		TeamID:      due.TeamID,
		AccessToken: accessToken,
	})
	r.metrics.RecordPublishAttempt(string(due.Platform), result.Success, result.IsRetryable, time.Since(started))
	if !result.Success {
		log.WithFields(logging.Fields{
			"error":     result.ErrorMessage,
			"retryable": result.IsRetryable,
		}).Warn("Publish attempt failed")
		r.handleFailure(ctx, due, result.ErrorMessage, result.IsRetryable)
		return
	}

	if err := r.repo.RecordPublishSuccess(ctx, due.ID, due.ContentID, result.ExternalPostID); err != nil {
		log.WithError(err).Error("Failed to record publish success")
		return
	}
	log.WithField("external_post_id", result.ExternalPostID).Info("Content published")

	r.bus.Publish(ctx, events.ContentPublishedEvent{
		DistributionID: due.ID,
		ContentID:      due.ContentID,
		ContentTitle:   due.Title,
		TeamID:         due.TeamID,
		AuthorID:       due.AuthorID,
		Platform:       due.Platform,
		ExternalPostID: result.ExternalPostID,
		Timestamp:      time.Now().UTC(),
	})
}

// handleFailure either re-enqueues a retryable failure with backoff or
// marks the distribution terminally failed and reports it.
func (r *Runner) handleFailure(ctx context.Context, due pipeline.DueDistribution, reason string, retryable bool) {
	if retryable && due.AttemptCount < due.MaxRetryCount {
		nextAttempt := time.Now().UTC().Add(backoffDelay(due.RetryInterval, due.AttemptCount))
		if err := r.repo.RecordPublishRetry(ctx, due.ID, reason, nextAttempt); err != nil {
			r.logger.WithError(err).WithField("distribution_id", due.ID).Error("Failed to re-enqueue distribution")
		}
		return
	}

	if err := r.repo.RecordPublishFailure(ctx, due.ID, reason); err != nil {
		r.logger.WithError(err).WithField("distribution_id", due.ID).Error("Failed to record terminal publish failure")
		return
	}

	r.bus.Publish(ctx, events.PublishFailedEvent{
		DistributionID: due.ID,
		ContentID:      due.ContentID,
		ContentTitle:   due.Title,
		TeamID:         due.TeamID,
		AuthorID:       due.AuthorID,
		Platform:       due.Platform,
		Reason:         reason,
		Timestamp:      time.Now().UTC(),
	})
}

// backoffDelay doubles the base interval per completed attempt, capped so a
// long retry budget cannot push attempts out indefinitely.
func backoffDelay(retryInterval *time.Duration, attempt int) time.Duration {
	base := DefaultRetryInterval
	if retryInterval != nil && *retryInterval > 0 {
		base = *retryInterval
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}
