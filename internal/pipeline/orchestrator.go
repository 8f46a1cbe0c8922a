// Package pipeline implements the content status state machine: the
// orchestrator routes a requested status change to the matching
// sub-operation, each of which mutates the item in one transaction and
// raises one domain event after commit.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"contentflow/internal/events"
	"contentflow/pkg/database"
	"contentflow/pkg/logging"
	"contentflow/pkg/models"
)

// DefaultRejectionReason is recorded when a rejection names no reason
const DefaultRejectionReason = "Content did not meet the publishing guidelines"

// Result is the definite outcome of a pipeline command. Commands never
// surface exceptions to the caller; every failure carries readable text.
type Result struct {
	Success   bool
	ContentID string
	Errors    []string
}

// Succeeded builds a success result for one content item
func Succeeded(contentID string) Result {
	return Result{Success: true, ContentID: contentID}
}

// Failed builds a failure result carrying one or more error messages
func Failed(contentID string, errs ...string) Result {
	return Result{Success: false, ContentID: contentID, Errors: errs}
}

// commandFailure marks an error whose message is safe to surface verbatim
// to the caller, as opposed to internal storage errors.
type commandFailure struct {
	msg string
}

func (e commandFailure) Error() string { return e.msg }

func failCommand(format string, args ...interface{}) error {
	return commandFailure{msg: fmt.Sprintf(format, args...)}
}

// Command asks the orchestrator to move one content item to a target status
type Command struct {
	ContentID     string
	TargetStatus  models.ContentStatus
	ActorID       string
	ScheduledOn   *time.Time
	Reason        *string
	Platform      *models.Platform
	RetryInterval *time.Duration
	MaxRetryCount int
}

type transitionFunc func(ctx context.Context, cmd Command) Result

// Orchestrator is the single entry point for status changes. Target
// statuses resolve through a dispatch table; an unmapped status fails
// loudly instead of falling through.
type Orchestrator struct {
	repo     *Repository
	bus      *events.Bus
	logger   logging.Logger
	dispatch map[models.ContentStatus]transitionFunc
}

// NewOrchestrator wires the orchestrator and its transition table
func NewOrchestrator(repo *Repository, bus *events.Bus, logger logging.Logger) *Orchestrator {
	o := &Orchestrator{
		repo:   repo,
		bus:    bus,
		logger: logger,
	}
	o.dispatch = map[models.ContentStatus]transitionFunc{
		models.StatusDraft:           o.resetToDraft,
		models.StatusGenerated:       o.markGenerated,
		models.StatusPendingApproval: o.submitForApproval,
		models.StatusApproved: func(ctx context.Context, cmd Command) Result {
			return o.Approve(ctx, cmd.ContentID, cmd.ActorID, cmd.Reason)
		},
		models.StatusRejected: func(ctx context.Context, cmd Command) Result {
			reason := DefaultRejectionReason
			if cmd.Reason != nil && *cmd.Reason != "" {
				reason = *cmd.Reason
			}
			return o.Reject(ctx, cmd.ContentID, cmd.ActorID, reason)
		},
		models.StatusScheduled: o.scheduleFromCommand,
		models.StatusPublished: o.markPublished,
	}
	return o
}

// UpdateStatus routes the command to the sub-operation for its target
// status. Requesting the current status is a no-op success.
func (o *Orchestrator) UpdateStatus(ctx context.Context, cmd Command) Result {
	current, err := o.repo.GetStatus(ctx, cmd.ContentID)
	if err != nil {
		return o.failure(cmd.ContentID, err)
	}
	if current == cmd.TargetStatus {
		return Succeeded(cmd.ContentID)
	}

	handler, ok := o.dispatch[cmd.TargetStatus]
	if !ok {
		return Failed(cmd.ContentID,
			fmt.Sprintf("unsupported pipeline status transition requested: %q", string(cmd.TargetStatus)))
	}
	return handler(ctx, cmd)
}

// failure converts a storage or validation error into a command result
func (o *Orchestrator) failure(contentID string, err error) Result {
	if errors.Is(err, sql.ErrNoRows) {
		return Failed(contentID, "content item not found")
	}
	var cmdErr commandFailure
	if errors.As(err, &cmdErr) {
		return Failed(contentID, cmdErr.msg)
	}
	o.logger.WithError(err).WithField("content_id", contentID).Error("Pipeline command failed")
	return Failed(contentID, "internal error while updating content")
}

// resetToDraft is an unconditional reset that clears the approval pointer
func (o *Orchestrator) resetToDraft(ctx context.Context, cmd Command) Result {
	return o.setStatusOnly(ctx, cmd, models.StatusDraft, true)
}

// markGenerated marks regeneration, clearing the approval pointer
func (o *Orchestrator) markGenerated(ctx context.Context, cmd Command) Result {
	return o.setStatusOnly(ctx, cmd, models.StatusGenerated, true)
}

// submitForApproval moves the item into the approval queue
func (o *Orchestrator) submitForApproval(ctx context.Context, cmd Command) Result {
	return o.setStatusOnly(ctx, cmd, models.StatusPendingApproval, false)
}

func (o *Orchestrator) setStatusOnly(ctx context.Context, cmd Command, status models.ContentStatus, clearApproval bool) Result {
	err := database.WithTx(ctx, o.repo.DB(), func(tx *sql.Tx) error {
		head, err := o.repo.getItemForUpdate(ctx, tx, cmd.ContentID)
		if err != nil {
			return err
		}
		return o.repo.setStatus(ctx, tx, head.ID, status, clearApproval, cmd.ActorID)
	})
	if err != nil {
		return o.failure(cmd.ContentID, err)
	}

	o.logger.WithFields(logging.Fields{
		"content_id": cmd.ContentID,
		"status":     status,
		"actor_id":   cmd.ActorID,
	}).Info("Content status updated")
	return Succeeded(cmd.ContentID)
}

// Approve records an approval decision and raises the approval event
func (o *Orchestrator) Approve(ctx context.Context, contentID, approverID string, comments *string) Result {
	return o.decide(ctx, contentID, approverID, models.DecisionApproved, comments)
}

// Reject records a rejection. The reason is stored on the approval record
// and carried on the event so the notification can explain the outcome.
func (o *Orchestrator) Reject(ctx context.Context, contentID, approverID, reason string) Result {
	if reason == "" {
		reason = DefaultRejectionReason
	}
	return o.decide(ctx, contentID, approverID, models.DecisionRejected, &reason)
}

func (o *Orchestrator) decide(ctx context.Context, contentID, approverID string, decision models.ApprovalDecision, comments *string) Result {
	status := models.StatusApproved
	if decision == models.DecisionRejected {
		status = models.StatusRejected
	}

	record := &models.ApprovalRecord{
		ID:         uuid.New().String(),
		ContentID:  contentID,
		ApproverID: approverID,
		Decision:   decision,
		Comments:   comments,
	}

	var head *itemHead
	err := database.WithTx(ctx, o.repo.DB(), func(tx *sql.Tx) (txErr error) {
		head, txErr = o.repo.getItemForUpdate(ctx, tx, contentID)
		if txErr != nil {
			return txErr
		}
		if txErr = o.repo.insertApproval(ctx, tx, record); txErr != nil {
			return txErr
		}
		return o.repo.setApproval(ctx, tx, head.ID, record.ID, status, approverID)
	})
	if err != nil {
		return o.failure(contentID, err)
	}

	o.logger.WithFields(logging.Fields{
		"content_id":  contentID,
		"approver_id": approverID,
		"decision":    decision,
	}).Info("Approval decision recorded")

	o.bus.Publish(ctx, events.ContentApprovalEvent{
		ContentID:    contentID,
		ContentTitle: head.Title,
		TeamID:       head.TeamID,
		AuthorID:     head.AuthorID,
		ApproverID:   approverID,
		Decision:     decision,
		Reason:       comments,
		Timestamp:    time.Now().UTC(),
	})
	return Succeeded(contentID)
}

// scheduleFromCommand adapts the generic status command to Schedule
func (o *Orchestrator) scheduleFromCommand(ctx context.Context, cmd Command) Result {
	if cmd.ScheduledOn == nil {
		return Failed(cmd.ContentID, "a scheduled publish time must be provided to schedule content")
	}
	return o.Schedule(ctx, ScheduleCommand{
		ContentID:     cmd.ContentID,
		ActorID:       cmd.ActorID,
		Platform:      cmd.Platform,
		PublishOn:     *cmd.ScheduledOn,
		RetryInterval: cmd.RetryInterval,
		MaxRetryCount: cmd.MaxRetryCount,
	})
}

// ScheduleCommand schedules one content item onto a platform. Platform may
// be nil, in which case the item's most recently used platform is reused.
type ScheduleCommand struct {
	ContentID     string
	ActorID       string
	Platform      *models.Platform
	PublishOn     time.Time
	RetryInterval *time.Duration
	MaxRetryCount int
}

// Schedule validates the publishing window, creates a distribution and
// moves the item to scheduled in one transaction, then raises the
// scheduled event.
func (o *Orchestrator) Schedule(ctx context.Context, cmd ScheduleCommand) Result {
	// Window validation happens before any mutation so a bad request
	// never touches the item.
	window, err := models.NewPublishingWindow(cmd.PublishOn, cmd.RetryInterval, cmd.MaxRetryCount)
	if err != nil {
		return Failed(cmd.ContentID, err.Error())
	}
	if cmd.Platform != nil && !cmd.Platform.IsValid() {
		return Failed(cmd.ContentID, fmt.Sprintf("unsupported platform: %q", string(*cmd.Platform)))
	}

	distribution := &models.ContentDistribution{
		ID:            uuid.New().String(),
		ContentID:     cmd.ContentID,
		Status:        models.DistributionScheduled,
		PublishOn:     window.PublishOn,
		RetryInterval: window.RetryInterval,
		MaxRetryCount: window.MaxRetryCount,
		NextAttemptAt: window.PublishOn,
	}

	var head *itemHead
	err = database.WithTx(ctx, o.repo.DB(), func(tx *sql.Tx) (txErr error) {
		head, txErr = o.repo.getItemForUpdate(ctx, tx, cmd.ContentID)
		if txErr != nil {
			return txErr
		}

		if cmd.Platform != nil {
			distribution.Platform = *cmd.Platform
		} else {
			platform, found, resolveErr := o.repo.mostRecentPlatform(ctx, tx, cmd.ContentID)
			if resolveErr != nil {
				return resolveErr
			}
			if !found {
				return failCommand("a platform must be provided, and this content has no previously used platform to fall back on")
			}
			distribution.Platform = platform
		}

		if txErr = o.repo.insertDistribution(ctx, tx, distribution); txErr != nil {
			return txErr
		}
		return o.repo.setStatus(ctx, tx, head.ID, models.StatusScheduled, false, cmd.ActorID)
	})
	if err != nil {
		return o.failure(cmd.ContentID, err)
	}

	o.logger.WithFields(logging.Fields{
		"content_id":      cmd.ContentID,
		"distribution_id": distribution.ID,
		"platform":        distribution.Platform,
		"publish_on":      distribution.PublishOn,
	}).Info("Content scheduled")

	o.bus.Publish(ctx, events.ContentScheduledEvent{
		DistributionID: distribution.ID,
		ContentID:      cmd.ContentID,
		ContentTitle:   head.Title,
		TeamID:         head.TeamID,
		AuthorID:       head.AuthorID,
		Platform:       distribution.Platform,
		PublishOn:      distribution.PublishOn,
		Timestamp:      time.Now().UTC(),
	})
	return Succeeded(cmd.ContentID)
}

// markPublished is the unconditional published mark. The scheduler's
// publish path normally flips the status itself; this transition exists
// for operator correction and for externally published content.
func (o *Orchestrator) markPublished(ctx context.Context, cmd Command) Result {
	var head *itemHead
	var latest *models.ContentDistribution
	err := database.WithTx(ctx, o.repo.DB(), func(tx *sql.Tx) (txErr error) {
		head, txErr = o.repo.getItemForUpdate(ctx, tx, cmd.ContentID)
		if txErr != nil {
			return txErr
		}
		if latest, txErr = o.repo.latestDistribution(ctx, tx, cmd.ContentID); txErr != nil {
			return txErr
		}
		return o.repo.setStatus(ctx, tx, head.ID, models.StatusPublished, false, cmd.ActorID)
	})
	if err != nil {
		return o.failure(cmd.ContentID, err)
	}

	event := events.ContentPublishedEvent{
		ContentID:    cmd.ContentID,
		ContentTitle: head.Title,
		TeamID:       head.TeamID,
		AuthorID:     head.AuthorID,
		Timestamp:    time.Now().UTC(),
	}
	if latest != nil {
		event.DistributionID = latest.ID
		event.Platform = latest.Platform
		if latest.ExternalPostID != nil {
			event.ExternalPostID = *latest.ExternalPostID
		}
	}
	o.bus.Publish(ctx, event)
	return Succeeded(cmd.ContentID)
}
