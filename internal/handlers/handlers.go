// Package handlers exposes the pipeline over HTTP. Commands always answer
// with a definite CommandResponse; read endpoints answer with the
// aggregate or collection they name.
package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"contentflow/internal/metrics"
	"contentflow/internal/notifications"
	"contentflow/internal/pipeline"
	"contentflow/internal/tokens"
	"contentflow/internal/websocket"
	"contentflow/pkg/api/common"
	"contentflow/pkg/api/conductor"
	"contentflow/pkg/logging"
	"contentflow/pkg/middleware"
	"contentflow/pkg/models"
)

var (
	orchestrator  *pipeline.Orchestrator
	repo          *pipeline.Repository
	tokenService  *tokens.Service
	notifier      *notifications.Service
	hub           *websocket.Hub
	domainMetrics *metrics.Conductor
	logger        logging.Logger
)

// Init initializes the handlers with their collaborators
func Init(o *pipeline.Orchestrator, r *pipeline.Repository, t *tokens.Service, n *notifications.Service, h *websocket.Hub, m *metrics.Conductor, log logging.Logger) {
	orchestrator = o
	repo = r
	tokenService = t
	notifier = n
	hub = h
	domainMetrics = m
	logger = log
}

// statusForResult maps a command failure to an HTTP status
func statusForResult(result pipeline.Result) int {
	if result.Success {
		return http.StatusOK
	}
	for _, msg := range result.Errors {
		switch {
		case strings.Contains(msg, "not found"):
			return http.StatusNotFound
		case strings.Contains(msg, "unsupported pipeline status transition"):
			return http.StatusUnprocessableEntity
		case strings.Contains(msg, "internal error"):
			return http.StatusInternalServerError
		}
	}
	return http.StatusBadRequest
}

func respond(c middleware.Context, result pipeline.Result) {
	c.JSON(statusForResult(result), conductor.CommandResponse{
		Success:   result.Success,
		ContentID: result.ContentID,
		Errors:    result.Errors,
	})
}

// UpdateContentStatus is the status-change command entry point
func UpdateContentStatus(c middleware.Context) {
	var req conductor.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: err.Error()})
		return
	}

	result := orchestrator.UpdateStatus(c.Request.Context(), pipeline.Command{
		ContentID:    c.Param("id"),
		TargetStatus: req.TargetStatus,
		ActorID:      req.ActorID,
		ScheduledOn:  req.ScheduledOn,
		Reason:       req.Reason,
		Platform:     req.Platform,
	})
	domainMetrics.RecordTransition(string(req.TargetStatus), result.Success)
	respond(c, result)
}

// ApproveContent records an approval decision
func ApproveContent(c middleware.Context) {
	var req conductor.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: err.Error()})
		return
	}

	result := orchestrator.Approve(c.Request.Context(), c.Param("id"), req.ApproverID, req.Comments)
	domainMetrics.RecordTransition(string(models.StatusApproved), result.Success)
	respond(c, result)
}

// RejectContent records a rejection decision
func RejectContent(c middleware.Context) {
	var req conductor.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: err.Error()})
		return
	}

	result := orchestrator.Reject(c.Request.Context(), c.Param("id"), req.ApproverID, req.Reason)
	domainMetrics.RecordTransition(string(models.StatusRejected), result.Success)
	respond(c, result)
}

// ScheduleContent schedules a content item onto a platform
func ScheduleContent(c middleware.Context) {
	var req conductor.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: err.Error()})
		return
	}

	var retryInterval *time.Duration
	if req.RetryInterval != nil {
		parsed, err := time.ParseDuration(*req.RetryInterval)
		if err != nil {
			c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "invalid retry_interval: " + err.Error()})
			return
		}
		retryInterval = &parsed
	}

	result := orchestrator.Schedule(c.Request.Context(), pipeline.ScheduleCommand{
		ContentID:     c.Param("id"),
		ActorID:       req.ActorID,
		Platform:      &req.Platform,
		PublishOn:     req.PublishOn,
		RetryInterval: retryInterval,
		MaxRetryCount: req.MaxRetryCount,
	})
	domainMetrics.RecordTransition(string(models.StatusScheduled), result.Success)
	respond(c, result)
}

// GetContent returns one content item with distributions and approvals
func GetContent(c middleware.Context) {
	item, err := repo.GetItem(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, common.ErrorResponse{Error: "Content item not found"})
		return
	}
	if err != nil {
		middleware.GetContextLogger(c, logger).WithError(err).WithField("content_id", c.Param("id")).Error("Failed to load content item")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, conductor.ContentItemResponse{Item: *item})
}

// StoreAccountTokens upserts an OAuth credential for (team, platform)
func StoreAccountTokens(c middleware.Context) {
	var req conductor.StoreTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: err.Error()})
		return
	}
	if !req.Platform.IsValid() {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "unsupported platform"})
		return
	}

	err := tokenService.StoreTokens(c.Request.Context(), req.TeamID, req.Platform,
		req.AccountName, req.AccessToken, req.RefreshToken, req.ExpiresAt)
	if err != nil {
		middleware.GetContextLogger(c, logger).WithError(err).WithFields(logging.Fields{
			"team_id":  req.TeamID,
			"platform": req.Platform,
		}).Error("Failed to store account tokens")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, common.SuccessResponse{Success: true})
}

// RevokeAccountTokens deactivates the credential for (team, platform)
func RevokeAccountTokens(c middleware.Context) {
	teamID := c.Query("team_id")
	platform := models.Platform(c.Param("platform"))
	if teamID == "" || !platform.IsValid() {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "team_id and a valid platform are required"})
		return
	}

	if err := tokenService.RevokeTokens(c.Request.Context(), teamID, platform); err != nil {
		middleware.GetContextLogger(c, logger).WithError(err).WithFields(logging.Fields{
			"team_id":  teamID,
			"platform": platform,
		}).Error("Failed to revoke account tokens")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, common.SuccessResponse{Success: true})
}

// CheckTokenValidity reports whether a usable token exists
func CheckTokenValidity(c middleware.Context) {
	teamID := c.Query("team_id")
	platform := models.Platform(c.Param("platform"))
	if teamID == "" || !platform.IsValid() {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "team_id and a valid platform are required"})
		return
	}

	valid, err := tokenService.HasValidToken(c.Request.Context(), teamID, platform)
	if err != nil {
		middleware.GetContextLogger(c, logger).WithError(err).Error("Failed to check token validity")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, conductor.TokenValidityResponse{
		TeamID:   teamID,
		Platform: platform,
		Valid:    valid,
	})
}

// ListNotifications returns recent notifications plus the unread count
func ListNotifications(c middleware.Context) {
	recipientID := c.Query("recipient_id")
	if recipientID == "" {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "recipient_id is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	list, err := notifier.ListForRecipient(c.Request.Context(), recipientID, limit)
	if err != nil {
		middleware.GetContextLogger(c, logger).WithError(err).Error("Failed to list notifications")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Internal server error"})
		return
	}
	unread, err := notifier.UnreadCount(c.Request.Context(), recipientID)
	if err != nil {
		middleware.GetContextLogger(c, logger).WithError(err).Error("Failed to count unread notifications")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, conductor.NotificationsResponse{
		Notifications: list,
		UnreadCount:   unread,
	})
}

// MarkNotificationRead flags one notification read for its recipient
func MarkNotificationRead(c middleware.Context) {
	recipientID := c.Query("recipient_id")
	if recipientID == "" {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "recipient_id is required"})
		return
	}

	err := notifier.MarkRead(c.Request.Context(), c.Param("id"), recipientID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, common.ErrorResponse{Error: "Notification not found"})
		return
	}
	if err != nil {
		middleware.GetContextLogger(c, logger).WithError(err).Error("Failed to mark notification read")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, common.SuccessResponse{Success: true})
}

// NotificationsWebSocket upgrades the connection and hands it to the hub
func NotificationsWebSocket(c middleware.Context) {
	hub.ServeWS(c.Writer, c.Request)
	domainMetrics.SetWebsocketClients(hub.ClientCount())
}

// NotificationStreamStats reports connected client and subscription counts
func NotificationStreamStats(c middleware.Context) {
	c.JSON(http.StatusOK, hub.GetStats())
}
