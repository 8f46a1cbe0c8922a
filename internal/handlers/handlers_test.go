package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"contentflow/internal/events"
	"contentflow/internal/notifications"
	"contentflow/internal/pipeline"
	"contentflow/internal/tokens"
	"contentflow/internal/websocket"
	"contentflow/pkg/api/conductor"
	"contentflow/pkg/logging"
	"contentflow/pkg/models"
)

type stubRefresher struct{}

func (stubRefresher) Refresh(context.Context, models.Platform, string) (tokens.RefreshedTokens, error) {
	return tokens.RefreshedTokens{}, nil
}

func setupTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	logger := logging.NewLogger()
	bus := events.NewBus(logger)
	repo := pipeline.NewRepository(db)
	hub := websocket.NewHub(logger)

	Init(
		pipeline.NewOrchestrator(repo, bus, logger),
		repo,
		tokens.NewService(db, stubRefresher{}, logger),
		notifications.NewService(db, logger),
		hub,
		nil,
		logger,
	)

	router := gin.New()
	router.POST("/api/content/:id/status", UpdateContentStatus)
	router.POST("/api/content/:id/approve", ApproveContent)
	router.POST("/api/content/:id/reject", RejectContent)
	router.POST("/api/content/:id/schedule", ScheduleContent)
	router.GET("/api/content/:id", GetContent)
	router.POST("/api/accounts/tokens", StoreAccountTokens)
	router.GET("/api/accounts/:platform/valid", CheckTokenValidity)
	router.GET("/api/notifications", ListNotifications)
	router.POST("/api/notifications/:id/read", MarkNotificationRead)
	router.GET("/api/notifications/stream/stats", NotificationStreamStats)
	return router, mock, db
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUpdateContentStatusRejectsInvalidBody(t *testing.T) {
	router, _, db := setupTestRouter(t)
	defer db.Close()

	w := doJSON(router, "POST", "/api/content/content-1/status", `{"target_status": "draft"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing actor_id, got %d", w.Code)
	}
}

func TestUpdateContentStatusNotFound(t *testing.T) {
	router, mock, db := setupTestRouter(t)
	defer db.Close()

	mock.ExpectQuery("SELECT status FROM conductor.content_items").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	w := doJSON(router, "POST", "/api/content/missing/status",
		`{"target_status": "generated", "actor_id": "user-1"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}

	var resp conductor.CommandResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Success {
		t.Error("expected failure response")
	}
}

func TestUpdateContentStatusUnsupportedTransition(t *testing.T) {
	router, mock, db := setupTestRouter(t)
	defer db.Close()

	mock.ExpectQuery("SELECT status FROM conductor.content_items").
		WithArgs("content-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("draft"))

	w := doJSON(router, "POST", "/api/content/content-1/status",
		`{"target_status": "archived", "actor_id": "user-1"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestScheduleContentRejectsBadRetryInterval(t *testing.T) {
	router, _, db := setupTestRouter(t)
	defer db.Close()

	w := doJSON(router, "POST", "/api/content/content-1/schedule",
		`{"actor_id": "user-1", "platform": "meta", "publish_on": "2030-01-01T10:00:00Z", "retry_interval": "soon"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad retry interval, got %d", w.Code)
	}
}

func TestGetContentNotFound(t *testing.T) {
	router, mock, db := setupTestRouter(t)
	defer db.Close()

	mock.ExpectQuery("SELECT id, team_id, author_id, title, body, caption").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	w := doJSON(router, "GET", "/api/content/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCheckTokenValidityRequiresTeam(t *testing.T) {
	router, _, db := setupTestRouter(t)
	defer db.Close()

	w := doJSON(router, "GET", "/api/accounts/meta/valid", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without team_id, got %d", w.Code)
	}
}

func TestCheckTokenValidity(t *testing.T) {
	router, mock, db := setupTestRouter(t)
	defer db.Close()

	future := time.Now().UTC().Add(time.Hour)
	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "team_id", "platform", "account_name", "access_token", "refresh_token",
			"expires_at", "is_active", "last_used_at", "created_at", "updated_at",
		}).AddRow("acct-1", "team-1", "meta", "Acme Page", "tok", nil,
			&future, true, nil, time.Now(), time.Now()))

	w := doJSON(router, "GET", "/api/accounts/meta/valid?team_id=team-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp conductor.TokenValidityResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Valid {
		t.Error("expected valid token")
	}
}

func TestStoreAccountTokensRejectsUnknownPlatform(t *testing.T) {
	router, _, db := setupTestRouter(t)
	defer db.Close()

	w := doJSON(router, "POST", "/api/accounts/tokens",
		`{"team_id": "team-1", "platform": "myspace", "account_name": "a", "access_token": "t"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown platform, got %d", w.Code)
	}
}

func TestListNotifications(t *testing.T) {
	router, mock, db := setupTestRouter(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, recipient_id, type, message, is_read").
		WithArgs("user-1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "recipient_id", "type", "message", "is_read", "created_at"}).
			AddRow("n-1", "user-1", "content_approved", `Content "Launch post" was approved`, false, now))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	w := doJSON(router, "GET", "/api/notifications?recipient_id=user-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp conductor.NotificationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Notifications) != 1 || resp.UnreadCount != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestNotificationStreamStats(t *testing.T) {
	router, _, db := setupTestRouter(t)
	defer db.Close()

	w := doJSON(router, "GET", "/api/notifications/stream/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var stats map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := stats["total_clients"]; !ok {
		t.Errorf("expected total_clients in stats, got %v", stats)
	}
}

func TestMarkNotificationReadScopedToRecipient(t *testing.T) {
	router, mock, db := setupTestRouter(t)
	defer db.Close()

	mock.ExpectExec("UPDATE conductor.notifications").
		WithArgs("n-1", "user-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := doJSON(router, "POST", "/api/notifications/n-1/read?recipient_id=user-2", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another recipient's notification, got %d", w.Code)
	}
}
