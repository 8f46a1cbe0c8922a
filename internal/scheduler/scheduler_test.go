package scheduler

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"contentflow/internal/events"
	"contentflow/internal/pipeline"
	"contentflow/internal/publisher"
	"contentflow/internal/tokens"
	"contentflow/pkg/clients"
	"contentflow/pkg/logging"
	"contentflow/pkg/models"
)

type stubRefresher struct{}

func (stubRefresher) Refresh(context.Context, models.Platform, string) (tokens.RefreshedTokens, error) {
	return tokens.RefreshedTokens{}, nil
}

type eventRecorder struct {
	events []events.Event
}

func (r *eventRecorder) record(_ context.Context, event events.Event) {
	r.events = append(r.events, event)
}

func noRetryConfig() clients.HTTPExecutorConfig {
	return clients.HTTPExecutorConfig{
		MaxRetries: -1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
		ShouldRetry: func(resp *http.Response, err error) bool {
			return false
		},
	}
}

func newTestRunner(t *testing.T, factory *publisher.Factory) (*Runner, sqlmock.Sqlmock, *sql.DB, *eventRecorder) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	logger := logging.NewLogger()
	bus := events.NewBus(logger)
	recorder := &eventRecorder{}
	bus.Subscribe(events.ContentPublishedEvent{}.EventName(), recorder.record)
	bus.Subscribe(events.PublishFailedEvent{}.EventName(), recorder.record)

	if factory == nil {
		factory = publisher.NewFactory(logger)
	}
	runner := NewRunner(
		pipeline.NewRepository(db),
		tokens.NewService(db, stubRefresher{}, logger),
		factory,
		bus,
		logger,
	)
	return runner, mock, db, recorder
}

func dueDistribution(attempt int) pipeline.DueDistribution {
	author := "author-1"
	return pipeline.DueDistribution{
		ContentDistribution: models.ContentDistribution{
			ID:            "dist-1",
			ContentID:     "content-1",
			Platform:      models.PlatformMeta,
			Status:        models.DistributionPublishing,
			MaxRetryCount: 3,
			AttemptCount:  attempt,
		},
		TeamID:   "team-1",
		AuthorID: &author,
		Title:    "Launch post",
		Body:     "Body text",
		Caption:  "Caption",
		Hashtags: []string{"launch"},
	}
}

func TestBackoffDelayDefaultsAndDoubles(t *testing.T) {
	if d := backoffDelay(nil, 1); d != DefaultRetryInterval {
		t.Errorf("attempt 1 expected base delay, got %s", d)
	}
	if d := backoffDelay(nil, 3); d != 4*DefaultRetryInterval {
		t.Errorf("attempt 3 expected 4x base, got %s", d)
	}

	interval := 10 * time.Minute
	if d := backoffDelay(&interval, 2); d != 20*time.Minute {
		t.Errorf("attempt 2 with 10m base expected 20m, got %s", d)
	}

	long := 5 * time.Hour
	if d := backoffDelay(&long, 4); d != maxBackoff {
		t.Errorf("expected backoff capped at %s, got %s", maxBackoff, d)
	}
}

func TestHandleFailureRetryableReEnqueues(t *testing.T) {
	runner, mock, db, recorder := newTestRunner(t, nil)
	defer db.Close()

	mock.ExpectExec("UPDATE conductor.content_distributions\\s+SET status = 'scheduled'").
		WithArgs("dist-1", "rate limited", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	runner.handleFailure(context.Background(), dueDistribution(1), "rate limited", true)

	if len(recorder.events) != 0 {
		t.Errorf("retryable failure within budget must not raise events, got %d", len(recorder.events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHandleFailureExhaustedBudgetGoesTerminal(t *testing.T) {
	runner, mock, db, recorder := newTestRunner(t, nil)
	defer db.Close()

	mock.ExpectExec("UPDATE conductor.content_distributions\\s+SET status = 'failed'").
		WithArgs("dist-1", "rate limited").
		WillReturnResult(sqlmock.NewResult(0, 1))

	runner.handleFailure(context.Background(), dueDistribution(3), "rate limited", true)

	if len(recorder.events) != 1 {
		t.Fatalf("expected one terminal failure event, got %d", len(recorder.events))
	}
	event, ok := recorder.events[0].(events.PublishFailedEvent)
	if !ok {
		t.Fatalf("expected publish failed event, got %T", recorder.events[0])
	}
	if event.Reason != "rate limited" {
		t.Errorf("expected failure reason on event, got %q", event.Reason)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHandleFailureTerminalSkipsRetryBudget(t *testing.T) {
	runner, mock, db, recorder := newTestRunner(t, nil)
	defer db.Close()

	mock.ExpectExec("UPDATE conductor.content_distributions\\s+SET status = 'failed'").
		WithArgs("dist-1", "invalid payload").
		WillReturnResult(sqlmock.NewResult(0, 1))

	runner.handleFailure(context.Background(), dueDistribution(1), "invalid payload", false)

	if len(recorder.events) != 1 {
		t.Fatalf("expected one terminal failure event, got %d", len(recorder.events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPublishOneSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "post-123"}`))
	}))
	defer server.Close()

	logger := logging.NewLogger()
	factory := publisher.NewFactory(logger)
	factory.Register(publisher.NewMetaPublisher(server.Client(), logger).
		WithBaseURL(server.URL).
		WithExecutorConfig(noRetryConfig()))

	runner, mock, db, recorder := newTestRunner(t, factory)
	defer db.Close()

	// Token lookup plus last-used touch
	future := time.Now().UTC().Add(time.Hour)
	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "team_id", "platform", "account_name", "access_token", "refresh_token",
			"expires_at", "is_active", "last_used_at", "created_at", "updated_at",
		}).AddRow("acct-1", "team-1", "meta", "Acme Page", "live-token", nil,
			&future, true, nil, time.Now(), time.Now()))
	mock.ExpectExec("UPDATE conductor.social_accounts").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Outcome is recorded transactionally on both rows
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conductor.content_distributions\\s+SET status = 'published'").
		WithArgs("dist-1", "post-123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE conductor.content_items").
		WithArgs("content-1", models.StatusPublished).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	runner.publishOne(context.Background(), dueDistribution(1))

	if len(recorder.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(recorder.events))
	}
	event, ok := recorder.events[0].(events.ContentPublishedEvent)
	if !ok {
		t.Fatalf("expected published event, got %T", recorder.events[0])
	}
	if event.ExternalPostID != "post-123" {
		t.Errorf("expected external post id post-123, got %q", event.ExternalPostID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPublishOneWithoutTokenStaysRetryable(t *testing.T) {
	runner, mock, db, recorder := newTestRunner(t, nil)
	defer db.Close()

	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE conductor.content_distributions\\s+SET status = 'scheduled'").
		WithArgs("dist-1", "no usable access token for platform", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	runner.publishOne(context.Background(), dueDistribution(1))

	if len(recorder.events) != 0 {
		t.Errorf("missing token within retry budget must not raise events, got %d", len(recorder.events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
