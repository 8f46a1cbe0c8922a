package pipeline

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"contentflow/pkg/models"
)

func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return NewRepository(db), mock, db
}

var claimedColumns = []string{
	"id", "content_id", "platform", "publish_on", "retry_interval_seconds",
	"max_retry_count", "attempt_count", "next_attempt_at",
}

func expectContentFields(mock sqlmock.Sqlmock, contentID string) {
	mock.ExpectQuery("SELECT team_id, author_id, title, body, caption").
		WithArgs(contentID).
		WillReturnRows(sqlmock.NewRows([]string{
			"team_id", "author_id", "title", "body", "caption", "hashtags", "image_urls",
		}).AddRow("team-1", nil, "Launch post", "Body", "Caption", "{}", "{}"))
}

func TestClaimDueDistributionsMovesRowsToPublishing(t *testing.T) {
	repo, mock, db := newTestRepository(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`status = 'scheduled' AND next_attempt_at <= NOW\(\)`).
		WithArgs(25, int64(600)).
		WillReturnRows(sqlmock.NewRows(claimedColumns).
			AddRow("dist-1", "content-1", "meta", now, nil, 3, 1, now))
	expectContentFields(mock, "content-1")

	claimed, err := repo.ClaimDueDistributions(context.Background(), 25, 10*time.Minute)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed distribution, got %d", len(claimed))
	}
	if claimed[0].Status != models.DistributionPublishing {
		t.Errorf("expected publishing status, got %q", claimed[0].Status)
	}
	if claimed[0].Title != "Launch post" || claimed[0].TeamID != "team-1" {
		t.Errorf("content fields not attached: %+v", claimed[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimDueDistributionsReclaimsLapsedPublishingRows(t *testing.T) {
	repo, mock, db := newTestRepository(t)
	defer db.Close()

	// A row left in publishing by an attempt whose outcome write never
	// landed must come back once its claim lease lapses, carrying the
	// attempt count the lost attempt already consumed.
	now := time.Now().UTC()
	mock.ExpectQuery(`status = 'publishing' AND updated_at < NOW\(\) - \(\$2 \* interval '1 second'\)`).
		WithArgs(25, int64(300)).
		WillReturnRows(sqlmock.NewRows(claimedColumns).
			AddRow("dist-1", "content-1", "meta", now, int64(120), 3, 2, now))
	expectContentFields(mock, "content-1")

	claimed, err := repo.ClaimDueDistributions(context.Background(), 25, 5*time.Minute)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected the lapsed claim to be reclaimed, got %d rows", len(claimed))
	}
	if claimed[0].AttemptCount != 2 {
		t.Errorf("expected attempt count 2 after reclaim, got %d", claimed[0].AttemptCount)
	}
	if claimed[0].RetryInterval == nil || *claimed[0].RetryInterval != 2*time.Minute {
		t.Errorf("expected 2m retry interval, got %v", claimed[0].RetryInterval)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
