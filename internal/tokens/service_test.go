package tokens

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"contentflow/pkg/logging"
	"contentflow/pkg/models"
)

var accountColumns = []string{
	"id", "team_id", "platform", "account_name", "access_token", "refresh_token",
	"expires_at", "is_active", "last_used_at", "created_at", "updated_at",
}

func accountRow(accessToken string, refreshToken *string, expiresAt *time.Time, active bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(accountColumns).AddRow(
		"acct-1", "team-1", "meta", "Acme Page", accessToken, refreshToken,
		expiresAt, active, nil, now, now,
	)
}

type stubRefresher struct {
	tokens RefreshedTokens
	err    error
	calls  int
}

func (r *stubRefresher) Refresh(_ context.Context, _ models.Platform, _ string) (RefreshedTokens, error) {
	r.calls++
	return r.tokens, r.err
}

func newTestService(t *testing.T, refresher Refresher) (*Service, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return NewService(db, refresher, logging.NewLogger()), mock, db
}

func TestGetValidAccessTokenMissingAccount(t *testing.T) {
	svc, mock, db := newTestService(t, &stubRefresher{})
	defer db.Close()

	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnError(sql.ErrNoRows)

	token, err := svc.GetValidAccessToken(context.Background(), "team-1", models.PlatformMeta)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if token != "" {
		t.Errorf("expected empty token, got %q", token)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetValidAccessTokenInactiveAccount(t *testing.T) {
	svc, mock, db := newTestService(t, &stubRefresher{})
	defer db.Close()

	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnRows(accountRow("tok", nil, nil, false))

	token, err := svc.GetValidAccessToken(context.Background(), "team-1", models.PlatformMeta)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if token != "" {
		t.Errorf("expected empty token for inactive account, got %q", token)
	}
}

func TestGetValidAccessTokenExpiredWithoutRefreshToken(t *testing.T) {
	refresher := &stubRefresher{}
	svc, mock, db := newTestService(t, refresher)
	defer db.Close()

	past := time.Now().UTC().Add(-time.Hour)
	// Loaded once by the handout path and once by the refresh path; no
	// mutation follows because there is nothing to refresh with.
	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnRows(accountRow("stale", nil, &past, true))
	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnRows(accountRow("stale", nil, &past, true))

	token, err := svc.GetValidAccessToken(context.Background(), "team-1", models.PlatformMeta)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if token != "" {
		t.Errorf("expected empty token, got %q", token)
	}
	if refresher.calls != 0 {
		t.Errorf("refresher must not be called without a refresh token, got %d calls", refresher.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("account must be left unchanged: %v", err)
	}
}

func TestGetValidAccessTokenHappyPath(t *testing.T) {
	svc, mock, db := newTestService(t, &stubRefresher{})
	defer db.Close()

	future := time.Now().UTC().Add(time.Hour)
	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnRows(accountRow("live-token", nil, &future, true))
	mock.ExpectExec("UPDATE conductor.social_accounts").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnResult(sqlmock.NewResult(0, 1))

	token, err := svc.GetValidAccessToken(context.Background(), "team-1", models.PlatformMeta)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if token != "live-token" {
		t.Errorf("expected live-token, got %q", token)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRefreshTokenNoOpWhenNotNeeded(t *testing.T) {
	refresher := &stubRefresher{}
	svc, mock, db := newTestService(t, refresher)
	defer db.Close()

	future := time.Now().UTC().Add(time.Hour)
	rt := "refresh-token"
	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnRows(accountRow("tok", &rt, &future, true))

	refreshed, err := svc.RefreshToken(context.Background(), "team-1", models.PlatformMeta)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if refreshed {
		t.Error("expected no-op refresh to return false")
	}
	if refresher.calls != 0 {
		t.Errorf("refresher must not be called, got %d calls", refresher.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no mutation expected: %v", err)
	}
}

func TestRefreshTokenFailureDeactivatesAccount(t *testing.T) {
	refresher := &stubRefresher{err: errors.New("invalid_grant")}
	svc, mock, db := newTestService(t, refresher)
	defer db.Close()

	past := time.Now().UTC().Add(-time.Hour)
	rt := "refresh-token"
	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnRows(accountRow("stale", &rt, &past, true))
	mock.ExpectExec("UPDATE conductor.social_accounts").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnResult(sqlmock.NewResult(0, 1))

	refreshed, err := svc.RefreshToken(context.Background(), "team-1", models.PlatformMeta)
	if err != nil {
		t.Fatalf("refresh failure must not surface as error, got %v", err)
	}
	if refreshed {
		t.Error("expected refresh to report failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("account must be deactivated: %v", err)
	}
}

func TestRefreshTokenSuccessStoresNewTokens(t *testing.T) {
	newRefresh := "new-refresh"
	expires := time.Now().UTC().Add(2 * time.Hour)
	refresher := &stubRefresher{tokens: RefreshedTokens{
		AccessToken:  "new-access",
		RefreshToken: &newRefresh,
		ExpiresAt:    &expires,
	}}
	svc, mock, db := newTestService(t, refresher)
	defer db.Close()

	past := time.Now().UTC().Add(-time.Hour)
	rt := "old-refresh"
	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnRows(accountRow("stale", &rt, &past, true))
	mock.ExpectExec("UPDATE conductor.social_accounts").
		WithArgs("team-1", models.PlatformMeta, "new-access", &newRefresh, &expires).
		WillReturnResult(sqlmock.NewResult(0, 1))

	refreshed, err := svc.RefreshToken(context.Background(), "team-1", models.PlatformMeta)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !refreshed {
		t.Error("expected refresh to succeed")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// blockingRefresher parks inside Refresh until released so a test can pile
// concurrent callers onto one in-flight refresh.
type blockingRefresher struct {
	entered chan struct{}
	release chan struct{}
	calls   int32
	tokens  RefreshedTokens
}

func (r *blockingRefresher) Refresh(_ context.Context, _ models.Platform, _ string) (RefreshedTokens, error) {
	atomic.AddInt32(&r.calls, 1)
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-r.release
	return r.tokens, nil
}

func TestConcurrentRefreshCollapsesIntoOneFlight(t *testing.T) {
	newRefresh := "new-refresh"
	expires := time.Now().UTC().Add(2 * time.Hour)
	refresher := &blockingRefresher{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		tokens: RefreshedTokens{
			AccessToken:  "new-access",
			RefreshToken: &newRefresh,
			ExpiresAt:    &expires,
		},
	}
	svc, mock, db := newTestService(t, refresher)
	defer db.Close()

	// One load and one mutation regardless of caller count
	past := time.Now().UTC().Add(-time.Hour)
	rt := "old-refresh"
	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnRows(accountRow("stale", &rt, &past, true))
	mock.ExpectExec("UPDATE conductor.social_accounts").
		WithArgs("team-1", models.PlatformMeta, "new-access", &newRefresh, &expires).
		WillReturnResult(sqlmock.NewResult(0, 1))

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refreshed, err := svc.RefreshToken(context.Background(), "team-1", models.PlatformMeta)
			if err != nil {
				t.Errorf("refresh: %v", err)
			}
			results <- refreshed
		}()
	}

	// Hold the flight open long enough for the remaining callers to join it
	<-refresher.entered
	time.Sleep(50 * time.Millisecond)
	close(refresher.release)
	wg.Wait()
	close(results)

	for refreshed := range results {
		if !refreshed {
			t.Error("every caller must see the shared refresh outcome")
		}
	}
	if calls := atomic.LoadInt32(&refresher.calls); calls != 1 {
		t.Errorf("expected exactly one platform refresh, got %d", calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHasValidToken(t *testing.T) {
	svc, mock, db := newTestService(t, &stubRefresher{})
	defer db.Close()

	future := time.Now().UTC().Add(time.Hour)
	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-1", models.PlatformMeta).
		WillReturnRows(accountRow("tok", nil, &future, true))

	valid, err := svc.HasValidToken(context.Background(), "team-1", models.PlatformMeta)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !valid {
		t.Error("expected valid token")
	}

	mock.ExpectQuery("SELECT id, team_id, platform").
		WithArgs("team-2", models.PlatformMeta).
		WillReturnError(sql.ErrNoRows)

	valid, err = svc.HasValidToken(context.Background(), "team-2", models.PlatformMeta)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if valid {
		t.Error("expected no valid token for missing account")
	}
}
