package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/qalampress/bookvault/internal/db/models"
)

var accessLogCols = []string{
	"id", "email", "resource_id", "auth_method", "ip_address", "user_agent", "created_at",
}

func newLogRepo(t *testing.T) (*AccessLogRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAccessLogRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestCreateAccessLog_Success(t *testing.T) {
	repo, mock := newLogRepo(t)
	mock.ExpectExec("INSERT INTO access_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	ip := "203.0.113.9"
	entry := &models.AccessLog{
		Email:      "reader@example.com",
		ResourceID: "private/all",
		AuthMethod: models.AuthMethodSession,
		IPAddress:  &ip,
	}
	if err := repo.CreateAccessLog(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.ID == "" {
		t.Error("CreateAccessLog should assign an ID")
	}
}

func TestCreateAccessLog_DBError(t *testing.T) {
	repo, mock := newLogRepo(t)
	mock.ExpectExec("INSERT INTO access_logs").
		WillReturnError(errDB)

	entry := &models.AccessLog{Email: "reader@example.com", ResourceID: "private/all", AuthMethod: models.AuthMethodCode}
	if err := repo.CreateAccessLog(context.Background(), entry); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestListAccessLogs_All(t *testing.T) {
	repo, mock := newLogRepo(t)
	mock.ExpectQuery("SELECT.*FROM access_logs.*ORDER BY created_at DESC").
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows(accessLogCols).
			AddRow("log-1", "reader@example.com", "private/all", "session", nil, nil, time.Now()))

	entries, err := repo.ListAccessLogs(context.Background(), "", 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestListAccessLogs_FilteredByEmail(t *testing.T) {
	repo, mock := newLogRepo(t)
	mock.ExpectQuery("SELECT.*FROM access_logs.*WHERE email").
		WithArgs("reader@example.com", 50, 0).
		WillReturnRows(sqlmock.NewRows(accessLogCols))

	entries, err := repo.ListAccessLogs(context.Background(), "reader@example.com", 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}
