// access_log_repository.go implements AccessLogRepository over sqlx, recording
// and listing successful protected-document streams.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/qalampress/bookvault/internal/db/models"
)

// AccessLogRepository handles access log database operations.
type AccessLogRepository struct {
	db *sqlx.DB
}

// NewAccessLogRepository creates a new AccessLogRepository.
func NewAccessLogRepository(db *sqlx.DB) *AccessLogRepository {
	return &AccessLogRepository{db: db}
}

// CreateAccessLog inserts one access log row. Callers treat this as
// fire-and-forget; errors are logged, never propagated to the response path.
func (r *AccessLogRepository) CreateAccessLog(ctx context.Context, entry *models.AccessLog) error {
	entry.ID = uuid.New().String()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO access_logs (id, email, resource_id, auth_method, ip_address, user_agent, created_at)
		VALUES (:id, :email, :resource_id, :auth_method, :ip_address, :user_agent, :created_at)
	`

	_, err := r.db.NamedExecContext(ctx, query, entry)
	return err
}

// ListAccessLogs retrieves log entries newest-first, optionally filtered by
// email, with pagination.
func (r *AccessLogRepository) ListAccessLogs(ctx context.Context, email string, limit, offset int) ([]*models.AccessLog, error) {
	var entries []*models.AccessLog
	var err error

	if email != "" {
		query := `
			SELECT id, email, resource_id, auth_method, ip_address, user_agent, created_at
			FROM access_logs
			WHERE email = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`
		err = r.db.SelectContext(ctx, &entries, query, email, limit, offset)
	} else {
		query := `
			SELECT id, email, resource_id, auth_method, ip_address, user_agent, created_at
			FROM access_logs
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2
		`
		err = r.db.SelectContext(ctx, &entries, query, limit, offset)
	}

	if err != nil {
		return nil, err
	}
	return entries, nil
}
