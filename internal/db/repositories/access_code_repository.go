// access_code_repository.go implements AccessCodeRepository, providing
// database queries for access code creation, redeemable-code lookup, atomic
// used-flag updates, and admin listing.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/qalampress/bookvault/internal/db/models"
)

// AccessCodeRepository handles access code database operations.
type AccessCodeRepository struct {
	db *sql.DB
}

// NewAccessCodeRepository creates a new AccessCodeRepository.
func NewAccessCodeRepository(db *sql.DB) *AccessCodeRepository {
	return &AccessCodeRepository{db: db}
}

// CreateAccessCode inserts a new access code record.
func (r *AccessCodeRepository) CreateAccessCode(ctx context.Context, code *models.AccessCode) error {
	code.ID = uuid.New().String()
	code.CreatedAt = time.Now()

	query := `
		INSERT INTO access_codes (id, email, code_hash, code_encrypted, resource_id, validity_days, used, expires_at, redeemed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		code.ID,
		code.Email,
		code.CodeHash,
		code.CodeEncrypted,
		code.ResourceID,
		code.ValidityDays,
		code.Used,
		code.ExpiresAt,
		code.RedeemedAt,
		code.CreatedAt,
	)

	return err
}

// FindRedeemableCode looks up a code by its normalized hash that is unused,
// unexpired at now, and either unassigned or assigned to the given email.
// Returns (nil, nil) when no such code exists — the caller collapses every
// miss into one generic error, so the repository does not distinguish reasons
// either.
func (r *AccessCodeRepository) FindRedeemableCode(ctx context.Context, email, codeHash string, now time.Time) (*models.AccessCode, error) {
	query := `
		SELECT id, email, code_hash, code_encrypted, resource_id, validity_days, used, expires_at, redeemed_at, created_at
		FROM access_codes
		WHERE code_hash = $1
		  AND (email IS NULL OR email = $2)
		  AND used = FALSE
		  AND expires_at > $3
	`

	code := &models.AccessCode{}
	err := r.db.QueryRowContext(ctx, query, codeHash, email, now).Scan(
		&code.ID,
		&code.Email,
		&code.CodeHash,
		&code.CodeEncrypted,
		&code.ResourceID,
		&code.ValidityDays,
		&code.Used,
		&code.ExpiresAt,
		&code.RedeemedAt,
		&code.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return code, nil
}

// MarkCodeUsed atomically flips the used flag. The WHERE guard makes the
// update idempotent under concurrent redemption: exactly one request observes
// marked=true, everyone else loses the race and is rejected.
func (r *AccessCodeRepository) MarkCodeUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE access_codes
		SET used = TRUE, redeemed_at = $2
		WHERE id = $1 AND used = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

// GetAccessCodeByID retrieves a single code record.
func (r *AccessCodeRepository) GetAccessCodeByID(ctx context.Context, id string) (*models.AccessCode, error) {
	query := `
		SELECT id, email, code_hash, code_encrypted, resource_id, validity_days, used, expires_at, redeemed_at, created_at
		FROM access_codes
		WHERE id = $1
	`

	code := &models.AccessCode{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&code.ID,
		&code.Email,
		&code.CodeHash,
		&code.CodeEncrypted,
		&code.ResourceID,
		&code.ValidityDays,
		&code.Used,
		&code.ExpiresAt,
		&code.RedeemedAt,
		&code.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return code, nil
}

// ListAccessCodes retrieves codes newest-first with pagination.
func (r *AccessCodeRepository) ListAccessCodes(ctx context.Context, limit, offset int) ([]*models.AccessCode, error) {
	query := `
		SELECT id, email, code_hash, code_encrypted, resource_id, validity_days, used, expires_at, redeemed_at, created_at
		FROM access_codes
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []*models.AccessCode
	for rows.Next() {
		code := &models.AccessCode{}
		if err := rows.Scan(
			&code.ID,
			&code.Email,
			&code.CodeHash,
			&code.CodeEncrypted,
			&code.ResourceID,
			&code.ValidityDays,
			&code.Used,
			&code.ExpiresAt,
			&code.RedeemedAt,
			&code.CreatedAt,
		); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}

	return codes, rows.Err()
}
