package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/bulwark-auth/bulwark/internal/database"
	"github.com/bulwark-auth/bulwark/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeviceVerificationRepository persists step-up verification codes.
// Verified rows are the durable trust record for a device, so Delete and
// DeleteExpired only ever touch unverified rows.
type DeviceVerificationRepository struct {
	pool *pgxpool.Pool
}

func NewDeviceVerificationRepository(db *database.DB) *DeviceVerificationRepository {
	return &DeviceVerificationRepository{pool: db.Pool}
}

func scanVerificationRow(scanner rowScanner) (*models.DeviceVerification, error) {
	var v models.DeviceVerification
	var verifiedAt *time.Time

	err := scanner.Scan(
		&v.ID, &v.Email, &v.DeviceID, &v.Code, &v.ExpiresAt,
		&v.Verified, &v.AttemptCount, &verifiedAt, &v.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	v.VerifiedAt = verifiedAt
	return &v, nil
}

// GetActive returns the pending unverified, unexpired code for an
// (email, device) pair. Expired codes are dead: they are invisible here
// even if the cleanup sweep has not removed them yet.
func (r *DeviceVerificationRepository) GetActive(ctx context.Context, email, deviceID string) (*models.DeviceVerification, error) {
	query := `
		SELECT id, email, device_id, code, expires_at, verified, attempt_count, verified_at, created_at
		FROM device_verifications
		WHERE email = $1 AND device_id = $2 AND NOT verified AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`

	return scanVerificationRow(r.pool.QueryRow(ctx, query, email, deviceID))
}

func (r *DeviceVerificationRepository) Create(ctx context.Context, verification *models.DeviceVerification) error {
	if verification.ID == "" {
		verification.ID = uuid.New().String()
	}
	if verification.CreatedAt.IsZero() {
		verification.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO device_verifications (id, email, device_id, code, expires_at, verified, attempt_count, created_at)
		VALUES ($1, $2, $3, $4, $5, false, 0, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		verification.ID, verification.Email, verification.DeviceID,
		verification.Code, verification.ExpiresAt, verification.CreatedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// Delete removes the pending unverified code for a pair. Verified rows
// are untouched.
func (r *DeviceVerificationRepository) Delete(ctx context.Context, email, deviceID string) error {
	query := `DELETE FROM device_verifications WHERE email = $1 AND device_id = $2 AND NOT verified`

	if _, err := r.pool.Exec(ctx, query, email, deviceID); err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// DeleteExpired sweeps all expired unverified codes and returns how many
// were removed.
func (r *DeviceVerificationRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM device_verifications WHERE expires_at < NOW() AND NOT verified`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verifications: %w", err)
	}

	return result.RowsAffected(), nil
}

// IncrementAttempts bumps the persisted attempt counter and returns the
// new value. The counter in the database is the authoritative retry
// budget.
func (r *DeviceVerificationRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE device_verifications
		SET attempt_count = attempt_count + 1
		WHERE id = $1
		RETURNING attempt_count
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, id).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}

func (r *DeviceVerificationRepository) MarkVerified(ctx context.Context, id string) error {
	query := `
		UPDATE device_verifications
		SET verified = true, verified_at = NOW()
		WHERE id = $1 AND NOT verified
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// IsVerified reports whether the device has ever completed verification
// for this email. Verified records never expire.
func (r *DeviceVerificationRepository) IsVerified(ctx context.Context, email, deviceID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM device_verifications
			WHERE email = $1 AND device_id = $2 AND verified
		)
	`

	var verified bool
	if err := r.pool.QueryRow(ctx, query, email, deviceID).Scan(&verified); err != nil {
		return false, fmt.Errorf("failed to check device verification: %w", err)
	}

	return verified, nil
}
