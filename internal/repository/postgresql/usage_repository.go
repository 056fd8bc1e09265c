package postgresql

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository stores one row per discrete credit deduction.
type UsageRepository struct {
	pool *pgxpool.Pool
}

func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

func (r *UsageRepository) Create(ctx context.Context, userID uuid.UUID, action string, creditsDeducted int) error {
	const q = `
INSERT INTO usage_logs (user_id, action, credits_deducted)
VALUES ($1, $2, $3);
`
	_, err := r.pool.Exec(ctx, q, userID, action, creditsDeducted)
	return err
}

// CreditsUsedSince returns the total credits deducted for the user since the
// given time, for the usage-stats endpoint.
func (r *UsageRepository) CreditsUsedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	const q = `
SELECT COALESCE(SUM(credits_deducted), 0)
FROM usage_logs
WHERE user_id = $1 AND created_at >= $2;
`
	var total int
	if err := r.pool.QueryRow(ctx, q, userID, since).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// SearchesSince returns the number of deduction events since the given time.
func (r *UsageRepository) SearchesSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	const q = `
SELECT COUNT(*)
FROM usage_logs
WHERE user_id = $1 AND created_at >= $2;
`
	var n int
	if err := r.pool.QueryRow(ctx, q, userID, since).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
