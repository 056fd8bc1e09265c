package postgresql

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"lead-scraper-service/internal/entity"
)

// HistoryRepository stores immutable search history entries.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

func (r *HistoryRepository) Create(ctx context.Context, userID uuid.UUID, keyword, location string, resultCount int) error {
	const q = `
INSERT INTO search_history (user_id, keyword, location, result_count)
VALUES ($1, $2, $3, $4);
`
	_, err := r.pool.Exec(ctx, q, userID, keyword, location, resultCount)
	return err
}

func (r *HistoryRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]entity.SearchHistory, error) {
	const q = `
SELECT id, user_id, keyword, location, result_count, created_at
FROM search_history
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []entity.SearchHistory
	for rows.Next() {
		var e entity.SearchHistory
		if err := rows.Scan(&e.ID, &e.UserID, &e.Keyword, &e.Location, &e.ResultCount, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TotalResults sums every result count previously recorded for the same
// user, keyword and location. The synchronous search path uses it as the
// upstream start offset so repeat searches pick up where the last left off.
func (r *HistoryRepository) TotalResults(ctx context.Context, userID uuid.UUID, keyword, location string) (int, error) {
	const q = `
SELECT COALESCE(SUM(result_count), 0)
FROM search_history
WHERE user_id = $1 AND keyword = $2 AND location = $3;
`
	var total int
	if err := r.pool.QueryRow(ctx, q, userID, keyword, location).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
