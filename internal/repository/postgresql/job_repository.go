package postgresql

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lead-scraper-service/internal/entity"
)

// JobRepository is the durable job registry. Pure persistence, no business
// logic: the record survives process restarts while in-memory run state does
// not, so a reconnecting client can at least discover the last known status.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, userID uuid.UUID, keyword, location string, limit int) (uuid.UUID, error) {
	const q = `
INSERT INTO jobs (user_id, keyword, location, max_leads, status)
VALUES ($1, $2, $3, $4, 'PENDING')
RETURNING id;
`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q, userID, keyword, location, limit).Scan(&id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `
SELECT id, user_id, keyword, location, max_leads, status, progress, error, created_at, updated_at
FROM jobs
WHERE id = $1;
`
	return r.scanJob(r.pool.QueryRow(ctx, q, id))
}

func (r *JobRepository) SetStatus(ctx context.Context, id uuid.UUID, status entity.JobStatus, errText *string) error {
	const q = `UPDATE jobs SET status = $2, error = $3, updated_at = NOW() WHERE id = $1;`

	tag, err := r.pool.Exec(ctx, q, id, string(status), errText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProgress records how many leads have been paid for and emitted so far.
// Progress only moves forward; a stale writer cannot rewind it.
func (r *JobRepository) SetProgress(ctx context.Context, id uuid.UUID, progress int) error {
	const q = `UPDATE jobs SET progress = GREATEST(progress, $2), updated_at = NOW() WHERE id = $1;`

	tag, err := r.pool.Exec(ctx, q, id, progress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindActiveForUser returns the user's PENDING or RUNNING job, or ErrNotFound.
// At most one such job exists per user (single-flight).
func (r *JobRepository) FindActiveForUser(ctx context.Context, userID uuid.UUID) (*entity.Job, error) {
	const q = `
SELECT id, user_id, keyword, location, max_leads, status, progress, error, created_at, updated_at
FROM jobs
WHERE user_id = $1 AND status IN ('PENDING', 'RUNNING')
ORDER BY created_at DESC
LIMIT 1;
`
	return r.scanJob(r.pool.QueryRow(ctx, q, userID))
}

func (r *JobRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]entity.Job, error) {
	const q = `
SELECT id, user_id, keyword, location, max_leads, status, progress, error, created_at, updated_at
FROM jobs
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []entity.Job
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) scanJob(row pgx.Row) (*entity.Job, error) {
	j, err := scanJobRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return j, nil
}

func scanJobRow(row pgx.Row) (*entity.Job, error) {
	var (
		j          entity.Job
		statusText string
		errText    *string
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := row.Scan(
		&j.ID,
		&j.UserID,
		&j.Keyword,
		&j.Location,
		&j.Limit,
		&statusText,
		&j.Progress,
		&errText,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	j.Status = entity.JobStatus(statusText)
	j.Error = errText
	j.CreatedAt = createdAt
	j.UpdatedAt = updatedAt
	return &j, nil
}
