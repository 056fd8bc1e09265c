package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lead-scraper-service/internal/entity"
)

var ErrNotFound = errors.New("not found")

// UserRepository is the credit ledger. The balance is only ever changed by
// the single-statement atomic updates below, so concurrent deductions and
// grants cannot lose updates and the balance can never go negative.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	const q = `
SELECT id, username, email, credits, plan, created_at
FROM users
WHERE id = $1;
`
	var u entity.User
	var plan string
	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.Username, &u.Email, &u.Credits, &plan, &u.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Plan = entity.Plan(plan)
	return &u, nil
}

// TryDeduct atomically charges up to amount credits. It returns the amount
// actually deducted, min(amount, balance), and the balance left afterwards.
// A locked single-statement CTE is used so the read and the write cannot
// interleave with another deduction or grant.
func (r *UserRepository) TryDeduct(ctx context.Context, id uuid.UUID, amount int) (deducted, remaining int, err error) {
	if amount <= 0 {
		return 0, 0, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	const q = `
WITH prev AS (
    SELECT credits FROM users WHERE id = $1 FOR UPDATE
)
UPDATE users u
SET credits = GREATEST(u.credits - $2, 0)
FROM prev
WHERE u.id = $1
RETURNING prev.credits - u.credits, u.credits;
`
	if err := r.pool.QueryRow(ctx, q, id, amount).Scan(&deducted, &remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrNotFound
		}
		return 0, 0, err
	}
	return deducted, remaining, nil
}

// Grant unconditionally adds credits (administrative top-up or refund).
func (r *UserRepository) Grant(ctx context.Context, id uuid.UUID, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	const q = `UPDATE users SET credits = credits + $2 WHERE id = $1 RETURNING credits;`

	var balance int
	if err := r.pool.QueryRow(ctx, q, id, amount).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (r *UserRepository) HasCredit(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `SELECT credits > 0 FROM users WHERE id = $1;`

	var ok bool
	if err := r.pool.QueryRow(ctx, q, id).Scan(&ok); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return ok, nil
}

// RefillPlan tops every user on the given plan up to its monthly allowance.
// Balances above the allowance are left alone. Returns the number of users
// whose balance changed.
func (r *UserRepository) RefillPlan(ctx context.Context, plan entity.Plan, allowance int) (int64, error) {
	const q = `UPDATE users SET credits = $2 WHERE plan = $1 AND credits < $2;`

	tag, err := r.pool.Exec(ctx, q, string(plan), allowance)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
