package entity

import (
	"time"

	"github.com/google/uuid"
)

type Plan string

const (
	PlanFree    Plan = "FREE"
	PlanStarter Plan = "STARTER"
	PlanPro     Plan = "PRO"
)

// MonthlyCredits is the credit allowance refilled once per month per plan.
func (p Plan) MonthlyCredits() int {
	switch p {
	case PlanStarter:
		return 100
	case PlanPro:
		return 400
	default:
		return 5
	}
}

// User's Credits invariant: credits >= 0 always. The balance is mutated only
// through the ledger's atomic deduct/grant SQL, never by direct assignment.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Credits   int       `json:"credits"`
	Plan      Plan      `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
}
