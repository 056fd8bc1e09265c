package entity

import (
	"time"

	"github.com/google/uuid"
)

// SearchHistory is an immutable record of one completed search.
type SearchHistory struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Keyword     string    `json:"keyword"`
	Location    string    `json:"location"`
	ResultCount int       `json:"result_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// UsageLog is an immutable record of one credit-debit event. The amount is
// the credits actually deducted, which may be less than was requested when
// the balance ran short.
type UsageLog struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Action          string    `json:"action"`
	CreditsDeducted int       `json:"credits_deducted"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	ActionSearch      = "SEARCH"
	ActionStreamLeads = "STREAM_LEADS"
	ActionCreditGrant = "CREDIT_GRANT"
	ActionPlanRefill  = "PLAN_REFILL"
)
