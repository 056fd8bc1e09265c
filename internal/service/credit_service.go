package service

import (
	"context"
	"log"

	"github.com/google/uuid"

	"lead-scraper-service/internal/entity"
)

// CreditLedger is the port to the user balance store (implementation:
// postgresql.UserRepository). All balance mutations are atomic single
// statements on the store side.
type CreditLedger interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
	TryDeduct(ctx context.Context, id uuid.UUID, amount int) (deducted, remaining int, err error)
	Grant(ctx context.Context, id uuid.UUID, amount int) (int, error)
	HasCredit(ctx context.Context, id uuid.UUID) (bool, error)
}

// UsageRecorder is the port to the usage log (implementation:
// postgresql.UsageRepository).
type UsageRecorder interface {
	Create(ctx context.Context, userID uuid.UUID, action string, creditsDeducted int) error
}

// CreditService pairs every deduction with exactly one usage-log entry
// recording the amount actually charged, not the amount requested.
type CreditService struct {
	ledger CreditLedger
	usage  UsageRecorder
}

func NewCreditService(ledger CreditLedger, usage UsageRecorder) *CreditService {
	return &CreditService{ledger: ledger, usage: usage}
}

// Deduct charges up to amount credits and logs the deduction. A usage-log
// write failure after a successful deduction is logged and swallowed: the
// credits were genuinely spent on delivered leads, so the charge stands.
func (s *CreditService) Deduct(ctx context.Context, userID uuid.UUID, amount int, action string) (deducted, remaining int, err error) {
	deducted, remaining, err = s.ledger.TryDeduct(ctx, userID, amount)
	if err != nil {
		return 0, 0, err
	}

	if deducted > 0 {
		if logErr := s.usage.Create(ctx, userID, action, deducted); logErr != nil {
			log.Printf("[credits] user_id=%s action=%s deducted=%d usage_log error=%v",
				userID, action, deducted, logErr)
		}
	}
	return deducted, remaining, nil
}

// Grant is an unconditional administrative top-up. Returns the new balance.
func (s *CreditService) Grant(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	return s.ledger.Grant(ctx, userID, amount)
}
