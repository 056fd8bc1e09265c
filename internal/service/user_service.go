package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lead-scraper-service/internal/entity"
)

// UsageReader is the read side of the usage log, for the stats endpoint.
type UsageReader interface {
	CreditsUsedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	SearchesSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}

// UserService serves profile and usage queries and administrative grants.
type UserService struct {
	ledger  CreditLedger
	credits *CreditService
	usage   UsageReader
	history HistoryStore
}

func NewUserService(ledger CreditLedger, credits *CreditService, usage UsageReader, history HistoryStore) *UserService {
	return &UserService{ledger: ledger, credits: credits, usage: usage, history: history}
}

func (s *UserService) Me(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	u, err := s.ledger.GetByID(ctx, userID)
	if err != nil {
		return nil, lookupErr(err)
	}
	return u, nil
}

type UsageStats struct {
	Plan              entity.Plan `json:"plan"`
	RemainingCredits  int         `json:"remainingCredits"`
	CreditsUsedToday  int         `json:"creditsUsedToday"`
	CreditsUsedMonth  int         `json:"creditsUsedThisMonth"`
	SearchesThisMonth int         `json:"searchesThisMonth"`
}

// Usage aggregates the usage log into today/this-month counters.
func (s *UserService) Usage(ctx context.Context, userID uuid.UUID) (*UsageStats, error) {
	u, err := s.ledger.GetByID(ctx, userID)
	if err != nil {
		return nil, lookupErr(err)
	}

	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	usedToday, err := s.usage.CreditsUsedSince(ctx, userID, dayStart)
	if err != nil {
		return nil, err
	}
	usedMonth, err := s.usage.CreditsUsedSince(ctx, userID, monthStart)
	if err != nil {
		return nil, err
	}
	searches, err := s.usage.SearchesSince(ctx, userID, monthStart)
	if err != nil {
		return nil, err
	}

	return &UsageStats{
		Plan:              u.Plan,
		RemainingCredits:  u.Credits,
		CreditsUsedToday:  usedToday,
		CreditsUsedMonth:  usedMonth,
		SearchesThisMonth: searches,
	}, nil
}

// Grant tops up a user's balance unconditionally and returns the new
// balance.
func (s *UserService) Grant(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	balance, err := s.credits.Grant(ctx, userID, amount)
	if err != nil {
		return 0, lookupErr(err)
	}
	return balance, nil
}

// SearchHistory lists the user's past searches, most recent first.
func (s *UserService) SearchHistory(ctx context.Context, userID uuid.UUID, limit int) ([]entity.SearchHistory, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.history.ListForUser(ctx, userID, limit)
}
