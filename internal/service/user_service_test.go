package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"lead-scraper-service/internal/entity"
	"lead-scraper-service/internal/service"
)

type fakeUsageReader struct {
	perDay   int
	perMonth int
	searches int
	calls    int
}

func (r *fakeUsageReader) CreditsUsedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	// Queried day-first, then month.
	r.calls++
	if r.calls == 1 {
		return r.perDay, nil
	}
	return r.perMonth, nil
}

func (r *fakeUsageReader) SearchesSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	return r.searches, nil
}

func newUserFixture(credits int) (*service.UserService, *fakeLedger, uuid.UUID) {
	userID := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	ledger := newFakeLedger(userID, credits)
	reader := &fakeUsageReader{perDay: 7, perMonth: 42, searches: 3}
	svc := service.NewUserService(ledger, service.NewCreditService(ledger, &fakeUsage{}), reader, &fakeHistory{})
	return svc, ledger, userID
}

func TestUser_Me(t *testing.T) {
	svc, _, userID := newUserFixture(25)

	u, err := svc.Me(context.Background(), userID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if u.Credits != 25 || u.Plan != entity.PlanStarter {
		t.Fatalf("unexpected profile: %+v", u)
	}
}

func TestUser_MeUnknown(t *testing.T) {
	svc, _, _ := newUserFixture(25)

	_, err := svc.Me(context.Background(), uuid.New())
	if !errors.Is(err, service.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUser_UsageStats(t *testing.T) {
	svc, _, userID := newUserFixture(25)

	stats, err := svc.Usage(context.Background(), userID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if stats.RemainingCredits != 25 {
		t.Fatalf("expected 25 remaining, got %d", stats.RemainingCredits)
	}
	if stats.CreditsUsedToday != 7 || stats.CreditsUsedMonth != 42 || stats.SearchesThisMonth != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUser_Grant(t *testing.T) {
	svc, ledger, userID := newUserFixture(5)

	balance, err := svc.Grant(context.Background(), userID, 95)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if balance != 100 {
		t.Fatalf("expected balance 100, got %d", balance)
	}
	if got := ledger.balance(userID); got != 100 {
		t.Fatalf("ledger out of sync: %d", got)
	}
}
