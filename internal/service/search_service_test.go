package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"lead-scraper-service/internal/entity"
	"lead-scraper-service/internal/service"
)

// fakeFetcher serves pre-scripted pages keyed by offset and records every
// request it sees.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[int][]entity.Lead
	errAt int // offset at which to fail; -1 disables
	calls []int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[int][]entity.Lead{}, errAt: -1}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, query string, offset, pageSize int) ([]entity.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, offset)
	if f.errAt >= 0 && offset == f.errAt {
		return nil, errors.New("upstream returned 500")
	}
	return f.pages[offset], nil
}

func newSearchFixture(credits int) (*service.SearchService, *fakeFetcher, *fakeLedger, *fakeUsage, *fakeHistory, uuid.UUID) {
	userID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	ledger := newFakeLedger(userID, credits)
	usage := &fakeUsage{}
	history := &fakeHistory{}
	fetcher := newFakeFetcher()
	svc := service.NewSearchService(fetcher, ledger, service.NewCreditService(ledger, usage), history)
	return svc, fetcher, ledger, usage, history, userID
}

func TestSearch_PaginatesAndRecordsHistory(t *testing.T) {
	svc, fetcher, ledger, usage, history, userID := newSearchFixture(10)
	fetcher.pages[0] = leads(20)
	fetcher.pages[20] = leads(13) // short page ends pagination

	res, err := svc.Search(context.Background(), userID, "Gym", "Velachery", 100)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Total != 33 || len(res.Leads) != 33 {
		t.Fatalf("expected 33 leads, got total=%d len=%d", res.Total, len(res.Leads))
	}
	if res.RemainingCredits != 9 {
		t.Fatalf("expected 9 remaining, got %d", res.RemainingCredits)
	}
	if bal := ledger.balance(userID); bal != 9 {
		t.Fatalf("expected flat 1-credit charge, balance=%d", bal)
	}
	if len(usage.entries) != 1 || usage.entries[0] != 1 {
		t.Fatalf("expected one usage entry of 1 credit, got %v", usage.entries)
	}
	if len(history.counts) != 1 || history.counts[0] != 33 {
		t.Fatalf("expected history resultCount=33, got %v", history.counts)
	}
}

func TestSearch_StartsFromHistoryOffset(t *testing.T) {
	svc, fetcher, _, _, history, userID := newSearchFixture(10)
	history.offset = 40 // prior searches already returned 40 results
	fetcher.pages[40] = leads(5)

	res, err := svc.Search(context.Background(), userID, "gym", "velachery", 20)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Total != 5 {
		t.Fatalf("expected 5 fresh leads, got %d", res.Total)
	}
	if len(fetcher.calls) != 1 || fetcher.calls[0] != 40 {
		t.Fatalf("expected a single fetch at offset 40, got %v", fetcher.calls)
	}
}

func TestSearch_TruncatesToLimit(t *testing.T) {
	svc, fetcher, _, _, _, userID := newSearchFixture(10)
	fetcher.pages[0] = leads(20)
	fetcher.pages[20] = leads(20)

	res, err := svc.Search(context.Background(), userID, "gym", "velachery", 25)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Total != 25 {
		t.Fatalf("expected 25 leads, got %d", res.Total)
	}
}

func TestSearch_InsufficientCredits(t *testing.T) {
	svc, fetcher, _, _, _, userID := newSearchFixture(0)
	fetcher.pages[0] = leads(20)

	_, err := svc.Search(context.Background(), userID, "gym", "velachery", 20)
	if !errors.Is(err, service.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if len(fetcher.calls) != 0 {
		t.Fatalf("expected no upstream calls, got %v", fetcher.calls)
	}
}

func TestSearch_MissingParameters(t *testing.T) {
	svc, _, _, _, _, userID := newSearchFixture(10)

	_, err := svc.Search(context.Background(), userID, "gym", "   ", 20)
	if !errors.Is(err, service.ErrMissingParameters) {
		t.Fatalf("expected ErrMissingParameters, got %v", err)
	}
}

func TestSearch_UnknownUser(t *testing.T) {
	svc, _, _, _, _, _ := newSearchFixture(10)

	_, err := svc.Search(context.Background(), uuid.New(), "gym", "velachery", 20)
	if !errors.Is(err, service.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSearch_UpstreamFailureKeepsCharge(t *testing.T) {
	svc, fetcher, ledger, _, history, userID := newSearchFixture(10)
	fetcher.pages[0] = leads(20)
	fetcher.errAt = 20

	_, err := svc.Search(context.Background(), userID, "gym", "velachery", 40)
	if err == nil {
		t.Fatalf("expected pagination error")
	}
	if bal := ledger.balance(userID); bal != 9 {
		t.Fatalf("expected the search credit to stay spent, balance=%d", bal)
	}
	if len(history.counts) != 0 {
		t.Fatalf("expected no history entry on failure, got %v", history.counts)
	}
}
