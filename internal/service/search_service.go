package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"lead-scraper-service/internal/entity"
	"lead-scraper-service/internal/repository/postgresql"
)

// PageFetcher is the provider port (implementation: provider.SerpClient).
type PageFetcher interface {
	FetchPage(ctx context.Context, query string, offset, pageSize int) ([]entity.Lead, error)
}

// HistoryStore is the port to search history (implementation:
// postgresql.HistoryRepository).
type HistoryStore interface {
	Create(ctx context.Context, userID uuid.UUID, keyword, location string, resultCount int) error
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]entity.SearchHistory, error)
	TotalResults(ctx context.Context, userID uuid.UUID, keyword, location string) (int, error)
}

const (
	searchPageSize     = 20
	defaultSearchLimit = 100

	// Flat price of one synchronous search, regardless of result volume.
	// The streaming path prices per lead instead; see StreamService.
	perSearchCost = 1
)

// SearchService is the synchronous search path: one flat credit buys one
// search, results are fetched page by page within the request and returned
// in a single response.
type SearchService struct {
	fetcher PageFetcher
	ledger  CreditLedger
	credits *CreditService
	history HistoryStore
}

func NewSearchService(fetcher PageFetcher, ledger CreditLedger, credits *CreditService, history HistoryStore) *SearchService {
	return &SearchService{fetcher: fetcher, ledger: ledger, credits: credits, history: history}
}

type SearchResult struct {
	Leads            []entity.Lead `json:"leads"`
	Total            int           `json:"total"`
	RemainingCredits int           `json:"remainingCredits"`
}

// Search validates, charges one credit, and pulls pages until the limit is
// hit or the upstream signals a last page. The start offset is the sum of
// past result counts for the same (user, keyword, location), so repeat
// searches continue instead of refetching the same leads.
//
// An upstream failure mid-pagination surfaces as an error, but the search
// credit stays spent; the caller must start a new search.
func (s *SearchService) Search(ctx context.Context, userID uuid.UUID, keyword, location string, limit int) (*SearchResult, error) {
	keyword = normalizeTerm(keyword)
	location = normalizeTerm(location)
	if keyword == "" || location == "" {
		return nil, ErrMissingParameters
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	ok, err := s.ledger.HasCredit(ctx, userID)
	if err != nil {
		return nil, lookupErr(err)
	}
	if !ok {
		return nil, ErrInsufficientCredits
	}

	deducted, remaining, err := s.credits.Deduct(ctx, userID, perSearchCost, entity.ActionSearch)
	if err != nil {
		return nil, err
	}
	if deducted < perSearchCost {
		return nil, ErrInsufficientCredits
	}

	startOffset, err := s.history.TotalResults(ctx, userID, keyword, location)
	if err != nil {
		return nil, err
	}

	log.Printf("[search] user_id=%s keyword=%q location=%q limit=%d start_offset=%d",
		userID, keyword, location, limit, startOffset)

	leads, err := s.fetchAll(ctx, keyword+" "+location, startOffset, limit)
	if err != nil {
		return nil, err
	}

	if err := s.history.Create(ctx, userID, keyword, location, len(leads)); err != nil {
		// The leads were delivered and the credit spent; losing the history
		// row only affects the next search's start offset.
		log.Printf("[search] user_id=%s history save error=%v", userID, err)
	}

	return &SearchResult{Leads: leads, Total: len(leads), RemainingCredits: remaining}, nil
}

// fetchAll pages through the provider from startOffset. The upstream's page
// size is not trusted: a short or empty page ends the loop.
func (s *SearchService) fetchAll(ctx context.Context, query string, startOffset, limit int) ([]entity.Lead, error) {
	var all []entity.Lead
	offset := startOffset
	maxPages := (limit + searchPageSize - 1) / searchPageSize

	for page := 0; page < maxPages && len(all) < limit; page++ {
		batch, err := s.fetcher.FetchPage(ctx, query, offset, searchPageSize)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page+1, err)
		}
		if len(batch) == 0 {
			break
		}

		all = append(all, batch...)
		offset += searchPageSize

		if len(batch) < searchPageSize {
			break // last page
		}
	}

	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func normalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// lookupErr maps the repository's not-found sentinel onto the user
// taxonomy.
func lookupErr(err error) error {
	if errors.Is(err, postgresql.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
