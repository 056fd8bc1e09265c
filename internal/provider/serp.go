// Package provider wraps the upstream maps-search API. It knows how to
// request one page of results at a given offset and how to map the
// provider's field names into the canonical Lead shape.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"lead-scraper-service/internal/entity"
)

const (
	defaultBaseURL = "https://serpapi.com/search.json"
	// The upstream pages google_maps results in increments of 20 regardless
	// of what is requested; callers must not assume a returned page matches
	// the requested size.
	PageSize = 20

	httpTimeout = 15 * time.Second
)

// ErrUnavailable means the provider gave no response at all. It is distinct
// from UpstreamError: no results were produced, so nothing may be charged.
var ErrUnavailable = errors.New("upstream provider did not respond")

// UpstreamError is a non-2xx response from the provider.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Body)
}

// SerpClient fetches Google Maps results from SerpApi.
type SerpClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewSerpClient constructs a client with a shared HTTP client. baseURL may be
// empty, in which case the production endpoint is used.
func NewSerpClient(apiKey, baseURL string) *SerpClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &SerpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

// serpResponse mirrors the top-level SerpApi google_maps JSON response.
type serpResponse struct {
	LocalResults []serpResult `json:"local_results"`
}

// serpResult mirrors a single local result.
type serpResult struct {
	Title   string  `json:"title"`
	Address string  `json:"address"`
	Phone   string  `json:"phone"`
	Website string  `json:"website"`
	Rating  float64 `json:"rating"`
	Reviews int     `json:"reviews"`
	Email   string  `json:"email"`
}

// FetchPage requests one page of results starting at offset. An empty slice
// means the upstream has no results at that offset; a page shorter than
// pageSize means the caller has reached the last page.
func (c *SerpClient) FetchPage(ctx context.Context, query string, offset, pageSize int) ([]entity.Lead, error) {
	params := url.Values{}
	params.Set("engine", "google_maps")
	params.Set("q", query)
	params.Set("api_key", c.apiKey)
	params.Set("type", "search")
	params.Set("start", strconv.Itoa(offset))
	params.Set("num", strconv.Itoa(pageSize))

	reqURL := c.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	var apiResp serpResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	leads := make([]entity.Lead, 0, len(apiResp.LocalResults))
	for _, r := range apiResp.LocalResults {
		leads = append(leads, normalize(r))
	}

	return leads, nil
}

// normalize maps provider fields to the canonical Lead shape, substituting
// the sentinel for anything missing. Fields are never omitted.
func normalize(r serpResult) entity.Lead {
	lead := entity.Lead{
		Name:        r.Title,
		Address:     r.Address,
		Phone:       r.Phone,
		Website:     r.Website,
		Rating:      r.Rating,
		ReviewCount: r.Reviews,
		Email:       r.Email,
	}
	if lead.Name == "" {
		lead.Name = entity.Unknown
	}
	if lead.Address == "" {
		lead.Address = entity.Unknown
	}
	if lead.Phone == "" {
		lead.Phone = entity.Unknown
	}
	if lead.Website == "" {
		lead.Website = entity.Unknown
	}
	if lead.Email == "" {
		lead.Email = entity.Unknown
	}
	return lead
}
