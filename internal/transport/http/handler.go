package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"lead-scraper-service/internal/provider"
	"lead-scraper-service/internal/service"
)

type Handler struct {
	search *service.SearchService
	stream *service.StreamService
	users  *service.UserService
}

func NewHandler(search *service.SearchService, stream *service.StreamService, users *service.UserService) *Handler {
	return &Handler{search: search, stream: stream, users: users}
}

type scrapeDTO struct {
	Keyword  string `json:"keyword"`
	Location string `json:"location"`
	Limit    int    `json:"limit"`
}

type startJobResp struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

// StartScrape godoc
// @Summary Start a background scrape job
// @Description Creates a job, starts the upstream run, and returns immediately. Progress is tracked via /jobs/active; one credit is charged per lead delivered.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body scrapeDTO true "search parameters"
// @Success 201 {object} startJobResp
// @Failure 400 {object} apiError
// @Failure 402 {object} apiError
// @Failure 409 {object} apiError
// @Router /scrape [post]
func (h *Handler) StartScrape(w http.ResponseWriter, r *http.Request) {
	var dto scrapeDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	jobID, err := h.stream.Start(r.Context(), service.StartRequest{
		UserID:   UserID(r),
		Keyword:  dto.Keyword,
		Location: dto.Location,
		Limit:    dto.Limit,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, startJobResp{Success: true, JobID: jobID.String()})
}

// StreamSearch godoc
// @Summary Stream a scrape as server-sent events
// @Description Runs the scrape and pushes start/leads/progress/complete/error events. Closing the connection stops the job within one polling interval.
// @Tags jobs
// @Produce text/event-stream
// @Param keyword query string true "business keyword"
// @Param location query string true "search location"
// @Param limit query int false "target lead count"
// @Success 200 {string} string "event stream"
// @Failure 400 {object} apiError
// @Router /search/stream [get]
func (h *Handler) StreamSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyword := q.Get("keyword")
	location := q.Get("location")
	if keyword == "" || location == "" {
		writeErr(w, http.StatusBadRequest, "missing keyword or location")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	sink, ok := newSSESink(w)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	err := h.stream.Stream(r.Context(), service.StartRequest{
		UserID:   UserID(r),
		Keyword:  keyword,
		Location: location,
		Limit:    limit,
	}, sink)
	if err != nil {
		// Headers are already on the wire; the error goes out as the
		// stream's terminal event.
		_ = sink.Send(service.EventError, map[string]any{"message": err.Error()})
	}
}

// Search godoc
// @Summary Synchronous search
// @Description Charges a flat one credit, fetches up to limit leads in-request, and returns them in one response.
// @Tags search
// @Accept json
// @Produce json
// @Param request body scrapeDTO true "search parameters"
// @Success 200 {object} service.SearchResult
// @Failure 400 {object} apiError
// @Failure 402 {object} apiError
// @Failure 502 {object} apiError
// @Router /search [post]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var dto scrapeDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := h.search.Search(r.Context(), UserID(r), dto.Keyword, dto.Location, dto.Limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// StopJob godoc
// @Summary Stop a running job
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 202 {object} startJobResp
// @Failure 404 {object} apiError
// @Router /jobs/{id}/stop [post]
func (h *Handler) StopJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.stream.Stop(r.Context(), UserID(r), id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, startJobResp{Success: true, JobID: id.String()})
}

// ActiveJob godoc
// @Summary Get the caller's in-flight job
// @Tags jobs
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /jobs/active [get]
func (h *Handler) ActiveJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.stream.ActiveJob(r.Context(), UserID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if job == nil {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "job": job})
}

// JobHistory godoc
// @Summary List the caller's past jobs, most recent first
// @Tags jobs
// @Produce json
// @Param limit query int false "max entries (default 50)"
// @Success 200 {object} map[string]interface{}
// @Router /jobs/history [get]
func (h *Handler) JobHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := h.stream.JobHistory(r.Context(), UserID(r), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// SearchHistory godoc
// @Summary List the caller's past searches, most recent first
// @Tags search
// @Produce json
// @Param limit query int false "max entries (default 20)"
// @Success 200 {object} map[string]interface{}
// @Router /search/history [get]
func (h *Handler) SearchHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.users.SearchHistory(r.Context(), UserID(r), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// Me godoc
// @Summary Get the caller's profile and credit balance
// @Tags user
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} apiError
// @Router /user/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Me(r.Context(), UserID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Usage godoc
// @Summary Get the caller's usage statistics
// @Tags user
// @Produce json
// @Success 200 {object} service.UsageStats
// @Router /user/usage [get]
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	stats, err := h.users.Usage(r.Context(), UserID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type grantDTO struct {
	Amount int `json:"amount"`
}

// GrantCredits godoc
// @Summary Top up the caller's credit balance
// @Tags user
// @Accept json
// @Produce json
// @Param request body grantDTO true "credits to add"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apiError
// @Router /user/credits/grant [post]
func (h *Handler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	var dto grantDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if dto.Amount <= 0 {
		writeErr(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	balance, err := h.users.Grant(r.Context(), UserID(r), dto.Amount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": balance})
}

// writeServiceError maps the service taxonomy onto HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var upstream *provider.UpstreamError

	switch {
	case errors.Is(err, service.ErrMissingParameters):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInsufficientCredits):
		writeErr(w, http.StatusPaymentRequired, "Insufficient credits. Please upgrade to continue searching.")
	case errors.Is(err, service.ErrJobAlreadyRunning):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, service.ErrJobNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.As(err, &upstream):
		writeErr(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, provider.ErrUnavailable):
		writeErr(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "internal server error")
	}
}
