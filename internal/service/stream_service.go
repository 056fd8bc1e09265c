package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"lead-scraper-service/internal/entity"
	"lead-scraper-service/internal/runner"
)

// RunController is the port to the job runner. The runner owns run state; it
// is stateless with respect to policy (single-flight, pricing), which lives
// here.
type RunController interface {
	StartRun(id uuid.UUID, query string, targetLimit int)
	ItemsSince(id uuid.UUID, offset, maxCount int) []entity.Lead
	Status(id uuid.UUID) runner.Status
	Err(id uuid.UUID) string
	Abort(id uuid.UUID)
}

// JobRegistry is the port to the durable job record (implementation:
// postgresql.JobRepository).
type JobRegistry interface {
	Create(ctx context.Context, userID uuid.UUID, keyword, location string, limit int) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	SetStatus(ctx context.Context, id uuid.UUID, status entity.JobStatus, errText *string) error
	SetProgress(ctx context.Context, id uuid.UUID, progress int) error
	FindActiveForUser(ctx context.Context, userID uuid.UUID) (*entity.Job, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]entity.Job, error)
}

// FlightGuard is the port to the per-user in-flight lock (implementation:
// singleflight.Guard).
type FlightGuard interface {
	Acquire(ctx context.Context, userID uuid.UUID) (bool, error)
	Release(ctx context.Context, userID uuid.UUID) error
}

// EventSink is a per-caller push channel. Delivery is best-effort with no
// backpressure: once Send fails, the coordinator stops attempting delivery
// but keeps updating the job registry.
type EventSink interface {
	Send(event string, payload any) error
}

// Push event names.
const (
	EventStart    = "start"
	EventLeads    = "leads"
	EventProgress = "progress"
	EventLog      = "log"
	EventComplete = "complete"
	EventError    = "error"
)

const drainBatchSize = 100

// StreamService is the streaming coordinator: it owns the poll loop that
// drains a run's accumulated items, charges one credit per lead delivered
// (deduct-then-emit, never the reverse), and drives the job record through
// its lifecycle.
type StreamService struct {
	ledger   CreditLedger
	credits  *CreditService
	registry JobRegistry
	history  HistoryStore
	runs     RunController
	guard    FlightGuard

	maxPerRun    int
	pollInterval time.Duration
}

func NewStreamService(
	ledger CreditLedger,
	credits *CreditService,
	registry JobRegistry,
	history HistoryStore,
	runs RunController,
	guard FlightGuard,
	maxPerRun int,
	pollInterval time.Duration,
) *StreamService {
	if maxPerRun <= 0 {
		maxPerRun = 200
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &StreamService{
		ledger:       ledger,
		credits:      credits,
		registry:     registry,
		history:      history,
		runs:         runs,
		guard:        guard,
		maxPerRun:    maxPerRun,
		pollInterval: pollInterval,
	}
}

type StartRequest struct {
	UserID   uuid.UUID
	Keyword  string
	Location string
	Limit    int
}

// Start begins a job and returns its ID immediately. The poll loop runs as a
// detached background task with no push channel; callers follow progress
// through the job registry endpoints.
func (s *StreamService) Start(ctx context.Context, req StartRequest) (uuid.UUID, error) {
	jobID, _, err := s.begin(ctx, req)
	if err != nil {
		return uuid.Nil, err
	}

	go s.pump(context.Background(), jobID, req.UserID, nopSink{})
	return jobID, nil
}

// Stream begins a job and runs the poll loop within the caller's context,
// pushing events to sink until a terminal event is sent. Cancelling ctx
// (client disconnect) stops the job within one polling interval.
func (s *StreamService) Stream(ctx context.Context, req StartRequest, sink EventSink) error {
	jobID, balance, err := s.begin(ctx, req)
	if err != nil {
		return err
	}

	safeSend(sink, EventStart, map[string]any{"jobId": jobID.String(), "credits": balance})
	s.pump(ctx, jobID, req.UserID, sink)
	return nil
}

// begin is the shared preflight: validate, check credits, enforce
// single-flight, create the registry record, start the upstream run.
// Validation and single-flight failures happen before any mutation.
func (s *StreamService) begin(ctx context.Context, req StartRequest) (uuid.UUID, int, error) {
	keyword := normalizeTerm(req.Keyword)
	location := normalizeTerm(req.Location)
	if keyword == "" || location == "" {
		return uuid.Nil, 0, ErrMissingParameters
	}

	user, err := s.ledger.GetByID(ctx, req.UserID)
	if err != nil {
		return uuid.Nil, 0, lookupErr(err)
	}
	if user.Credits <= 0 {
		return uuid.Nil, 0, ErrInsufficientCredits
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	effectiveLimit := min(limit, s.maxPerRun, user.Credits)

	acquired, err := s.guard.Acquire(ctx, req.UserID)
	if err != nil {
		return uuid.Nil, 0, err
	}
	if !acquired {
		return uuid.Nil, 0, ErrJobAlreadyRunning
	}

	// The registry check backs up the lock: it also catches a job left
	// RUNNING by a crashed process after the lock expired.
	if active, err := s.registry.FindActiveForUser(ctx, req.UserID); err == nil && active != nil {
		_ = s.guard.Release(ctx, req.UserID)
		return uuid.Nil, 0, ErrJobAlreadyRunning
	}

	jobID, err := s.registry.Create(ctx, req.UserID, keyword, location, effectiveLimit)
	if err != nil {
		_ = s.guard.Release(ctx, req.UserID)
		return uuid.Nil, 0, err
	}

	s.runs.StartRun(jobID, keyword+" "+location, effectiveLimit)

	if err := s.registry.SetStatus(ctx, jobID, entity.JobRunning, nil); err != nil {
		log.Printf("[stream] job_id=%s set_status=RUNNING error=%v", jobID, err)
	}

	log.Printf("[stream] job_id=%s user_id=%s keyword=%q location=%q effective_limit=%d started",
		jobID, req.UserID, keyword, location, effectiveLimit)

	return jobID, user.Credits, nil
}

// pump is the poll loop. Each tick drains new items, charges for exactly
// what is emitted, and checks the run status. It terminates on upstream
// terminal status, credit exhaustion, or ctx cancellation, and always leaves
// the job record in a terminal state.
func (s *StreamService) pump(ctx context.Context, jobID, userID uuid.UUID, sink EventSink) {
	// Lock release and terminal bookkeeping must happen even when ctx is
	// already cancelled, so they use a fresh context.
	defer func() {
		if err := s.guard.Release(context.Background(), userID); err != nil {
			log.Printf("[stream] job_id=%s release lock error=%v", jobID, err)
		}
	}()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	offset := 0 // leads paid for and emitted so far

	for {
		select {
		case <-ctx.Done():
			// Caller disconnected or issued stop. Abort the upstream run so
			// it does not keep executing unobserved.
			s.runs.Abort(jobID)
			s.setTerminal(jobID, entity.JobStopped, nil)
			log.Printf("[stream] job_id=%s stopped progress=%d", jobID, offset)
			return

		case <-ticker.C:
			if ctx.Err() != nil {
				// Disconnect raced the tick; take the stop path, not the
				// failure path.
				continue
			}

			emitted, remaining, exhausted, err := s.drain(ctx, jobID, userID, &offset, sink)
			if err != nil {
				s.fail(jobID, err, sink)
				return
			}
			if emitted > 0 {
				safeSend(sink, EventProgress, map[string]any{"collected": offset, "remainingCredits": remaining})
			}
			if exhausted {
				// A partial deduction means the balance ran out mid-batch.
				// Stop requesting even if upstream has more buffered.
				s.runs.Abort(jobID)
				s.setTerminal(jobID, entity.JobStopped, nil)
				safeSend(sink, EventError, map[string]any{"message": "Credits exhausted. Stopping search."})
				log.Printf("[stream] job_id=%s credits exhausted progress=%d", jobID, offset)
				return
			}

			status := s.runs.Status(jobID)
			if !status.Terminal() {
				continue
			}

			// One final drain for trailing items that arrived between the
			// last tick and the terminal transition.
			_, _, exhausted, err = s.drain(ctx, jobID, userID, &offset, sink)
			if err != nil {
				s.fail(jobID, err, sink)
				return
			}
			if exhausted {
				s.setTerminal(jobID, entity.JobStopped, nil)
				safeSend(sink, EventError, map[string]any{"message": "Credits exhausted. Stopping search."})
				return
			}

			s.finish(ctx, jobID, userID, status, offset, sink)
			return
		}
	}
}

// drain fetches items past the current offset and charges for them before
// they become visible to the caller. When the balance covers only part of a
// batch, exactly the paid-for prefix is emitted and exhausted=true is
// returned. The offset advances by the number of leads actually paid for.
func (s *StreamService) drain(ctx context.Context, jobID, userID uuid.UUID, offset *int, sink EventSink) (emitted, remaining int, exhausted bool, err error) {
	items := s.runs.ItemsSince(jobID, *offset, drainBatchSize)
	if len(items) == 0 {
		return 0, 0, false, nil
	}

	deducted, remaining, err := s.credits.Deduct(ctx, userID, len(items), entity.ActionStreamLeads)
	if err != nil {
		// A storage failure here must not silently swallow the pending
		// deduction; surface it and let the job fail.
		return 0, 0, false, err
	}

	paid := items[:deducted]
	*offset += deducted

	if deducted > 0 {
		if err := s.registry.SetProgress(ctx, jobID, *offset); err != nil {
			log.Printf("[stream] job_id=%s set_progress=%d error=%v", jobID, *offset, err)
		}
		safeSend(sink, EventLeads, map[string]any{"data": paid, "remainingCredits": remaining})
	}

	return deducted, remaining, deducted < len(items), nil
}

// finish maps the run's terminal status onto the job record, appends history
// for successful runs that delivered anything, and sends the terminal event.
func (s *StreamService) finish(ctx context.Context, jobID, userID uuid.UUID, status runner.Status, total int, sink EventSink) {
	switch status {
	case runner.StatusFailed:
		msg := s.runs.Err(jobID)
		if msg == "" {
			msg = "upstream run failed"
		}
		s.setTerminal(jobID, entity.JobFailed, &msg)
		safeSend(sink, EventError, map[string]any{"message": msg})
		log.Printf("[stream] job_id=%s failed progress=%d error=%s", jobID, total, msg)

	case runner.StatusAborted:
		s.setTerminal(jobID, entity.JobStopped, nil)
		safeSend(sink, EventComplete, map[string]any{"totalDeducted": total})
		log.Printf("[stream] job_id=%s aborted progress=%d", jobID, total)

	default: // StatusSucceeded
		s.setTerminal(jobID, entity.JobCompleted, nil)
		if total > 0 {
			job, err := s.registry.GetByID(ctx, jobID)
			if err == nil {
				if err := s.history.Create(ctx, userID, job.Keyword, job.Location, total); err != nil {
					log.Printf("[stream] job_id=%s history save error=%v", jobID, err)
				}
			}
		}
		safeSend(sink, EventComplete, map[string]any{"totalDeducted": total})
		log.Printf("[stream] job_id=%s completed progress=%d", jobID, total)
	}
}

func (s *StreamService) fail(jobID uuid.UUID, err error, sink EventSink) {
	msg := err.Error()
	s.runs.Abort(jobID)
	s.setTerminal(jobID, entity.JobFailed, &msg)
	safeSend(sink, EventError, map[string]any{"message": "search failed"})
	log.Printf("[stream] job_id=%s failed error=%v", jobID, err)
}

// setTerminal writes the job's final status with a fresh context so the
// write happens even when the caller's context is gone.
func (s *StreamService) setTerminal(jobID uuid.UUID, status entity.JobStatus, errText *string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.registry.SetStatus(ctx, jobID, status, errText); err != nil {
		log.Printf("[stream] job_id=%s set_status=%s error=%v", jobID, status, err)
	}
}

// Stop requests cancellation of a running job. The run is aborted
// immediately; the owning poll loop observes the abort and marks the job
// STOPPED. If no live run exists (e.g. after a restart), the registry record
// is closed out directly.
func (s *StreamService) Stop(ctx context.Context, userID, jobID uuid.UUID) error {
	job, err := s.registry.GetByID(ctx, jobID)
	if err != nil {
		return lookupJobErr(err)
	}
	if job.UserID != userID {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil
	}

	if s.runs.Status(jobID) == runner.StatusUnknown {
		// Run state was lost (restart). Close the record and free the slot.
		if err := s.registry.SetStatus(ctx, jobID, entity.JobStopped, nil); err != nil {
			return err
		}
		return s.guard.Release(ctx, userID)
	}

	s.runs.Abort(jobID)
	return nil
}

// ActiveJob returns the user's in-flight job, or nil.
func (s *StreamService) ActiveJob(ctx context.Context, userID uuid.UUID) (*entity.Job, error) {
	job, err := s.registry.FindActiveForUser(ctx, userID)
	if err != nil {
		if lookupJobErr(err) == ErrJobNotFound {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// JobHistory lists the user's jobs, most recent first.
func (s *StreamService) JobHistory(ctx context.Context, userID uuid.UUID, limit int) ([]entity.Job, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	return s.registry.ListForUser(ctx, userID, limit)
}

// nopSink is used by Start: the job runs with no push channel and is
// observed through the registry only.
type nopSink struct{}

func (nopSink) Send(string, any) error { return nil }

// safeSend pushes one event and swallows delivery failures; the sink
// contract is best-effort.
func safeSend(sink EventSink, event string, payload any) {
	if err := sink.Send(event, payload); err != nil {
		log.Printf("[stream] push %s event error=%v", event, err)
	}
}
