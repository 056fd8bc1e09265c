package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"lead-scraper-service/internal/entity"
	"lead-scraper-service/internal/repository/postgresql"
	"lead-scraper-service/internal/runner"
	"lead-scraper-service/internal/service"
)

// ---- fakes ----

type fakeLedger struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*entity.User
	deducts []int // actual amounts charged, in order
}

func newFakeLedger(id uuid.UUID, credits int) *fakeLedger {
	return &fakeLedger{users: map[uuid.UUID]*entity.User{
		id: {ID: id, Username: "tester", Credits: credits, Plan: entity.PlanStarter},
	}}
}

func (l *fakeLedger) GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (l *fakeLedger) TryDeduct(ctx context.Context, id uuid.UUID, amount int) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[id]
	if !ok {
		return 0, 0, postgresql.ErrNotFound
	}
	deducted := amount
	if deducted > u.Credits {
		deducted = u.Credits
	}
	u.Credits -= deducted
	l.deducts = append(l.deducts, deducted)
	return deducted, u.Credits, nil
}

func (l *fakeLedger) Grant(ctx context.Context, id uuid.UUID, amount int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[id]
	if !ok {
		return 0, postgresql.ErrNotFound
	}
	u.Credits += amount
	return u.Credits, nil
}

func (l *fakeLedger) HasCredit(ctx context.Context, id uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[id]
	if !ok {
		return false, postgresql.ErrNotFound
	}
	return u.Credits > 0, nil
}

func (l *fakeLedger) balance(id uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.users[id].Credits
}

type fakeUsage struct {
	mu      sync.Mutex
	entries []int
}

func (u *fakeUsage) Create(ctx context.Context, userID uuid.UUID, action string, creditsDeducted int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = append(u.entries, creditsDeducted)
	return nil
}

type fakeRegistry struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.Job
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{jobs: map[uuid.UUID]*entity.Job{}}
}

func (r *fakeRegistry) Create(ctx context.Context, userID uuid.UUID, keyword, location string, limit int) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.jobs[id] = &entity.Job{
		ID: id, UserID: userID, Keyword: keyword, Location: location,
		Limit: limit, Status: entity.JobPending,
	}
	return id, nil
}

func (r *fakeRegistry) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *fakeRegistry) SetStatus(ctx context.Context, id uuid.UUID, status entity.JobStatus, errText *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return postgresql.ErrNotFound
	}
	j.Status = status
	j.Error = errText
	return nil
}

func (r *fakeRegistry) SetProgress(ctx context.Context, id uuid.UUID, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return postgresql.ErrNotFound
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	return nil
}

func (r *fakeRegistry) FindActiveForUser(ctx context.Context, userID uuid.UUID) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.UserID == userID && !j.Status.Terminal() {
			cp := *j
			return &cp, nil
		}
	}
	return nil, postgresql.ErrNotFound
}

func (r *fakeRegistry) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.Job
	for _, j := range r.jobs {
		if j.UserID == userID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (r *fakeRegistry) get(id uuid.UUID) entity.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.jobs[id]
}

type fakeHistory struct {
	mu     sync.Mutex
	counts []int
	offset int
}

func (h *fakeHistory) Create(ctx context.Context, userID uuid.UUID, keyword, location string, resultCount int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts = append(h.counts, resultCount)
	return nil
}

func (h *fakeHistory) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]entity.SearchHistory, error) {
	return nil, nil
}

func (h *fakeHistory) TotalResults(ctx context.Context, userID uuid.UUID, keyword, location string) (int, error) {
	return h.offset, nil
}

type fakeGuard struct {
	mu       sync.Mutex
	held     bool
	busy     bool // simulate another holder
	released int
}

func (g *fakeGuard) Acquire(ctx context.Context, userID uuid.UUID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy || g.held {
		return false, nil
	}
	g.held = true
	return true, nil
}

func (g *fakeGuard) Release(ctx context.Context, userID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held = false
	g.released++
	return nil
}

// fakeRuns releases perTick more leads on every poll, then reports finalStatus
// once everything has been made available. It stands in for the real runner so
// arrival timing is deterministic.
type fakeRuns struct {
	mu          sync.Mutex
	total       []entity.Lead
	perTick     int
	available   int
	finalStatus runner.Status
	errMsg      string
	aborted     bool
}

func (f *fakeRuns) StartRun(id uuid.UUID, query string, targetLimit int) {}

func (f *fakeRuns) ItemsSince(id uuid.UUID, offset, maxCount int) []entity.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.available < len(f.total) && !f.aborted {
		f.available += f.perTick
		if f.available > len(f.total) {
			f.available = len(f.total)
		}
	}
	if offset >= f.available {
		return nil
	}
	end := f.available
	if maxCount > 0 && offset+maxCount < end {
		end = offset + maxCount
	}
	return f.total[offset:end]
}

func (f *fakeRuns) Status(id uuid.UUID) runner.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aborted {
		return runner.StatusAborted
	}
	if f.available >= len(f.total) {
		return f.finalStatus
	}
	return runner.StatusRunning
}

func (f *fakeRuns) Err(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errMsg
}

func (f *fakeRuns) Abort(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
}

// recorderSink captures pushed events; onLeads fires after each leads event.
type recorderSink struct {
	mu      sync.Mutex
	events  []string
	leads   []int // batch sizes in emission order
	onLeads func(batch int)
}

func (s *recorderSink) Send(event string, payload any) error {
	s.mu.Lock()
	var hook func(int)
	var batch int
	s.events = append(s.events, event)
	if event == service.EventLeads {
		if m, ok := payload.(map[string]any); ok {
			if data, ok := m["data"].([]entity.Lead); ok {
				batch = len(data)
				s.leads = append(s.leads, batch)
				hook = s.onLeads
			}
		}
	}
	s.mu.Unlock()
	if hook != nil {
		hook(batch)
	}
	return nil
}

func (s *recorderSink) leadBatches() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.leads...)
}

func (s *recorderSink) has(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == event {
			return true
		}
	}
	return false
}

// ---- helpers ----

func leads(n int) []entity.Lead {
	out := make([]entity.Lead, n)
	for i := range out {
		out[i] = entity.Lead{Name: "biz", Address: "addr", Phone: entity.Unknown,
			Website: entity.Unknown, Email: entity.Unknown}
	}
	return out
}

type streamFixture struct {
	svc      *service.StreamService
	ledger   *fakeLedger
	usage    *fakeUsage
	registry *fakeRegistry
	history  *fakeHistory
	guard    *fakeGuard
	runs     *fakeRuns
	userID   uuid.UUID
}

func newStreamFixture(credits int, runs *fakeRuns) *streamFixture {
	userID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	ledger := newFakeLedger(userID, credits)
	usage := &fakeUsage{}
	registry := newFakeRegistry()
	history := &fakeHistory{}
	guard := &fakeGuard{}

	svc := service.NewStreamService(
		ledger, service.NewCreditService(ledger, usage),
		registry, history, runs, guard,
		200, 2*time.Millisecond,
	)
	return &streamFixture{
		svc: svc, ledger: ledger, usage: usage, registry: registry,
		history: history, guard: guard, runs: runs, userID: userID,
	}
}

func (f *streamFixture) request(limit int) service.StartRequest {
	return service.StartRequest{UserID: f.userID, Keyword: "Gym", Location: "Velachery", Limit: limit}
}

// ---- tests ----

func TestStream_CreditsExhaustedMidRun(t *testing.T) {
	// Upstream produces 53 leads in arrivals of 20, but the user holds only
	// 30 credits: expect 20 then 10 emitted, then the exhausted stop, and
	// the remaining 23 never delivered.
	runs := &fakeRuns{total: leads(53), perTick: 20, finalStatus: runner.StatusRunning}
	f := newStreamFixture(30, runs)
	sink := &recorderSink{}

	if err := f.svc.Stream(context.Background(), f.request(100), sink); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if got := sink.leadBatches(); len(got) != 2 || got[0] != 20 || got[1] != 10 {
		t.Fatalf("expected lead batches [20 10], got %v", got)
	}
	if bal := f.ledger.balance(f.userID); bal != 0 {
		t.Fatalf("expected balance 0, got %d", bal)
	}
	if !sink.has(service.EventError) {
		t.Fatalf("expected a credits-exhausted error event, got %v", sink.events)
	}
	if !runs.aborted {
		t.Fatalf("expected the upstream run to be aborted on exhaustion")
	}

	job, err := f.registry.FindActiveForUser(context.Background(), f.userID)
	if err == nil {
		t.Fatalf("expected no active job, found %v", job.ID)
	}
}

func TestStream_CompletedRunRecordsHistoryAndCharges(t *testing.T) {
	// 40 credits, limit 40, upstream delivers two pages of 20: COMPLETED,
	// progress 40, one history entry with resultCount 40, exactly 40 spent.
	runs := &fakeRuns{total: leads(40), perTick: 20, finalStatus: runner.StatusSucceeded}
	f := newStreamFixture(40, runs)
	sink := &recorderSink{}

	if err := f.svc.Stream(context.Background(), f.request(40), sink); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if bal := f.ledger.balance(f.userID); bal != 0 {
		t.Fatalf("expected balance 0 after 40 deductions, got %d", bal)
	}
	if !sink.has(service.EventComplete) {
		t.Fatalf("expected complete event, got %v", sink.events)
	}
	if len(f.history.counts) != 1 || f.history.counts[0] != 40 {
		t.Fatalf("expected one history entry with resultCount=40, got %v", f.history.counts)
	}

	jobs, _ := f.registry.ListForUser(context.Background(), f.userID, 10)
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	if jobs[0].Status != entity.JobCompleted {
		t.Fatalf("expected status COMPLETED, got %s", jobs[0].Status)
	}
	if jobs[0].Progress != 40 {
		t.Fatalf("expected progress 40, got %d", jobs[0].Progress)
	}
}

func TestStream_UpstreamFailureMidRun(t *testing.T) {
	// First page of 20 delivered, then the run fails: FAILED, progress 20,
	// only 20 charged, error captured on the job record.
	runs := &fakeRuns{
		total: leads(20), perTick: 20,
		finalStatus: runner.StatusFailed, errMsg: "upstream returned 500: boom",
	}
	f := newStreamFixture(40, runs)
	sink := &recorderSink{}

	if err := f.svc.Stream(context.Background(), f.request(40), sink); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if bal := f.ledger.balance(f.userID); bal != 20 {
		t.Fatalf("expected balance 20, got %d", bal)
	}
	if !sink.has(service.EventError) {
		t.Fatalf("expected error event, got %v", sink.events)
	}

	jobs, _ := f.registry.ListForUser(context.Background(), f.userID, 10)
	if jobs[0].Status != entity.JobFailed {
		t.Fatalf("expected status FAILED, got %s", jobs[0].Status)
	}
	if jobs[0].Progress != 20 {
		t.Fatalf("expected progress 20, got %d", jobs[0].Progress)
	}
	if jobs[0].Error == nil || *jobs[0].Error != "upstream returned 500: boom" {
		t.Fatalf("expected captured upstream error, got %v", jobs[0].Error)
	}
	if len(f.history.counts) != 0 {
		t.Fatalf("expected no history entry for a failed run, got %v", f.history.counts)
	}
}

func TestStream_StopMidRunHaltsDeductions(t *testing.T) {
	// Cancel after the first 15 leads: STOPPED with progress 15 and no
	// deductions after the stop is observed.
	runs := &fakeRuns{total: leads(40), perTick: 15, finalStatus: runner.StatusSucceeded}
	f := newStreamFixture(40, runs)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &recorderSink{onLeads: func(int) { cancel() }}

	if err := f.svc.Stream(ctx, f.request(40), sink); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if got := sink.leadBatches(); len(got) != 1 || got[0] != 15 {
		t.Fatalf("expected a single batch of 15, got %v", got)
	}
	if bal := f.ledger.balance(f.userID); bal != 25 {
		t.Fatalf("expected balance 25 after stop, got %d", bal)
	}

	jobs, _ := f.registry.ListForUser(context.Background(), f.userID, 10)
	if jobs[0].Status != entity.JobStopped {
		t.Fatalf("expected status STOPPED, got %s", jobs[0].Status)
	}
	if jobs[0].Progress != 15 {
		t.Fatalf("expected progress 15, got %d", jobs[0].Progress)
	}
	if !runs.aborted {
		t.Fatalf("expected upstream run aborted on stop")
	}
}

func TestStream_SecondJobRejectedWithoutDeduction(t *testing.T) {
	runs := &fakeRuns{total: leads(10), perTick: 10, finalStatus: runner.StatusSucceeded}
	f := newStreamFixture(40, runs)
	f.guard.busy = true

	_, err := f.svc.Start(context.Background(), f.request(10))
	if !errors.Is(err, service.ErrJobAlreadyRunning) {
		t.Fatalf("expected ErrJobAlreadyRunning, got %v", err)
	}
	if len(f.ledger.deducts) != 0 {
		t.Fatalf("expected no deductions, got %v", f.ledger.deducts)
	}
	if bal := f.ledger.balance(f.userID); bal != 40 {
		t.Fatalf("expected untouched balance 40, got %d", bal)
	}
}

func TestStream_ZeroBalanceRejectedUpfront(t *testing.T) {
	runs := &fakeRuns{total: leads(10), perTick: 10, finalStatus: runner.StatusSucceeded}
	f := newStreamFixture(0, runs)

	_, err := f.svc.Start(context.Background(), f.request(10))
	if !errors.Is(err, service.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	jobs, _ := f.registry.ListForUser(context.Background(), f.userID, 10)
	if len(jobs) != 0 {
		t.Fatalf("expected no job created, got %d", len(jobs))
	}
}

func TestStream_MissingParametersRejected(t *testing.T) {
	runs := &fakeRuns{total: leads(10), perTick: 10, finalStatus: runner.StatusSucceeded}
	f := newStreamFixture(40, runs)

	_, err := f.svc.Start(context.Background(), service.StartRequest{
		UserID: f.userID, Keyword: "  ", Location: "velachery", Limit: 10,
	})
	if !errors.Is(err, service.ErrMissingParameters) {
		t.Fatalf("expected ErrMissingParameters, got %v", err)
	}
}

func TestStart_RunsDetachedToCompletion(t *testing.T) {
	runs := &fakeRuns{total: leads(10), perTick: 10, finalStatus: runner.StatusSucceeded}
	f := newStreamFixture(40, runs)

	jobID, err := f.svc.Start(context.Background(), f.request(10))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if f.registry.get(jobID).Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached a terminal status")
		}
		time.Sleep(5 * time.Millisecond)
	}

	job := f.registry.get(jobID)
	if job.Status != entity.JobCompleted {
		t.Fatalf("expected COMPLETED, got %s", job.Status)
	}
	if job.Progress != 10 {
		t.Fatalf("expected progress 10, got %d", job.Progress)
	}
	if bal := f.ledger.balance(f.userID); bal != 30 {
		t.Fatalf("expected balance 30, got %d", bal)
	}
}

func TestStream_UsageLoggedPerDeduction(t *testing.T) {
	runs := &fakeRuns{total: leads(40), perTick: 20, finalStatus: runner.StatusSucceeded}
	f := newStreamFixture(40, runs)

	if err := f.svc.Stream(context.Background(), f.request(40), &recorderSink{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	f.usage.mu.Lock()
	defer f.usage.mu.Unlock()
	if len(f.usage.entries) != 2 || f.usage.entries[0] != 20 || f.usage.entries[1] != 20 {
		t.Fatalf("expected usage entries [20 20], got %v", f.usage.entries)
	}
}
