// Package runner owns the lifecycle of upstream scrape runs. A Runner holds
// a bounded, time-evicted map of run ID to run state and is injected into the
// services that need it; run state is a cache of upstream results, not the
// source of truth (that is the jobs table).
package runner

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"lead-scraper-service/internal/entity"
)

type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusAborted   Status = "ABORTED"
	StatusUnknown   Status = "UNKNOWN"
)

// Terminal reports whether the run has finished in some way.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusAborted
}

// PageFetcher is the provider port the runner paginates against.
type PageFetcher interface {
	FetchPage(ctx context.Context, query string, offset, pageSize int) ([]entity.Lead, error)
}

// run is the in-memory state of one upstream execution. Items are appended
// only by the run's own goroutine; readers take a snapshot under the lock.
type run struct {
	mu         sync.RWMutex
	status     Status
	items      []entity.Lead
	err        string
	cancel     context.CancelFunc
	finishedAt time.Time
}

type Runner struct {
	fetcher   PageFetcher
	pageSize  int
	retention time.Duration

	mu   sync.RWMutex
	runs map[uuid.UUID]*run
}

// New constructs a Runner. Terminal runs are kept for retention so late
// pollers can still drain trailing items, then evicted by Janitor.
func New(fetcher PageFetcher, pageSize int, retention time.Duration) *Runner {
	if pageSize <= 0 {
		pageSize = 20
	}
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	return &Runner{
		fetcher:   fetcher,
		pageSize:  pageSize,
		retention: retention,
		runs:      make(map[uuid.UUID]*run),
	}
}

// StartRun submits the search upstream asynchronously, keyed by the caller's
// job ID, and returns immediately with status RUNNING. The run is detached
// from any request context: it keeps executing after the caller disconnects,
// until it reaches a terminal status or Abort is called.
func (r *Runner) StartRun(id uuid.UUID, query string, targetLimit int) {
	ctx, cancel := context.WithCancel(context.Background())

	st := &run{status: StatusRunning, cancel: cancel}
	r.mu.Lock()
	r.runs[id] = st
	r.mu.Unlock()

	log.Printf("[runner] run_id=%s query=%q limit=%d started", id, query, targetLimit)
	go r.execute(ctx, id, st, query, targetLimit)
}

// execute paginates the provider until the target is reached, a short or
// empty page signals the last page, the run is aborted, or a fetch fails.
func (r *Runner) execute(ctx context.Context, id uuid.UUID, st *run, query string, targetLimit int) {
	collected := 0
	offset := 0

	for collected < targetLimit {
		page, err := r.fetcher.FetchPage(ctx, query, offset, r.pageSize)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				r.finish(id, st, StatusAborted, "")
				return
			}
			log.Printf("[runner] run_id=%s fetch offset=%d error=%v", id, offset, err)
			r.finish(id, st, StatusFailed, err.Error())
			return
		}

		if len(page) == 0 {
			break
		}

		if collected+len(page) > targetLimit {
			page = page[:targetLimit-collected]
		}

		st.mu.Lock()
		st.items = append(st.items, page...)
		st.mu.Unlock()

		collected += len(page)
		offset += r.pageSize

		if len(page) < r.pageSize {
			break // last page
		}
	}

	log.Printf("[runner] run_id=%s collected=%d succeeded", id, collected)
	r.finish(id, st, StatusSucceeded, "")
}

func (r *Runner) finish(id uuid.UUID, st *run, status Status, errMsg string) {
	st.mu.Lock()
	if !st.status.Terminal() {
		st.status = status
		st.err = errMsg
		st.finishedAt = time.Now()
	}
	st.mu.Unlock()
}

// ItemsSince returns up to maxCount accumulated items starting at offset.
// It never blocks and returns an empty slice when offset is past the end or
// the run is unknown. Repeated calls with the same offset return the same
// items until new ones arrive.
func (r *Runner) ItemsSince(id uuid.UUID, offset, maxCount int) []entity.Lead {
	st := r.lookup(id)
	if st == nil {
		return nil
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	if offset >= len(st.items) {
		return nil
	}
	end := len(st.items)
	if maxCount > 0 && offset+maxCount < end {
		end = offset + maxCount
	}

	out := make([]entity.Lead, end-offset)
	copy(out, st.items[offset:end])
	return out
}

// Status returns the run's current status, or StatusUnknown for an evicted
// or never-started run ID.
func (r *Runner) Status(id uuid.UUID) Status {
	st := r.lookup(id)
	if st == nil {
		return StatusUnknown
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.status
}

// Err returns the captured error message for a failed run.
func (r *Runner) Err(id uuid.UUID) string {
	st := r.lookup(id)
	if st == nil {
		return ""
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.err
}

// Abort cancels the run's pagination goroutine. Items already fetched stay
// available until eviction. Safe to call on terminal or unknown runs.
func (r *Runner) Abort(id uuid.UUID) {
	st := r.lookup(id)
	if st == nil {
		return
	}
	st.cancel()
	r.finish(id, st, StatusAborted, "")
	log.Printf("[runner] run_id=%s aborted", id)
}

func (r *Runner) lookup(id uuid.UUID) *run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs[id]
}

// Janitor evicts terminal runs older than the retention window. Run it as a
// goroutine from main.
func (r *Runner) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.evictStale(); n > 0 {
				log.Printf("[runner] evicted %d stale runs", n)
			}
		}
	}
}

func (r *Runner) evictStale() int {
	cutoff := time.Now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, st := range r.runs {
		st.mu.RLock()
		stale := st.status.Terminal() && st.finishedAt.Before(cutoff)
		st.mu.RUnlock()
		if stale {
			delete(r.runs, id)
			evicted++
		}
	}
	return evicted
}
