// Package scheduler wires up the cron job that refills plan credit
// allowances once a month.
package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"lead-scraper-service/internal/entity"
)

// PlanRefiller is the ledger port the refill job needs (implementation:
// postgresql.UserRepository).
type PlanRefiller interface {
	RefillPlan(ctx context.Context, plan entity.Plan, allowance int) (int64, error)
}

// Refiller tops every user's balance up to their plan's monthly allowance.
// Balances already above the allowance are untouched: refill never takes
// credits away.
type Refiller struct {
	cron   *cron.Cron
	ledger PlanRefiller
	spec   string // cron spec, e.g. "0 0 1 * *"
}

func New(ledger PlanRefiller, spec string) *Refiller {
	return &Refiller{
		cron:   cron.New(cron.WithLogger(cron.DefaultLogger)),
		ledger: ledger,
		spec:   spec,
	}
}

// Start registers the refill job and starts the scheduler.
func (r *Refiller) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.spec, func() {
		r.runRefill(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	r.cron.Start()
	log.Printf("[scheduler] Credit refill cron started, spec: %s", r.spec)
	return nil
}

// Stop gracefully shuts down the scheduler.
func (r *Refiller) Stop() {
	r.cron.Stop()
	log.Println("[scheduler] Credit refill cron stopped")
}

func (r *Refiller) runRefill(ctx context.Context) {
	log.Println("[scheduler] Refill cycle started")

	for _, plan := range []entity.Plan{entity.PlanFree, entity.PlanStarter, entity.PlanPro} {
		n, err := r.ledger.RefillPlan(ctx, plan, plan.MonthlyCredits())
		if err != nil {
			log.Printf("[scheduler] Refill plan=%s error: %v", plan, err)
			continue
		}
		log.Printf("[scheduler] Refill plan=%s allowance=%d users_updated=%d", plan, plan.MonthlyCredits(), n)
	}

	log.Println("[scheduler] Refill cycle complete")
}
