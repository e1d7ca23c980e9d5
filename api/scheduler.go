/*
scheduler.go - Background expansion and expiry scheduler

PURPOSE:
  Two periodic jobs run on one goroutine:
  - Monthly expansion: shortly before each month starts, expand all
    active recurring templates into the coming month. The engine is
    idempotent, so checking more often than needed only costs reads.
  - Expiry sweep: flip entries past their expiry to expired status and
    write the forfeit audit rows. Balance reads never depend on this;
    the sweep exists for reporting hygiene.

DESIGN:
  - Background goroutine with configurable check interval
  - Ticker + stop channel + WaitGroup for clean shutdown
  - Remembers the last expanded month so the monthly job fires once

USAGE:
  s := NewScheduler(engine, grants)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - recurring/engine.go: The expansion batch
  - ledger/grants.go: ExpireSweep
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/forgefit/coin-engine/ledger"
	"github.com/forgefit/coin-engine/recurring"
)

// expansionLeadDays controls how long before month start the expansion
// runs.
const expansionLeadDays = 3

// Scheduler drives the periodic expansion and expiry jobs.
type Scheduler struct {
	Engine        *recurring.Engine
	Grants        *ledger.GrantService
	CheckInterval time.Duration
	Enabled       bool
	Now           ledger.Clock

	lastExpanded recurring.Month
	ticker       *time.Ticker
	stop         chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
}

// NewScheduler creates a scheduler with a 1 hour check interval.
func NewScheduler(engine *recurring.Engine, grants *ledger.GrantService) *Scheduler {
	return &Scheduler{
		Engine:        engine,
		Grants:        grants,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           ledger.SystemClock,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run(s.ticker)

	log.Printf("[Scheduler] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight check. The wait
// happens outside the lock: check() takes it to record progress.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	ticker := s.ticker
	s.ticker = nil
	s.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (s *Scheduler) run(ticker *time.Ticker) {
	defer s.wg.Done()

	// Run immediately on start
	s.check()

	for {
		select {
		case <-ticker.C:
			s.check()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) check() {
	ctx := context.Background()
	now := s.Now()

	if n, err := s.Grants.ExpireSweep(ctx); err != nil {
		log.Printf("[Scheduler] expiry sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("[Scheduler] expiry sweep flipped %d entries", n)
	}

	next := s.nextMonthDue(now)
	if next == (recurring.Month{}) {
		return
	}

	log.Printf("[Scheduler] expanding recurring templates into %s", next)
	report, err := s.Engine.Run(ctx, next)
	if err != nil {
		log.Printf("[Scheduler] expansion for %s failed: %v", next, err)
		return
	}

	s.mu.Lock()
	s.lastExpanded = next
	s.mu.Unlock()

	log.Printf("[Scheduler] expansion %s done: created=%d skipped=%d failed=%d",
		next, report.Created, report.Skipped, len(report.Failed))
}

// nextMonthDue returns the upcoming month when within the lead window
// and it hasn't been expanded by this process yet; zero Month
// otherwise. A restart re-runs the expansion, which is safe: the
// engine skips everything that already exists.
func (s *Scheduler) nextMonthDue(now time.Time) recurring.Month {
	current := recurring.Month{Year: now.Year(), Month: now.Month()}
	next := current.Next()

	if now.Before(next.Start().AddDate(0, 0, -expansionLeadDays)) {
		return recurring.Month{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastExpanded == next {
		return recurring.Month{}
	}
	return next
}
