/*
scheduler.go - Automated settlement scheduler

PURPOSE:
  Periodically creates settlement batches for every active vendor over
  the most recent closed period, so admins do not have to trigger
  month-end batching by hand.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Batches the trailing closed window ending yesterday
  - Empty windows are normal results, not errors
  - A batch lost to a concurrent manual batch is logged and skipped;
    the next run picks up whatever remains eligible

USAGE:
  scheduler := settle.NewScheduler(store, service, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - service.go: Create does the actual batching
  - cmd/server/main.go: Wires the scheduler from config
*/
package settle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gearlink/commission-engine/commission"
)

// systemActor is the identity the scheduler batches under. ID 0 never
// collides with a real admin account.
var systemActor = commission.Actor{ID: 0, Role: commission.RoleAdmin}

// Scheduler batches eligible transactions on a timer.
type Scheduler struct {
	Store         commission.Store
	Service       *Service
	CheckInterval time.Duration
	PeriodDays    int

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	now func() time.Time // injectable clock
}

// NewScheduler creates a scheduler with a daily trailing 30-day window.
func NewScheduler(store commission.Store, service *Service, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		Store:         store,
		Service:       service,
		CheckInterval: 24 * time.Hour,
		PeriodDays:    30,
		log:           log,
		stop:          make(chan struct{}),
		now:           time.Now,
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run(s.ticker.C)

	s.log.Info("settlement scheduler started",
		zap.Duration("interval", s.CheckInterval),
		zap.Int("periodDays", s.PeriodDays))
}

// Stop stops the scheduler and waits for an in-flight run to finish.
// Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.ticker = nil
	close(s.stop)
	s.wg.Wait()
	s.log.Info("settlement scheduler stopped")
}

// run takes the tick channel as a parameter so it never reads s.ticker,
// which Stop sets to nil concurrently.
func (s *Scheduler) run(tick <-chan time.Time) {
	defer s.wg.Done()

	for {
		select {
		case <-tick:
			s.batchAll(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow triggers an immediate batching pass (for admin endpoints and
// tests).
func (s *Scheduler) RunNow(ctx context.Context) {
	s.batchAll(ctx)
}

// batchAll creates one settlement per vendor over the trailing closed
// window ending yesterday. Today's transactions stay eligible for the
// next run.
func (s *Scheduler) batchAll(ctx context.Context) {
	to := s.now().UTC().AddDate(0, 0, -1)
	from := to.AddDate(0, 0, -(s.PeriodDays - 1))
	period, err := commission.NewDateRange(from, to)
	if err != nil {
		s.log.Error("scheduler window invalid", zap.Error(err))
		return
	}

	vendors, err := s.Store.ListVendors(ctx)
	if err != nil {
		s.log.Error("scheduler failed to list vendors", zap.Error(err))
		return
	}

	created, empty, skipped := 0, 0, 0
	for _, v := range vendors {
		if !v.Active() {
			continue
		}

		res, err := s.Service.Create(ctx, systemActor, BatchRequest{
			VendorID: v.ID,
			Period:   period,
		})
		switch {
		case err != nil && commission.IsConflict(err):
			// Lost to a concurrent manual batch; next run retries.
			skipped++
		case err != nil:
			s.log.Error("scheduler batch failed",
				zap.Int64("vendorId", int64(v.ID)), zap.Error(err))
		case !res.Created:
			empty++
		default:
			created++
			s.log.Info("scheduler created settlement",
				zap.Int64("vendorId", int64(v.ID)),
				zap.Int64("settlementId", int64(res.SettlementID)),
				zap.Int("transactions", res.Count))
		}
	}

	if created > 0 || skipped > 0 {
		s.log.Info("scheduler pass completed",
			zap.String("period", period.String()),
			zap.Int("created", created),
			zap.Int("empty", empty),
			zap.Int("skipped", skipped))
	}
}
