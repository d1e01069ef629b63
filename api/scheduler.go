/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically replays the ledger against the materialized balances and
  repairs drift when found. Manual runs from the API land in the same run
  log so operators see one history.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each run takes the coordinator's global lock; operations wait for it
  - Keeps the last MaxRuns results in memory for the API

CONFIGURATION:
  - CheckInterval: How often to check (RECONCILE_INTERVAL, default 1h)
  - Enabled: Whether scheduler is active (false when the interval is 0)

USAGE:
  scheduler := NewReconciliationScheduler(coord, runs, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Manual reconcile / rebuild endpoints
  - inventory/reconcile.go: Verify, Reconcile, Rebuild
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/stock-ledger/inventory"
)

// MaxRuns is how many reconciliation results the run log keeps.
const MaxRuns = 50

// =============================================================================
// RUN LOG
// =============================================================================

// ReconcileRun is one recorded reconciliation.
type ReconcileRun struct {
	Trigger string // scheduler, manual, rebuild, verify
	Result  inventory.ReconcileResult
	Err     error
}

// RunLog is a bounded, concurrency-safe history of reconciliation runs.
type RunLog struct {
	mu   sync.Mutex
	runs []ReconcileRun
}

func NewRunLog() *RunLog {
	return &RunLog{}
}

func (l *RunLog) Add(run ReconcileRun) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, run)
	if len(l.runs) > MaxRuns {
		l.runs = l.runs[len(l.runs)-MaxRuns:]
	}
}

// List returns the runs newest first.
func (l *RunLog) List() []ReconcileRun {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ReconcileRun, len(l.runs))
	for i, r := range l.runs {
		out[len(l.runs)-1-i] = r
	}
	return out
}

// =============================================================================
// SCHEDULER
// =============================================================================

// ReconciliationScheduler runs Coordinator.Reconcile on an interval.
type ReconciliationScheduler struct {
	Coord         *inventory.Coordinator
	Runs          *RunLog
	CheckInterval time.Duration
	Enabled       bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(coord *inventory.Coordinator, runs *RunLog, log zerolog.Logger) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Coord:         coord,
		Runs:          runs,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.log.Info().Msg("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.log.Info().Dur("interval", rs.CheckInterval).Msg("started")
}

// Stop stops the scheduler and waits for a running check to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.log.Info().Msg("stopped")
	}
}

func (rs *ReconciliationScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow(context.Background())

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow(context.Background())
		case <-rs.stop:
			return
		}
	}
}

// RunNow reconciles once and records the run.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) ReconcileRun {
	result, err := rs.Coord.Reconcile(ctx)
	run := ReconcileRun{Trigger: "scheduler", Result: result, Err: err}
	rs.Runs.Add(run)

	switch {
	case err != nil:
		rs.log.Error().Err(err).Msg("reconciliation failed")
	case !result.Clean():
		rs.log.Warn().
			Int("drift", result.DriftCount()).
			Bool("repaired", result.Repaired).
			Msg("reconciliation found drift")
	default:
		rs.log.Debug().Int("keys", result.Keys).Msg("reconciliation clean")
	}
	return run
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *ReconciliationScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(rs.CheckInterval)
}
