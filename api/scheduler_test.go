package api

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
)

func TestRunLog_BoundedNewestFirst(t *testing.T) {
	l := NewRunLog()
	for i := range MaxRuns + 5 {
		l.Add(ReconcileRun{Trigger: "manual", Result: inventory.ReconcileResult{Keys: i}})
	}

	runs := l.List()
	require.Len(t, runs, MaxRuns)
	assert.Equal(t, MaxRuns+4, runs[0].Result.Keys)
	assert.Equal(t, 5, runs[MaxRuns-1].Result.Keys)
}

func TestScheduler_RunNowRepairsDrift(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	coord, err := inventory.NewCoordinator(ctx, mem)
	require.NoError(t, err)

	// GIVEN: a persisted counter the ledger does not back
	require.NoError(t, mem.AdjustBalances(ctx, []ledger.Delta{{Key: ledger.CentralKey("ghost"), Amount: 7}}))

	s := NewReconciliationScheduler(coord, NewRunLog(), zerolog.Nop())

	// WHEN: the scheduler runs
	run := s.RunNow(ctx)

	// THEN: the drift is reported and repaired
	require.NoError(t, run.Err)
	assert.Equal(t, "scheduler", run.Trigger)
	assert.False(t, run.Result.Clean())
	assert.True(t, run.Result.Repaired)
	require.Len(t, s.Runs.List(), 1)

	after := s.RunNow(ctx)
	assert.True(t, after.Result.Clean())
	assert.False(t, after.Result.Repaired)
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	coord, err := inventory.NewCoordinator(context.Background(), store.NewMemory())
	require.NoError(t, err)

	s := NewReconciliationScheduler(coord, NewRunLog(), zerolog.Nop())
	s.CheckInterval = time.Hour
	s.Start()
	t.Cleanup(s.Stop)

	require.Eventually(t, func() bool { return len(s.Runs.List()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Stop is idempotent
	s.Stop()
	s.Stop()
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	coord, err := inventory.NewCoordinator(context.Background(), store.NewMemory())
	require.NoError(t, err)

	s := NewReconciliationScheduler(coord, NewRunLog(), zerolog.Nop())
	s.Enabled = false
	s.Start()
	s.Stop()

	assert.Empty(t, s.Runs.List())
}
