package inventory

import (
	"context"
	"slices"
	"time"

	"github.com/warp/stock-ledger/balance"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// RECONCILIATION - Ledger replay against materialized balances
// =============================================================================

// ReconcileResult compares the replayed ledger with both materialized copies
// of the balances: the in-memory view and the persisted table.
type ReconcileResult struct {
	CheckedAt  time.Time
	Keys       int // non-zero counters in the replayed ledger
	ViewDrift  []balance.Drift
	StoreDrift []balance.Drift
	Repaired   bool
}

func (r ReconcileResult) Clean() bool {
	return len(r.ViewDrift) == 0 && len(r.StoreDrift) == 0
}

// DriftCount is the number of distinct counters that disagree anywhere.
func (r ReconcileResult) DriftCount() int {
	keys := make(map[string]struct{})
	for _, d := range r.ViewDrift {
		keys[d.Key.String()] = struct{}{}
	}
	for _, d := range r.StoreDrift {
		keys[d.Key.String()] = struct{}{}
	}
	return len(keys)
}

// Verify replays the ledger and reports drift without changing anything.
func (c *Coordinator) Verify(ctx context.Context) (ReconcileResult, error) {
	return c.reconcile(ctx, "verify", false, false)
}

// Rebuild recomputes every balance from the ledger and replaces both the
// persisted and the in-memory counters. Running it twice yields the same
// balances as running it once.
func (c *Coordinator) Rebuild(ctx context.Context) (ReconcileResult, error) {
	return c.reconcile(ctx, "rebuild", true, true)
}

// Reconcile verifies and rebuilds only when drift is found.
func (c *Coordinator) Reconcile(ctx context.Context) (ReconcileResult, error) {
	return c.reconcile(ctx, "reconcile", true, false)
}

func (c *Coordinator) reconcile(ctx context.Context, op string, repair, always bool) (ReconcileResult, error) {
	result, err := locked(ctx, c, op, LockScope{Global: true}, func(now time.Time) (ReconcileResult, error) {
		replayed, err := balance.ReplayStore(ctx, c.store)
		if err != nil {
			return ReconcileResult{}, err
		}
		persisted, err := c.store.LoadBalances(ctx)
		if err != nil {
			return ReconcileResult{}, err
		}

		res := ReconcileResult{
			CheckedAt:  now,
			Keys:       len(replayed),
			ViewDrift:  balance.Diff(c.view.Snapshot(), replayed),
			StoreDrift: balance.Diff(balance.FromBalances(persisted), replayed),
		}
		if !repair || (!always && res.Clean()) {
			return res, nil
		}

		if err := c.store.ReplaceBalances(ctx, replayed.Balances()); err != nil {
			return res, err
		}
		c.view.Reset(replayed)
		res.Repaired = true
		return res, nil
	})
	if err != nil {
		c.metrics.RecordReconcile("error", 0)
		return result, err
	}

	outcome := "clean"
	if !result.Clean() {
		outcome = "drift"
		if result.Repaired {
			outcome = "repaired"
		}
		for _, d := range slices.Concat(result.ViewDrift, result.StoreDrift) {
			c.log.Warn().
				Str("op", op).
				Str("key", d.Key.String()).
				Int64("materialized", d.Materialized).
				Int64("replayed", d.Replayed).
				Msg("balance drift")
		}
	}
	c.metrics.RecordReconcile(outcome, result.DriftCount())
	return result, nil
}

// Reset wipes the store and the view under the global lock. The store must
// implement ledger.Resetter.
func (c *Coordinator) Reset(ctx context.Context) error {
	resetter, ok := c.store.(ledger.Resetter)
	if !ok {
		return &ledger.ValidationError{Field: "store", Reason: "store cannot be reset"}
	}
	_, err := locked(ctx, c, "reset", LockScope{Global: true}, func(time.Time) (struct{}, error) {
		if err := resetter.Reset(ctx); err != nil {
			return struct{}{}, ledger.Storage("reset", err)
		}
		c.view.Reset(balance.Snapshot{})
		c.log.Warn().Msg("ledger reset")
		return struct{}{}, nil
	})
	return err
}
