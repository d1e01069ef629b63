package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/balance"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/metrics"
)

func TestVerifyDetectsAndReconcileRepairs(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(metrics.DefaultConfig())
	c, _ := newCoordinator(t, WithMetrics(m))
	seed(t, c)
	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 30)
	require.NoError(t, err)

	// GIVEN: both materialized copies drift from the ledger
	c.View().Apply([]ledger.Delta{{Key: ledger.HeldKey("ana", "shampoo"), Amount: 7}})
	require.NoError(t, c.Store().AdjustBalances(ctx, []ledger.Delta{{Key: ledger.CentralKey("shampoo"), Amount: -3}}))

	// WHEN: verifying
	res, err := c.Verify(ctx)

	// THEN: both drifts are reported and nothing is repaired
	require.NoError(t, err)
	assert.False(t, res.Repaired)
	assert.Equal(t, []balance.Drift{{Key: ledger.HeldKey("ana", "shampoo"), Materialized: 37, Replayed: 30}}, res.ViewDrift)
	assert.Equal(t, []balance.Drift{{Key: ledger.CentralKey("shampoo"), Materialized: 67, Replayed: 70}}, res.StoreDrift)
	assert.Equal(t, 2, res.DriftCount())
	assert.Equal(t, int64(37), c.View().Held("ana", "shampoo"))

	// WHEN: reconciling
	res, err = c.Reconcile(ctx)

	// THEN: repaired from the ledger
	require.NoError(t, err)
	assert.True(t, res.Repaired)
	requireStock(t, c, "shampoo", 70, map[ledger.ResellerID]int64{"ana": 30})
	requireClean(t, c)

	// AND: a clean reconcile does not rewrite anything
	res, err = c.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, res.Clean())
	assert.False(t, res.Repaired)
}

func TestRebuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	alloc, err := c.Allocate(ctx, admin, "shampoo", "ana", 30)
	require.NoError(t, err)
	sale, err := c.RecordSale(ctx, ana, "shampoo", 10)
	require.NoError(t, err)
	_, err = c.EditSaleQuantity(ctx, ana, sale.ID, 12)
	require.NoError(t, err)
	_, err = c.EditDelivery(ctx, admin, alloc.ID, 25)
	require.NoError(t, err)
	_, err = c.ReturnStock(ctx, ana, "ana", "shampoo", 3)
	require.NoError(t, err)
	before := c.View().Snapshot()

	first, err := c.Rebuild(ctx)
	require.NoError(t, err)
	assert.True(t, first.Clean())
	assert.True(t, first.Repaired)
	afterFirst := c.View().Snapshot()

	_, err = c.Rebuild(ctx)
	require.NoError(t, err)

	assert.Equal(t, before, afterFirst)
	assert.Equal(t, afterFirst, c.View().Snapshot())
	requireStock(t, c, "shampoo", 78, map[ledger.ResellerID]int64{"ana": 10})

	persisted, err := c.Store().LoadBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, balance.FromBalances(persisted))
}

func TestCoordinatorReloadsPersistedBalances(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 12)
	require.NoError(t, err)

	// A second coordinator over the same store starts from the same figures
	restarted, err := NewCoordinator(ctx, c.Store())
	require.NoError(t, err)
	assert.Equal(t, c.View().Snapshot(), restarted.View().Snapshot())
}

func TestResetWipesStoreAndView(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 12)
	require.NoError(t, err)

	require.NoError(t, c.Reset(ctx))

	assert.Empty(t, c.View().Snapshot())
	products, err := c.Products(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, products)
	requireClean(t, c)
}
