package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
	"github.com/warp/stock-ledger/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	admin = Actor{ID: "admin-1", Role: ledger.RoleAdmin}
	ana   = Actor{ID: "ana", Role: ledger.RoleReseller}
	bruno = Actor{ID: "bruno", Role: ledger.RoleReseller}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var march15 = time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)

// newCoordinator returns a coordinator over an empty in-memory store.
func newCoordinator(t *testing.T, opts ...Option) (*Coordinator, *testClock) {
	t.Helper()
	return newCoordinatorOn(t, store.NewMemory(), opts...)
}

func newCoordinatorOn(t *testing.T, s ledger.Store, opts ...Option) (*Coordinator, *testClock) {
	t.Helper()
	clock := newTestClock(march15)
	c, err := NewCoordinator(context.Background(), s, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return c, clock
}

// seed registers Shampoo (100 units at 10.00), Conditioner (50 at 15.00)
// and resellers Ana and Bruno.
func seed(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx := context.Background()
	_, err := c.CreateProduct(ctx, admin, NewProduct{
		ID: "shampoo", Name: "Shampoo", UnitPrice: decimal.RequireFromString("10.00"), InitialStock: 100,
	})
	require.NoError(t, err)
	_, err = c.CreateProduct(ctx, admin, NewProduct{
		ID: "conditioner", Name: "Conditioner", UnitPrice: decimal.RequireFromString("15.00"), InitialStock: 50,
	})
	require.NoError(t, err)
	_, err = c.CreateReseller(ctx, admin, NewReseller{ID: "ana", Name: "Ana Souza"})
	require.NoError(t, err)
	_, err = c.CreateReseller(ctx, admin, NewReseller{ID: "bruno", Name: "Bruno Lima"})
	require.NoError(t, err)
}

func requireStock(t *testing.T, c *Coordinator, p ledger.ProductID, central int64, held map[ledger.ResellerID]int64) {
	t.Helper()
	assert.Equal(t, central, c.View().Central(p), "central %s", p)
	for r, q := range held {
		assert.Equal(t, q, c.View().Held(r, p), "held %s/%s", r, p)
	}
}

func requireClean(t *testing.T, c *Coordinator) {
	t.Helper()
	res, err := c.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Clean(), "drift: view=%v store=%v", res.ViewDrift, res.StoreDrift)
}

// =============================================================================
// SCENARIO
// =============================================================================

func TestShampooScenario(t *testing.T) {
	stores := map[string]func(t *testing.T) ledger.Store{
		"memory": func(t *testing.T) ledger.Store { return store.NewMemory() },
		"sqlite": func(t *testing.T) ledger.Store {
			s, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, _ := newCoordinatorOn(t, open(t))
			seed(t, c)

			// GIVEN: central Shampoo = 100
			requireStock(t, c, "shampoo", 100, nil)

			// WHEN: admin allocates 30 to Ana
			_, err := c.Allocate(ctx, admin, "shampoo", "ana", 30)
			require.NoError(t, err)
			requireStock(t, c, "shampoo", 70, map[ledger.ResellerID]int64{"ana": 30})

			// AND: Ana sells 10
			sale, err := c.RecordSale(ctx, ana, "shampoo", 10)
			require.NoError(t, err)
			assert.True(t, sale.TotalPrice.Equal(decimal.NewFromInt(100)))
			requireStock(t, c, "shampoo", 70, map[ledger.ResellerID]int64{"ana": 20})

			// AND: Ana returns 5
			_, err = c.ReturnStock(ctx, ana, "ana", "shampoo", 5)
			require.NoError(t, err)

			// THEN: central 75, Ana 15
			requireStock(t, c, "shampoo", 75, map[ledger.ResellerID]int64{"ana": 15})

			report, err := c.Reports().SalesReport(ctx, "ana", 0, 0)
			require.NoError(t, err)
			assert.Equal(t, int64(10), report.TotalSales)
			assert.True(t, report.TotalRevenue.Equal(decimal.NewFromInt(100)))
			require.Len(t, report.SalesDetails, 1)
			assert.Equal(t, int64(10), report.SalesDetails[0].Quantity)
			assert.Equal(t, "Shampoo", report.SalesDetails[0].ProductName)

			deliveries, err := c.Reports().DeliveriesReport(ctx, "ana")
			require.NoError(t, err)
			require.Contains(t, deliveries, ledger.ProductID("shampoo"))
			assert.Equal(t, int64(15), deliveries["shampoo"].CurrentStock)
			assert.Equal(t, int64(10), deliveries["shampoo"].Sold)
			require.Len(t, deliveries["shampoo"].DeliveryDetails, 1)
			assert.Equal(t, int64(30), deliveries["shampoo"].DeliveryDetails[0].Quantity)

			requireClean(t, c)
		})
	}
}

// =============================================================================
// ALLOCATE / RETURN
// =============================================================================

func TestAllocateInsufficientCentralStock(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)

	// WHEN: allocating more than central holds
	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 101)

	// THEN: rejected with details, nothing changed
	require.ErrorIs(t, err, ledger.ErrInsufficientCentralStock)
	var stockErr *ledger.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(100), stockErr.Available)
	assert.Equal(t, int64(101), stockErr.Requested)
	requireStock(t, c, "shampoo", 100, map[ledger.ResellerID]int64{"ana": 0})

	entries, err := c.Reports().ListEntries(ctx, ledger.Filter{Kinds: []ledger.Kind{ledger.KindAllocation}}, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAllocateValidation(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	_, err := c.DeleteProduct(ctx, admin, "conditioner")
	require.NoError(t, err)

	tests := []struct {
		name     string
		actor    Actor
		product  ledger.ProductID
		reseller ledger.ResellerID
		qty      int64
		want     error
	}{
		{"zero quantity", admin, "shampoo", "ana", 0, ledger.ErrValidation},
		{"negative quantity", admin, "shampoo", "ana", -3, ledger.ErrValidation},
		{"missing product", admin, "", "ana", 1, ledger.ErrValidation},
		{"missing actor", Actor{}, "shampoo", "ana", 1, ledger.ErrValidation},
		{"deleted product", admin, "conditioner", "ana", 1, ledger.ErrValidation},
		{"unknown product", admin, "soap", "ana", 1, ledger.ErrNotFound},
		{"unknown reseller", admin, "shampoo", "carla", 1, ledger.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Allocate(ctx, tt.actor, tt.product, tt.reseller, tt.qty)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	requireStock(t, c, "shampoo", 100, nil)
}

func TestAllocateReturnRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)

	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 40)
	require.NoError(t, err)
	_, err = c.ReturnStock(ctx, admin, "ana", "shampoo", 40)
	require.NoError(t, err)

	requireStock(t, c, "shampoo", 100, map[ledger.ResellerID]int64{"ana": 0})
	requireClean(t, c)
}

func TestReturnMoreThanHeld(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 5)
	require.NoError(t, err)

	_, err = c.ReturnStock(ctx, ana, "ana", "shampoo", 6)
	assert.ErrorIs(t, err, ledger.ErrInsufficientResellerStock)

	// A reseller cannot return another reseller's stock
	_, err = c.ReturnStock(ctx, bruno, "ana", "shampoo", 1)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	requireStock(t, c, "shampoo", 95, map[ledger.ResellerID]int64{"ana": 5})
}

func TestDeletedResellerCanStillReturn(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 5)
	require.NoError(t, err)

	_, err = c.DeleteReseller(ctx, admin, "ana")
	require.NoError(t, err)

	_, err = c.Allocate(ctx, admin, "shampoo", "ana", 1)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = c.ReturnStock(ctx, admin, "ana", "shampoo", 5)
	require.NoError(t, err)
	requireStock(t, c, "shampoo", 100, map[ledger.ResellerID]int64{"ana": 0})
}

// =============================================================================
// SALES
// =============================================================================

func TestRecordSaleRules(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 3)
	require.NoError(t, err)

	_, err = c.RecordSale(ctx, admin, "shampoo", 1)
	assert.ErrorIs(t, err, ledger.ErrValidation, "admins do not sell")

	_, err = c.RecordSale(ctx, ana, "shampoo", 4)
	assert.ErrorIs(t, err, ledger.ErrInsufficientResellerStock)

	_, err = c.RecordSale(ctx, bruno, "shampoo", 1)
	assert.ErrorIs(t, err, ledger.ErrInsufficientResellerStock, "bruno holds nothing")

	_, err = c.RecordSale(ctx, ana, "shampoo", 3)
	require.NoError(t, err)
	requireStock(t, c, "shampoo", 97, map[ledger.ResellerID]int64{"ana": 0})
}

func TestSaleCapturesPriceAtCommit(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 10)
	require.NoError(t, err)

	first, err := c.RecordSale(ctx, ana, "shampoo", 2)
	require.NoError(t, err)

	newPrice := decimal.RequireFromString("12.50")
	_, err = c.UpdateProduct(ctx, admin, "shampoo", ProductUpdate{UnitPrice: &newPrice})
	require.NoError(t, err)

	second, err := c.RecordSale(ctx, ana, "shampoo", 2)
	require.NoError(t, err)

	assert.True(t, first.TotalPrice.Equal(decimal.NewFromInt(20)))
	assert.True(t, second.TotalPrice.Equal(decimal.NewFromInt(25)))

	report, err := c.Reports().SalesReport(ctx, "ana", 0, 0)
	require.NoError(t, err)
	assert.True(t, report.TotalRevenue.Equal(decimal.NewFromInt(45)))
}

func TestConcurrentSalesExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 1)
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.RecordSale(ctx, ana, "shampoo", 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, short int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ledger.ErrInsufficientResellerStock):
			short++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, short)
	requireStock(t, c, "shampoo", 99, map[ledger.ResellerID]int64{"ana": 0})
	requireClean(t, c)
}

// =============================================================================
// SALE EDITS
// =============================================================================

func TestEditSaleQuantityDeltaLaw(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 30)
	require.NoError(t, err)
	sale, err := c.RecordSale(ctx, ana, "shampoo", 10)
	require.NoError(t, err)

	// WHEN: the sale grows from 10 to 25
	corr, err := c.EditSaleQuantity(ctx, ana, sale.ID, 25)
	require.NoError(t, err)

	// THEN: held = 20 + 10 - 25 = 5, the correction keeps the unit price
	requireStock(t, c, "shampoo", 70, map[ledger.ResellerID]int64{"ana": 5})
	assert.Equal(t, ledger.KindCorrection, corr.Kind)
	assert.Equal(t, ledger.KindSale, corr.Corrects)
	assert.Equal(t, sale.ID, corr.OriginID)
	assert.True(t, corr.TotalPrice.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, sale.EffectiveAt, corr.EffectiveAt)

	// AND: growing beyond held + old fails (available = 5 + 25)
	_, err = c.EditSaleQuantity(ctx, ana, sale.ID, 31)
	require.ErrorIs(t, err, ledger.ErrInsufficientResellerStock)

	// AND: the original id still resolves to the current head
	again, err := c.EditSaleQuantity(ctx, ana, sale.ID, 25)
	require.NoError(t, err)
	assert.Equal(t, corr.ID, again.ID, "same quantity is a no-op")

	shrunk, err := c.EditSaleQuantity(ctx, ana, sale.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, corr.ID, shrunk.RefersTo)
	requireStock(t, c, "shampoo", 70, map[ledger.ResellerID]int64{"ana": 26})

	report, err := c.Reports().SalesReport(ctx, "ana", 0, 0)
	require.NoError(t, err)
	require.Len(t, report.SalesDetails, 1)
	assert.Equal(t, sale.ID, report.SalesDetails[0].SaleID)
	assert.Equal(t, int64(4), report.TotalSales)
	assert.True(t, report.TotalRevenue.Equal(decimal.NewFromInt(40)))
	requireClean(t, c)
}

func TestEditSaleProductCheckAndSwap(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 10)
	require.NoError(t, err)
	_, err = c.Allocate(ctx, admin, "conditioner", "ana", 2)
	require.NoError(t, err)
	sale, err := c.RecordSale(ctx, ana, "shampoo", 3)
	require.NoError(t, err)

	// WHEN: moving a 3-unit sale to a product Ana holds only 2 of
	_, err = c.EditSaleProduct(ctx, ana, sale.ID, "conditioner")

	// THEN: rejected and nothing moved
	require.ErrorIs(t, err, ledger.ErrInsufficientResellerStock)
	assert.Equal(t, int64(7), c.View().Held("ana", "shampoo"))
	assert.Equal(t, int64(2), c.View().Held("ana", "conditioner"))

	// GIVEN: one more conditioner
	_, err = c.Allocate(ctx, admin, "conditioner", "ana", 1)
	require.NoError(t, err)

	// WHEN: moving again
	corr, err := c.EditSaleProduct(ctx, ana, sale.ID, "conditioner")

	// THEN: shampoo restored, conditioner consumed at its own price
	require.NoError(t, err)
	assert.Equal(t, int64(10), c.View().Held("ana", "shampoo"))
	assert.Equal(t, int64(0), c.View().Held("ana", "conditioner"))
	assert.Equal(t, ledger.ProductID("conditioner"), corr.ProductID)
	assert.True(t, corr.TotalPrice.Equal(decimal.NewFromInt(45)))

	byProduct, err := c.Reports().SalesByProduct(ctx, "ana", 0, 0)
	require.NoError(t, err)
	require.Len(t, byProduct, 1)
	assert.Equal(t, ledger.ProductID("conditioner"), byProduct[0].ProductID)
	requireClean(t, c)
}

func TestDeleteSaleRestoresHeld(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 10)
	require.NoError(t, err)
	sale, err := c.RecordSale(ctx, ana, "shampoo", 4)
	require.NoError(t, err)

	rev, err := c.DeleteSale(ctx, ana, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindReversal, rev.Kind)
	assert.Equal(t, int64(10), c.View().Held("ana", "shampoo"))

	_, err = c.DeleteSale(ctx, ana, sale.ID)
	assert.ErrorIs(t, err, ledger.ErrConflict, "already deleted")

	_, err = c.EditSaleQuantity(ctx, ana, sale.ID, 2)
	assert.ErrorIs(t, err, ledger.ErrConflict)

	report, err := c.Reports().SalesReport(ctx, "ana", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, report.SalesDetails)
	requireClean(t, c)
}

func TestResellerCannotTouchAnotherResellersSale(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	_, err := c.Allocate(ctx, admin, "shampoo", "ana", 10)
	require.NoError(t, err)
	sale, err := c.RecordSale(ctx, ana, "shampoo", 4)
	require.NoError(t, err)

	_, err = c.EditSaleQuantity(ctx, bruno, sale.ID, 1)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	_, err = c.DeleteSale(ctx, bruno, sale.ID)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	// Admins may correct any sale
	_, err = c.EditSaleQuantity(ctx, admin, sale.ID, 1)
	assert.NoError(t, err)
}

func TestEditWrongKind(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	alloc, err := c.Allocate(ctx, admin, "shampoo", "ana", 10)
	require.NoError(t, err)

	_, err = c.EditSaleQuantity(ctx, admin, alloc.ID, 1)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = c.DeleteDelivery(ctx, admin, "no-such-entry")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// DELIVERY EDITS
// =============================================================================

func TestDeleteDeliveryRestoresCentral(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	alloc, err := c.Allocate(ctx, admin, "shampoo", "ana", 30)
	require.NoError(t, err)

	_, err = c.DeleteDelivery(ctx, admin, alloc.ID)
	require.NoError(t, err)

	requireStock(t, c, "shampoo", 100, map[ledger.ResellerID]int64{"ana": 0})
	stored, err := c.Store().Get(ctx, alloc.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusReversed, stored.Status)

	_, err = c.DeleteDelivery(ctx, admin, alloc.ID)
	assert.ErrorIs(t, err, ledger.ErrConflict)
	requireClean(t, c)
}

func TestDeleteDeliveryConflictsWhenStockConsumed(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	alloc, err := c.Allocate(ctx, admin, "shampoo", "ana", 30)
	require.NoError(t, err)
	_, err = c.RecordSale(ctx, ana, "shampoo", 10)
	require.NoError(t, err)

	// WHEN: deleting a delivery whose stock was partly sold
	_, err = c.DeleteDelivery(ctx, admin, alloc.ID)

	// THEN: conflict, nothing changed
	require.ErrorIs(t, err, ledger.ErrConflict)
	requireStock(t, c, "shampoo", 70, map[ledger.ResellerID]int64{"ana": 20})
	stored, err := c.Store().Get(ctx, alloc.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusActive, stored.Status)
}

func TestEditDeliveryNetChange(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)
	alloc, err := c.Allocate(ctx, admin, "shampoo", "ana", 30)
	require.NoError(t, err)
	_, err = c.RecordSale(ctx, ana, "shampoo", 10)
	require.NoError(t, err)

	// Shrinking below what was sold: 20 - 30 + 5 < 0
	_, err = c.EditDelivery(ctx, admin, alloc.ID, 5)
	require.ErrorIs(t, err, ledger.ErrConflict)

	// Growing beyond central: 70 + 30 - 101 < 0
	_, err = c.EditDelivery(ctx, admin, alloc.ID, 101)
	require.ErrorIs(t, err, ledger.ErrInsufficientCentralStock)

	// Growing to exactly all stock
	_, err = c.EditDelivery(ctx, admin, alloc.ID, 100)
	require.NoError(t, err)
	requireStock(t, c, "shampoo", 0, map[ledger.ResellerID]int64{"ana": 90})

	// Shrinking to what was sold
	corr, err := c.EditDelivery(ctx, admin, alloc.ID, 10)
	require.NoError(t, err)
	requireStock(t, c, "shampoo", 90, map[ledger.ResellerID]int64{"ana": 0})
	assert.Equal(t, alloc.ID, corr.OriginID)

	deliveries, err := c.Reports().DeliveriesReport(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, deliveries["shampoo"].DeliveryDetails, 1)
	assert.Equal(t, int64(10), deliveries["shampoo"].DeliveryDetails[0].Quantity)
	assert.Equal(t, alloc.ID, deliveries["shampoo"].DeliveryDetails[0].DeliveryID)

	history, err := c.Reports().EntryHistory(ctx, alloc.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ledger.StatusSuperseded, history[0].Status)
	assert.Equal(t, ledger.StatusSuperseded, history[1].Status)
	assert.Equal(t, ledger.StatusActive, history[2].Status)
	requireClean(t, c)
}

// =============================================================================
// LOCKING
// =============================================================================

func TestLockTimeoutReturnsBusy(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()
	c, _ := newCoordinator(t, WithLocker(locker), WithLockTimeout(20*time.Millisecond))
	seed(t, c)

	// GIVEN: someone holds Shampoo exclusively
	unlock, err := locker.Lock(ctx, LockScope{Products: []ledger.ProductID{"shampoo"}})
	require.NoError(t, err)

	// WHEN: allocating Shampoo
	_, err = c.Allocate(ctx, admin, "shampoo", "ana", 1)

	// THEN: busy, retryable, nothing written
	require.ErrorIs(t, err, ledger.ErrBusy)
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, int64(100), c.View().Central("shampoo"))

	// AND: other products are unaffected
	_, err = c.Allocate(ctx, admin, "conditioner", "ana", 1)
	require.NoError(t, err)

	unlock()
	_, err = c.Allocate(ctx, admin, "shampoo", "ana", 1)
	require.NoError(t, err)
}

func TestConcurrentMixedOperationsKeepInvariants(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t)
	seed(t, c)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, actor := ledger.ResellerID("ana"), ana
			if i%2 == 1 {
				r, actor = "bruno", bruno
			}
			for j := range 25 {
				p := ledger.ProductID("shampoo")
				if j%3 == 0 {
					p = "conditioner"
				}
				_, _ = c.Allocate(ctx, admin, p, r, 2)
				_, _ = c.RecordSale(ctx, actor, p, 1)
				_, _ = c.ReturnStock(ctx, actor, r, p, 1)
			}
		}()
	}
	wg.Wait()

	for _, p := range []ledger.ProductID{"shampoo", "conditioner"} {
		assert.GreaterOrEqual(t, c.View().Central(p), int64(0))
		assert.GreaterOrEqual(t, c.View().Held("ana", p), int64(0))
		assert.GreaterOrEqual(t, c.View().Held("bruno", p), int64(0))
	}
	requireClean(t, c)
}
