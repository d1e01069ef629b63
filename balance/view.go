package balance

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// VIEW - Materialized balances, lock-free reads
// =============================================================================

// View holds the current counters. Reads never block: each counter is an
// atomic integer and the whole table is swapped atomically on Reset.
//
// Writers must serialize per key themselves (the coordinator's locks do);
// View only guarantees that a reader sees a committed value, possibly one
// commit behind.
type View struct {
	cells atomic.Pointer[cellTable]
}

type cellTable struct {
	byKey      sync.Map // ledger.BalanceKey -> *atomic.Int64
	byReseller sync.Map // ledger.ResellerID -> *sync.Map (ledger.ProductID -> *atomic.Int64)
}

func NewView() *View {
	v := &View{}
	v.cells.Store(&cellTable{})
	return v
}

// Load builds a view from the balances persisted in the store.
func Load(ctx context.Context, s ledger.Store) (*View, error) {
	rows, err := s.LoadBalances(ctx)
	if err != nil {
		return nil, err
	}
	v := NewView()
	v.Reset(FromBalances(rows))
	return v, nil
}

func (t *cellTable) cell(k ledger.BalanceKey) *atomic.Int64 {
	if c, ok := t.byKey.Load(k); ok {
		return c.(*atomic.Int64)
	}
	c, loaded := t.byKey.LoadOrStore(k, new(atomic.Int64))
	if !loaded && !k.IsCentral() {
		products, _ := t.byReseller.LoadOrStore(k.ResellerID, &sync.Map{})
		products.(*sync.Map).Store(k.ProductID, c)
	}
	return c.(*atomic.Int64)
}

func (t *cellTable) value(k ledger.BalanceKey) int64 {
	if c, ok := t.byKey.Load(k); ok {
		return c.(*atomic.Int64).Load()
	}
	return 0
}

// =============================================================================
// READS
// =============================================================================

// Central returns the warehouse stock of a product.
func (v *View) Central(p ledger.ProductID) int64 {
	return v.cells.Load().value(ledger.CentralKey(p))
}

// Held returns the stock of a product held by a reseller.
func (v *View) Held(r ledger.ResellerID, p ledger.ProductID) int64 {
	return v.cells.Load().value(ledger.HeldKey(r, p))
}

// HeldAll returns every product a reseller holds a positive quantity of.
func (v *View) HeldAll(r ledger.ResellerID) map[ledger.ProductID]int64 {
	out := make(map[ledger.ProductID]int64)
	products, ok := v.cells.Load().byReseller.Load(r)
	if !ok {
		return out
	}
	products.(*sync.Map).Range(func(k, c any) bool {
		if q := c.(*atomic.Int64).Load(); q > 0 {
			out[k.(ledger.ProductID)] = q
		}
		return true
	})
	return out
}

// Snapshot copies every non-zero counter.
func (v *View) Snapshot() Snapshot {
	s := make(Snapshot)
	v.cells.Load().byKey.Range(func(k, c any) bool {
		if q := c.(*atomic.Int64).Load(); q != 0 {
			s[k.(ledger.BalanceKey)] = q
		}
		return true
	})
	return s
}

// =============================================================================
// WRITES
// =============================================================================

// Apply adds committed deltas. Increments are applied before decrements so
// that a reader summing several counters never sees stock vanish mid-commit.
func (v *View) Apply(deltas []ledger.Delta) {
	t := v.cells.Load()
	for _, d := range deltas {
		if d.Amount > 0 {
			t.cell(d.Key).Add(d.Amount)
		}
	}
	for _, d := range deltas {
		if d.Amount < 0 {
			t.cell(d.Key).Add(d.Amount)
		}
	}
}

// Reset replaces every counter with the snapshot's values in one swap.
func (v *View) Reset(s Snapshot) {
	t := &cellTable{}
	for k, q := range s {
		t.cell(k).Store(q)
	}
	v.cells.Store(t)
}

// Refresh overwrites part of the view with persisted rows: every counter of
// the listed products, plus the listed keys. A counter in that set with no
// row becomes zero. Counters outside the set are left alone, so the caller
// must hold locks covering exactly what it refreshes.
func (v *View) Refresh(products []ledger.ProductID, keys []ledger.BalanceKey, rows []ledger.Balance) {
	t := v.cells.Load()
	fresh := make(map[ledger.BalanceKey]int64, len(rows))
	for _, b := range rows {
		fresh[b.Key] = b.Quantity
	}

	if len(products) > 0 {
		t.byKey.Range(func(k, c any) bool {
			if key := k.(ledger.BalanceKey); slices.Contains(products, key.ProductID) {
				c.(*atomic.Int64).Store(fresh[key])
			}
			return true
		})
		for k, q := range fresh {
			if slices.Contains(products, k.ProductID) {
				t.cell(k).Store(q)
			}
		}
	}
	for _, k := range keys {
		t.cell(k).Store(fresh[k])
	}
}
