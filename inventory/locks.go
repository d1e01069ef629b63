/*
locks.go - Hierarchical keyed locks for the mutation coordinator

PURPOSE:
  Serializes writers that touch the same balance counters while letting
  writers on disjoint counters run in parallel.

LEVELS (always acquired top-down):
  global            shared by every mutation, exclusive for rebuild
  product P         exclusive for anything that moves central(P),
                    shared for reseller-only work on P
  pair (P, R)       exclusive, taken under a shared product P

  Within a level keys are acquired in sorted order, so two operations that
  need overlapping key sets can never wait on each other in a cycle.

TIMEOUT:
  Acquisition waits until the context is done. The coordinator bounds it with
  its lock timeout; a failure releases whatever was already held and returns
  a *ledger.BusyError.

SEE ALSO:
  - redis_locker.go: Cross-process variant
  - coordinator.go: Which scope each operation asks for
*/
package inventory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/warp/stock-ledger/ledger"
	"golang.org/x/sync/semaphore"
)

// LockScope lists what an operation needs locked.
type LockScope struct {
	// Global takes the global level exclusively; nothing else can run.
	Global bool

	// Exclusive products (central stock moves).
	Products []ledger.ProductID

	// Shared products, each paired with an exclusive (product, reseller).
	Pairs []ledger.BalanceKey
}

// Locker acquires a scope and returns the function that releases it.
type Locker interface {
	Lock(ctx context.Context, scope LockScope) (unlock func(), err error)
}

// exclusiveWeight is larger than any number of concurrent shared holders.
const exclusiveWeight = 1 << 30

// LocalLocker implements Locker within one process using weighted
// semaphores: shared holders take weight 1, exclusive holders take it all.
type LocalLocker struct {
	global   *semaphore.Weighted
	products sync.Map // ledger.ProductID -> *semaphore.Weighted
	pairs    sync.Map // ledger.BalanceKey -> *semaphore.Weighted
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{global: semaphore.NewWeighted(exclusiveWeight)}
}

func (l *LocalLocker) product(p ledger.ProductID) *semaphore.Weighted {
	s, _ := l.products.LoadOrStore(p, semaphore.NewWeighted(exclusiveWeight))
	return s.(*semaphore.Weighted)
}

func (l *LocalLocker) pair(k ledger.BalanceKey) *semaphore.Weighted {
	s, _ := l.pairs.LoadOrStore(k, semaphore.NewWeighted(1))
	return s.(*semaphore.Weighted)
}

type held struct {
	sem    *semaphore.Weighted
	weight int64
}

// Lock acquires the scope in global, product, pair order.
func (l *LocalLocker) Lock(ctx context.Context, scope LockScope) (func(), error) {
	var acquired []held
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].sem.Release(acquired[i].weight)
		}
	}
	take := func(name string, sem *semaphore.Weighted, weight int64) error {
		if err := sem.Acquire(ctx, weight); err != nil {
			release()
			return &ledger.BusyError{Scope: name, Err: err}
		}
		acquired = append(acquired, held{sem: sem, weight: weight})
		return nil
	}

	if scope.Global {
		if err := take("global", l.global, exclusiveWeight); err != nil {
			return nil, err
		}
		return release, nil
	}
	if err := take("global", l.global, 1); err != nil {
		return nil, err
	}

	for _, pl := range scope.productLocks() {
		if err := take("product "+string(pl.id), l.product(pl.id), pl.weight()); err != nil {
			return nil, err
		}
	}
	for _, k := range scope.sortedPairs() {
		if err := take("stock "+k.String(), l.pair(k), 1); err != nil {
			return nil, err
		}
	}
	return release, nil
}

type productLock struct {
	id        ledger.ProductID
	exclusive bool
}

func (p productLock) weight() int64 {
	if p.exclusive {
		return exclusiveWeight
	}
	return 1
}

// productLocks merges exclusive and shared product keys, sorted by id.
// A product asked for both ways is taken exclusively.
func (s LockScope) productLocks() []productLock {
	mode := make(map[ledger.ProductID]bool)
	for _, k := range s.Pairs {
		if _, ok := mode[k.ProductID]; !ok {
			mode[k.ProductID] = false
		}
	}
	for _, p := range s.Products {
		mode[p] = true
	}
	out := make([]productLock, 0, len(mode))
	for p, excl := range mode {
		out = append(out, productLock{id: p, exclusive: excl})
	}
	slices.SortFunc(out, func(a, b productLock) int { return cmp.Compare(a.id, b.id) })
	return out
}

// sortedPairs returns the pairs that are not already covered by an
// exclusive product lock, deduplicated and sorted.
func (s LockScope) sortedPairs() []ledger.BalanceKey {
	var out []ledger.BalanceKey
	for _, k := range s.Pairs {
		if slices.Contains(s.Products, k.ProductID) || slices.Contains(out, k) {
			continue
		}
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b ledger.BalanceKey) int { return cmp.Compare(a.String(), b.String()) })
	return out
}

// productIDs returns every product the scope touches, sorted.
func (s LockScope) productIDs() []ledger.ProductID {
	locks := s.productLocks()
	out := make([]ledger.ProductID, len(locks))
	for i, pl := range locks {
		out[i] = pl.id
	}
	return out
}

// String describes the scope for logs.
func (s LockScope) String() string {
	if s.Global {
		return "global"
	}
	out := ""
	for _, pl := range s.productLocks() {
		if out != "" {
			out += ","
		}
		if pl.exclusive {
			out += string(pl.id) + "(x)"
		} else {
			out += string(pl.id) + "(s)"
		}
	}
	return out
}
