// Package store provides the in-memory ledger.Store implementation.
package store

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state memoryState
	now   func() time.Time
}

type memoryState struct {
	entries   []ledger.Entry // index = Seq-1
	byID      map[ledger.EntryID]int
	balances  map[ledger.BalanceKey]int64
	products  map[ledger.ProductID]ledger.Product
	resellers map[ledger.ResellerID]ledger.Reseller
}

func newMemoryState() memoryState {
	return memoryState{
		byID:      make(map[ledger.EntryID]int),
		balances:  make(map[ledger.BalanceKey]int64),
		products:  make(map[ledger.ProductID]ledger.Product),
		resellers: make(map[ledger.ResellerID]ledger.Reseller),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newMemoryState(), now: time.Now}
}

var (
	_ ledger.Store    = (*Memory)(nil)
	_ ledger.Resetter = (*Memory)(nil)
)

// =============================================================================
// ENTRIES
// =============================================================================

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, e ledger.Entry) (ledger.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.append(e, m.now())
}

func (s *memoryState) append(e ledger.Entry, now time.Time) (ledger.EntryID, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	e = ledger.Prepare(e, now)
	if _, dup := s.byID[e.ID]; dup {
		return "", &ledger.ValidationError{Field: "id", Reason: "duplicate entry id " + string(e.ID)}
	}
	e.Seq = int64(len(s.entries) + 1)
	s.byID[e.ID] = len(s.entries)
	s.entries = append(s.entries, e)
	return e.ID, nil
}

func (m *Memory) Get(_ context.Context, id ledger.EntryID) (ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.get(id)
}

func (s *memoryState) get(id ledger.EntryID) (ledger.Entry, error) {
	i, ok := s.byID[id]
	if !ok {
		return ledger.Entry{}, &ledger.NotFoundError{Resource: "entry", ID: string(id)}
	}
	return s.entries[i], nil
}

// Query reads matching entries page by page, so appends made while ranging
// are picked up and no lock is held while the caller's loop body runs.
func (m *Memory) Query(ctx context.Context, f ledger.Filter) iter.Seq2[ledger.Entry, error] {
	return queryPages(ctx, func(from int) ([]ledger.Entry, int) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.state.scan(f, from, ledger.QueryBatchSize)
	})
}

func queryPages(ctx context.Context, page func(from int) ([]ledger.Entry, int)) iter.Seq2[ledger.Entry, error] {
	return func(yield func(ledger.Entry, error) bool) {
		next := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(ledger.Entry{}, err)
				return
			}
			batch, n := page(next)
			for _, e := range batch {
				if !yield(e, nil) {
					return
				}
			}
			if n < 0 {
				return
			}
			next = n
		}
	}
}

// scan collects up to limit matches starting at position from. It returns
// the next position to scan, or -1 when the log is exhausted.
func (s *memoryState) scan(f ledger.Filter, from, limit int) ([]ledger.Entry, int) {
	var out []ledger.Entry
	for i := from; i < len(s.entries); i++ {
		if f.Match(s.entries[i]) {
			out = append(out, s.entries[i])
			if len(out) == limit {
				return out, i + 1
			}
		}
	}
	return out, -1
}

func (m *Memory) MarkSuperseded(_ context.Context, id ledger.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.mark(id, ledger.StatusSuperseded)
}

func (m *Memory) MarkReversed(_ context.Context, id ledger.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.mark(id, ledger.StatusReversed)
}

func (s *memoryState) mark(id ledger.EntryID, status ledger.Status) error {
	i, ok := s.byID[id]
	if !ok {
		return &ledger.NotFoundError{Resource: "entry", ID: string(id)}
	}
	if s.entries[i].Status != ledger.StatusActive {
		return nil
	}
	s.entries[i].Status = status
	return nil
}

// =============================================================================
// BALANCES
// =============================================================================

func (m *Memory) AdjustBalances(_ context.Context, deltas []ledger.Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check first so a failing batch changes nothing.
	if err := m.state.checkDeltas(deltas); err != nil {
		return err
	}
	m.state.applyDeltas(deltas)
	return nil
}

func (s *memoryState) checkDeltas(deltas []ledger.Delta) error {
	next := make(map[ledger.BalanceKey]int64)
	for _, d := range deltas {
		if _, ok := next[d.Key]; !ok {
			next[d.Key] = s.balances[d.Key]
		}
		next[d.Key] += d.Amount
		if next[d.Key] < 0 {
			return &ledger.StorageError{Op: "adjust balances", Err: errNegativeBalance(d.Key, next[d.Key])}
		}
	}
	return nil
}

func (s *memoryState) applyDeltas(deltas []ledger.Delta) {
	for _, d := range deltas {
		s.balances[d.Key] += d.Amount
		if s.balances[d.Key] == 0 {
			delete(s.balances, d.Key)
		}
	}
}

type negativeBalanceError struct {
	key   ledger.BalanceKey
	value int64
}

func (e negativeBalanceError) Error() string {
	return fmt.Sprintf("balance %s would become %d", e.key, e.value)
}

func errNegativeBalance(k ledger.BalanceKey, v int64) error {
	return negativeBalanceError{key: k, value: v}
}

func (m *Memory) LoadBalances(_ context.Context) ([]ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.Balance, 0, len(m.state.balances))
	for k, v := range m.state.balances {
		out = append(out, ledger.Balance{Key: k, Quantity: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

func (m *Memory) ProductBalances(_ context.Context, products []ledger.ProductID) ([]ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Balance
	for k, v := range m.state.balances {
		if slices.Contains(products, k.ProductID) {
			out = append(out, ledger.Balance{Key: k, Quantity: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

func (m *Memory) ReplaceBalances(_ context.Context, balances []ledger.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[ledger.BalanceKey]int64, len(balances))
	for _, b := range balances {
		if b.Quantity < 0 {
			return &ledger.StorageError{Op: "replace balances", Err: errNegativeBalance(b.Key, b.Quantity)}
		}
		if b.Quantity > 0 {
			next[b.Key] = b.Quantity
		}
	}
	m.state.balances = next
	return nil
}

// =============================================================================
// REGISTRY
// =============================================================================

func (m *Memory) SaveProduct(_ context.Context, p ledger.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.saveProduct(p, m.now())
	return nil
}

func (s *memoryState) saveProduct(p ledger.Product, now time.Time) {
	if old, ok := s.products[p.ID]; ok {
		p.CreatedAt = old.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now.UTC()
	}
	p.UpdatedAt = now.UTC()
	p.CentralStock = 0
	s.products[p.ID] = p
}

func (m *Memory) GetProduct(_ context.Context, id ledger.ProductID) (ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getProduct(id)
}

func (s *memoryState) getProduct(id ledger.ProductID) (ledger.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return ledger.Product{}, &ledger.NotFoundError{Resource: "product", ID: string(id)}
	}
	return p, nil
}

func (m *Memory) ListProducts(_ context.Context) ([]ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listProducts(), nil
}

func (s *memoryState) listProducts() []ledger.Product {
	out := make([]ledger.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Memory) SaveReseller(_ context.Context, r ledger.Reseller) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.saveReseller(r, m.now())
	return nil
}

func (s *memoryState) saveReseller(r ledger.Reseller, now time.Time) {
	if old, ok := s.resellers[r.ID]; ok {
		r.CreatedAt = old.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
	}
	r.UpdatedAt = now.UTC()
	s.resellers[r.ID] = r
}

func (m *Memory) GetReseller(_ context.Context, id ledger.ResellerID) (ledger.Reseller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getReseller(id)
}

func (s *memoryState) getReseller(id ledger.ResellerID) (ledger.Reseller, error) {
	r, ok := s.resellers[id]
	if !ok {
		return ledger.Reseller{}, &ledger.NotFoundError{Resource: "reseller", ID: string(id)}
	}
	return r, nil
}

func (m *Memory) ListResellers(_ context.Context) ([]ledger.Reseller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listResellers(), nil
}

func (s *memoryState) listResellers() []ledger.Reseller {
	out := make([]ledger.Reseller, 0, len(s.resellers))
	for _, r := range s.resellers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset wipes everything.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newMemoryState()
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction. The memory store keeps an undo
// record of what fn changed and replays it backwards on error, so a commit
// costs only what it touches.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{m: m, undo: undoLog{entries: len(m.state.entries)}}
	if err := fn(tx); err != nil {
		tx.undo.rollback(&m.state)
		return err
	}
	return nil
}

// undoLog holds the prior value of everything a transaction changed. Only
// the first change of each key is recorded.
type undoLog struct {
	entries   int // log length when the transaction began
	statuses  map[int]ledger.Status
	balances  map[ledger.BalanceKey]int64
	products  map[ledger.ProductID]*ledger.Product // nil: did not exist
	resellers map[ledger.ResellerID]*ledger.Reseller
}

func (u *undoLog) status(s *memoryState, id ledger.EntryID) {
	i, ok := s.byID[id]
	if !ok || i >= u.entries {
		return
	}
	if u.statuses == nil {
		u.statuses = make(map[int]ledger.Status)
	}
	if _, seen := u.statuses[i]; !seen {
		u.statuses[i] = s.entries[i].Status
	}
}

func (u *undoLog) balance(s *memoryState, deltas []ledger.Delta) {
	if u.balances == nil {
		u.balances = make(map[ledger.BalanceKey]int64)
	}
	for _, d := range deltas {
		if _, seen := u.balances[d.Key]; !seen {
			u.balances[d.Key] = s.balances[d.Key]
		}
	}
}

func (u *undoLog) product(s *memoryState, id ledger.ProductID) {
	if u.products == nil {
		u.products = make(map[ledger.ProductID]*ledger.Product)
	}
	if _, seen := u.products[id]; seen {
		return
	}
	if old, ok := s.products[id]; ok {
		u.products[id] = &old
	} else {
		u.products[id] = nil
	}
}

func (u *undoLog) reseller(s *memoryState, id ledger.ResellerID) {
	if u.resellers == nil {
		u.resellers = make(map[ledger.ResellerID]*ledger.Reseller)
	}
	if _, seen := u.resellers[id]; seen {
		return
	}
	if old, ok := s.resellers[id]; ok {
		u.resellers[id] = &old
	} else {
		u.resellers[id] = nil
	}
}

func (u *undoLog) rollback(s *memoryState) {
	for _, e := range s.entries[u.entries:] {
		delete(s.byID, e.ID)
	}
	clear(s.entries[u.entries:])
	s.entries = s.entries[:u.entries]

	for i, st := range u.statuses {
		s.entries[i].Status = st
	}
	for k, q := range u.balances {
		if q == 0 {
			delete(s.balances, k)
		} else {
			s.balances[k] = q
		}
	}
	for id, p := range u.products {
		if p == nil {
			delete(s.products, id)
		} else {
			s.products[id] = *p
		}
	}
	for id, r := range u.resellers {
		if r == nil {
			delete(s.resellers, id)
		} else {
			s.resellers[id] = *r
		}
	}
}

// memoryTx operates on the parent's state directly; the parent lock is held
// by WithTx for the whole call.
type memoryTx struct {
	m    *Memory
	undo undoLog
}

func (t *memoryTx) Append(_ context.Context, e ledger.Entry) (ledger.EntryID, error) {
	return t.m.state.append(e, t.m.now())
}

func (t *memoryTx) Get(_ context.Context, id ledger.EntryID) (ledger.Entry, error) {
	return t.m.state.get(id)
}

func (t *memoryTx) Query(ctx context.Context, f ledger.Filter) iter.Seq2[ledger.Entry, error] {
	return queryPages(ctx, func(from int) ([]ledger.Entry, int) {
		return t.m.state.scan(f, from, ledger.QueryBatchSize)
	})
}

func (t *memoryTx) MarkSuperseded(_ context.Context, id ledger.EntryID) error {
	t.undo.status(&t.m.state, id)
	return t.m.state.mark(id, ledger.StatusSuperseded)
}

func (t *memoryTx) MarkReversed(_ context.Context, id ledger.EntryID) error {
	t.undo.status(&t.m.state, id)
	return t.m.state.mark(id, ledger.StatusReversed)
}

func (t *memoryTx) AdjustBalances(_ context.Context, deltas []ledger.Delta) error {
	if err := t.m.state.checkDeltas(deltas); err != nil {
		return err
	}
	t.undo.balance(&t.m.state, deltas)
	t.m.state.applyDeltas(deltas)
	return nil
}

func (t *memoryTx) SaveProduct(_ context.Context, p ledger.Product) error {
	t.undo.product(&t.m.state, p.ID)
	t.m.state.saveProduct(p, t.m.now())
	return nil
}

func (t *memoryTx) GetProduct(_ context.Context, id ledger.ProductID) (ledger.Product, error) {
	return t.m.state.getProduct(id)
}

func (t *memoryTx) ListProducts(_ context.Context) ([]ledger.Product, error) {
	return t.m.state.listProducts(), nil
}

func (t *memoryTx) SaveReseller(_ context.Context, r ledger.Reseller) error {
	t.undo.reseller(&t.m.state, r.ID)
	t.m.state.saveReseller(r, t.m.now())
	return nil
}

func (t *memoryTx) GetReseller(_ context.Context, id ledger.ResellerID) (ledger.Reseller, error) {
	return t.m.state.getReseller(id)
}

func (t *memoryTx) ListResellers(_ context.Context) ([]ledger.Reseller, error) {
	return t.m.state.listResellers(), nil
}
