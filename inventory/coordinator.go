/*
Package inventory is the writer path of the stock ledger.

PURPOSE:
  The Coordinator is the only component that mutates the ledger. Every
  operation follows the same sequence:

    1. Validate the request shape (no locks held)
    2. Acquire the lock scope the operation needs
    3. Read current balances from the view and check them (with a shared
       store, the locked counters are first reloaded from the store)
    4. Append the entry (or correction / reversal), mark the entry it
       replaces and adjust the persisted balances in one store transaction
    5. Apply the same deltas to the view
    6. Release the locks

  Because step 5 happens before step 6, the next writer on the same key
  always validates against the committed state.

LOCK SCOPES:
  Operation            Scope
  -------------------  ------------------------------------------
  Allocate             product (exclusive)
  ReturnStock          product (exclusive)
  ReceiveStock         product (exclusive)
  DeleteDelivery       product (exclusive)
  EditDelivery         product (exclusive)
  RecordSale           product (shared) + (product, reseller)
  EditSaleQuantity     product (shared) + (product, reseller)
  EditSaleProduct      both products (shared) + both pairs, sorted
  DeleteSale           product (shared) + (product, reseller)
  Rebuild / Verify     global (exclusive)

CHAINS:
  Edits never touch the original entry. An edit appends a correction that
  carries the full replacement values and marks the previous head of the
  chain superseded; a delete appends a reversal and marks the head reversed.
  Callers may pass any id of a chain; operations act on its current head.

SEE ALSO:
  - locks.go: Lock levels and ordering
  - catalog.go: Product and reseller registry operations
  - reports.go: Read-only aggregates
  - reconcile.go: Verify / Rebuild
*/
package inventory

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/balance"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/metrics"
)

// DefaultLockTimeout bounds lock acquisition when no option overrides it.
const DefaultLockTimeout = 5 * time.Second

// maxChainDepth guards head resolution against a corrupt correction chain.
const maxChainDepth = 1000

// =============================================================================
// COORDINATOR
// =============================================================================

type Coordinator struct {
	store       ledger.Store
	view        *balance.View
	locker      Locker
	now         func() time.Time
	lockTimeout time.Duration
	log         zerolog.Logger
	metrics     *metrics.Metrics

	// sharedStore is set when other processes write the same store.
	sharedStore bool
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithLocker(l Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

func WithLockTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.lockTimeout = d }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithSharedStore tells the coordinator that other processes commit to the
// same store under the same locks. Each locked operation then reloads the
// counters it covers before checking them, and reads go to the store.
// A RedisLocker implies it.
func WithSharedStore() Option {
	return func(c *Coordinator) { c.sharedStore = true }
}

// NewCoordinator loads the materialized balances from the store and returns
// a coordinator ready to accept mutations.
func NewCoordinator(ctx context.Context, store ledger.Store, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		store:       store,
		locker:      NewLocalLocker(),
		now:         time.Now,
		lockTimeout: DefaultLockTimeout,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, ok := c.locker.(*RedisLocker); ok {
		c.sharedStore = true
	}

	view, err := balance.Load(ctx, store)
	if err != nil {
		return nil, err
	}
	c.view = view
	return c, nil
}

// View returns the materialized balances. Reads on it never block.
func (c *Coordinator) View() *balance.View { return c.view }

// Store returns the underlying ledger store.
func (c *Coordinator) Store() ledger.Store { return c.store }

// Reports returns a report engine reading the same store and view.
func (c *Coordinator) Reports() *Reports {
	r := NewReports(c.store, c.view)
	r.shared = c.sharedStore
	return r
}

// readView returns the balances unlocked reads should use. With a shared
// store the local view only follows this process's commits, so reads load
// the persisted counters instead.
func (c *Coordinator) readView(ctx context.Context) (*balance.View, error) {
	if !c.sharedStore {
		return c.view, nil
	}
	return balance.Load(ctx, c.store)
}

// refresh reloads the counters scope covers from the store. Another process
// may have moved them since this view last saw them; the held locks keep
// them still until unlock.
func (c *Coordinator) refresh(ctx context.Context, scope LockScope) error {
	if !c.sharedStore {
		return nil
	}
	if scope.Global {
		rows, err := c.store.LoadBalances(ctx)
		if err != nil {
			return err
		}
		c.view.Reset(balance.FromBalances(rows))
		return nil
	}

	products := scope.productIDs()
	if len(products) == 0 {
		return nil
	}

	var (
		exclusive []ledger.ProductID
		keys      []ledger.BalanceKey
	)
	for _, pl := range scope.productLocks() {
		if pl.exclusive {
			exclusive = append(exclusive, pl.id)
		} else {
			// central(P) only moves under an exclusive lock on P
			keys = append(keys, ledger.CentralKey(pl.id))
		}
	}
	keys = append(keys, scope.sortedPairs()...)

	rows, err := c.store.ProductBalances(ctx, products)
	if err != nil {
		return err
	}
	c.view.Refresh(exclusive, keys, rows)
	return nil
}

// =============================================================================
// LOCKED EXECUTION
// =============================================================================

// locked runs fn under scope, recording lock wait, outcome and duration.
// fn receives the commit timestamp, taken after the locks are held.
func locked[T any](ctx context.Context, c *Coordinator, op string, scope LockScope, fn func(now time.Time) (T, error)) (T, error) {
	start := time.Now()
	log := c.log.With().Str("op", op).Str("scope", scope.String()).Logger()

	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	unlock, err := c.locker.Lock(lockCtx, scope)
	cancel()
	c.metrics.RecordLockWait(op, err == nil, time.Since(start))
	if err != nil {
		var zero T
		log.Warn().Err(err).Dur("waited", time.Since(start)).Msg("lock not acquired")
		c.metrics.RecordOperation(op, ledger.ErrorCode(err), time.Since(start))
		return zero, err
	}
	defer unlock()

	var result T
	if err = c.refresh(ctx, scope); err == nil {
		result, err = fn(c.now().UTC())
	}
	code := ledger.ErrorCode(err)
	c.metrics.RecordOperation(op, code, time.Since(start))

	switch {
	case err == nil:
		log.Debug().Dur("took", time.Since(start)).Msg("operation committed")
	case ledger.IsClientError(err) || code == "not_found":
		log.Info().Err(err).Str("code", code).Msg("operation rejected")
	default:
		log.Error().Err(err).Str("code", code).Msg("operation failed")
	}
	return result, err
}

// change is everything one operation commits.
type change struct {
	entries   []ledger.Entry
	supersede []ledger.EntryID
	reverse   []ledger.EntryID
	deltas    [][]ledger.Delta

	// registry runs first inside the transaction (catalog operations).
	registry func(ledger.Tx) error
}

// commit writes the change atomically and then applies its deltas to the
// view. It returns the appended entries as stored (with Seq).
func (c *Coordinator) commit(ctx context.Context, ch change) ([]ledger.Entry, error) {
	deltas := ledger.MergeDeltas(ch.deltas...)
	var stored []ledger.Entry

	err := c.store.WithTx(ctx, func(tx ledger.Tx) error {
		stored = stored[:0]
		if ch.registry != nil {
			if err := ch.registry(tx); err != nil {
				return err
			}
		}
		for _, id := range ch.supersede {
			if err := tx.MarkSuperseded(ctx, id); err != nil {
				return err
			}
		}
		for _, id := range ch.reverse {
			if err := tx.MarkReversed(ctx, id); err != nil {
				return err
			}
		}
		for _, e := range ch.entries {
			id, err := tx.Append(ctx, e)
			if err != nil {
				return err
			}
			saved, err := tx.Get(ctx, id)
			if err != nil {
				return err
			}
			stored = append(stored, saved)
		}
		if len(deltas) > 0 {
			return tx.AdjustBalances(ctx, deltas)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.view.Apply(deltas)
	for _, e := range stored {
		c.log.Debug().
			Str("entry", string(e.ID)).
			Int64("seq", e.Seq).
			Str("kind", string(e.Kind)).
			Str("product", string(e.ProductID)).
			Str("reseller", string(e.ResellerID)).
			Int64("quantity", e.Quantity).
			Msg("entry appended")
	}
	return stored, nil
}

func (c *Coordinator) commitOne(ctx context.Context, ch change) (ledger.Entry, error) {
	stored, err := c.commit(ctx, ch)
	if err != nil || len(stored) == 0 {
		return ledger.Entry{}, err
	}
	return stored[0], nil
}

// newEntry fills the fields shared by every entry the coordinator appends.
func newEntry(kind ledger.Kind, actor Actor, now time.Time) ledger.Entry {
	return ledger.Entry{
		ID:          ledger.NewEntryID(),
		Kind:        kind,
		Status:      ledger.StatusActive,
		EffectiveAt: now,
		CreatedAt:   now,
		ActorID:     actor.ID,
		ActorRole:   actor.Role,
	}
}

// =============================================================================
// REQUEST CHECKS
// =============================================================================

func checkQuantity(field string, q int64) error {
	if q <= 0 {
		return &ledger.ValidationError{Field: field, Reason: "must be positive"}
	}
	return nil
}

func checkID(field, id string) error {
	if id == "" {
		return &ledger.ValidationError{Field: field, Reason: "required"}
	}
	return nil
}

// checkOwner rejects a reseller acting on another reseller's stock.
func checkOwner(actor Actor, r ledger.ResellerID) error {
	if own, ok := actor.ResellerID(); ok && own != r {
		return &ledger.ValidationError{Field: "actor_id", Reason: "entry belongs to another reseller"}
	}
	return nil
}

func (c *Coordinator) activeProduct(ctx context.Context, id ledger.ProductID) (ledger.Product, error) {
	p, err := c.store.GetProduct(ctx, id)
	if err != nil {
		return p, err
	}
	if !p.IsActive() {
		return p, &ledger.ValidationError{Field: "product_id", Reason: "product " + string(id) + " is deleted"}
	}
	return p, nil
}

func (c *Coordinator) activeReseller(ctx context.Context, id ledger.ResellerID) (ledger.Reseller, error) {
	r, err := c.store.GetReseller(ctx, id)
	if err != nil {
		return r, err
	}
	if !r.IsActive() {
		return r, &ledger.ValidationError{Field: "reseller_id", Reason: "reseller " + string(id) + " is deleted"}
	}
	return r, nil
}

// =============================================================================
// CENTRAL-AFFECTING OPERATIONS
// =============================================================================

// ReceiveStock adds stock from outside to the central pool.
func (c *Coordinator) ReceiveStock(ctx context.Context, actor Actor, productID ledger.ProductID, qty int64, reason string) (ledger.Entry, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	if err := checkID("product_id", string(productID)); err != nil {
		return ledger.Entry{}, err
	}
	if err := checkQuantity("quantity", qty); err != nil {
		return ledger.Entry{}, err
	}

	scope := LockScope{Products: []ledger.ProductID{productID}}
	return locked(ctx, c, "receive_stock", scope, func(now time.Time) (ledger.Entry, error) {
		if _, err := c.activeProduct(ctx, productID); err != nil {
			return ledger.Entry{}, err
		}
		e := newEntry(ledger.KindReceipt, actor, now)
		e.ProductID = productID
		e.Quantity = qty
		e.Reason = reason
		return c.commitOne(ctx, change{entries: []ledger.Entry{e}, deltas: [][]ledger.Delta{e.Deltas()}})
	})
}

// Allocate moves qty of a product from the central pool to a reseller.
func (c *Coordinator) Allocate(ctx context.Context, actor Actor, productID ledger.ProductID, resellerID ledger.ResellerID, qty int64) (ledger.Entry, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	if err := checkID("product_id", string(productID)); err != nil {
		return ledger.Entry{}, err
	}
	if err := checkID("reseller_id", string(resellerID)); err != nil {
		return ledger.Entry{}, err
	}
	if err := checkQuantity("quantity", qty); err != nil {
		return ledger.Entry{}, err
	}

	scope := LockScope{Products: []ledger.ProductID{productID}}
	return locked(ctx, c, "allocate", scope, func(now time.Time) (ledger.Entry, error) {
		if _, err := c.activeProduct(ctx, productID); err != nil {
			return ledger.Entry{}, err
		}
		if _, err := c.activeReseller(ctx, resellerID); err != nil {
			return ledger.Entry{}, err
		}
		if central := c.view.Central(productID); qty > central {
			return ledger.Entry{}, &ledger.InsufficientStockError{
				ProductID: productID, Available: central, Requested: qty,
			}
		}

		e := newEntry(ledger.KindAllocation, actor, now)
		e.ProductID = productID
		e.ResellerID = resellerID
		e.Quantity = qty
		return c.commitOne(ctx, change{entries: []ledger.Entry{e}, deltas: [][]ledger.Delta{e.Deltas()}})
	})
}

// ReturnStock moves qty of a product held by a reseller back to the central
// pool. Deleted products and resellers can still return what they hold.
func (c *Coordinator) ReturnStock(ctx context.Context, actor Actor, resellerID ledger.ResellerID, productID ledger.ProductID, qty int64) (ledger.Entry, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	if err := checkID("product_id", string(productID)); err != nil {
		return ledger.Entry{}, err
	}
	if err := checkID("reseller_id", string(resellerID)); err != nil {
		return ledger.Entry{}, err
	}
	if err := checkQuantity("quantity", qty); err != nil {
		return ledger.Entry{}, err
	}
	if err := checkOwner(actor, resellerID); err != nil {
		return ledger.Entry{}, err
	}

	scope := LockScope{Products: []ledger.ProductID{productID}}
	return locked(ctx, c, "return_stock", scope, func(now time.Time) (ledger.Entry, error) {
		if _, err := c.store.GetProduct(ctx, productID); err != nil {
			return ledger.Entry{}, err
		}
		if _, err := c.store.GetReseller(ctx, resellerID); err != nil {
			return ledger.Entry{}, err
		}
		if held := c.view.Held(resellerID, productID); qty > held {
			return ledger.Entry{}, &ledger.InsufficientStockError{
				ProductID: productID, ResellerID: resellerID, Available: held, Requested: qty,
			}
		}

		e := newEntry(ledger.KindReturn, actor, now)
		e.ProductID = productID
		e.ResellerID = resellerID
		e.Quantity = qty
		return c.commitOne(ctx, change{entries: []ledger.Entry{e}, deltas: [][]ledger.Delta{e.Deltas()}})
	})
}

// DeleteDelivery reverses an allocation and restores central stock. It fails
// with a ConflictError if the reseller no longer holds the allocated amount.
func (c *Coordinator) DeleteDelivery(ctx context.Context, actor Actor, allocationID ledger.EntryID) (ledger.Entry, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	return c.editChain(ctx, "delete_delivery", actor, allocationID, ledger.KindAllocation, deliveryScope,
		func(head ledger.Entry, now time.Time) (ledger.Entry, error) {
			if held := c.view.Held(head.ResellerID, head.ProductID); held < head.Quantity {
				return ledger.Entry{}, &ledger.ConflictError{
					EntryID: head.ID,
					Reason:  "stock already consumed or returned elsewhere",
				}
			}
			return c.commitOne(ctx, reverseChange(head, actor, now))
		})
}

// EditDelivery changes the quantity of an allocation. The undo of the old
// quantity and the new allocation are validated as one step.
func (c *Coordinator) EditDelivery(ctx context.Context, actor Actor, allocationID ledger.EntryID, newQty int64) (ledger.Entry, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	if err := checkQuantity("new_quantity", newQty); err != nil {
		return ledger.Entry{}, err
	}
	return c.editChain(ctx, "edit_delivery", actor, allocationID, ledger.KindAllocation, deliveryScope,
		func(head ledger.Entry, now time.Time) (ledger.Entry, error) {
			if newQty == head.Quantity {
				return head, nil
			}
			held := c.view.Held(head.ResellerID, head.ProductID)
			if held-head.Quantity+newQty < 0 {
				return ledger.Entry{}, &ledger.ConflictError{
					EntryID: head.ID,
					Reason:  "stock already consumed or returned elsewhere",
				}
			}
			central := c.view.Central(head.ProductID)
			if central+head.Quantity-newQty < 0 {
				return ledger.Entry{}, &ledger.InsufficientStockError{
					ProductID: head.ProductID, Available: central + head.Quantity, Requested: newQty,
				}
			}

			corr := correctionOf(head, actor, now)
			corr.Quantity = newQty
			return c.commitOne(ctx, supersedeChange(head, corr))
		})
}

func deliveryScope(head ledger.Entry) LockScope {
	return LockScope{Products: []ledger.ProductID{head.ProductID}}
}

// =============================================================================
// RESELLER-ONLY OPERATIONS
// =============================================================================

// RecordSale consumes qty of the acting reseller's stock at the product's
// current price.
func (c *Coordinator) RecordSale(ctx context.Context, actor Actor, productID ledger.ProductID, qty int64) (ledger.Entry, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	resellerID, ok := actor.ResellerID()
	if !ok {
		return ledger.Entry{}, &ledger.ValidationError{Field: "actor_role", Reason: "sales are recorded by resellers"}
	}
	if err := checkID("product_id", string(productID)); err != nil {
		return ledger.Entry{}, err
	}
	if err := checkQuantity("quantity", qty); err != nil {
		return ledger.Entry{}, err
	}

	scope := LockScope{Pairs: []ledger.BalanceKey{ledger.HeldKey(resellerID, productID)}}
	return locked(ctx, c, "record_sale", scope, func(now time.Time) (ledger.Entry, error) {
		if _, err := c.activeReseller(ctx, resellerID); err != nil {
			return ledger.Entry{}, err
		}
		product, err := c.store.GetProduct(ctx, productID)
		if err != nil {
			return ledger.Entry{}, err
		}
		if held := c.view.Held(resellerID, productID); qty > held {
			return ledger.Entry{}, &ledger.InsufficientStockError{
				ProductID: productID, ResellerID: resellerID, Available: held, Requested: qty,
			}
		}

		e := newEntry(ledger.KindSale, actor, now)
		e.ProductID = productID
		e.ResellerID = resellerID
		e.Quantity = qty
		e.UnitPrice = product.UnitPrice
		e.TotalPrice = product.UnitPrice.Mul(decimal.NewFromInt(qty))
		return c.commitOne(ctx, change{entries: []ledger.Entry{e}, deltas: [][]ledger.Delta{e.Deltas()}})
	})
}

// EditSaleQuantity replaces the quantity of a sale. The reseller's held stock
// changes by old - new; the unit price captured by the sale is kept.
func (c *Coordinator) EditSaleQuantity(ctx context.Context, actor Actor, saleID ledger.EntryID, newQty int64) (ledger.Entry, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	if err := checkQuantity("new_quantity", newQty); err != nil {
		return ledger.Entry{}, err
	}
	return c.editChain(ctx, "edit_sale_quantity", actor, saleID, ledger.KindSale, saleScope,
		func(head ledger.Entry, now time.Time) (ledger.Entry, error) {
			if newQty == head.Quantity {
				return head, nil
			}
			held := c.view.Held(head.ResellerID, head.ProductID)
			if held+head.Quantity-newQty < 0 {
				return ledger.Entry{}, &ledger.InsufficientStockError{
					ProductID:  head.ProductID,
					ResellerID: head.ResellerID,
					Available:  held + head.Quantity,
					Requested:  newQty,
				}
			}

			corr := correctionOf(head, actor, now)
			corr.Quantity = newQty
			corr.TotalPrice = corr.UnitPrice.Mul(decimal.NewFromInt(newQty))
			return c.commitOne(ctx, supersedeChange(head, corr))
		})
}

// EditSaleProduct moves a sale to another product in one check-and-swap:
// the old product's stock is restored and the new product's consumed under
// the same locks, priced at the new product's current price.
func (c *Coordinator) EditSaleProduct(ctx context.Context, actor Actor, saleID ledger.EntryID, newProductID ledger.ProductID) (ledger.Entry, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	if err := checkID("new_product_id", string(newProductID)); err != nil {
		return ledger.Entry{}, err
	}
	scopeFor := func(head ledger.Entry) LockScope {
		return LockScope{Pairs: []ledger.BalanceKey{
			ledger.HeldKey(head.ResellerID, head.ProductID),
			ledger.HeldKey(head.ResellerID, newProductID),
		}}
	}
	return c.editChain(ctx, "edit_sale_product", actor, saleID, ledger.KindSale, scopeFor,
		func(head ledger.Entry, now time.Time) (ledger.Entry, error) {
			if newProductID == head.ProductID {
				return head, nil
			}
			product, err := c.store.GetProduct(ctx, newProductID)
			if err != nil {
				return ledger.Entry{}, err
			}
			if held := c.view.Held(head.ResellerID, newProductID); held < head.Quantity {
				return ledger.Entry{}, &ledger.InsufficientStockError{
					ProductID:  newProductID,
					ResellerID: head.ResellerID,
					Available:  held,
					Requested:  head.Quantity,
				}
			}

			corr := correctionOf(head, actor, now)
			corr.ProductID = newProductID
			corr.UnitPrice = product.UnitPrice
			corr.TotalPrice = product.UnitPrice.Mul(decimal.NewFromInt(head.Quantity))
			return c.commitOne(ctx, supersedeChange(head, corr))
		})
}

// DeleteSale reverses a sale, giving the stock back to the reseller.
func (c *Coordinator) DeleteSale(ctx context.Context, actor Actor, saleID ledger.EntryID) (ledger.Entry, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	return c.editChain(ctx, "delete_sale", actor, saleID, ledger.KindSale, saleScope,
		func(head ledger.Entry, now time.Time) (ledger.Entry, error) {
			return c.commitOne(ctx, reverseChange(head, actor, now))
		})
}

func saleScope(head ledger.Entry) LockScope {
	return LockScope{Pairs: []ledger.BalanceKey{ledger.HeldKey(head.ResellerID, head.ProductID)}}
}

// =============================================================================
// CHAINS - Corrections and reversals
// =============================================================================

// editChain resolves the head of id's chain, locks the scope derived from it
// and runs fn on the head as re-read under the lock.
func (c *Coordinator) editChain(
	ctx context.Context,
	op string,
	actor Actor,
	id ledger.EntryID,
	kind ledger.Kind,
	scopeFor func(head ledger.Entry) LockScope,
	fn func(head ledger.Entry, now time.Time) (ledger.Entry, error),
) (ledger.Entry, error) {
	if err := checkID("entry_id", string(id)); err != nil {
		return ledger.Entry{}, err
	}
	seen, err := c.head(ctx, id, kind)
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := checkOwner(actor, seen.ResellerID); err != nil {
		return ledger.Entry{}, err
	}

	return locked(ctx, c, op, scopeFor(seen), func(now time.Time) (ledger.Entry, error) {
		head, err := c.head(ctx, id, kind)
		if err != nil {
			return ledger.Entry{}, err
		}
		if head.ProductID != seen.ProductID || head.ResellerID != seen.ResellerID {
			return ledger.Entry{}, &ledger.ConflictError{EntryID: head.ID, Reason: "entry changed concurrently, retry"}
		}
		return fn(head, now)
	})
}

// head returns the current active head of the chain containing id.
func (c *Coordinator) head(ctx context.Context, id ledger.EntryID, kind ledger.Kind) (ledger.Entry, error) {
	e, err := c.store.Get(ctx, id)
	if err != nil {
		return e, err
	}
	if e.Kind == ledger.KindReversal {
		return e, &ledger.ValidationError{Field: "entry_id", Reason: "reversals cannot be edited"}
	}
	if e.EffectKind() != kind {
		return e, &ledger.ValidationError{Field: "entry_id", Reason: "entry " + string(id) + " is not a " + string(kind)}
	}

	for depth := 0; e.Status == ledger.StatusSuperseded; depth++ {
		if depth >= maxChainDepth {
			return e, &ledger.ConflictError{EntryID: id, Reason: "correction chain too long"}
		}
		next, ok, err := ledger.First(c.store.Query(ctx, ledger.Filter{
			RefersTo:          e.ID,
			Kinds:             []ledger.Kind{ledger.KindCorrection},
			IncludeSuperseded: true,
			IncludeReversed:   true,
		}))
		if err != nil {
			return e, err
		}
		if !ok {
			return e, &ledger.ConflictError{EntryID: e.ID, Reason: "superseded entry has no correction"}
		}
		e = next
	}
	if e.Status == ledger.StatusReversed {
		return e, &ledger.ConflictError{EntryID: e.ID, Reason: "entry was deleted"}
	}
	return e, nil
}

// correctionOf starts a correction that copies head's values. The caller
// overrides what changes.
func correctionOf(head ledger.Entry, actor Actor, now time.Time) ledger.Entry {
	corr := newEntry(ledger.KindCorrection, actor, now)
	corr.Corrects = head.EffectKind()
	corr.RefersTo = head.ID
	corr.OriginID = head.Origin()
	corr.ProductID = head.ProductID
	corr.ResellerID = head.ResellerID
	corr.Quantity = head.Quantity
	corr.UnitPrice = head.UnitPrice
	corr.TotalPrice = head.TotalPrice
	corr.EffectiveAt = head.EffectiveAt
	return corr
}

func supersedeChange(head, corr ledger.Entry) change {
	return change{
		entries:   []ledger.Entry{corr},
		supersede: []ledger.EntryID{head.ID},
		deltas:    [][]ledger.Delta{head.Undo(), corr.Deltas()},
	}
}

func reverseChange(head ledger.Entry, actor Actor, now time.Time) change {
	rev := newEntry(ledger.KindReversal, actor, now)
	rev.RefersTo = head.ID
	rev.OriginID = head.Origin()
	rev.ProductID = head.ProductID
	rev.ResellerID = head.ResellerID
	return change{
		entries: []ledger.Entry{rev},
		reverse: []ledger.EntryID{head.ID},
		deltas:  [][]ledger.Delta{head.Undo()},
	}
}
