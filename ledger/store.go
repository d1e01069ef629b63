/*
store.go - Persistence contract for the stock ledger

PURPOSE:
  Defines the interface between the engine and the database. Stores keep
  entries append-only: the only in-place change ever made to an entry is its
  status mark (superseded / reversed). Nothing is physically deleted.

KEY INTERFACES:
  Reader:   Get, Query (lazy, restartable, ordered by Seq)
  Writer:   Append, MarkSuperseded, MarkReversed, AdjustBalances
  Registry: Products and resellers
  Tx:       Reader + Writer + Registry bound to one atomic unit
  Store:    Tx + WithTx + balance load/replace + per-product balance reads

ATOMIC COMMITS:
  A mutation appends its entry (or correction/reversal), marks the entry it
  replaces and adjusts the persisted balances inside one WithTx call. Either
  all of it is visible afterwards or none of it is.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and demos
  - store/sqlite/sqlite.go: SQLite (WAL)
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - ledger.go: Entry validation and query filters
  - inventory/coordinator.go: The only writer
*/
package ledger

import (
	"context"
	"iter"
)

// Reader looks entries up.
type Reader interface {
	// Get returns the entry or a NotFoundError.
	Get(ctx context.Context, id EntryID) (Entry, error)

	// Query returns matching entries ordered by Seq. Nothing is read until
	// the sequence is ranged over; every range starts from the beginning.
	Query(ctx context.Context, f Filter) iter.Seq2[Entry, error]
}

// Writer is the append-only write surface.
type Writer interface {
	// Append validates and persists a new entry, returning its id.
	Append(ctx context.Context, e Entry) (EntryID, error)

	// MarkSuperseded and MarkReversed are idempotent: marking an entry
	// that is no longer active is a no-op.
	MarkSuperseded(ctx context.Context, id EntryID) error
	MarkReversed(ctx context.Context, id EntryID) error

	// AdjustBalances adds the deltas to the persisted counters. A counter
	// that would go negative fails the call.
	AdjustBalances(ctx context.Context, deltas []Delta) error
}

// Registry persists products and resellers. Records are never hard-deleted.
type Registry interface {
	SaveProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id ProductID) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	SaveReseller(ctx context.Context, r Reseller) error
	GetReseller(ctx context.Context, id ResellerID) (Reseller, error)
	ListResellers(ctx context.Context) ([]Reseller, error)
}

// Tx is the view of the store inside one atomic unit.
type Tx interface {
	Reader
	Writer
	Registry
}

// Store is the full persistence interface.
type Store interface {
	Tx

	// WithTx executes fn atomically. If fn returns an error nothing fn did
	// is kept.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// LoadBalances returns every persisted counter.
	LoadBalances(ctx context.Context) ([]Balance, error)

	// ProductBalances returns the persisted counters of the given products,
	// central and held, as last committed by any process.
	ProductBalances(ctx context.Context, products []ProductID) ([]Balance, error)

	// ReplaceBalances overwrites all persisted counters (used by rebuild).
	ReplaceBalances(ctx context.Context, balances []Balance) error
}

// Resetter is implemented by stores that can be wiped (demo scenarios).
type Resetter interface {
	Reset(ctx context.Context) error
}
