/*
Package ledger provides the entry model and storage contract of the stock ledger.

PURPOSE:
  Every stock-affecting event (receipt, allocation, sale, return, correction,
  reversal) is recorded as an Entry. Balances are derived from the active
  entries; the entry log is the single source of truth.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: an immutable ledger row, tagged by Kind
  - Status: uniform lifecycle flag for products, resellers and entries
  - BalanceKey/Delta: the two-tier balance model (central + reseller-held)
  - Product/Reseller: registry records referenced by entries

TWO-TIER MODEL:
  central(P)      stock of product P in the warehouse
  held(R, P)      stock of product P currently held by reseller R

  receipt     central +q
  allocation  central -q, held +q
  sale        held -q
  return      held -q, central +q

  A correction carries the full replacement effect of the entry it supersedes.
  A reversal carries no effect; the reversed entry simply stops counting.

SEE ALSO:
  - store.go: Store/Tx persistence contract
  - errors.go: Error taxonomy
  - balance/replay.go: Rebuilds balances from the log
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntryID string
type ProductID string
type ResellerID string

// =============================================================================
// STATUS - Shared by products, resellers and entries
// =============================================================================

type Status string

const (
	StatusActive     Status = "active"     // Counts / usable
	StatusDeleted    Status = "deleted"    // Soft-deleted product or reseller
	StatusSuperseded Status = "superseded" // Entry replaced by a correction
	StatusReversed   Status = "reversed"   // Entry cancelled by a reversal
)

// =============================================================================
// ACTOR ROLE
// =============================================================================

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleReseller Role = "reseller"
	RoleSystem   Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleReseller, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// ENTRY - Immutable record of a stock movement
// =============================================================================

type Kind string

const (
	KindReceipt    Kind = "receipt"    // Stock enters the warehouse
	KindAllocation Kind = "allocation" // Central -> reseller
	KindSale       Kind = "sale"       // Reseller stock consumed
	KindReturn     Kind = "return"     // Reseller -> central
	KindCorrection Kind = "correction" // Supersedes an allocation or sale
	KindReversal   Kind = "reversal"   // Cancels a prior entry
)

func (k Kind) Valid() bool {
	switch k {
	case KindReceipt, KindAllocation, KindSale, KindReturn, KindCorrection, KindReversal:
		return true
	}
	return false
}

type Entry struct {
	ID   EntryID
	Seq  int64 // Commit order, assigned by the store
	Kind Kind

	ProductID  ProductID
	ResellerID ResellerID
	Quantity   int64

	// Sale pricing, captured at commit time. Never recomputed.
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal

	// Corrections and reversals point at the entry they replace or cancel.
	// OriginID is the first entry of the chain, shared by every later link.
	RefersTo EntryID
	OriginID EntryID
	Corrects Kind

	Status Status

	// EffectiveAt is the business time of the movement. Corrections inherit
	// the EffectiveAt of the entry they supersede; CreatedAt is the commit time.
	EffectiveAt time.Time
	CreatedAt   time.Time

	ActorID   string
	ActorRole Role
	Reason    string
}

// EffectKind returns the kind whose balance rules apply to this entry.
func (e Entry) EffectKind() Kind {
	if e.Kind == KindCorrection {
		return e.Corrects
	}
	return e.Kind
}

// Origin returns the id of the first entry of this entry's chain.
func (e Entry) Origin() EntryID {
	if e.OriginID != "" {
		return e.OriginID
	}
	return e.ID
}

func (e Entry) IsActive() bool { return e.Status == StatusActive }

// Deltas returns the balance changes this entry contributes while active.
func (e Entry) Deltas() []Delta {
	q := e.Quantity
	switch e.EffectKind() {
	case KindReceipt:
		return []Delta{{Key: CentralKey(e.ProductID), Amount: q}}
	case KindAllocation:
		return []Delta{
			{Key: CentralKey(e.ProductID), Amount: -q},
			{Key: HeldKey(e.ResellerID, e.ProductID), Amount: q},
		}
	case KindSale:
		return []Delta{{Key: HeldKey(e.ResellerID, e.ProductID), Amount: -q}}
	case KindReturn:
		return []Delta{
			{Key: HeldKey(e.ResellerID, e.ProductID), Amount: -q},
			{Key: CentralKey(e.ProductID), Amount: q},
		}
	}
	return nil
}

// Undo returns the deltas that cancel this entry's effect.
func (e Entry) Undo() []Delta {
	ds := e.Deltas()
	for i := range ds {
		ds[i].Amount = -ds[i].Amount
	}
	return ds
}

// =============================================================================
// BALANCES - Central and reseller-held stock counters
// =============================================================================

// BalanceKey identifies one counter. An empty ResellerID is the central pool.
type BalanceKey struct {
	ProductID  ProductID
	ResellerID ResellerID
}

func CentralKey(p ProductID) BalanceKey { return BalanceKey{ProductID: p} }
func HeldKey(r ResellerID, p ProductID) BalanceKey { return BalanceKey{ProductID: p, ResellerID: r} }
func (k BalanceKey) IsCentral() bool { return k.ResellerID == "" }

func (k BalanceKey) String() string {
	if k.IsCentral() {
		return "central/" + string(k.ProductID)
	}
	return string(k.ResellerID) + "/" + string(k.ProductID)
}

type Delta struct {
	Key    BalanceKey
	Amount int64
}

// Balance is a persisted counter value.
type Balance struct {
	Key      BalanceKey
	Quantity int64
}

// MergeDeltas sums deltas per key, dropping keys that net to zero.
// Key order follows first appearance.
func MergeDeltas(groups ...[]Delta) []Delta {
	sums := make(map[BalanceKey]int64)
	var order []BalanceKey
	for _, g := range groups {
		for _, d := range g {
			if _, seen := sums[d.Key]; !seen {
				order = append(order, d.Key)
			}
			sums[d.Key] += d.Amount
		}
	}
	out := make([]Delta, 0, len(order))
	for _, k := range order {
		if sums[k] != 0 {
			out = append(out, Delta{Key: k, Amount: sums[k]})
		}
	}
	return out
}

// =============================================================================
// REGISTRY RECORDS
// =============================================================================

type Product struct {
	ID        ProductID
	Name      string
	UnitPrice decimal.Decimal
	Status    Status

	// CentralStock is filled from the materialized balances on read.
	CentralStock int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Product) IsActive() bool { return p.Status == StatusActive }

type Reseller struct {
	ID      ResellerID
	Name    string
	Contact string
	Address string
	Status  Status

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Reseller) IsActive() bool { return r.Status == StatusActive }
