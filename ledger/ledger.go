package ledger

import (
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ENTRY VALIDATION - Enforced by every Store on Append
// =============================================================================

// Validate checks the required fields of an entry before it is appended.
func (e Entry) Validate() error {
	if !e.Kind.Valid() {
		return invalid("kind", "unknown entry kind "+string(e.Kind))
	}
	if e.Status != "" && e.Status != StatusActive {
		return invalid("status", "new entries must be active")
	}

	if e.Kind == KindReversal {
		if e.RefersTo == "" {
			return invalid("refers_to", "reversal must reference an entry")
		}
		if e.Quantity != 0 {
			return invalid("quantity", "reversal carries no quantity")
		}
		return nil
	}

	if e.Kind == KindCorrection && e.Corrects != KindAllocation && e.Corrects != KindSale {
		return invalid("corrects", "only allocations and sales can be corrected")
	}
	if e.ProductID == "" {
		return invalid("product_id", "required")
	}
	if e.Quantity <= 0 {
		return invalid("quantity", "must be positive")
	}

	switch e.EffectKind() {
	case KindReceipt:
		if e.ResellerID != "" {
			return invalid("reseller_id", "receipts go to the central pool")
		}
	case KindAllocation, KindSale, KindReturn:
		if e.ResellerID == "" {
			return invalid("reseller_id", "required")
		}
	}

	if e.Kind == KindCorrection && e.RefersTo == "" {
		return invalid("refers_to", "correction must reference an entry")
	}
	if e.EffectKind() == KindSale && e.UnitPrice.IsNegative() {
		return invalid("unit_price", "must not be negative")
	}
	return nil
}

// Prepare fills the store-owned fields of a new entry: id, status and
// timestamps. Seq is left to the store.
func Prepare(e Entry, now time.Time) Entry {
	if e.ID == "" {
		e.ID = NewEntryID()
	}
	e.Status = StatusActive
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.EffectiveAt.IsZero() {
		e.EffectiveAt = e.CreatedAt
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.EffectiveAt = e.EffectiveAt.UTC()
	return e
}

func NewEntryID() EntryID { return EntryID(uuid.NewString()) }

// =============================================================================
// QUERY FILTER
// =============================================================================

// Filter selects entries. Zero values mean "any". Superseded and reversed
// entries are excluded unless asked for.
//
// Kinds matches an entry's own kind or, for corrections, the corrected kind:
// asking for sales returns sales and sale corrections.
type Filter struct {
	ProductID  ProductID
	ResellerID ResellerID
	Kinds      []Kind
	RefersTo   EntryID
	OriginID   EntryID

	// EffectiveAt in [From, To). Zero bounds are open.
	From time.Time
	To   time.Time

	IncludeSuperseded bool
	IncludeReversed   bool
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Entry) bool {
	switch e.Status {
	case StatusSuperseded:
		if !f.IncludeSuperseded {
			return false
		}
	case StatusReversed:
		if !f.IncludeReversed {
			return false
		}
	}
	if f.ProductID != "" && e.ProductID != f.ProductID {
		return false
	}
	if f.ResellerID != "" && e.ResellerID != f.ResellerID {
		return false
	}
	if f.RefersTo != "" && e.RefersTo != f.RefersTo {
		return false
	}
	if f.OriginID != "" && e.Origin() != f.OriginID {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) && !slices.Contains(f.Kinds, e.EffectKind()) {
		return false
	}
	if !f.From.IsZero() && e.EffectiveAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.EffectiveAt.Before(f.To) {
		return false
	}
	return true
}

// Collect drains a query into a slice.
func Collect(seq iter.Seq2[Entry, error]) ([]Entry, error) {
	var out []Entry
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// First returns the first entry of a query, or ok=false.
func First(seq iter.Seq2[Entry, error]) (Entry, bool, error) {
	for e, err := range seq {
		if err != nil {
			return Entry{}, false, err
		}
		return e, true, nil
	}
	return Entry{}, false, nil
}

// QueryBatchSize is the page size stores use when reading lazily.
const QueryBatchSize = 256
