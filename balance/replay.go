/*
Package balance maintains the materialized stock balances.

PURPOSE:
  Answers "how much does the warehouse hold" and "how much does reseller R
  hold" in O(1) without taking any mutation lock, and rebuilds those figures
  from the ledger when they are suspected to be wrong.

REPLAY RULES:
  Only active entries count. Superseded entries are skipped because their
  correction carries the replacement effect; reversed entries are skipped
  because a reversal cancels them outright. Replay order is Seq order, but
  the final figures do not depend on it: every entry contributes fixed deltas.

  receipt     central +q
  allocation  central -q, held +q
  sale        held -q
  return      held -q, central +q
  correction  effect of the corrected kind, with the corrected values

SEE ALSO:
  - view.go: The materialized view
  - ledger/types.go: Entry.Deltas
*/
package balance

import (
	"context"
	"fmt"
	"iter"
	"sort"

	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// SNAPSHOT - Plain balance figures
// =============================================================================

// Snapshot maps every non-zero counter to its value.
type Snapshot map[ledger.BalanceKey]int64

// Balances converts the snapshot into store rows, sorted by key.
func (s Snapshot) Balances() []ledger.Balance {
	out := make([]ledger.Balance, 0, len(s))
	for k, v := range s {
		out = append(out, ledger.Balance{Key: k, Quantity: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// FromBalances builds a snapshot from store rows.
func FromBalances(rows []ledger.Balance) Snapshot {
	s := make(Snapshot, len(rows))
	for _, b := range rows {
		if b.Quantity != 0 {
			s[b.Key] += b.Quantity
		}
	}
	return s
}

// =============================================================================
// REPLAY - Rebuild balances from the entry log
// =============================================================================

// Replay folds the active entries of seq into a snapshot. It fails if the
// log itself nets to a negative counter.
func Replay(seq iter.Seq2[ledger.Entry, error]) (Snapshot, error) {
	s := make(Snapshot)
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		if !e.IsActive() {
			continue
		}
		for _, d := range e.Deltas() {
			s[d.Key] += d.Amount
		}
	}
	for k, v := range s {
		if v < 0 {
			return nil, &ledger.ConflictError{
				Reason: fmt.Sprintf("ledger replays to negative balance %d for %s", v, k),
			}
		}
		if v == 0 {
			delete(s, k)
		}
	}
	return s, nil
}

// ReplayStore replays every active entry of r.
func ReplayStore(ctx context.Context, r ledger.Reader) (Snapshot, error) {
	return Replay(r.Query(ctx, ledger.Filter{}))
}

// =============================================================================
// DRIFT - Difference between two snapshots
// =============================================================================

type Drift struct {
	Key          ledger.BalanceKey
	Materialized int64
	Replayed     int64
}

// Diff lists the counters where materialized and replayed disagree.
func Diff(materialized, replayed Snapshot) []Drift {
	var out []Drift
	for k, v := range materialized {
		if replayed[k] != v {
			out = append(out, Drift{Key: k, Materialized: v, Replayed: replayed[k]})
		}
	}
	for k, v := range replayed {
		if _, ok := materialized[k]; !ok {
			out = append(out, Drift{Key: k, Materialized: 0, Replayed: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}
