package inventory

import "github.com/warp/stock-ledger/ledger"

// Actor is the already-authenticated caller of an operation. The coordinator
// records it on every entry and performs no authentication of its own.
type Actor struct {
	ID   string
	Role ledger.Role
}

// System is the actor used by scheduled jobs and demo loaders.
var System = Actor{ID: "system", Role: ledger.RoleSystem}

func (a Actor) Validate() error {
	if a.ID == "" {
		return &ledger.ValidationError{Field: "actor_id", Reason: "required"}
	}
	if !a.Role.Valid() {
		return &ledger.ValidationError{Field: "actor_role", Reason: "unknown role " + string(a.Role)}
	}
	return nil
}

func (a Actor) IsAdmin() bool { return a.Role == ledger.RoleAdmin || a.Role == ledger.RoleSystem }

// ResellerID returns the reseller the actor acts as, if any.
func (a Actor) ResellerID() (ledger.ResellerID, bool) {
	if a.Role != ledger.RoleReseller {
		return "", false
	}
	return ledger.ResellerID(a.ID), true
}
