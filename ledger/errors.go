/*
errors.go - Error taxonomy of the stock ledger

PURPOSE:
  All error types in one place. Every structured error unwraps to one of the
  sentinels below so callers can branch with errors.Is and still read the
  details with errors.As.

ERROR CATEGORIES:
  ErrValidation                 malformed, missing or non-positive input
  ErrNotFound                   referenced entry, product or reseller absent
  ErrInsufficientCentralStock   allocation larger than the central pool
  ErrInsufficientResellerStock  sale/return/edit larger than reseller-held stock
  ErrConflict                   reversal or edit blocked by intervening state
  ErrBusy                       lock not acquired within the timeout
  ErrStorage                    underlying store failure, passed through as-is

  None of these is fatal. A failed operation never leaves partial effects.

SEE ALSO:
  - inventory/coordinator.go: Raises the business errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation                = errors.New("validation failed")
	ErrNotFound                  = errors.New("not found")
	ErrInsufficientCentralStock  = errors.New("insufficient central stock")
	ErrInsufficientResellerStock = errors.New("insufficient reseller stock")
	ErrConflict                  = errors.New("conflict")
	ErrBusy                      = errors.New("busy: lock not acquired")
	ErrStorage                   = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports a missing entry, product or reseller.
type NotFoundError struct {
	Resource string // "entry", "product", "reseller"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError details a stock shortage. Central shortages have an
// empty ResellerID.
type InsufficientStockError struct {
	ProductID  ProductID
	ResellerID ResellerID
	Available  int64
	Requested  int64
}

func (e *InsufficientStockError) Error() string {
	if e.ResellerID == "" {
		return fmt.Sprintf("insufficient central stock for product %s: available %d, requested %d",
			e.ProductID, e.Available, e.Requested)
	}
	return fmt.Sprintf("insufficient stock held by reseller %s for product %s: available %d, requested %d",
		e.ResellerID, e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	if e.ResellerID == "" {
		return ErrInsufficientCentralStock
	}
	return ErrInsufficientResellerStock
}

// ConflictError reports an edit or reversal blocked by later ledger state.
type ConflictError struct {
	EntryID EntryID
	Reason  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on entry %s: %s", e.EntryID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// BusyError wraps the lock acquisition failure (usually a context deadline).
type BusyError struct {
	Scope string
	Err   error
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("busy: could not lock %s: %v", e.Scope, e.Err)
}

func (e *BusyError) Unwrap() []error { return []error{ErrBusy, e.Err} }

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// Storage wraps err as a StorageError unless it is nil or already a ledger error.
func Storage(op string, err error) error {
	if err == nil || IsLedgerError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsLedgerError reports whether err belongs to the taxonomy above.
func IsLedgerError(err error) bool {
	return ErrorCode(err) != "internal"
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientCentralStock) ||
		errors.Is(err, ErrInsufficientResellerStock) ||
		errors.Is(err, ErrConflict)
}

// ErrorCode classifies err into a short stable code, used for metrics labels
// and API error bodies.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientCentralStock):
		return "insufficient_central_stock"
	case errors.Is(err, ErrInsufficientResellerStock):
		return "insufficient_reseller_stock"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrStorage):
		return "storage"
	}
	return "internal"
}
