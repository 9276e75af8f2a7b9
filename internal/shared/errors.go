package shared

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across domain packages. Typed errors below wrap
// these so callers can branch with errors.Is while handlers still get the
// detail needed to render a user message.
var (
	// ErrNotFound indicates a missing product, batch, warehouse, transfer or order.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates invalid input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates an allocation shortfall.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStateConflict indicates an operation on a record in a terminal state.
	ErrStateConflict = errors.New("state conflict")
	// ErrUnitNotFound indicates a requested sale unit unknown to the product.
	ErrUnitNotFound = errors.New("unit not found")
)

// ValidationError carries the rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidation builds a field-level validation error.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientStockError reports required versus available quantities for
// one product, both expressed in the product's base unit. Fulfillment and
// transfer completion abort the whole transaction with this error; no
// partial writes survive.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	// Unit names the base unit the quantities are counted in. Empty when
	// the caller never resolved a unit, for example transfer lines.
	Unit      string
	Required  int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = fmt.Sprintf("product %d", e.ProductID)
	}
	unit := e.Unit
	if unit != "" {
		unit = " " + unit
	}
	return fmt.Sprintf("insufficient stock for %s: required %d%s, available %d%s",
		name, e.Required, unit, e.Available, unit)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// UserSafeMessage extracts a message suitable for end users. Unknown errors
// collapse into a generic message so internals never leak to the UI.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrStateConflict),
		errors.Is(err, ErrUnitNotFound),
		errors.Is(err, ErrNotFound):
		return err.Error()
	default:
		return "internal error, please retry"
	}
}
