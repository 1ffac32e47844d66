package order

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrDuplicateNumber = errors.New("order number already exists")
	ErrCODUnavailable  = errors.New("cash on delivery is not available")
	// ErrCODMinimumNotMet matches any *CODMinimumError.
	ErrCODMinimumNotMet = errors.New("order total below cash on delivery minimum")
	ErrIntentMismatch   = errors.New("payment intent does not belong to order")
	ErrNotSettleable    = errors.New("order cannot be settled")
	ErrStatusChanged    = errors.New("order status changed concurrently")
)

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CODMinimumError reports the minimum order total for cash on delivery.
type CODMinimumError struct {
	Minimum decimal.Decimal
}

func (e *CODMinimumError) Error() string {
	return fmt.Sprintf("cash on delivery requires an order total of at least %s", e.Minimum.String())
}

// Is makes errors.Is(err, ErrCODMinimumNotMet) hold.
func (e *CODMinimumError) Is(target error) bool {
	return target == ErrCODMinimumNotMet
}

// StockConflictError is returned when settlement could not decrement stock.
// For online orders the payment was already captured and the order needs
// manual reconciliation.
type StockConflictError struct {
	OrderID   string
	VariantID string
	Requested int
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("order %s: stock for variant %s cannot cover %d units", e.OrderID, e.VariantID, e.Requested)
}

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}
