// Package payment defines the payment gateway contract used by checkout.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInvalidSignature is returned when a payment confirmation signature does
// not match. It is never retried.
var ErrInvalidSignature = errors.New("invalid payment signature")

// Currency is the only currency the store sells in.
const Currency = "INR"

// Intent is an external payment order created for a checkout.
type Intent struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
}

// Confirmation is the signed payload the gateway hands back after capture.
type Confirmation struct {
	IntentID  string
	PaymentID string
	Signature string
}

// Gateway creates intents and verifies confirmations.
type Gateway interface {
	// CreateIntent creates an intent for amount tagged with reference.
	CreateIntent(ctx context.Context, amount decimal.Decimal, reference string) (*Intent, error)
	// Verify returns ErrInvalidSignature when the confirmation was not
	// signed with the gateway secret.
	Verify(c Confirmation) error
}

// MinorUnits converts rupees to paise, rounding to the nearest paisa.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
