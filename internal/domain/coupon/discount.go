package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate applies the coupon rules to a subtotal at the given instant.
// Checks short-circuit in order: active, expiry, usage cap, minimum order.
func Evaluate(c *Coupon, subtotal decimal.Decimal, now time.Time) (Discount, error) {
	if !c.Active {
		return Discount{}, ErrInactive
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return Discount{}, ErrExpired
	}
	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return Discount{}, ErrExhausted
	}
	if subtotal.LessThan(c.MinOrderValue) {
		return Discount{}, &MinimumOrderError{Code: c.Code, Minimum: c.MinOrderValue}
	}

	amount, err := Amount(c.DiscountType, c.Value, subtotal)
	if err != nil {
		return Discount{}, err
	}
	return Discount{Code: c.Code, Amount: amount}, nil
}

// Amount computes the discount for a subtotal. Percent discounts round to
// whole rupees; flat discounts never exceed the subtotal.
func Amount(t DiscountType, value, subtotal decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch t {
	case DiscountPercent:
		amount = subtotal.Mul(value).Div(hundred).Round(0)
	case DiscountFlat:
		amount = decimal.Min(value, subtotal)
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", t)
	}
	if amount.IsNegative() {
		return decimal.Zero, nil
	}
	return amount, nil
}
