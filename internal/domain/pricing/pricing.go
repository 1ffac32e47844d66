// Package pricing computes order totals from resolved line items.
//
// Everything here is pure: the same lines and discount always produce the
// same Quote, so the checkout page and order creation agree on totals.
package pricing

import "github.com/shopspring/decimal"

// Line is a resolved cart line.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Total returns UnitPrice × Quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Policy holds the store-wide shipping rule.
type Policy struct {
	FreeShippingThreshold decimal.Decimal
	ShippingCharge        decimal.Decimal
}

// DefaultPolicy is free shipping from ₹999, else a flat ₹49.
func DefaultPolicy() Policy {
	return Policy{
		FreeShippingThreshold: decimal.NewFromInt(999),
		ShippingCharge:        decimal.NewFromInt(49),
	}
}

// Quote is the priced breakdown of a cart.
type Quote struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Subtotal sums the line totals.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// Shipping returns zero when the discounted subtotal reaches the free
// shipping threshold, else the flat charge.
func (p Policy) Shipping(subtotal, discount decimal.Decimal) decimal.Decimal {
	if subtotal.Sub(discount).GreaterThanOrEqual(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.ShippingCharge
}

// Quote prices lines with an already computed discount. The total is floored
// at zero.
func (p Policy) Quote(lines []Line, discount decimal.Decimal) Quote {
	subtotal := Subtotal(lines)
	shipping := p.Shipping(subtotal, discount)

	total := subtotal.Add(shipping).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Discount: discount,
		Total:    total,
	}
}
