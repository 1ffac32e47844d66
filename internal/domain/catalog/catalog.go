// Package catalog describes the read-only view of purchasable variants that
// checkout consumes.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrVariantNotFound is returned when a variant does not exist or belongs to
// an inactive product.
var ErrVariantNotFound = errors.New("variant not found")

// Variant is a snapshot of one purchasable size/color combination.
type Variant struct {
	ID                string
	ProductID         string
	ProductName       string
	SKU               string
	Size              string
	Color             string
	Stock             int
	LowStockThreshold int
	BasePrice         decimal.Decimal
	DiscountedPrice   decimal.NullDecimal
}

// UnitPrice is the discounted price when one is set, else the base price.
func (v Variant) UnitPrice() decimal.Decimal {
	if v.DiscountedPrice.Valid {
		return v.DiscountedPrice.Decimal
	}
	return v.BasePrice
}

// Product groups variants sold under one name and price.
type Product struct {
	ID              string
	Name            string
	BasePrice       decimal.Decimal
	DiscountedPrice decimal.NullDecimal
	Active          bool
	Variants        []Variant
}

// StockLevel reports the remaining stock of a variant after settlement.
type StockLevel struct {
	VariantID   string
	ProductName string
	SKU         string
	Size        string
	Stock       int
	Threshold   int
}

// Low reports whether the remaining stock is at or below the threshold.
func (s StockLevel) Low() bool {
	return s.Stock <= s.Threshold
}

// Repository provides read access to variants.
type Repository interface {
	// GetVariants returns the variants found among ids. Unknown ids are
	// omitted rather than reported as an error.
	GetVariants(ctx context.Context, ids []string) ([]Variant, error)
}
