// Package inventory checks requested quantities against catalog stock.
//
// The check is advisory: two orders can both pass it for the last unit. The
// authoritative decrement happens in the settlement transaction, which
// refuses to take stock below zero.
package inventory

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/nopego-checkout/internal/domain/catalog"
)

// Request is one requested line.
type Request struct {
	VariantID string
	Quantity  int
}

// InsufficientStockError names the first line that cannot be served.
type InsufficientStockError struct {
	VariantID   string
	ProductName string
	Size        string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (size %s): requested %d, available %d",
		e.ProductName, e.Size, e.Requested, e.Available)
}

// Check rejects the whole request when any line exceeds available stock.
// Quantities for the same variant across lines are summed. Every request
// must have a matching entry in variants.
func Check(requests []Request, variants map[string]catalog.Variant) error {
	wanted := make(map[string]int, len(requests))
	for _, r := range requests {
		wanted[r.VariantID] += r.Quantity
	}

	for _, r := range requests {
		v, ok := variants[r.VariantID]
		if !ok {
			return errors.Wrapf(catalog.ErrVariantNotFound, "variant %s", r.VariantID)
		}
		if wanted[r.VariantID] > v.Stock {
			return &InsufficientStockError{
				VariantID:   v.ID,
				ProductName: v.ProductName,
				Size:        v.Size,
				Requested:   wanted[r.VariantID],
				Available:   v.Stock,
			}
		}
	}
	return nil
}
