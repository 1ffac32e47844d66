// Package customer defines customer identity resolution for checkout.
package customer

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a customer id does not exist.
var ErrNotFound = errors.New("customer not found")

// Customer is a stored customer with lifetime statistics. The statistics
// only change during settlement.
type Customer struct {
	ID            string
	Name          string
	Email         string
	Phone         string
	WhatsAppOptIn bool
	TotalOrders   int
	TotalSpent    decimal.Decimal
	LastOrderAt   *time.Time
}

// Identity is what checkout knows about the buyer. When ID is set and
// exists it is reused; otherwise the customer is upserted by Email.
type Identity struct {
	ID            string
	Name          string
	Email         string
	Phone         string
	WhatsAppOptIn bool
}

// Normalize trims fields and lower-cases the email.
func (i Identity) Normalize() Identity {
	i.ID = strings.TrimSpace(i.ID)
	i.Name = strings.TrimSpace(i.Name)
	i.Email = strings.ToLower(strings.TrimSpace(i.Email))
	i.Phone = strings.TrimSpace(i.Phone)
	return i
}

// Repository resolves checkout identities to stored customers.
type Repository interface {
	// Resolve returns the customer with Identity.ID when it exists, else
	// inserts or refreshes the row keyed by email. Two calls with the same
	// email never create two rows.
	Resolve(ctx context.Context, id Identity) (*Customer, error)
}
