package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/nopego-checkout/internal/domain/customer"
)

const (
	customerColumns = `id, name, email, phone, whatsapp_opt_in, total_orders, total_spent, last_order_at`

	getCustomerSQL = `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	upsertCustomerSQL = `INSERT INTO customers (id, name, email, phone, whatsapp_opt_in)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (email) DO UPDATE SET
		name = EXCLUDED.name,
		phone = EXCLUDED.phone,
		whatsapp_opt_in = EXCLUDED.whatsapp_opt_in,
		updated_at = now()
	RETURNING ` + customerColumns
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository resolves checkout identities to customer rows.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// Resolve reuses the customer with id.ID when it exists, else upserts by
// email. The upsert is a single statement so concurrent checkouts with the
// same email converge on one row.
func (r *CustomerRepository) Resolve(ctx context.Context, id customer.Identity) (*customer.Customer, error) {
	if id.ID != "" {
		c, err := scanCustomer(r.pool.QueryRow(ctx, getCustomerSQL, id.ID))
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(err, "get customer %s", id.ID)
		}
	}
	if id.Email == "" {
		return nil, customer.ErrNotFound
	}

	c, err := scanCustomer(r.pool.QueryRow(ctx, upsertCustomerSQL,
		uuid.New().String(), id.Name, id.Email, id.Phone, id.WhatsAppOptIn,
	))
	if err != nil {
		return nil, errors.Wrap(err, "upsert customer")
	}
	return c, nil
}

func scanCustomer(row pgx.Row) (*customer.Customer, error) {
	var c customer.Customer
	if err := row.Scan(
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.WhatsAppOptIn,
		&c.TotalOrders, &c.TotalSpent, &c.LastOrderAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}
