package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/nopego-checkout/internal/domain/order"
)

const (
	orderNumberConstraint = "orders_order_number_key"

	insertAddressSQL = `INSERT INTO addresses (id, customer_id, name, phone, line1, line2, city, state, pincode)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertOrderSQL = `INSERT INTO orders (id, order_number, customer_id, address_id, payment_method,
		payment_status, status, subtotal, shipping_charge, discount, total, coupon_code,
		gateway_order_id, utm_source, utm_medium, utm_campaign, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)`

	insertItemSQL = `INSERT INTO order_items (order_id, position, product_id, variant_id, product_name,
		size, color, sku, unit_price, quantity, line_total)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	insertHistorySQL = `INSERT INTO order_status_history (order_id, status, note) VALUES ($1, $2, $3)`

	selectOrderSQL = `SELECT o.id, o.order_number, o.customer_id,
		c.name, c.email, c.phone, c.whatsapp_opt_in,
		a.name, a.phone, a.line1, a.line2, a.city, a.state, a.pincode,
		o.payment_method, o.payment_status, o.status,
		o.subtotal, o.shipping_charge, o.discount, o.total,
		COALESCE(o.coupon_code, ''), COALESCE(o.gateway_order_id, ''), COALESCE(o.gateway_payment_id, ''),
		COALESCE(o.shipment_id, ''), COALESCE(o.tracking_number, ''), COALESCE(o.courier_name, ''),
		COALESCE(o.utm_source, ''), COALESCE(o.utm_medium, ''), COALESCE(o.utm_campaign, ''),
		o.settled_at, o.needs_reconciliation, o.created_at, o.updated_at
	FROM orders o
	JOIN customers c ON c.id = o.customer_id
	JOIN addresses a ON a.id = o.address_id`

	getOrderByIDSQL     = selectOrderSQL + ` WHERE o.id = $1`
	getOrderByNumberSQL = selectOrderSQL + ` WHERE o.order_number = $1`

	getItemsSQL = `SELECT product_id, variant_id, product_name, size, color, sku, unit_price, quantity, line_total
	FROM order_items WHERE order_id = $1 ORDER BY position`

	getHistorySQL = `SELECT status, COALESCE(note, ''), created_at
	FROM order_status_history WHERE order_id = $1 ORDER BY id`

	setShipmentSQL = `UPDATE orders SET shipment_id = $2, updated_at = now() WHERE id = $1`

	transitionSQL = `UPDATE orders SET
		status = $3,
		tracking_number = COALESCE(NULLIF($4, ''), tracking_number),
		courier_name = COALESCE(NULLIF($5, ''), courier_name),
		updated_at = now()
	WHERE id = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	flagReconciliationSQL = `UPDATE orders SET
		needs_reconciliation = TRUE,
		reconciliation_note = $3,
		gateway_payment_id = COALESCE(NULLIF($2, ''), gateway_payment_id),
		updated_at = now()
	WHERE id = $1`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create writes the address snapshot, the order, its items and the initial
// history entry in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, note string) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		addressID := uuid.New().String()
		a := o.Address
		if _, err := tx.Exec(ctx, insertAddressSQL,
			addressID, o.CustomerID, a.Name, a.Phone, a.Line1, a.Line2, a.City, a.State, a.Pincode,
		); err != nil {
			return errors.Wrap(err, "insert address")
		}

		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.Number, o.CustomerID, addressID, string(o.PaymentMethod),
			string(o.PaymentStatus), string(o.Status), o.Subtotal, o.ShippingCharge, o.Discount, o.Total,
			nullString(o.CouponCode), nullString(o.GatewayOrderID),
			nullString(o.Attribution.Source), nullString(o.Attribution.Medium), nullString(o.Attribution.Campaign),
			o.CreatedAt,
		); err != nil {
			if isUniqueViolation(err, orderNumberConstraint) {
				return order.ErrDuplicateNumber
			}
			return errors.Wrap(err, "insert order")
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(insertItemSQL,
				o.ID, i, it.ProductID, it.VariantID, it.ProductName,
				it.Size, it.Color, it.SKU, it.UnitPrice, it.Quantity, it.LineTotal,
			)
		}
		batch.Queue(insertHistorySQL, o.ID, string(o.Status), nullString(note))
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "insert items")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, order.ErrDuplicateNumber) {
			return order.ErrDuplicateNumber
		}
		return errors.Wrapf(err, "create order %s", o.Number)
	}
	return nil
}

// GetByID loads an order with its contact, address and items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, r.pool, getOrderByIDSQL, id)
}

// GetByNumber loads an order by its order number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return getOrder(ctx, r.pool, getOrderByNumberSQL, number)
}

// History returns the status history in insertion order.
func (r *OrderRepository) History(ctx context.Context, orderID string) ([]order.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, getHistorySQL, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.HistoryEntry, error) {
		var h order.HistoryEntry
		err := row.Scan(&h.Status, &h.Note, &h.CreatedAt)
		return h, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan history")
	}
	return history, nil
}

// SetShipmentID stores the carrier's shipment id.
func (r *OrderRepository) SetShipmentID(ctx context.Context, orderID, shipmentID string) error {
	tag, err := r.pool.Exec(ctx, setShipmentSQL, orderID, shipmentID)
	if err != nil {
		return errors.Wrap(err, "set shipment id")
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// Transition applies a compare-and-set status change and appends history
// when the status actually changes.
func (r *OrderRepository) Transition(ctx context.Context, t order.Transition) (*order.Order, error) {
	var updated *order.Order
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, transitionSQL, t.OrderID, string(t.From), string(t.To), t.TrackingNumber, t.CourierName)
		if err != nil {
			return errors.Wrap(err, "update status")
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, orderExistsSQL, t.OrderID).Scan(&exists); err != nil {
				return errors.Wrap(err, "check order")
			}
			if !exists {
				return order.ErrNotFound
			}
			return order.ErrStatusChanged
		}

		if t.From != t.To {
			if _, err := tx.Exec(ctx, insertHistorySQL, t.OrderID, string(t.To), nullString(t.Note)); err != nil {
				return errors.Wrap(err, "insert history")
			}
		}

		updated, err = getOrder(ctx, tx, getOrderByIDSQL, t.OrderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// FlagReconciliation marks an order for manual handling and records the
// captured payment id.
func (r *OrderRepository) FlagReconciliation(ctx context.Context, orderID, paymentID, note string) error {
	tag, err := r.pool.Exec(ctx, flagReconciliationSQL, orderID, paymentID, note)
	if err != nil {
		return errors.Wrap(err, "flag reconciliation")
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func getOrder(ctx context.Context, q querier, query string, arg string) (*order.Order, error) {
	var o order.Order
	err := q.QueryRow(ctx, query, arg).Scan(
		&o.ID, &o.Number, &o.CustomerID,
		&o.Contact.Name, &o.Contact.Email, &o.Contact.Phone, &o.Contact.WhatsAppOptIn,
		&o.Address.Name, &o.Address.Phone, &o.Address.Line1, &o.Address.Line2,
		&o.Address.City, &o.Address.State, &o.Address.Pincode,
		&o.PaymentMethod, &o.PaymentStatus, &o.Status,
		&o.Subtotal, &o.ShippingCharge, &o.Discount, &o.Total,
		&o.CouponCode, &o.GatewayOrderID, &o.GatewayPaymentID,
		&o.ShipmentID, &o.TrackingNumber, &o.CourierName,
		&o.Attribution.Source, &o.Attribution.Medium, &o.Attribution.Campaign,
		&o.SettledAt, &o.NeedsReconciliation, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}

	rows, err := q.Query(ctx, getItemsSQL, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "query items")
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ProductID, &it.VariantID, &it.ProductName, &it.Size, &it.Color,
			&it.SKU, &it.UnitPrice, &it.Quantity, &it.LineTotal)
		return it, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan items")
	}
	return &o, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
