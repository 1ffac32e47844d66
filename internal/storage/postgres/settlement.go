package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/nopego-checkout/internal/domain/catalog"
	"github.com/xenking/nopego-checkout/internal/domain/order"
)

const (
	settledNote = "Payment received"

	lockOrderSQL = `SELECT customer_id, payment_method, payment_status, status, total, settled_at
	FROM orders WHERE id = $1 FOR UPDATE`

	lockItemsSQL = `SELECT variant_id, quantity FROM order_items WHERE order_id = $1`

	settleOrderSQL = `UPDATE orders SET
		settled_at = $2,
		payment_status = $3,
		status = $4,
		gateway_payment_id = COALESCE(NULLIF($5, ''), gateway_payment_id),
		updated_at = $2
	WHERE id = $1`

	customerStatsSQL = `UPDATE customers SET
		total_orders = total_orders + 1,
		total_spent = total_spent + $2,
		last_order_at = $3,
		updated_at = $3
	WHERE id = $1`

	decrementStockSQL = `UPDATE variants v SET stock = v.stock - $2
	FROM products p
	WHERE v.id = $1 AND v.stock >= $2 AND p.id = v.product_id
	RETURNING v.id, p.name, v.sku, v.size, v.stock, v.low_stock_threshold`
)

var _ order.SettlementStore = (*SettlementStore)(nil)

// SettlementStore applies settlements in a single transaction gated on the
// order's settled_at column.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore returns a SettlementStore that uses the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

type lockedOrder struct {
	customerID    string
	method        order.PaymentMethod
	paymentStatus order.PaymentStatus
	status        order.Status
	total         decimal.Decimal
	settledAt     *time.Time
}

// Settle locks the order row and, when it is not yet settled, applies the
// payment flip, confirmation, customer statistics and stock decrements.
// Variants are decremented in id order so concurrent settlements touching
// the same variants never deadlock on each other. The returned order is read
// inside the same transaction.
func (s *SettlementStore) Settle(ctx context.Context, st order.Settlement) (*order.SettlementResult, error) {
	var (
		already bool
		levels  []catalog.StockLevel
		settled *order.Order
	)
	err := withRetry(ctx, func() error {
		already, levels, settled = false, nil, nil
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			var lo lockedOrder
			err := tx.QueryRow(ctx, lockOrderSQL, st.OrderID).Scan(
				&lo.customerID, &lo.method, &lo.paymentStatus, &lo.status, &lo.total, &lo.settledAt,
			)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return order.ErrNotFound
				}
				return errors.Wrap(err, "lock order")
			}
			if lo.settledAt != nil {
				already = true
				settled, err = getOrder(ctx, tx, getOrderByIDSQL, st.OrderID)
				return err
			}
			if lo.status != order.StatusPending && lo.status != order.StatusConfirmed {
				return order.ErrNotSettleable
			}
			if lo.paymentStatus == order.PaymentPaid || lo.paymentStatus == order.PaymentRefunded {
				return order.ErrNotSettleable
			}

			quantities, err := orderQuantities(ctx, tx, st.OrderID)
			if err != nil {
				return err
			}

			paymentStatus, paymentID := lo.paymentStatus, ""
			if lo.method.Online() {
				paymentStatus, paymentID = order.PaymentPaid, st.PaymentID
			}
			if _, err := tx.Exec(ctx, settleOrderSQL,
				st.OrderID, st.At, string(paymentStatus), string(order.StatusConfirmed), paymentID,
			); err != nil {
				return errors.Wrap(err, "update order")
			}
			if lo.status != order.StatusConfirmed {
				if _, err := tx.Exec(ctx, insertHistorySQL, st.OrderID, string(order.StatusConfirmed), settledNote); err != nil {
					return errors.Wrap(err, "insert history")
				}
			}
			if _, err := tx.Exec(ctx, customerStatsSQL, lo.customerID, lo.total, st.At); err != nil {
				return errors.Wrap(err, "update customer stats")
			}

			if levels, err = decrementStock(ctx, tx, st.OrderID, quantities); err != nil {
				return err
			}
			settled, err = getOrder(ctx, tx, getOrderByIDSQL, st.OrderID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return &order.SettlementResult{Order: settled, AlreadySettled: already, StockLevels: levels}, nil
}

type variantQuantity struct {
	variantID string
	quantity  int
}

// orderQuantities sums item quantities per variant, sorted by variant id.
func orderQuantities(ctx context.Context, tx pgx.Tx, orderID string) ([]variantQuantity, error) {
	rows, err := tx.Query(ctx, lockItemsSQL, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query items")
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (variantQuantity, error) {
		var vq variantQuantity
		err := row.Scan(&vq.variantID, &vq.quantity)
		return vq, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan items")
	}

	sums := make(map[string]int, len(items))
	for _, it := range items {
		sums[it.variantID] += it.quantity
	}
	out := make([]variantQuantity, 0, len(sums))
	for id, q := range sums {
		out = append(out, variantQuantity{variantID: id, quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].variantID < out[j].variantID })
	return out, nil
}

func decrementStock(ctx context.Context, tx pgx.Tx, orderID string, quantities []variantQuantity) ([]catalog.StockLevel, error) {
	levels := make([]catalog.StockLevel, 0, len(quantities))
	for _, vq := range quantities {
		var l catalog.StockLevel
		err := tx.QueryRow(ctx, decrementStockSQL, vq.variantID, vq.quantity).Scan(
			&l.VariantID, &l.ProductName, &l.SKU, &l.Size, &l.Stock, &l.Threshold,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgerrcode.CheckViolation {
				return nil, &order.StockConflictError{OrderID: orderID, VariantID: vq.variantID, Requested: vq.quantity}
			}
			return nil, errors.Wrapf(err, "decrement stock for %s", vq.variantID)
		}
		levels = append(levels, l)
	}
	return levels, nil
}
