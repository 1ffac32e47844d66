package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/nopego-checkout/internal/domain/coupon"
)

const (
	findCouponSQL = `SELECT code, discount_type, discount_value, min_order_value,
		max_uses, used_count, expires_at, is_active
	FROM coupons WHERE code = $1`

	lockCouponSQL = `SELECT used_count, max_uses FROM coupons WHERE code = $1 FOR UPDATE`

	insertRedemptionSQL = `INSERT INTO coupon_redemptions (coupon_code, order_id)
	VALUES ($1, $2) ON CONFLICT DO NOTHING`

	incrementCouponSQL = `UPDATE coupons SET used_count = used_count + 1 WHERE code = $1`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, discount_value, min_order_value, max_uses, expires_at, is_active)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (code) DO UPDATE SET
		discount_type = EXCLUDED.discount_type,
		discount_value = EXCLUDED.discount_value,
		min_order_value = EXCLUDED.min_order_value,
		max_uses = EXCLUDED.max_uses,
		expires_at = EXCLUDED.expires_at,
		is_active = EXCLUDED.is_active`
)

var (
	_ coupon.Repository = (*CouponRepository)(nil)
	_ coupon.Redeemer   = (*CouponRepository)(nil)
)

// CouponRepository stores coupons and their per-order redemptions.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode loads a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var (
		c       coupon.Coupon
		maxUses *int
		expires *time.Time
	)
	err := r.pool.QueryRow(ctx, findCouponSQL, code).Scan(
		&c.Code, &c.DiscountType, &c.Value, &c.MinOrderValue,
		&maxUses, &c.UsedCount, &expires, &c.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	c.MaxUses = maxUses
	c.ExpiresAt = expires
	return &c, nil
}

// Redeem records the order's use of the coupon and increments used_count
// once per order. The coupon row lock serializes concurrent redemptions so
// used_count never passes max_uses; an over-cap redemption is rolled back
// and reported as coupon.ErrExhausted.
func (r *CouponRepository) Redeem(ctx context.Context, code, orderID string) (bool, error) {
	var counted bool
	err := withRetry(ctx, func() error {
		counted = false
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			var (
				used    int
				maxUses *int
			)
			if err := tx.QueryRow(ctx, lockCouponSQL, code).Scan(&used, &maxUses); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return coupon.ErrNotFound
				}
				return errors.Wrap(err, "lock coupon")
			}

			tag, err := tx.Exec(ctx, insertRedemptionSQL, code, orderID)
			if err != nil {
				return errors.Wrap(err, "insert redemption")
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			if maxUses != nil && used >= *maxUses {
				return coupon.ErrExhausted
			}

			if _, err := tx.Exec(ctx, incrementCouponSQL, code); err != nil {
				return errors.Wrap(err, "increment coupon")
			}
			counted = true
			return nil
		})
	})
	if err != nil {
		return false, errors.Wrapf(err, "redeem coupon %q for order %s", code, orderID)
	}
	return counted, nil
}

// Upsert inserts or replaces a coupon definition. Usage counts are kept.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.Code, string(c.DiscountType), c.Value, floorZero(c.MinOrderValue),
		c.MaxUses, c.ExpiresAt, c.Active,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert coupon %q", c.Code)
	}
	return nil
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
