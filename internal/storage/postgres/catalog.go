package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/nopego-checkout/internal/domain/catalog"
)

const (
	getVariantsSQL = `SELECT v.id, v.product_id, p.name, v.sku, v.size, v.color,
		v.stock, v.low_stock_threshold, p.base_price, p.discounted_price
	FROM variants v
	JOIN products p ON p.id = v.product_id
	WHERE v.id = ANY($1) AND p.is_active`

	upsertProductSQL = `INSERT INTO products (id, name, base_price, discounted_price, is_active)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		base_price = EXCLUDED.base_price,
		discounted_price = EXCLUDED.discounted_price,
		is_active = EXCLUDED.is_active`

	upsertVariantSQL = `INSERT INTO variants (id, product_id, sku, size, color, stock, low_stock_threshold)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		sku = EXCLUDED.sku,
		size = EXCLUDED.size,
		color = EXCLUDED.color,
		stock = EXCLUDED.stock,
		low_stock_threshold = EXCLUDED.low_stock_threshold`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository reads variants joined with their products.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetVariants returns the active variants among ids in a single query.
func (r *CatalogRepository) GetVariants(ctx context.Context, ids []string) ([]catalog.Variant, error) {
	rows, err := r.pool.Query(ctx, getVariantsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query variants")
	}
	variants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Variant, error) {
		var v catalog.Variant
		err := row.Scan(&v.ID, &v.ProductID, &v.ProductName, &v.SKU, &v.Size, &v.Color,
			&v.Stock, &v.LowStockThreshold, &v.BasePrice, &v.DiscountedPrice)
		return v, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan variants")
	}
	return variants, nil
}

// UpsertProduct writes a product and its variants in one transaction.
// Variant stock is overwritten.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p catalog.Product) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.BasePrice, p.DiscountedPrice, p.Active); err != nil {
			return errors.Wrap(err, "upsert product")
		}
		for _, v := range p.Variants {
			if _, err := tx.Exec(ctx, upsertVariantSQL,
				v.ID, p.ID, v.SKU, v.Size, v.Color, v.Stock, v.LowStockThreshold,
			); err != nil {
				return errors.Wrapf(err, "upsert variant %s", v.ID)
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "upsert product %s", p.ID)
	}
	return nil
}
