// Command seed-db loads a sample footwear catalog, launch coupons and an
// admin API key.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/nopego-checkout/internal/domain/auth"
	"github.com/xenking/nopego-checkout/internal/domain/coupon"
	"github.com/xenking/nopego-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or CHECKOUT_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CHECKOUT_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("CHECKOUT_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or CHECKOUT_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CHECKOUT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, pepper string) error {
	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	products, err := parseCatalog(data)
	if err != nil {
		return errors.Wrap(err, "parse catalog")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	catalogRepo := postgres.NewCatalogRepository(pool)
	for _, p := range products {
		if err := catalogRepo.UpsertProduct(ctx, p); err != nil {
			return err
		}
		slog.Info("upserted product",
			slog.String("id", p.ID),
			slog.String("name", p.Name),
			slog.Int("variants", len(p.Variants)),
		)
	}

	couponRepo := postgres.NewCouponRepository(pool)
	for _, c := range launchCoupons() {
		if err := couponRepo.Upsert(ctx, c); err != nil {
			return err
		}
		slog.Info("upserted coupon", slog.String("code", c.Code))
	}

	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeOrdersWrite},
	}
	if err := postgres.NewAPIKeyRepository(pool).Insert(ctx, info); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))

	return nil
}

func launchCoupons() []coupon.Coupon {
	limit := 1000
	return []coupon.Coupon{
		{
			Code:          "FLAT200",
			DiscountType:  coupon.DiscountFlat,
			Value:         decimal.NewFromInt(200),
			MinOrderValue: decimal.NewFromInt(1499),
			Active:        true,
		},
		{
			Code:         "SPORT40",
			DiscountType: coupon.DiscountPercent,
			Value:        decimal.NewFromInt(40),
			MaxUses:      &limit,
			Active:       true,
		},
	}
}
