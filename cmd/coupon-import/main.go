// Command coupon-import loads coupon definitions from gzipped CSV campaign
// exports. A code listed in more than one file keeps the definition from the
// first file given on the command line.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/nopego-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		workers     int
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 4, "concurrent database writers")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and deduplicate without writing")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: coupon-import [flags] campaign1.csv.gz [campaign2.csv.gz ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, files, databaseURL, workers, dryRun); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, files []string, databaseURL string, workers int, dryRun bool) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	var sink Upserter = discard{}
	if !dryRun {
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()
		sink = postgres.NewCouponRepository(pool)
	}

	stats, err := Import(ctx, files, sink, workers)
	if err != nil {
		return err
	}
	slog.Info("import summary",
		slog.Int("written", stats.Written),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("false_positives", stats.FalsePositives),
		slog.Int("invalid", stats.Invalid),
	)
	return nil
}
