package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/nopego-checkout/internal/domain/coupon"
)

const (
	bloomCapacity = 5_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

// Upserter stores a coupon definition.
type Upserter interface {
	Upsert(ctx context.Context, c coupon.Coupon) error
}

type discard struct{}

func (discard) Upsert(context.Context, coupon.Coupon) error { return nil }

// Stats summarizes an import.
type Stats struct {
	Written        int
	Duplicates     int
	FalsePositives int
	Invalid        int
}

// candidate is a row whose code may already exist in an earlier file.
type candidate struct {
	file int
	c    coupon.Coupon
}

// Import runs three passes. Pass 1 builds a bloom filter per file. Pass 2
// writes rows whose code is absent from every earlier file's filter and
// keeps the rest as candidates. Pass 3 rescans earlier files for the
// candidate codes to tell real duplicates from filter false positives.
func Import(ctx context.Context, files []string, sink Upserter, workers int) (Stats, error) {
	var stats Stats

	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
	filters, err := buildFilters(ctx, files)
	if err != nil {
		return stats, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: writing unique codes")
	w := newWriter(ctx, sink, workers)
	candidates, invalid, err := scanUnique(w.ctx, files, filters, w.in)
	w.close()
	if werr := w.wait(); err == nil {
		err = werr
	}
	if err != nil {
		return stats, errors.Wrap(err, "write unique codes")
	}
	stats.Written = int(w.written.Load())
	stats.Invalid = invalid

	if len(candidates) == 0 {
		return stats, nil
	}

	slog.Info("pass 3: resolving candidates", slog.Int("candidates", len(candidates)))
	confirmed, err := confirmDuplicates(ctx, files, candidates)
	if err != nil {
		return stats, errors.Wrap(err, "resolve candidates")
	}

	// Earliest occurrence wins for codes that pass 2 never wrote.
	winners := make(map[string]candidate)
	for code, cands := range candidates {
		if confirmed[code] {
			stats.Duplicates += len(cands)
			continue
		}
		best := cands[0]
		for _, c := range cands[1:] {
			if c.file < best.file {
				best = c
			}
		}
		winners[code] = best
		stats.FalsePositives++
		stats.Duplicates += len(cands) - 1
	}
	for _, c := range winners {
		if err := sink.Upsert(ctx, c.c); err != nil {
			return stats, errors.Wrapf(err, "upsert coupon %s", c.c.Code)
		}
		stats.Written++
	}
	return stats, nil
}

func buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			n := 0
			if err := streamFile(ctx, path, func(c coupon.Coupon) {
				filter.AddString(c.Code)
				n++
			}, nil); err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}
			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Int("codes", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// scanUnique sends rows that are definitely new to out and returns the
// rest grouped by code. Files are scanned in order so that a code repeated
// inside one file is seen by that file's own tracking.
func scanUnique(
	ctx context.Context,
	files []string,
	filters []*bloom.BloomFilter,
	out chan<- coupon.Coupon,
) (map[string][]candidate, int, error) {
	candidates := make(map[string][]candidate)
	invalid := 0
	for i, path := range files {
		seen := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var sendErr error
		n := 0
		err := streamFile(ctx, path, func(c coupon.Coupon) {
			if sendErr != nil {
				return
			}
			n++
			if n%progressEvery == 0 {
				slog.Info("pass 2 progress", slog.Int("file", i+1), slog.Int("codes", n))
			}
			maybeEarlier := seen.TestAndAddString(c.Code)
			for _, f := range filters[:i] {
				if maybeEarlier {
					break
				}
				maybeEarlier = f.TestString(c.Code)
			}
			if maybeEarlier {
				candidates[c.Code] = append(candidates[c.Code], candidate{file: i, c: c})
				return
			}
			select {
			case out <- c:
			case <-ctx.Done():
				sendErr = ctx.Err()
			}
		}, func() { invalid++ })
		if err == nil {
			err = sendErr
		}
		if err != nil {
			return nil, invalid, errors.Wrapf(err, "file %d", i+1)
		}
	}
	return candidates, invalid, nil
}

// confirmDuplicates reports which candidate codes also occur outside the
// candidate set, meaning pass 2 already wrote them.
func confirmDuplicates(ctx context.Context, files []string, candidates map[string][]candidate) (map[string]bool, error) {
	var (
		mu     sync.Mutex
		counts = make(map[string]int, len(candidates))
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			local := make(map[string]int)
			if err := streamFile(ctx, path, func(c coupon.Coupon) {
				if _, ok := candidates[c.Code]; ok {
					local[c.Code]++
				}
			}, nil); err != nil {
				return err
			}
			mu.Lock()
			for code, n := range local {
				counts[code] += n
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	confirmed := make(map[string]bool, len(counts))
	for code, n := range counts {
		confirmed[code] = n > len(candidates[code])
	}
	return confirmed, nil
}

type writer struct {
	ctx     context.Context
	in      chan coupon.Coupon
	g       *errgroup.Group
	written atomic.Int64
}

func newWriter(ctx context.Context, sink Upserter, workers int) *writer {
	g, ctx := errgroup.WithContext(ctx)
	w := &writer{ctx: ctx, in: make(chan coupon.Coupon, 1024), g: g}
	for range max(workers, 1) {
		g.Go(func() error {
			for c := range w.in {
				if err := sink.Upsert(ctx, c); err != nil {
					return errors.Wrapf(err, "upsert coupon %s", c.Code)
				}
				if n := w.written.Add(1); n%progressEvery == 0 {
					slog.Info("write progress", slog.Int64("written", n))
				}
			}
			return nil
		})
	}
	return w
}

func (w *writer) close() { close(w.in) }

func (w *writer) wait() error { return w.g.Wait() }

// streamFile decodes a gzipped CSV export and calls fn for every valid row.
// The first row is a header naming the columns. Invalid rows are logged and
// reported to onInvalid.
func streamFile(ctx context.Context, path string, fn func(coupon.Coupon), onInvalid func()) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return decodeCSV(ctx, gz, func(line int, c coupon.Coupon, err error) {
		if err != nil {
			if onInvalid != nil {
				slog.Warn("skipping invalid row",
					slog.String("file", path),
					slog.Int("line", line),
					slog.String("error", err.Error()),
				)
				onInvalid()
			}
			return
		}
		fn(c)
	})
}

var columns = []string{"code", "discount_type", "value", "min_order_value", "max_uses", "expires_at"}

func decodeCSV(ctx context.Context, r io.Reader, fn func(line int, c coupon.Coupon, err error)) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return errors.Wrap(err, "read header")
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range columns[:3] {
		if _, ok := index[col]; !ok {
			return errors.Errorf("missing column %q", col)
		}
	}

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			fn(line, coupon.Coupon{}, err)
			continue
		}
		if err != nil {
			return errors.Wrap(err, "read row")
		}
		get := func(col string) string {
			if i, ok := index[col]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		c, err := parseRow(get)
		fn(line, c, err)
	}
}

func parseRow(get func(col string) string) (coupon.Coupon, error) {
	c := coupon.Coupon{
		Code:   coupon.NormalizeCode(get("code")),
		Active: true,
	}
	if c.Code == "" {
		return c, errors.New("empty code")
	}

	switch t := coupon.DiscountType(strings.ToUpper(get("discount_type"))); t {
	case coupon.DiscountPercent, coupon.DiscountFlat:
		c.DiscountType = t
	default:
		return c, errors.Errorf("unknown discount type %q", get("discount_type"))
	}

	value, err := decimal.NewFromString(get("value"))
	if err != nil {
		return c, errors.Wrap(err, "value")
	}
	if !value.IsPositive() {
		return c, errors.New("value must be positive")
	}
	if c.DiscountType == coupon.DiscountPercent && value.GreaterThan(decimal.NewFromInt(100)) {
		return c, errors.New("percent value above 100")
	}
	c.Value = value

	if s := get("min_order_value"); s != "" {
		if c.MinOrderValue, err = decimal.NewFromString(s); err != nil {
			return c, errors.Wrap(err, "min_order_value")
		}
	}
	if s := get("max_uses"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return c, errors.Errorf("invalid max_uses %q", s)
		}
		c.MaxUses = &n
	}
	if s := get("expires_at"); s != "" {
		t, err := parseExpiry(s)
		if err != nil {
			return c, err
		}
		c.ExpiresAt = &t
	}
	return c, nil
}

// parseExpiry accepts RFC 3339 or a date, which expires at the end of that
// day in IST.
func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, s, ist)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid expires_at %q", s)
	}
	return d.Add(24*time.Hour - time.Second), nil
}

var ist = time.FixedZone("IST", 5*3600+1800)
