package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/course-checkout/internal/domain/coupon"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	maxCodeLen    = 64
)

// fileCoupons is the parsed content of one file.
type fileCoupons struct {
	path    string
	coupons []coupon.Coupon
	filter  *bloom.BloomFilter
	// suspects are codes that may occur more than once, within this file or
	// in an earlier one. Codes outside the set are known to be unique.
	suspects map[string]struct{}
	skipped  int
}

// parseFiles parses every file concurrently, then marks codes that an
// earlier file's filter may contain.
func parseFiles(ctx context.Context, files []string) ([]*fileCoupons, error) {
	parsed := make([]*fileCoupons, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			fc, err := parseFile(gctx, path)
			if err != nil {
				return errors.Wrapf(err, "file %s", path)
			}
			parsed[i] = fc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	g, gctx = errgroup.WithContext(ctx)
	for i, fc := range parsed {
		if i == 0 {
			continue
		}
		g.Go(func() error {
			for n, c := range fc.coupons {
				if n%progressEvery == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				for _, earlier := range parsed[:i] {
					if earlier.filter.TestString(c.Code) {
						fc.suspects[c.Code] = struct{}{}
						break
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parsed, nil
}

// dedupe flattens files in order, keeping the first occurrence of each code.
// Only suspect codes are tracked exactly.
func dedupe(files []*fileCoupons) ([]coupon.Coupon, int) {
	suspects := make(map[string]bool)
	total := 0
	for _, fc := range files {
		total += len(fc.coupons)
		for code := range fc.suspects {
			suspects[code] = false
		}
	}

	out := make([]coupon.Coupon, 0, total)
	dups := 0
	for _, fc := range files {
		for _, c := range fc.coupons {
			if seen, ok := suspects[c.Code]; ok {
				if seen {
					dups++
					continue
				}
				suspects[c.Code] = true
			}
			out = append(out, c)
		}
	}
	return out, dups
}

func parseFile(ctx context.Context, path string) (*fileCoupons, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	fc, err := readCoupons(ctx, gz)
	if err != nil {
		return nil, err
	}
	fc.path = path

	slog.Info("file parsed",
		slog.String("path", path),
		slog.Int("coupons", len(fc.coupons)),
		slog.Int("skipped", fc.skipped),
		slog.Int("suspects", len(fc.suspects)),
	)
	return fc, nil
}

// readCoupons reads CSV rows with a header line. Invalid rows are logged and
// skipped.
func readCoupons(ctx context.Context, r io.Reader) (*fileCoupons, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	fc := &fileCoupons{suspects: make(map[string]struct{})}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read line %d", line)
		}
		if line%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		c, err := parseRecord(cols, rec)
		if err != nil {
			fc.skipped++
			slog.Warn("skipping row", slog.Int("line", line), slog.String("error", err.Error()))
			continue
		}
		fc.coupons = append(fc.coupons, c)
	}

	fc.filter = bloom.NewWithEstimates(uint(max(len(fc.coupons), 1)), bloomFPR)
	for _, c := range fc.coupons {
		if fc.filter.TestAndAddString(c.Code) {
			fc.suspects[c.Code] = struct{}{}
		}
	}
	return fc, nil
}

var knownColumns = []string{
	"code", "type", "discount", "min_order_amount", "max_discount",
	"usage_limit", "status", "start_date", "expire_date",
}

// columnIndex maps header names to positions. code, type and discount are
// required.
func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		for _, known := range knownColumns {
			if name == known {
				cols[name] = i
			}
		}
	}
	for _, req := range []string{"code", "type", "discount"} {
		if _, ok := cols[req]; !ok {
			return nil, errors.Errorf("missing %q column", req)
		}
	}
	return cols, nil
}

func parseRecord(cols map[string]int, rec []string) (coupon.Coupon, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	c := coupon.Coupon{
		ID:     uuid.NewString(),
		Code:   strings.ToUpper(get("code")),
		Type:   coupon.Type(strings.ToLower(get("type"))),
		Status: coupon.StatusActive,
	}
	if c.Code == "" || len(c.Code) > maxCodeLen {
		return c, errors.Errorf("invalid code %q", c.Code)
	}
	switch c.Type {
	case coupon.TypePercentage, coupon.TypeFixed:
	default:
		return c, errors.Errorf("unknown type %q", c.Type)
	}

	var err error
	if c.Discount, err = decimal.NewFromString(get("discount")); err != nil {
		return c, errors.Wrap(err, "discount")
	}
	if c.Discount.IsNegative() {
		return c, errors.New("discount is negative")
	}
	if c.Type == coupon.TypePercentage && c.Discount.GreaterThan(decimal.NewFromInt(100)) {
		return c, errors.New("percentage above 100")
	}
	if c.MinOrderAmount, err = optDecimal(get("min_order_amount")); err != nil {
		return c, errors.Wrap(err, "min_order_amount")
	}
	if c.MaxDiscount, err = optDecimal(get("max_discount")); err != nil {
		return c, errors.Wrap(err, "max_discount")
	}
	if v := get("usage_limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c, errors.Errorf("invalid usage_limit %q", v)
		}
		c.UsageLimit = &n
	}
	if v := strings.ToLower(get("status")); v != "" {
		c.Status = coupon.Status(v)
		if c.Status != coupon.StatusActive && c.Status != coupon.StatusInactive {
			return c, errors.Errorf("unknown status %q", v)
		}
	}
	if c.StartDate, err = optTime(get("start_date")); err != nil {
		return c, errors.Wrap(err, "start_date")
	}
	if c.ExpireDate, err = optTime(get("expire_date")); err != nil {
		return c, errors.Wrap(err, "expire_date")
	}
	if c.StartDate != nil && c.ExpireDate != nil && c.ExpireDate.Before(*c.StartDate) {
		return c, errors.New("expire_date before start_date")
	}
	return c, nil
}

func optDecimal(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// optTime accepts RFC 3339 timestamps and plain dates, read as UTC midnight.
func optTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if t, err = time.Parse(time.DateOnly, s); err != nil {
			return nil, errors.Errorf("invalid time %q", s)
		}
	}
	t = t.UTC()
	return &t, nil
}
