package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/course-checkout/internal/domain/coupon"
)

func writeGz(t *testing.T, dir, name, content string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	_, err := gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func codes(cs []coupon.Coupon) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Code
	}
	return out
}

func TestParseRecord(t *testing.T) {
	cols, err := columnIndex([]string{"Code", "type", "discount", "max_discount", "usage_limit", "status", "start_date", "expire_date"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		rec     []string
		wantErr string
		check   func(t *testing.T, c coupon.Coupon)
	}{
		{
			name: "percentage with cap",
			rec:  []string{"save10", "percentage", "10", "500", "100", "", "2026-01-01", "2026-12-31T23:59:59Z"},
			check: func(t *testing.T, c coupon.Coupon) {
				assert.Equal(t, "SAVE10", c.Code)
				assert.Equal(t, coupon.TypePercentage, c.Type)
				assert.True(t, c.Discount.Equal(decimal.NewFromInt(10)))
				assert.True(t, c.MaxDiscount.Valid)
				require.NotNil(t, c.UsageLimit)
				assert.Equal(t, 100, *c.UsageLimit)
				assert.Equal(t, coupon.StatusActive, c.Status)
				require.NotNil(t, c.StartDate)
				assert.Equal(t, 2026, c.StartDate.Year())
				assert.NotEmpty(t, c.ID)
			},
		},
		{
			name: "fixed inactive without limits",
			rec:  []string{"FLAT", "FIXED", "250.50", "", "", "inactive", "", ""},
			check: func(t *testing.T, c coupon.Coupon) {
				assert.Equal(t, coupon.TypeFixed, c.Type)
				assert.Equal(t, coupon.StatusInactive, c.Status)
				assert.False(t, c.MaxDiscount.Valid)
				assert.Nil(t, c.UsageLimit)
				assert.Nil(t, c.ExpireDate)
			},
		},
		{name: "empty code", rec: []string{"", "fixed", "1"}, wantErr: "invalid code"},
		{name: "unknown type", rec: []string{"X", "bogo", "1"}, wantErr: "unknown type"},
		{name: "negative discount", rec: []string{"X", "fixed", "-1"}, wantErr: "negative"},
		{name: "percentage above 100", rec: []string{"X", "percentage", "101"}, wantErr: "above 100"},
		{name: "bad usage limit", rec: []string{"X", "fixed", "1", "", "-3"}, wantErr: "usage_limit"},
		{name: "bad status", rec: []string{"X", "fixed", "1", "", "", "paused"}, wantErr: "status"},
		{name: "expire before start", rec: []string{"X", "fixed", "1", "", "", "", "2026-02-01", "2026-01-01"}, wantErr: "before"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parseRecord(cols, tt.rec)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestColumnIndexRequiresColumns(t *testing.T) {
	_, err := columnIndex([]string{"code", "discount"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type")
}

func TestReadCouponsSkipsInvalidRows(t *testing.T) {
	in := "code,type,discount\nA1,fixed,10\nBAD,unknown,1\nA1,fixed,20\nB2,percentage,5\n"
	fc, err := readCoupons(context.Background(), strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"A1", "A1", "B2"}, codes(fc.coupons))
	assert.Equal(t, 1, fc.skipped)
	assert.Contains(t, fc.suspects, "A1")
}

func TestParseFilesDeduplicates(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "1.csv.gz", "code,type,discount\nALPHA,fixed,10\nBETA,fixed,10\nalpha,fixed,99\n"),
		writeGz(t, dir, "2.csv.gz", "code,type,discount\nGAMMA,percentage,5\nBETA,fixed,50\n"),
		writeGz(t, dir, "3.csv.gz", "code,type,discount\nDELTA,fixed,1\nGAMMA,fixed,2\n"),
	}

	parsed, err := parseFiles(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, parsed, 3)

	out, dups := dedupe(parsed)
	assert.Equal(t, []string{"ALPHA", "BETA", "GAMMA", "DELTA"}, codes(out))
	assert.Equal(t, 3, dups)
	// First occurrence wins.
	assert.True(t, out[0].Discount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, coupon.TypePercentage, out[2].Type)
}

func TestParseFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := parseFile(context.Background(), filepath.Join(dir, "missing.csv.gz"))
	require.Error(t, err)

	plain := filepath.Join(dir, "plain.csv.gz")
	require.NoError(t, os.WriteFile(plain, []byte("code,type,discount\n"), 0o600))
	_, err = parseFile(context.Background(), plain)
	require.Error(t, err)
}

type recordingImporter struct {
	batches [][]string
	exists  map[string]bool
}

func (r *recordingImporter) Import(_ context.Context, cs []coupon.Coupon) (int64, error) {
	r.batches = append(r.batches, codes(cs))
	var n int64
	for _, c := range cs {
		if !r.exists[c.Code] {
			n++
		}
	}
	return n, nil
}

func TestWriteBatches(t *testing.T) {
	cs := make([]coupon.Coupon, 5)
	for i := range cs {
		cs[i].Code = string(rune('A' + i))
	}
	imp := &recordingImporter{exists: map[string]bool{"B": true}}

	require.NoError(t, write(context.Background(), imp, cs, 2))
	assert.Equal(t, [][]string{{"A", "B"}, {"C", "D"}, {"E"}}, imp.batches)
}
