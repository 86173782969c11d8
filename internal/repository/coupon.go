package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount_type, discount, min_order_amount, max_discount,
		usage_limit, usage_count, status, start_date, expire_date`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = UPPER($1)`

	// The limit is rechecked in the same statement so concurrent
	// confirmations never push usage_count past usage_limit.
	incrementCouponUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`

	upsertCouponSQL = `INSERT INTO coupons (id, code, discount_type, discount, min_order_amount,
		max_discount, usage_limit, status, start_date, expire_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			discount_type = EXCLUDED.discount_type,
			discount = EXCLUDED.discount,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount = EXCLUDED.max_discount,
			usage_limit = EXCLUDED.usage_limit,
			status = EXCLUDED.status,
			start_date = EXCLUDED.start_date,
			expire_date = EXCLUDED.expire_date`

	createImportTableSQL = `CREATE TEMP TABLE coupon_import
		(LIKE coupons INCLUDING DEFAULTS) ON COMMIT DROP`

	mergeImportSQL = `INSERT INTO coupons SELECT * FROM coupon_import
		ON CONFLICT DO NOTHING`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByID returns the coupon regardless of its status; validity is decided
// by coupon.Check.
func (r *CouponRepository) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getCouponByIDSQL, id)
	if err != nil {
		return nil, dbErr(err, "finding coupon %q", id)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("coupon", id)
		}
		return nil, dbErr(err, "finding coupon %q", id)
	}
	return &c, nil
}

// FindByCode looks up a coupon by its code (case-insensitive).
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, dbErr(err, "finding coupon by code %q", code)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("coupon", code)
		}
		return nil, dbErr(err, "finding coupon by code %q", code)
	}
	return &c, nil
}

// IncrementUsage bumps the usage counter unless the limit is reached.
func (r *CouponRepository) IncrementUsage(ctx context.Context, id string) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, incrementCouponUsageSQL, id)
	if err != nil {
		return false, dbErr(err, "incrementing usage for coupon %q", id)
	}
	return tag.RowsAffected() == 1, nil
}

// Upsert inserts or replaces a coupon definition, keeping its usage count.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon) error {
	_, err := conn(ctx, r.pool).Exec(ctx, upsertCouponSQL,
		c.ID, c.Code, string(c.Type), c.Discount, c.MinOrderAmount,
		c.MaxDiscount, c.UsageLimit, string(c.Status), c.StartDate, c.ExpireDate,
	)
	if err != nil {
		return dbErr(err, "upserting coupon %q", c.Code)
	}
	return nil
}

// Import bulk-loads coupons with COPY and merges them, skipping ids and codes
// that already exist. It returns the number of coupons inserted.
func (r *CouponRepository) Import(ctx context.Context, coupons []coupon.Coupon) (int64, error) {
	var inserted int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createImportTableSQL); err != nil {
			return errors.Wrap(err, "create import table")
		}

		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"coupon_import"},
			[]string{
				"id", "code", "discount_type", "discount", "min_order_amount",
				"max_discount", "usage_limit", "status", "start_date", "expire_date",
			},
			pgx.CopyFromSlice(len(coupons), func(i int) ([]any, error) {
				c := coupons[i]
				return []any{
					c.ID, c.Code, string(c.Type), c.Discount, c.MinOrderAmount,
					c.MaxDiscount, c.UsageLimit, string(c.Status), c.StartDate, c.ExpireDate,
				}, nil
			}),
		)
		if err != nil {
			return errors.Wrap(err, "copy coupons")
		}

		tag, err := tx.Exec(ctx, mergeImportSQL)
		if err != nil {
			return errors.Wrap(err, "merge coupons")
		}
		inserted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, dbErr(err, "importing %d coupons", len(coupons))
	}
	return inserted, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c          coupon.Coupon
		typ        string
		status     string
		usageLimit *int32
		usageCount int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &typ, &c.Discount, &c.MinOrderAmount, &c.MaxDiscount,
		&usageLimit, &usageCount, &status, &c.StartDate, &c.ExpireDate,
	)
	c.Type = coupon.Type(typ)
	c.Status = coupon.Status(status)
	if usageLimit != nil {
		limit := int(*usageLimit)
		c.UsageLimit = &limit
	}
	c.UsageCount = int(usageCount)
	return c, err
}
