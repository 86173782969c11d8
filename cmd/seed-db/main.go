package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/domain/course"
	"github.com/xenking/course-checkout/internal/repository"
)

type courseJSON struct {
	ID             string              `json:"id"`
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	NormalPrice    decimal.Decimal     `json:"normalPrice"`
	EarlyBirdPrice decimal.NullDecimal `json:"earlyBirdPrice"`
	EarlyBirdStart *time.Time          `json:"earlyBirdStart"`
	EarlyBirdEnd   *time.Time          `json:"earlyBirdEnd"`
}

type couponJSON struct {
	ID             string              `json:"id"`
	Code           string              `json:"code"`
	Type           string              `json:"type"`
	Discount       decimal.Decimal     `json:"discount"`
	MinOrderAmount decimal.NullDecimal `json:"minOrderAmount"`
	MaxDiscount    decimal.NullDecimal `json:"maxDiscount"`
	UsageLimit     *int                `json:"usageLimit"`
	Status         string              `json:"status"`
	StartDate      *time.Time          `json:"startDate"`
	ExpireDate     *time.Time          `json:"expireDate"`
}

// Upserters is the write side used by the seeder.
type Upserters interface {
	UpsertCourse(ctx context.Context, c course.Course) error
	UpsertCoupon(ctx context.Context, c coupon.Coupon) error
}

type repos struct {
	courses *repository.CourseRepository
	coupons *repository.CouponRepository
}

func (r repos) UpsertCourse(ctx context.Context, c course.Course) error {
	return r.courses.Upsert(ctx, c)
}

func (r repos) UpsertCoupon(ctx context.Context, c coupon.Coupon) error {
	return r.coupons.Upsert(ctx, c)
}

func main() {
	var (
		databaseURL string
		coursesFile string
		couponsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&coursesFile, "courses-file", "db/seed/courses.json", "path to courses JSON file")
	flag.StringVar(&couponsFile, "coupons-file", "db/seed/coupons.json", "path to coupons JSON file (empty to skip)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, coursesFile, couponsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, coursesFile, couponsFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	r := repos{
		courses: repository.NewCourseRepository(pool),
		coupons: repository.NewCouponRepository(pool),
	}

	courses, err := loadCourses(coursesFile)
	if err != nil {
		return errors.Wrap(err, "load courses")
	}
	if err := seedCourses(ctx, r, courses); err != nil {
		return errors.Wrap(err, "seed courses")
	}

	if couponsFile == "" {
		return nil
	}
	coupons, err := loadCoupons(couponsFile)
	if err != nil {
		return errors.Wrap(err, "load coupons")
	}
	if err := seedCoupons(ctx, r, coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	return nil
}

func loadCourses(path string) ([]course.Course, error) {
	slog.Info("reading courses file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read courses file")
	}
	var raw []courseJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse courses JSON")
	}

	out := make([]course.Course, 0, len(raw))
	for _, c := range raw {
		if c.ID == "" || c.Title == "" {
			return nil, errors.Errorf("course %q: id and title are required", c.ID)
		}
		if c.NormalPrice.IsNegative() {
			return nil, errors.Errorf("course %q: negative price", c.ID)
		}
		out = append(out, course.Course{
			ID:             c.ID,
			Title:          c.Title,
			Description:    c.Description,
			NormalPrice:    c.NormalPrice,
			EarlyBirdPrice: c.EarlyBirdPrice,
			EarlyBirdStart: c.EarlyBirdStart,
			EarlyBirdEnd:   c.EarlyBirdEnd,
		})
	}
	return out, nil
}

func loadCoupons(path string) ([]coupon.Coupon, error) {
	slog.Info("reading coupons file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read coupons file")
	}
	var raw []couponJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse coupons JSON")
	}

	out := make([]coupon.Coupon, 0, len(raw))
	for _, c := range raw {
		cp := coupon.Coupon{
			ID:             c.ID,
			Code:           strings.ToUpper(c.Code),
			Type:           coupon.Type(c.Type),
			Discount:       c.Discount,
			MinOrderAmount: c.MinOrderAmount,
			MaxDiscount:    c.MaxDiscount,
			UsageLimit:     c.UsageLimit,
			Status:         coupon.Status(c.Status),
			StartDate:      c.StartDate,
			ExpireDate:     c.ExpireDate,
		}
		if cp.Status == "" {
			cp.Status = coupon.StatusActive
		}
		switch {
		case cp.ID == "" || cp.Code == "":
			return nil, errors.Errorf("coupon %q: id and code are required", c.ID)
		case cp.Type != coupon.TypePercentage && cp.Type != coupon.TypeFixed:
			return nil, errors.Errorf("coupon %q: unknown type %q", c.Code, c.Type)
		case cp.Status != coupon.StatusActive && cp.Status != coupon.StatusInactive:
			return nil, errors.Errorf("coupon %q: unknown status %q", c.Code, c.Status)
		}
		out = append(out, cp)
	}
	return out, nil
}

func seedCourses(ctx context.Context, r Upserters, courses []course.Course) error {
	slog.Info("upserting courses", slog.Int("count", len(courses)))

	for _, c := range courses {
		if err := r.UpsertCourse(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert course %s", c.ID)
		}
		slog.Info("upserted course", slog.String("id", c.ID), slog.String("title", c.Title))
	}
	return nil
}

func seedCoupons(ctx context.Context, r Upserters, coupons []coupon.Coupon) error {
	slog.Info("upserting coupons", slog.Int("count", len(coupons)))

	for _, c := range coupons {
		if err := r.UpsertCoupon(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("type", string(c.Type)))
	}
	return nil
}
