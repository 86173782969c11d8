package coupon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage discounts a percentage of the order amount, optionally
	// capped by MaxDiscount.
	TypePercentage Type = "percentage"
	// TypeFixed discounts a fixed amount, capped at the order amount.
	TypeFixed Type = "fixed"
)

// Status is the administrative state of a coupon.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Reason explains why a coupon failed validation.
type Reason string

const (
	ReasonInactive          Reason = "INACTIVE"
	ReasonNotStarted        Reason = "NOT_STARTED"
	ReasonExpired           Reason = "EXPIRED"
	ReasonUsageLimitReached Reason = "USAGE_LIMIT_REACHED"
)

// Coupon is a reusable discount code.
type Coupon struct {
	ID       string
	Code     string
	Type     Type
	Discount decimal.Decimal
	// MinOrderAmount, when set, is the smallest order amount the coupon
	// applies to.
	MinOrderAmount decimal.NullDecimal
	// MaxDiscount, when set, caps percentage discounts.
	MaxDiscount decimal.NullDecimal
	// UsageLimit, when set, bounds UsageCount.
	UsageLimit *int
	UsageCount int
	Status     Status
	StartDate  *time.Time
	ExpireDate *time.Time
}

// Result is the outcome of Check.
type Result struct {
	Valid  bool
	Reason Reason
}

// Repository provides lookup and usage accounting of coupons.
type Repository interface {
	// FindByID returns an apperr NOT_FOUND error when the coupon does not exist.
	FindByID(ctx context.Context, id string) (*Coupon, error)
	// IncrementUsage atomically bumps the usage counter in place unless the
	// usage limit is already reached. It reports whether the counter moved.
	IncrementUsage(ctx context.Context, id string) (bool, error)
}
