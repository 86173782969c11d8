package coupon

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Check validates the coupon's status, date window and usage limit at asOf.
// It does not look at the order amount, see MeetsMinimumOrder.
func Check(c *Coupon, asOf time.Time) Result {
	if c.Status != StatusActive {
		return Result{Reason: ReasonInactive}
	}
	if c.StartDate != nil && asOf.Before(*c.StartDate) {
		return Result{Reason: ReasonNotStarted}
	}
	if c.ExpireDate != nil && asOf.After(*c.ExpireDate) {
		return Result{Reason: ReasonExpired}
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return Result{Reason: ReasonUsageLimitReached}
	}
	return Result{Valid: true}
}

// MeetsMinimumOrder reports whether amount satisfies the coupon minimum.
func MeetsMinimumOrder(c *Coupon, amount decimal.Decimal) bool {
	if !c.MinOrderAmount.Valid {
		return true
	}
	return amount.GreaterThanOrEqual(c.MinOrderAmount.Decimal)
}

// CalculateDiscount returns the discount the coupon grants on amount, rounded
// to two decimal places and always within [0, amount]. It returns zero when
// the minimum order is not met; rejecting the order is up to the caller.
func CalculateDiscount(c *Coupon, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() || !MeetsMinimumOrder(c, amount) {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch c.Type {
	case TypePercentage:
		discount = amount.Mul(c.Discount).Div(hundred)
		if c.MaxDiscount.Valid {
			discount = decimal.Min(discount, c.MaxDiscount.Decimal)
		}
	case TypeFixed:
		discount = c.Discount
	default:
		return decimal.Zero
	}

	discount = decimal.Min(discount.Round(2), amount)
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}
