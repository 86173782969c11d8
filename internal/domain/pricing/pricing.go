// Package pricing computes course prices and order subtotals.
//
// All functions are pure: they take the evaluation time explicitly and never
// fail. A malformed early-bird configuration silently falls back to the
// normal price.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/course-checkout/internal/domain/course"
)

// Line is a priced order line.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// EffectivePrice returns the early-bird price when all early-bird fields are
// set, the early-bird price is strictly below the normal price, the window is
// well-formed and asOf falls inside it (both ends inclusive). Otherwise it
// returns the normal price.
func EffectivePrice(c course.Course, asOf time.Time) decimal.Decimal {
	if !c.EarlyBirdPrice.Valid {
		return c.NormalPrice
	}
	if !c.EarlyBirdPrice.Decimal.LessThan(c.NormalPrice) {
		return c.NormalPrice
	}
	if !InEarlyBirdWindow(c, asOf) {
		return c.NormalPrice
	}
	return c.EarlyBirdPrice.Decimal
}

// InEarlyBirdWindow reports whether asOf falls inside a well-formed
// early-bird window. Unlike EffectivePrice it does not look at the prices, so
// a course whose early-bird price is not a discount can be inside its window
// while still billing the normal price.
func InEarlyBirdWindow(c course.Course, asOf time.Time) bool {
	if c.EarlyBirdStart == nil || c.EarlyBirdEnd == nil {
		return false
	}
	start, end := *c.EarlyBirdStart, *c.EarlyBirdEnd
	if !start.Before(end) {
		return false
	}
	return !asOf.Before(start) && !asOf.After(end)
}

// EarlyBirdApplies reports whether EffectivePrice currently bills the
// early-bird price.
func EarlyBirdApplies(c course.Course, asOf time.Time) bool {
	return c.EarlyBirdPrice.Valid &&
		c.EarlyBirdPrice.Decimal.LessThan(c.NormalPrice) &&
		InEarlyBirdWindow(c, asOf)
}

// Subtotal sums unit price times quantity. Non-positive quantities count as
// one, since order rows are one per course.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		qty := l.Quantity
		if qty <= 0 {
			qty = 1
		}
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(qty))))
	}
	return sum
}

// Lines prices each course at asOf with quantity one.
func Lines(courses []course.Course, asOf time.Time) []Line {
	lines := make([]Line, len(courses))
	for i, c := range courses {
		lines[i] = Line{UnitPrice: EffectivePrice(c, asOf), Quantity: 1}
	}
	return lines
}
