package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	// StatusPending awaits a confirmed payment.
	StatusPending Status = "pending"
	// StatusPaid has a successful payment and its enrollments.
	StatusPaid Status = "paid"
	// StatusCancelled had its bank transfer rejected.
	StatusCancelled Status = "cancelled"
)

// Order is a priced purchase of one or more courses.
//
// TotalAmount = SubtotalAmount - DiscountAmount and
// 0 <= TotalAmount <= SubtotalAmount.
type Order struct {
	ID             string
	UserID         string
	Items          []Item
	SubtotalAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
	Status         Status
	CouponID       *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Item is one course in an order. UnitPrice is the effective price at order
// time and is never recomputed.
type Item struct {
	ID        string
	OrderID   string
	CourseID  string
	UnitPrice decimal.Decimal
	CreatedAt time.Time
}

// CourseIDs returns the course ids of the order items.
func (o *Order) CourseIDs() []string {
	ids := make([]string, len(o.Items))
	for i, it := range o.Items {
		ids[i] = it.CourseID
	}
	return ids
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists the order and all of its items atomically.
	Create(ctx context.Context, o *Order) error
	// FindByID returns the order with its items, or an apperr NOT_FOUND error.
	FindByID(ctx context.Context, id string) (*Order, error)
	// ListByUser returns the user's orders with items, newest first.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// UpdateStatus moves the order from one status to another and reports
	// whether the row was in the expected status.
	UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error)
}
