package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/cart"
	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/domain/course"
	"github.com/xenking/course-checkout/internal/domain/pricing"
)

// EnrollmentLookup reports which courses a user already owns.
type EnrollmentLookup interface {
	EnrolledCourses(ctx context.Context, userID string, courseIDs []string) ([]string, error)
}

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	UserID    string
	CourseIDs []string
	// CouponID is optional.
	CouponID string
}

// Service encapsulates order creation and lookup.
type Service struct {
	courses     course.Repository
	coupons     coupon.Repository
	orders      Repository
	enrollments EnrollmentLookup
	carts       cart.Repository
	now         func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	courses course.Repository,
	coupons coupon.Repository,
	orders Repository,
	enrollments EnrollmentLookup,
	carts cart.Repository,
) *Service {
	return &Service{
		courses:     courses,
		coupons:     coupons,
		orders:      orders,
		enrollments: enrollments,
		carts:       carts,
		now:         time.Now,
	}
}

// Create prices the requested courses, applies the optional coupon and
// persists the order with its items in one step. Coupon usage is not counted
// here; it is counted when a payment for the order is confirmed.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	ids, err := validateCourseIDs(req.CourseIDs)
	if err != nil {
		return nil, err
	}

	fetched, err := s.courses.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get courses")
	}
	byID := make(map[string]course.Course, len(fetched))
	for _, c := range fetched {
		byID[c.ID] = c
	}
	courses := make([]course.Course, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, apperr.NotFound("course", id)
		}
		courses = append(courses, c)
	}

	owned, err := s.enrollments.EnrolledCourses(ctx, req.UserID, ids)
	if err != nil {
		return nil, errors.Wrap(err, "check enrollments")
	}
	if len(owned) > 0 {
		return nil, apperr.AlreadyExists("enrollment", owned[0])
	}

	now := s.now()
	lines := pricing.Lines(courses, now)
	subtotal := pricing.Subtotal(lines)

	discount := decimal.Zero
	var couponID *string
	if req.CouponID != "" {
		c, err := s.coupons.FindByID(ctx, req.CouponID)
		if err != nil {
			return nil, errors.Wrap(err, "find coupon")
		}
		if r := coupon.Check(c, now); !r.Valid {
			return nil, apperr.CouponInvalid(c.ID, string(r.Reason))
		}
		if !coupon.MeetsMinimumOrder(c, subtotal) {
			return nil, apperr.MinimumOrderNotMet(c.ID, c.MinOrderAmount.Decimal.StringFixed(2))
		}
		discount = coupon.CalculateDiscount(c, subtotal)
		couponID = &c.ID
	}

	o := &Order{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		SubtotalAmount: subtotal,
		DiscountAmount: discount,
		TotalAmount:    subtotal.Sub(discount),
		Status:         StatusPending,
		CouponID:       couponID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	o.Items = make([]Item, len(courses))
	for i, c := range courses {
		o.Items[i] = Item{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			CourseID:  c.ID,
			UnitPrice: lines[i].UnitPrice,
			CreatedAt: now,
		}
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Int("items", len(o.Items)),
		zap.String("total", o.TotalAmount.StringFixed(2)),
	)
	return o, nil
}

// CreateFromCart creates an order for every course in the user's cart and
// empties the cart.
func (s *Service) CreateFromCart(ctx context.Context, userID, couponID string) (*Order, error) {
	c, err := s.carts.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.InvalidField("cart", "cart is empty")
		}
		return nil, errors.Wrap(err, "find cart")
	}
	if len(c.Items) == 0 {
		return nil, apperr.InvalidField("cart", "cart is empty")
	}

	o, err := s.Create(ctx, CreateRequest{
		UserID:    userID,
		CourseIDs: c.CourseIDs(),
		CouponID:  couponID,
	})
	if err != nil {
		return nil, err
	}

	// The order stands even if the cart cannot be emptied.
	if err := s.carts.Clear(ctx, c.ID); err != nil {
		zctx.From(ctx).Warn("Clear cart after checkout",
			zap.String("cart_id", c.ID),
			zap.Error(err),
		)
	}
	return o, nil
}

// Get returns the user's order. Orders of other users are reported as not
// found.
func (s *Service) Get(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "find order")
	}
	if o.UserID != userID {
		return nil, apperr.NotFound("order", orderID)
	}
	return o, nil
}

// List returns the user's orders.
func (s *Service) List(ctx context.Context, userID string) ([]Order, error) {
	list, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return list, nil
}

// validateCourseIDs trims ids and rejects empty lists, blanks and duplicates.
func validateCourseIDs(in []string) ([]string, error) {
	var v apperr.Invalid
	if len(in) == 0 {
		v.Add("courseIds", "at least one course is required")
		return nil, v.Err()
	}
	seen := make(map[string]struct{}, len(in))
	ids := make([]string, 0, len(in))
	for _, raw := range in {
		id := strings.TrimSpace(raw)
		if id == "" {
			v.Add("courseIds", "course id must not be blank")
			continue
		}
		if _, dup := seen[id]; dup {
			v.Add("courseIds", "duplicate course "+id)
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
