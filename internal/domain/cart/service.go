package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/course"
	"github.com/xenking/course-checkout/internal/domain/pricing"
)

// Line is a cart item priced at the time of the request.
type Line struct {
	Item      Item
	Course    course.Course
	UnitPrice decimal.Decimal
	EarlyBird bool
}

// View is a priced snapshot of a cart.
type View struct {
	CartID   string
	Lines    []Line
	Subtotal decimal.Decimal
}

// Service encapsulates cart operations.
type Service struct {
	carts   Repository
	courses course.Repository
	now     func() time.Time
}

// NewService creates a cart Service.
func NewService(carts Repository, courses course.Repository) *Service {
	return &Service{carts: carts, courses: courses, now: time.Now}
}

// Get returns the user's cart priced now. A user without a cart gets an
// empty view.
func (s *Service) Get(ctx context.Context, userID string) (*View, error) {
	c, err := s.carts.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return &View{Subtotal: decimal.Zero}, nil
		}
		return nil, errors.Wrap(err, "find cart")
	}
	return s.price(ctx, c)
}

// Add puts courseID into the user's cart, creating the cart on first use.
func (s *Service) Add(ctx context.Context, userID, courseID string) (*View, error) {
	if courseID == "" {
		return nil, apperr.InvalidField("courseId", "required")
	}
	if _, err := s.courses.GetByID(ctx, courseID); err != nil {
		return nil, errors.Wrap(err, "get course")
	}

	c, err := s.carts.Ensure(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "ensure cart")
	}
	if c.Has(courseID) {
		return nil, apperr.AlreadyExists("cart item", courseID)
	}

	item := &Item{
		ID:        uuid.New().String(),
		CartID:    c.ID,
		CourseID:  courseID,
		CreatedAt: s.now(),
	}
	if err := s.carts.AddItem(ctx, item); err != nil {
		return nil, errors.Wrap(err, "add cart item")
	}
	c.Items = append(c.Items, *item)

	return s.price(ctx, c)
}

// Remove takes courseID out of the user's cart.
func (s *Service) Remove(ctx context.Context, userID, courseID string) (*View, error) {
	c, err := s.carts.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("cart item", courseID)
		}
		return nil, errors.Wrap(err, "find cart")
	}
	if err := s.carts.RemoveItem(ctx, c.ID, courseID); err != nil {
		return nil, errors.Wrap(err, "remove cart item")
	}

	kept := c.Items[:0]
	for _, it := range c.Items {
		if it.CourseID != courseID {
			kept = append(kept, it)
		}
	}
	c.Items = kept

	return s.price(ctx, c)
}

// Clear empties the user's cart. Clearing a missing cart is a no-op.
func (s *Service) Clear(ctx context.Context, userID string) error {
	c, err := s.carts.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "find cart")
	}
	if err := s.carts.Clear(ctx, c.ID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

func (s *Service) price(ctx context.Context, c *Cart) (*View, error) {
	view := &View{CartID: c.ID, Subtotal: decimal.Zero}
	if len(c.Items) == 0 {
		return view, nil
	}

	courses, err := s.courses.GetByIDs(ctx, c.CourseIDs())
	if err != nil {
		return nil, errors.Wrap(err, "get courses")
	}
	byID := make(map[string]course.Course, len(courses))
	for _, co := range courses {
		byID[co.ID] = co
	}

	now := s.now()
	lines := make([]pricing.Line, 0, len(c.Items))
	for _, it := range c.Items {
		co, ok := byID[it.CourseID]
		if !ok {
			// Course removed from the catalog after it was added.
			continue
		}
		price := pricing.EffectivePrice(co, now)
		view.Lines = append(view.Lines, Line{
			Item:      it,
			Course:    co,
			UnitPrice: price,
			EarlyBird: pricing.EarlyBirdApplies(co, now),
		})
		lines = append(lines, pricing.Line{UnitPrice: price, Quantity: 1})
	}
	view.Subtotal = pricing.Subtotal(lines)

	return view, nil
}
