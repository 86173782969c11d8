package cart

import (
	"context"
	"time"
)

// Cart holds the courses a user intends to buy. A user has at most one cart.
type Cart struct {
	ID        string
	UserID    string
	Items     []Item
	CreatedAt time.Time
}

// Item is a course in a cart. A course appears at most once per cart.
type Item struct {
	ID        string
	CartID    string
	CourseID  string
	CreatedAt time.Time
}

// CourseIDs returns the course ids in cart order.
func (c *Cart) CourseIDs() []string {
	ids := make([]string, len(c.Items))
	for i, it := range c.Items {
		ids[i] = it.CourseID
	}
	return ids
}

// Has reports whether courseID is already in the cart.
func (c *Cart) Has(courseID string) bool {
	for _, it := range c.Items {
		if it.CourseID == courseID {
			return true
		}
	}
	return false
}

// Repository defines persistence operations for carts.
type Repository interface {
	// FindByUserID returns the user's cart with items, or an apperr
	// NOT_FOUND error when the user has none yet.
	FindByUserID(ctx context.Context, userID string) (*Cart, error)
	// Ensure returns the user's cart, creating an empty one if needed.
	Ensure(ctx context.Context, userID string) (*Cart, error)
	// AddItem inserts the course; a duplicate returns an apperr
	// ALREADY_EXISTS error and leaves the cart unchanged.
	AddItem(ctx context.Context, item *Item) error
	// RemoveItem deletes the course; an absent course returns an apperr
	// NOT_FOUND error.
	RemoveItem(ctx context.Context, cartID, courseID string) error
	Clear(ctx context.Context, cartID string) error
}
