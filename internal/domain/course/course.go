package course

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Course is a purchasable course. It is read-only for the checkout flows.
type Course struct {
	ID          string
	Title       string
	Description string
	NormalPrice decimal.Decimal
	// EarlyBirdPrice applies only inside the early-bird window, see
	// pricing.EffectivePrice.
	EarlyBirdPrice decimal.NullDecimal
	EarlyBirdStart *time.Time
	EarlyBirdEnd   *time.Time
	CreatedAt      time.Time
}

// Repository defines read operations for the course catalog.
type Repository interface {
	List(ctx context.Context) ([]Course, error)
	// GetByID returns an apperr NOT_FOUND error when the course does not exist.
	GetByID(ctx context.Context, id string) (*Course, error)
	// GetByIDs returns the courses that exist; missing ids are omitted.
	GetByIDs(ctx context.Context, ids []string) ([]Course, error)
}
