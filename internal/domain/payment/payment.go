// Package payment holds the payment lifecycle: card charges through the
// gateway, bank transfers with manual approval and the confirmation step that
// settles an order into enrollments.
package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Type is the payment method.
type Type string

const (
	TypeCreditCard   Type = "Credit Card"
	TypeBankTransfer Type = "Bank Transfer"
)

// Status is the lifecycle state of a payment. Pending is the only
// non-terminal state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusRejected:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a payment may move from one status to another.
func CanTransition(from, to Status) bool {
	return from == StatusPending && to.Terminal()
}

// Payment is a single attempt to pay for an order.
type Payment struct {
	ID      string
	Type    Type
	Status  Status
	OrderID string
	UserID  string
	Amount  decimal.Decimal

	// Card path.
	OmiseChargeID  *string
	CardBrand      *string
	CardLastDigits *string
	FailureCode    *string
	FailureMessage *string

	// Bank transfer path.
	SlipImage    *string
	RejectReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Update is the outcome written by a status transition.
type Update struct {
	Status         Status
	FailureCode    *string
	FailureMessage *string
	RejectReason   *string
	At             time.Time
}

// Repository defines persistence operations for payments.
type Repository interface {
	// Create stores p. It fails with ALREADY_PROCESSED when the order already
	// has a pending or successful payment.
	Create(ctx context.Context, p *Payment) error
	// HasActive reports whether the order has a pending or successful payment.
	HasActive(ctx context.Context, orderID string) (bool, error)
	// FindByID returns the payment or an apperr NOT_FOUND error.
	FindByID(ctx context.Context, id string) (*Payment, error)
	// Transition applies upd only if the payment is still in status from and
	// reports whether it did.
	Transition(ctx context.Context, id string, from Status, upd Update) (bool, error)
}

// Transactor runs fn in a single database transaction carried by ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Card is raw card input. It is passed to the gateway for tokenization and
// never stored.
type Card struct {
	Name            string
	Number          string
	ExpirationMonth int
	ExpirationYear  int
	SecurityCode    string
}

// CardToken is a gateway token standing in for a Card.
type CardToken struct {
	ID         string
	Brand      string
	LastDigits string
}

// ChargeStatus is the gateway-reported state of a charge.
type ChargeStatus string

const (
	ChargeSuccessful ChargeStatus = "successful"
	ChargeFailed     ChargeStatus = "failed"
	ChargePending    ChargeStatus = "pending"
)

// ChargeInput is a request to charge a token.
type ChargeInput struct {
	// Amount in the smallest currency unit.
	Amount      int64
	Token       string
	Description string
	Metadata    map[string]string
}

// Charge is the gateway view of a charge.
type Charge struct {
	ID             string
	Amount         int64
	Status         ChargeStatus
	Paid           bool
	FailureCode    string
	FailureMessage string
}

// Gateway is the card payment provider. Transport failures and timeouts are
// returned as apperr UPSTREAM_UNAVAILABLE errors.
type Gateway interface {
	CreateToken(ctx context.Context, card Card) (*CardToken, error)
	CreateCharge(ctx context.Context, in ChargeInput) (*Charge, error)
	RetrieveCharge(ctx context.Context, id string) (*Charge, error)
}

// Slip is an uploaded bank transfer receipt.
type Slip struct {
	Filename    string
	ContentType string
	Data        []byte
}

// StoredSlip locates an uploaded slip.
type StoredSlip struct {
	Path string
	URL  string
}

// SlipStorage validates and stores slip images.
type SlipStorage interface {
	// Validate returns an apperr INVALID_INPUT error for unacceptable slips.
	Validate(s Slip) error
	Upload(ctx context.Context, s Slip) (*StoredSlip, error)
	Delete(ctx context.Context, path string) error
}
