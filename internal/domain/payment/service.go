package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/domain/order"
)

// DefaultMinChargeAmount is the smallest chargeable card amount in the minor
// currency unit (20.00 THB).
const DefaultMinChargeAmount = 2000

// EnrollmentWriter creates the enrollments funded by a payment.
type EnrollmentWriter interface {
	CreateForPayment(ctx context.Context, userID, paymentID string, courseIDs []string) (int, error)
}

// Config holds payment policy.
type Config struct {
	// MinChargeAmount is the gateway minimum in the minor currency unit.
	MinChargeAmount int64
}

// Deps are the collaborators of Service.
type Deps struct {
	Payments    Repository
	Orders      order.Repository
	Coupons     coupon.Repository
	Enrollments EnrollmentWriter
	Gateway     Gateway
	Slips       SlipStorage
	Tx          Transactor
	// Meter is optional; a no-op meter is used when nil.
	Meter metric.Meter
}

// ChargeRequest is the input for a card payment.
type ChargeRequest struct {
	UserID  string
	OrderID string
	Card    Card
}

// BankTransferRequest is the input for a bank transfer payment.
type BankTransferRequest struct {
	UserID  string
	OrderID string
	// CouponID is optional and must match the order coupon when given.
	CouponID string
	Slip     Slip
}

// ApprovalRequest is an admin decision on a bank transfer.
type ApprovalRequest struct {
	PaymentID string
	Approved  bool
	Reason    string
}

// Service runs the payment lifecycle.
type Service struct {
	cfg Config
	Deps
	now func() time.Time

	settled metric.Int64Counter
	overrun metric.Int64Counter
}

// NewService creates a payment Service.
func NewService(cfg Config, d Deps) (*Service, error) {
	if cfg.MinChargeAmount <= 0 {
		cfg.MinChargeAmount = DefaultMinChargeAmount
	}
	if d.Meter == nil {
		d.Meter = noop.NewMeterProvider().Meter("payment")
	}

	settled, err := d.Meter.Int64Counter("checkout.payments.settled",
		metric.WithDescription("Payments moved to a terminal status"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "settled counter")
	}
	overrun, err := d.Meter.Int64Counter("checkout.coupon.usage_overrun",
		metric.WithDescription("Confirmed payments whose coupon had no usage left"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "overrun counter")
	}

	return &Service{
		cfg:     cfg,
		Deps:    d,
		now:     time.Now,
		settled: settled,
		overrun: overrun,
	}, nil
}

// CreateCharge charges the order total to a card. A gateway failure leaves no
// payment behind; a charge the gateway has not settled yet is stored as
// pending for ReconcileCharge.
func (s *Service) CreateCharge(ctx context.Context, req ChargeRequest) (*Payment, error) {
	now := s.now()
	if err := ValidateCard(req.Card, now); err != nil {
		return nil, err
	}

	o, err := s.pendingOrder(ctx, req.UserID, req.OrderID)
	if err != nil {
		return nil, err
	}

	amount := minorUnits(o.TotalAmount)
	if amount < s.cfg.MinChargeAmount {
		return nil, apperr.BelowMinimumCharge(o.ID, decimal.New(s.cfg.MinChargeAmount, -2).StringFixed(2))
	}
	if err := s.recheckCoupon(ctx, o, now); err != nil {
		return nil, err
	}
	if err := s.ensureNoActivePayment(ctx, o.ID); err != nil {
		return nil, err
	}

	tok, err := s.Gateway.CreateToken(ctx, req.Card)
	if err != nil {
		return nil, errors.Wrap(err, "create card token")
	}
	ch, err := s.Gateway.CreateCharge(ctx, ChargeInput{
		Amount:      amount,
		Token:       tok.ID,
		Description: "Order " + o.ID,
		Metadata: map[string]string{
			"order_id": o.ID,
			"user_id":  o.UserID,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create charge")
	}

	p := &Payment{
		ID:             uuid.New().String(),
		Type:           TypeCreditCard,
		Status:         StatusPending,
		OrderID:        o.ID,
		UserID:         o.UserID,
		Amount:         o.TotalAmount,
		OmiseChargeID:  &ch.ID,
		CardBrand:      nonEmpty(tok.Brand),
		CardLastDigits: nonEmpty(tok.LastDigits),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Payments.Create(ctx, p); err != nil {
		zctx.From(ctx).Error("Charge not recorded",
			zap.String("charge_id", ch.ID),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "create payment")
	}

	return s.settle(ctx, p, o, ch)
}

// CreateBankTransfer stores the slip and records a pending payment awaiting
// approval.
func (s *Service) CreateBankTransfer(ctx context.Context, req BankTransferRequest) (*Payment, error) {
	now := s.now()
	o, err := s.pendingOrder(ctx, req.UserID, req.OrderID)
	if err != nil {
		return nil, err
	}
	if req.CouponID != "" && (o.CouponID == nil || *o.CouponID != req.CouponID) {
		return nil, apperr.InvalidField("couponId", "does not match the order coupon")
	}
	if err := s.recheckCoupon(ctx, o, now); err != nil {
		return nil, err
	}
	if err := s.Slips.Validate(req.Slip); err != nil {
		return nil, err
	}
	if err := s.ensureNoActivePayment(ctx, o.ID); err != nil {
		return nil, err
	}

	stored, err := s.Slips.Upload(ctx, req.Slip)
	if err != nil {
		return nil, errors.Wrap(err, "upload slip")
	}

	p := &Payment{
		ID:        uuid.New().String(),
		Type:      TypeBankTransfer,
		Status:    StatusPending,
		OrderID:   o.ID,
		UserID:    o.UserID,
		Amount:    o.TotalAmount,
		SlipImage: &stored.Path,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Payments.Create(ctx, p); err != nil {
		if derr := s.Slips.Delete(ctx, stored.Path); derr != nil {
			zctx.From(ctx).Warn("Delete orphaned slip",
				zap.String("path", stored.Path),
				zap.Error(derr),
			)
		}
		return nil, errors.Wrap(err, "create payment")
	}

	zctx.From(ctx).Info("Bank transfer submitted",
		zap.String("payment_id", p.ID),
		zap.String("order_id", o.ID),
	)
	return p, nil
}

// ApproveBankTransfer applies an admin decision to a pending bank transfer.
// Only one decision per payment succeeds.
func (s *Service) ApproveBankTransfer(ctx context.Context, req ApprovalRequest) (*Payment, error) {
	reason := strings.TrimSpace(req.Reason)
	if !req.Approved && reason == "" {
		return nil, apperr.ReasonRequired()
	}

	p, err := s.Payments.FindByID(ctx, req.PaymentID)
	if err != nil {
		return nil, errors.Wrap(err, "find payment")
	}
	if p.Type != TypeBankTransfer || p.Status != StatusPending {
		return nil, apperr.AlreadyProcessed("payment", p.ID, string(p.Status))
	}
	o, err := s.Orders.FindByID(ctx, p.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "find order")
	}

	if req.Approved {
		return s.confirm(ctx, p, o)
	}
	return s.reject(ctx, p, o, reason)
}

// ReconcileCharge settles a pending card payment from the gateway's current
// view of its charge.
func (s *Service) ReconcileCharge(ctx context.Context, paymentID string) (*Payment, error) {
	p, err := s.Payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, errors.Wrap(err, "find payment")
	}
	if p.Type != TypeCreditCard || p.Status != StatusPending || p.OmiseChargeID == nil {
		return nil, apperr.AlreadyProcessed("payment", p.ID, string(p.Status))
	}

	ch, err := s.Gateway.RetrieveCharge(ctx, *p.OmiseChargeID)
	if err != nil {
		return nil, errors.Wrap(err, "retrieve charge")
	}
	o, err := s.Orders.FindByID(ctx, p.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "find order")
	}
	return s.settle(ctx, p, o, ch)
}

// Get returns the user's payment. Payments of other users are reported as not
// found.
func (s *Service) Get(ctx context.Context, userID, paymentID string) (*Payment, error) {
	p, err := s.Payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, errors.Wrap(err, "find payment")
	}
	if p.UserID != userID {
		return nil, apperr.NotFound("payment", paymentID)
	}
	return p, nil
}

func (s *Service) pendingOrder(ctx context.Context, userID, orderID string) (*order.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, apperr.InvalidField("orderId", "required")
	}
	o, err := s.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "find order")
	}
	if o.UserID != userID {
		return nil, apperr.NotFound("order", orderID)
	}
	if o.Status != order.StatusPending {
		return nil, apperr.AlreadyProcessed("order", o.ID, string(o.Status))
	}
	return o, nil
}

// ensureNoActivePayment rejects a second payment while one is pending or has
// succeeded. The repository enforces the same rule on insert.
func (s *Service) ensureNoActivePayment(ctx context.Context, orderID string) error {
	active, err := s.Payments.HasActive(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "check active payment")
	}
	if active {
		return apperr.AlreadyProcessed("order", orderID, "payment in progress")
	}
	return nil
}

// recheckCoupon re-runs the validator for the order coupon, which may have
// expired or run out since the order was priced.
func (s *Service) recheckCoupon(ctx context.Context, o *order.Order, now time.Time) error {
	if o.CouponID == nil {
		return nil
	}
	c, err := s.Coupons.FindByID(ctx, *o.CouponID)
	if err != nil {
		return errors.Wrap(err, "find coupon")
	}
	if r := coupon.Check(c, now); !r.Valid {
		return apperr.CouponInvalid(c.ID, string(r.Reason))
	}
	return nil
}

func (s *Service) settle(ctx context.Context, p *Payment, o *order.Order, ch *Charge) (*Payment, error) {
	switch {
	case ch.Paid || ch.Status == ChargeSuccessful:
		return s.confirm(ctx, p, o)
	case ch.Status == ChargeFailed:
		return s.fail(ctx, p, ch)
	default:
		zctx.From(ctx).Info("Charge pending at gateway",
			zap.String("payment_id", p.ID),
			zap.String("charge_id", ch.ID),
		)
		return p, nil
	}
}

// confirm marks the payment successful, the order paid, enrolls the user in
// every order course and counts the coupon usage, all in one transaction.
func (s *Service) confirm(ctx context.Context, p *Payment, o *order.Order) (*Payment, error) {
	now := s.now()
	var (
		exhausted bool
		enrolled  int
	)
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.Payments.Transition(ctx, p.ID, StatusPending, Update{Status: StatusSuccessful, At: now})
		if err != nil {
			return errors.Wrap(err, "update payment")
		}
		if !ok {
			return apperr.AlreadyProcessed("payment", p.ID, "")
		}

		ok, err = s.Orders.UpdateStatus(ctx, o.ID, order.StatusPending, order.StatusPaid)
		if err != nil {
			return errors.Wrap(err, "update order")
		}
		if !ok {
			return apperr.ConcurrentUpdate("order", o.ID)
		}

		enrolled, err = s.Enrollments.CreateForPayment(ctx, p.UserID, p.ID, o.CourseIDs())
		if err != nil {
			return errors.Wrap(err, "create enrollments")
		}

		if o.CouponID != nil {
			ok, err := s.Coupons.IncrementUsage(ctx, *o.CouponID)
			if err != nil {
				return errors.Wrap(err, "increment coupon usage")
			}
			exhausted = !ok
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx)
	if exhausted {
		s.overrun.Add(ctx, 1)
		lg.Warn("Coupon usage limit reached at confirmation",
			zap.String("coupon_id", *o.CouponID),
			zap.String("payment_id", p.ID),
		)
	}

	p.Status = StatusSuccessful
	p.UpdatedAt = now
	o.Status = order.StatusPaid
	s.record(ctx, p)
	lg.Info("Payment confirmed",
		zap.String("payment_id", p.ID),
		zap.String("order_id", o.ID),
		zap.Int("enrollments", enrolled),
	)
	return p, nil
}

func (s *Service) fail(ctx context.Context, p *Payment, ch *Charge) (*Payment, error) {
	now := s.now()
	upd := Update{
		Status:         StatusFailed,
		FailureCode:    nonEmpty(ch.FailureCode),
		FailureMessage: nonEmpty(ch.FailureMessage),
		At:             now,
	}
	ok, err := s.Payments.Transition(ctx, p.ID, StatusPending, upd)
	if err != nil {
		return nil, errors.Wrap(err, "update payment")
	}
	if !ok {
		return nil, apperr.AlreadyProcessed("payment", p.ID, "")
	}

	p.Status = StatusFailed
	p.FailureCode = upd.FailureCode
	p.FailureMessage = upd.FailureMessage
	p.UpdatedAt = now
	s.record(ctx, p)
	zctx.From(ctx).Info("Charge failed",
		zap.String("payment_id", p.ID),
		zap.String("failure_code", ch.FailureCode),
	)
	return p, nil
}

// reject marks the bank transfer rejected and cancels the order if it is
// still pending.
func (s *Service) reject(ctx context.Context, p *Payment, o *order.Order, reason string) (*Payment, error) {
	now := s.now()
	var cancelled bool
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.Payments.Transition(ctx, p.ID, StatusPending, Update{
			Status:       StatusRejected,
			RejectReason: &reason,
			At:           now,
		})
		if err != nil {
			return errors.Wrap(err, "update payment")
		}
		if !ok {
			return apperr.AlreadyProcessed("payment", p.ID, "")
		}

		cancelled, err = s.Orders.UpdateStatus(ctx, o.ID, order.StatusPending, order.StatusCancelled)
		if err != nil {
			return errors.Wrap(err, "update order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.Status = StatusRejected
	p.RejectReason = &reason
	p.UpdatedAt = now
	if cancelled {
		o.Status = order.StatusCancelled
	}
	s.record(ctx, p)
	zctx.From(ctx).Info("Bank transfer rejected",
		zap.String("payment_id", p.ID),
		zap.String("order_id", o.ID),
		zap.Bool("order_cancelled", cancelled),
	)
	return p, nil
}

func (s *Service) record(ctx context.Context, p *Payment) {
	s.settled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(p.Type)),
		attribute.String("status", string(p.Status)),
	))
}

// minorUnits converts a major-unit amount to the smallest currency unit.
func minorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
