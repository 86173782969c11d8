package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/payment"
)

const (
	paymentColumns = `id, payment_type, status, order_id, user_id, amount,
		omise_charge_id, card_brand, card_last_digits, failure_code, failure_message,
		slip_image, reject_reason, created_at, updated_at`

	createPaymentSQL = `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getPaymentByIDSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	hasActivePaymentSQL = `SELECT EXISTS (
		SELECT 1 FROM payments WHERE order_id = $1 AND status IN ('pending', 'successful'))`

	activePaymentIndex = "payments_order_active_idx"

	// Conditioned on the current status so only one transition wins.
	transitionPaymentSQL = `UPDATE payments SET
			status = $3,
			failure_code = COALESCE($4, failure_code),
			failure_message = COALESCE($5, failure_message),
			reject_reason = COALESCE($6, reject_reason),
			updated_at = $7
		WHERE id = $1 AND status = $2`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create persists a new payment.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	_, err := conn(ctx, r.pool).Exec(ctx, createPaymentSQL,
		p.ID, string(p.Type), string(p.Status), p.OrderID, p.UserID, p.Amount,
		p.OmiseChargeID, p.CardBrand, p.CardLastDigits, p.FailureCode, p.FailureMessage,
		p.SlipImage, p.RejectReason, p.CreatedAt, p.UpdatedAt,
	)
	if pgCode(err) == uniqueViolation {
		if pgConstraint(err) == activePaymentIndex {
			return apperr.AlreadyProcessed("order", p.OrderID, "payment in progress")
		}
		return apperr.AlreadyExists("payment", p.ID)
	}
	if err != nil {
		return dbErr(err, "creating payment %q", p.ID)
	}
	return nil
}

// FindByID returns a payment by its identifier.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*payment.Payment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getPaymentByIDSQL, id)
	if err != nil {
		return nil, dbErr(err, "finding payment %q", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("payment", id)
		}
		return nil, dbErr(err, "finding payment %q", id)
	}
	return &p, nil
}

// HasActive reports whether the order has a pending or successful payment.
func (r *PaymentRepository) HasActive(ctx context.Context, orderID string) (bool, error) {
	var active bool
	if err := conn(ctx, r.pool).QueryRow(ctx, hasActivePaymentSQL, orderID).Scan(&active); err != nil {
		return false, dbErr(err, "checking payments of order %q", orderID)
	}
	return active, nil
}

// Transition applies upd if the payment is still in status from.
func (r *PaymentRepository) Transition(ctx context.Context, id string, from payment.Status, upd payment.Update) (bool, error) {
	if !payment.CanTransition(from, upd.Status) {
		return false, errors.Errorf("invalid payment transition %s -> %s", from, upd.Status)
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, transitionPaymentSQL,
		id, string(from), string(upd.Status),
		upd.FailureCode, upd.FailureMessage, upd.RejectReason, upd.At,
	)
	if err != nil {
		return false, dbErr(err, "updating payment %q status", id)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p       payment.Payment
		typ     string
		status  string
		orderID *string
	)
	err := row.Scan(
		&p.ID, &typ, &status, &orderID, &p.UserID, &p.Amount,
		&p.OmiseChargeID, &p.CardBrand, &p.CardLastDigits, &p.FailureCode, &p.FailureMessage,
		&p.SlipImage, &p.RejectReason, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Type = payment.Type(typ)
	p.Status = payment.Status(status)
	if orderID != nil {
		p.OrderID = *orderID
	}
	return p, err
}
