package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/domain/order"
)

// --- Mock implementations ---

type memPayments struct {
	mu        sync.Mutex
	byID      map[string]*Payment
	createErr error
	// staleRead makes FindByID return a pending copy even after a transition,
	// as a concurrent reader would.
	staleRead bool
	stale     map[string]Payment
}

func newMemPayments() *memPayments {
	return &memPayments{byID: map[string]*Payment{}, stale: map[string]Payment{}}
}

func (m *memPayments) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if m.active(p.OrderID) {
		return apperr.AlreadyProcessed("order", p.OrderID, "payment in progress")
	}
	cp := *p
	m.byID[p.ID] = &cp
	m.stale[p.ID] = cp
	return nil
}

func (m *memPayments) HasActive(_ context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active(orderID), nil
}

func (m *memPayments) active(orderID string) bool {
	for _, p := range m.byID {
		if p.OrderID == orderID && (p.Status == StatusPending || p.Status == StatusSuccessful) {
			return true
		}
	}
	return false
}

func (m *memPayments) FindByID(_ context.Context, id string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleRead {
		if p, ok := m.stale[id]; ok {
			return &p, nil
		}
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("payment", id)
	}
	cp := *p
	return &cp, nil
}

func (m *memPayments) Transition(_ context.Context, id string, from Status, upd Update) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok || p.Status != from || !CanTransition(from, upd.Status) {
		return false, nil
	}
	p.Status = upd.Status
	p.FailureCode = upd.FailureCode
	p.FailureMessage = upd.FailureMessage
	p.RejectReason = upd.RejectReason
	p.UpdatedAt = upd.At
	return true, nil
}

type memOrders struct {
	byID map[string]*order.Order
}

func (m *memOrders) Create(_ context.Context, o *order.Order) error {
	m.byID[o.ID] = o
	return nil
}

func (m *memOrders) FindByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) ListByUser(_ context.Context, _ string) ([]order.Order, error) { return nil, nil }

func (m *memOrders) UpdateStatus(_ context.Context, id string, from, to order.Status) (bool, error) {
	o, ok := m.byID[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

type memCoupons struct {
	byID map[string]*coupon.Coupon
}

func (m *memCoupons) FindByID(_ context.Context, id string) (*coupon.Coupon, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("coupon", id)
	}
	cp := *c
	return &cp, nil
}

func (m *memCoupons) IncrementUsage(_ context.Context, id string) (bool, error) {
	c := m.byID[id]
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return false, nil
	}
	c.UsageCount++
	return true, nil
}

type enrollCall struct {
	userID, paymentID string
	courseIDs         []string
}

type memEnrollments struct {
	calls []enrollCall
}

func (m *memEnrollments) CreateForPayment(_ context.Context, userID, paymentID string, courseIDs []string) (int, error) {
	m.calls = append(m.calls, enrollCall{userID: userID, paymentID: paymentID, courseIDs: courseIDs})
	return len(courseIDs), nil
}

type mockGateway struct {
	charge       *Charge
	retrieved    *Charge
	tokenErr     error
	chargeErr    error
	tokenCalls   int
	chargeCalls  int
	lastChargeIn ChargeInput
}

func (m *mockGateway) CreateToken(_ context.Context, c Card) (*CardToken, error) {
	m.tokenCalls++
	if m.tokenErr != nil {
		return nil, m.tokenErr
	}
	return &CardToken{ID: "tokn_test", Brand: "Visa", LastDigits: c.Number[len(c.Number)-4:]}, nil
}

func (m *mockGateway) CreateCharge(_ context.Context, in ChargeInput) (*Charge, error) {
	m.chargeCalls++
	m.lastChargeIn = in
	if m.chargeErr != nil {
		return nil, m.chargeErr
	}
	return m.charge, nil
}

func (m *mockGateway) RetrieveCharge(_ context.Context, _ string) (*Charge, error) {
	return m.retrieved, nil
}

type mockSlips struct {
	validateErr error
	uploaded    []string
	deleted     []string
}

func (m *mockSlips) Validate(_ Slip) error { return m.validateErr }

func (m *mockSlips) Upload(_ context.Context, s Slip) (*StoredSlip, error) {
	path := "slips/20240115/" + s.Filename
	m.uploaded = append(m.uploaded, path)
	return &StoredSlip{Path: path, URL: "https://bucket/" + path}, nil
}

func (m *mockSlips) Delete(_ context.Context, path string) error {
	m.deleted = append(m.deleted, path)
	return nil
}

type passTx struct{ calls int }

func (t *passTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}

// --- Helpers ---

var fixedNow = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func validCard() Card {
	return Card{
		Name:            "Somchai Jaidee",
		Number:          "4242424242424242",
		ExpirationMonth: 12,
		ExpirationYear:  2030,
		SecurityCode:    "123",
	}
}

type fixture struct {
	payments    *memPayments
	orders      *memOrders
	coupons     *memCoupons
	enrollments *memEnrollments
	gateway     *mockGateway
	slips       *mockSlips
	tx          *passTx
	svc         *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		payments: newMemPayments(),
		orders: &memOrders{byID: map[string]*order.Order{
			"o1": {
				ID:             "o1",
				UserID:         "u1",
				Status:         order.StatusPending,
				SubtotalAmount: decimal.NewFromInt(2000),
				DiscountAmount: decimal.NewFromInt(300),
				TotalAmount:    decimal.NewFromInt(1700),
				CouponID:       ptr("c1"),
				Items: []order.Item{
					{ID: "i1", OrderID: "o1", CourseID: "go"},
					{ID: "i2", OrderID: "o1", CourseID: "sql"},
				},
			},
			"cheap": {
				ID:          "cheap",
				UserID:      "u1",
				Status:      order.StatusPending,
				TotalAmount: decimal.RequireFromString("19.99"),
				Items:       []order.Item{{CourseID: "go"}},
			},
		}},
		coupons: &memCoupons{byID: map[string]*coupon.Coupon{
			"c1": {ID: "c1", Type: coupon.TypeFixed, Discount: decimal.NewFromInt(300), Status: coupon.StatusActive},
		}},
		enrollments: &memEnrollments{},
		gateway:     &mockGateway{charge: &Charge{ID: "chrg_1", Status: ChargeSuccessful, Paid: true}},
		slips:       &mockSlips{},
		tx:          &passTx{},
	}
	svc, err := NewService(Config{}, Deps{
		Payments:    f.payments,
		Orders:      f.orders,
		Coupons:     f.coupons,
		Enrollments: f.enrollments,
		Gateway:     f.gateway,
		Slips:       f.slips,
		Tx:          f.tx,
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return fixedNow }
	f.svc = svc
	return f
}

func (f *fixture) submitTransfer(t *testing.T) *Payment {
	t.Helper()
	p, err := f.svc.CreateBankTransfer(context.Background(), BankTransferRequest{
		UserID:  "u1",
		OrderID: "o1",
		Slip:    Slip{Filename: "slip.png", ContentType: "image/png", Data: []byte("png")},
	})
	require.NoError(t, err)
	return p
}

// --- Tests ---

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusSuccessful, StatusFailed, StatusRejected}
	for _, from := range all {
		for _, to := range all {
			want := from == StatusPending && to != StatusPending
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCreateCharge_Paid(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.CreateCharge(context.Background(), ChargeRequest{UserID: "u1", OrderID: "o1", Card: validCard()})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccessful, p.Status)
	assert.Equal(t, TypeCreditCard, p.Type)
	require.NotNil(t, p.OmiseChargeID)
	assert.Equal(t, "chrg_1", *p.OmiseChargeID)
	assert.Equal(t, "4242", *p.CardLastDigits)
	assert.True(t, decimal.NewFromInt(1700).Equal(p.Amount))

	assert.Equal(t, int64(170000), f.gateway.lastChargeIn.Amount)
	assert.Equal(t, "tokn_test", f.gateway.lastChargeIn.Token)

	assert.Equal(t, order.StatusPaid, f.orders.byID["o1"].Status)
	require.Len(t, f.enrollments.calls, 1)
	assert.Equal(t, enrollCall{userID: "u1", paymentID: p.ID, courseIDs: []string{"go", "sql"}}, f.enrollments.calls[0])
	assert.Equal(t, 1, f.coupons.byID["c1"].UsageCount)

	stored, err := f.payments.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, stored.Status)
}

func TestCreateCharge_Declined(t *testing.T) {
	f := newFixture(t)
	f.gateway.charge = &Charge{ID: "chrg_2", Status: ChargeFailed, FailureCode: "insufficient_fund", FailureMessage: "insufficient funds"}

	p, err := f.svc.CreateCharge(context.Background(), ChargeRequest{UserID: "u1", OrderID: "o1", Card: validCard()})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, p.Status)
	require.NotNil(t, p.FailureCode)
	assert.Equal(t, "insufficient_fund", *p.FailureCode)
	assert.Equal(t, order.StatusPending, f.orders.byID["o1"].Status, "order stays payable")
	assert.Empty(t, f.enrollments.calls)
	assert.Equal(t, 0, f.coupons.byID["c1"].UsageCount)
	assert.Len(t, f.payments.byID, 1, "failed charge is recorded")
}

func TestCreateCharge_PendingThenReconcile(t *testing.T) {
	f := newFixture(t)
	f.gateway.charge = &Charge{ID: "chrg_3", Status: ChargePending}
	ctx := context.Background()

	p, err := f.svc.CreateCharge(ctx, ChargeRequest{UserID: "u1", OrderID: "o1", Card: validCard()})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, order.StatusPending, f.orders.byID["o1"].Status)

	f.gateway.retrieved = &Charge{ID: "chrg_3", Status: ChargeSuccessful, Paid: true}
	p, err = f.svc.ReconcileCharge(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, p.Status)
	assert.Equal(t, order.StatusPaid, f.orders.byID["o1"].Status)
	assert.Len(t, f.enrollments.calls, 1)

	_, err = f.svc.ReconcileCharge(ctx, p.ID)
	require.ErrorIs(t, err, apperr.ErrAlreadyProcessed)
}

func TestCreateCharge_BelowMinimum(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateCharge(context.Background(), ChargeRequest{UserID: "u1", OrderID: "cheap", Card: validCard()})
	require.ErrorIs(t, err, apperr.ErrBelowMinimumCharge)
	assert.Zero(t, f.gateway.tokenCalls)
	assert.Zero(t, f.gateway.chargeCalls)
	assert.Empty(t, f.payments.byID)
}

func TestCreateCharge_GatewayUnavailable(t *testing.T) {
	f := newFixture(t)
	f.gateway.chargeErr = apperr.Upstream("omise", context.DeadlineExceeded)

	_, err := f.svc.CreateCharge(context.Background(), ChargeRequest{UserID: "u1", OrderID: "o1", Card: validCard()})
	require.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.Empty(t, f.payments.byID, "no payment for an unknown outcome")
	assert.Equal(t, order.StatusPending, f.orders.byID["o1"].Status)
}

func TestCreateCharge_RejectedBeforeGateway(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(f *fixture)
		req     ChargeRequest
		wantErr error
	}{
		{
			name:    "invalid card",
			req:     ChargeRequest{UserID: "u1", OrderID: "o1", Card: Card{Number: "4242424242424241"}},
			wantErr: apperr.ErrInvalidInput,
		},
		{
			name:    "missing order",
			req:     ChargeRequest{UserID: "u1", OrderID: "nope", Card: validCard()},
			wantErr: apperr.ErrNotFound,
		},
		{
			name:    "other user's order",
			req:     ChargeRequest{UserID: "u2", OrderID: "o1", Card: validCard()},
			wantErr: apperr.ErrNotFound,
		},
		{
			name:    "order already paid",
			prepare: func(f *fixture) { f.orders.byID["o1"].Status = order.StatusPaid },
			req:     ChargeRequest{UserID: "u1", OrderID: "o1", Card: validCard()},
			wantErr: apperr.ErrAlreadyProcessed,
		},
		{
			name:    "coupon expired since ordering",
			prepare: func(f *fixture) { f.coupons.byID["c1"].ExpireDate = ptr(fixedNow.Add(-time.Minute)) },
			req:     ChargeRequest{UserID: "u1", OrderID: "o1", Card: validCard()},
			wantErr: apperr.ErrCouponInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.prepare != nil {
				tt.prepare(f)
			}
			_, err := f.svc.CreateCharge(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, f.gateway.chargeCalls)
			assert.Empty(t, f.payments.byID)
		})
	}
}

func TestCreateCharge_CouponOverrunStillConfirms(t *testing.T) {
	f := newFixture(t)
	f.coupons.byID["c1"].UsageLimit = ptr(1)

	// The last slot is taken between the pre-charge check and confirmation.
	f.gateway.charge = &Charge{ID: "chrg_4", Status: ChargePending}
	p, err := f.svc.CreateCharge(context.Background(), ChargeRequest{UserID: "u1", OrderID: "o1", Card: validCard()})
	require.NoError(t, err)
	f.coupons.byID["c1"].UsageCount = 1

	f.gateway.retrieved = &Charge{ID: "chrg_4", Status: ChargeSuccessful, Paid: true}
	p, err = f.svc.ReconcileCharge(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, p.Status)
	assert.Equal(t, 1, f.coupons.byID["c1"].UsageCount, "counter never passes the limit")
}

func TestSecondPaymentForOrder(t *testing.T) {
	card := func(f *fixture) error {
		_, err := f.svc.CreateCharge(context.Background(), ChargeRequest{UserID: "u1", OrderID: "o1", Card: validCard()})
		return err
	}
	transfer := func(f *fixture) error {
		_, err := f.svc.CreateBankTransfer(context.Background(), BankTransferRequest{
			UserID: "u1", OrderID: "o1", Slip: Slip{Filename: "slip.png", ContentType: "image/png", Data: []byte("png")},
		})
		return err
	}

	tests := []struct {
		name        string
		charge      *Charge
		first       func(f *fixture) error
		settle      func(f *fixture)
		second      func(f *fixture) error
		wantErr     error
		wantCharges int
		wantUploads int
	}{
		{
			name:        "card while charge pending",
			charge:      &Charge{ID: "chrg_p", Status: ChargePending},
			first:       card,
			second:      card,
			wantErr:     apperr.ErrAlreadyProcessed,
			wantCharges: 1,
		},
		{
			name:        "transfer while charge pending",
			charge:      &Charge{ID: "chrg_p", Status: ChargePending},
			first:       card,
			second:      transfer,
			wantErr:     apperr.ErrAlreadyProcessed,
			wantCharges: 1,
		},
		{
			name:        "card while transfer pending",
			first:       transfer,
			second:      card,
			wantErr:     apperr.ErrAlreadyProcessed,
			wantUploads: 1,
		},
		{
			name:        "transfer while transfer pending",
			first:       transfer,
			second:      transfer,
			wantErr:     apperr.ErrAlreadyProcessed,
			wantUploads: 1,
		},
		{
			name:        "card after failed charge",
			charge:      &Charge{ID: "chrg_f", Status: ChargeFailed, FailureCode: "insufficient_fund"},
			first:       card,
			settle:      func(f *fixture) { f.gateway.charge = &Charge{ID: "chrg_ok", Status: ChargeSuccessful, Paid: true} },
			second:      card,
			wantCharges: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.charge != nil {
				f.gateway.charge = tt.charge
			}
			require.NoError(t, tt.first(f))
			if tt.settle != nil {
				tt.settle(f)
			}

			err := tt.second(f)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Len(t, f.payments.byID, 1)
			} else {
				require.NoError(t, err)
				assert.Len(t, f.payments.byID, 2)
			}
			assert.Equal(t, tt.wantCharges, f.gateway.chargeCalls)
			assert.Len(t, f.slips.uploaded, tt.wantUploads)
		})
	}
}

func TestCreateBankTransfer(t *testing.T) {
	f := newFixture(t)

	p := f.submitTransfer(t)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, TypeBankTransfer, p.Type)
	require.NotNil(t, p.SlipImage)
	assert.Equal(t, "slips/20240115/slip.png", *p.SlipImage)
	assert.Nil(t, p.OmiseChargeID)
	assert.Empty(t, f.enrollments.calls, "enrollment waits for approval")
	assert.Equal(t, order.StatusPending, f.orders.byID["o1"].Status)
}

func TestCreateBankTransfer_Errors(t *testing.T) {
	t.Run("coupon mismatch", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateBankTransfer(context.Background(), BankTransferRequest{
			UserID: "u1", OrderID: "o1", CouponID: "other",
		})
		require.ErrorIs(t, err, apperr.ErrInvalidInput)
		assert.Empty(t, f.slips.uploaded)
	})
	t.Run("bad slip", func(t *testing.T) {
		f := newFixture(t)
		f.slips.validateErr = apperr.InvalidField("slip", "unsupported type")
		_, err := f.svc.CreateBankTransfer(context.Background(), BankTransferRequest{UserID: "u1", OrderID: "o1"})
		require.ErrorIs(t, err, apperr.ErrInvalidInput)
		assert.Empty(t, f.slips.uploaded)
	})
	t.Run("concurrent submission removes slip", func(t *testing.T) {
		f := newFixture(t)
		f.payments.createErr = apperr.AlreadyProcessed("order", "o1", "payment in progress")
		_, err := f.svc.CreateBankTransfer(context.Background(), BankTransferRequest{
			UserID: "u1", OrderID: "o1", Slip: Slip{Filename: "a.jpg"},
		})
		require.ErrorIs(t, err, apperr.ErrAlreadyProcessed)
		assert.Equal(t, f.slips.uploaded, f.slips.deleted)
	})
	t.Run("persist failure removes slip", func(t *testing.T) {
		f := newFixture(t)
		f.payments.createErr = errors.New("db down")
		_, err := f.svc.CreateBankTransfer(context.Background(), BankTransferRequest{
			UserID: "u1", OrderID: "o1", Slip: Slip{Filename: "a.jpg"},
		})
		require.Error(t, err)
		assert.Equal(t, f.slips.uploaded, f.slips.deleted)
	})
}

func TestApproveBankTransfer_Approve(t *testing.T) {
	f := newFixture(t)
	submitted := f.submitTransfer(t)

	p, err := f.svc.ApproveBankTransfer(context.Background(), ApprovalRequest{PaymentID: submitted.ID, Approved: true})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, p.Status)
	assert.Equal(t, order.StatusPaid, f.orders.byID["o1"].Status)
	require.Len(t, f.enrollments.calls, 1)
	assert.Equal(t, submitted.ID, f.enrollments.calls[0].paymentID)
	assert.Equal(t, 1, f.coupons.byID["c1"].UsageCount)
	assert.Equal(t, 1, f.tx.calls)
}

func TestApproveBankTransfer_Reject(t *testing.T) {
	f := newFixture(t)
	submitted := f.submitTransfer(t)

	p, err := f.svc.ApproveBankTransfer(context.Background(), ApprovalRequest{
		PaymentID: submitted.ID,
		Reason:    "amount does not match",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, p.Status)
	require.NotNil(t, p.RejectReason)
	assert.Equal(t, "amount does not match", *p.RejectReason)
	assert.Equal(t, order.StatusCancelled, f.orders.byID["o1"].Status)
	assert.Empty(t, f.enrollments.calls)
	assert.Equal(t, 0, f.coupons.byID["c1"].UsageCount)
}

func TestApproveBankTransfer_ReasonRequired(t *testing.T) {
	f := newFixture(t)

	for _, reason := range []string{"", "   "} {
		_, err := f.svc.ApproveBankTransfer(context.Background(), ApprovalRequest{PaymentID: "missing", Reason: reason})
		require.ErrorIs(t, err, apperr.ErrReasonRequired)
	}
}

func TestApproveBankTransfer_OneShot(t *testing.T) {
	for _, first := range []bool{true, false} {
		for _, second := range []bool{true, false} {
			f := newFixture(t)
			submitted := f.submitTransfer(t)
			ctx := context.Background()

			_, err := f.svc.ApproveBankTransfer(ctx, ApprovalRequest{PaymentID: submitted.ID, Approved: first, Reason: "r"})
			require.NoError(t, err)

			_, err = f.svc.ApproveBankTransfer(ctx, ApprovalRequest{PaymentID: submitted.ID, Approved: second, Reason: "r"})
			require.ErrorIs(t, err, apperr.ErrAlreadyProcessed, "first=%v second=%v", first, second)
		}
	}
}

func TestApproveBankTransfer_LostRace(t *testing.T) {
	f := newFixture(t)
	submitted := f.submitTransfer(t)
	ctx := context.Background()
	f.payments.staleRead = true

	_, err := f.svc.ApproveBankTransfer(ctx, ApprovalRequest{PaymentID: submitted.ID, Approved: true})
	require.NoError(t, err)

	// The second caller still reads pending but loses the conditional update.
	_, err = f.svc.ApproveBankTransfer(ctx, ApprovalRequest{PaymentID: submitted.ID, Reason: "late"})
	require.ErrorIs(t, err, apperr.ErrAlreadyProcessed)
	assert.Equal(t, order.StatusPaid, f.orders.byID["o1"].Status)
	assert.Len(t, f.enrollments.calls, 1)
}

func TestApproveBankTransfer_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ApproveBankTransfer(ctx, ApprovalRequest{PaymentID: "nope", Approved: true})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	f.gateway.charge = &Charge{ID: "chrg_5", Status: ChargePending}
	card, err := f.svc.CreateCharge(ctx, ChargeRequest{UserID: "u1", OrderID: "o1", Card: validCard()})
	require.NoError(t, err)

	_, err = f.svc.ApproveBankTransfer(ctx, ApprovalRequest{PaymentID: card.ID, Approved: true})
	require.ErrorIs(t, err, apperr.ErrAlreadyProcessed, "card payments are settled by the gateway")
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	p := f.submitTransfer(t)

	got, err := f.svc.Get(context.Background(), "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = f.svc.Get(context.Background(), "u2", p.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
