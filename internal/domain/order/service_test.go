package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/cart"
	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/domain/course"
)

// --- Mock implementations ---

type mockCourseRepo struct {
	byID   map[string]course.Course
	getErr error
}

func (m *mockCourseRepo) List(_ context.Context) ([]course.Course, error) { return nil, nil }

func (m *mockCourseRepo) GetByID(_ context.Context, id string) (*course.Course, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("course", id)
	}
	return &c, nil
}

func (m *mockCourseRepo) GetByIDs(_ context.Context, ids []string) ([]course.Course, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []course.Course
	for _, id := range ids {
		if c, ok := m.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type mockCouponRepo struct {
	byID        map[string]coupon.Coupon
	incremented []string
}

func (m *mockCouponRepo) FindByID(_ context.Context, id string) (*coupon.Coupon, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("coupon", id)
	}
	return &c, nil
}

func (m *mockCouponRepo) IncrementUsage(_ context.Context, id string) (bool, error) {
	m.incremented = append(m.incremented, id)
	return true, nil
}

type mockOrderRepo struct {
	lastOrder *Order
	byID      map[string]*Order
	err       error
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.err != nil {
		return m.err
	}
	m.lastOrder = o
	return nil
}

func (m *mockOrderRepo) FindByID(_ context.Context, id string) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	return o, nil
}

func (m *mockOrderRepo) ListByUser(_ context.Context, userID string) ([]Order, error) {
	var out []Order
	for _, o := range m.byID {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, _ string, _, _ Status) (bool, error) {
	return true, nil
}

type mockEnrollments struct {
	owned []string
	err   error
}

func (m *mockEnrollments) EnrolledCourses(_ context.Context, _ string, ids []string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []string
	for _, id := range ids {
		for _, o := range m.owned {
			if o == id {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

type mockCartRepo struct {
	cart     *cart.Cart
	cleared  string
	clearErr error
}

func (m *mockCartRepo) FindByUserID(_ context.Context, userID string) (*cart.Cart, error) {
	if m.cart == nil {
		return nil, apperr.NotFound("cart", userID)
	}
	return m.cart, nil
}

func (m *mockCartRepo) Ensure(_ context.Context, _ string) (*cart.Cart, error) { return m.cart, nil }
func (m *mockCartRepo) AddItem(_ context.Context, _ *cart.Item) error          { return nil }
func (m *mockCartRepo) RemoveItem(_ context.Context, _, _ string) error        { return nil }

func (m *mockCartRepo) Clear(_ context.Context, cartID string) error {
	m.cleared = cartID
	return m.clearErr
}

// --- Helpers ---

var fixedNow = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func ptr[T any](v T) *T { return &v }

type fixture struct {
	courses     *mockCourseRepo
	coupons     *mockCouponRepo
	orders      *mockOrderRepo
	enrollments *mockEnrollments
	carts       *mockCartRepo
	svc         *Service
}

func newFixture() *fixture {
	f := &fixture{
		courses: &mockCourseRepo{byID: map[string]course.Course{
			"go": {
				ID:             "go",
				NormalPrice:    d("2000"),
				EarlyBirdPrice: decimal.NewNullDecimal(d("1500")),
				EarlyBirdStart: ptr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
				EarlyBirdEnd:   ptr(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)),
			},
			"sql":   {ID: "sql", NormalPrice: d("2000")},
			"cheap": {ID: "cheap", NormalPrice: d("1000")},
		}},
		coupons: &mockCouponRepo{byID: map[string]coupon.Coupon{
			"pct20": {
				ID:          "pct20",
				Type:        coupon.TypePercentage,
				Discount:    d("20"),
				MaxDiscount: decimal.NewNullDecimal(d("300")),
				Status:      coupon.StatusActive,
			},
			"min1500": {
				ID:             "min1500",
				Type:           coupon.TypeFixed,
				Discount:       d("100"),
				MinOrderAmount: decimal.NewNullDecimal(d("1500")),
				Status:         coupon.StatusActive,
			},
			"expired": {
				ID:         "expired",
				Type:       coupon.TypeFixed,
				Discount:   d("100"),
				Status:     coupon.StatusActive,
				ExpireDate: ptr(fixedNow.Add(-time.Hour)),
			},
			"huge": {
				ID:       "huge",
				Type:     coupon.TypeFixed,
				Discount: d("99999"),
				Status:   coupon.StatusActive,
			},
		}},
		orders:      &mockOrderRepo{byID: map[string]*Order{}},
		enrollments: &mockEnrollments{},
		carts:       &mockCartRepo{},
	}
	f.svc = NewService(f.courses, f.coupons, f.orders, f.enrollments, f.carts)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

// --- Tests ---

func TestCreate_NoCoupon(t *testing.T) {
	f := newFixture()

	o, err := f.svc.Create(context.Background(), CreateRequest{
		UserID:    "u1",
		CourseIDs: []string{"go", "sql"},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.Nil(t, o.CouponID)
	assert.True(t, d("3500").Equal(o.SubtotalAmount), "subtotal %s", o.SubtotalAmount)
	assert.True(t, d("3500").Equal(o.TotalAmount))
	assert.True(t, decimal.Zero.Equal(o.DiscountAmount))

	require.Len(t, o.Items, 2)
	assert.Equal(t, "go", o.Items[0].CourseID)
	assert.True(t, d("1500").Equal(o.Items[0].UnitPrice), "early-bird snapshot")
	assert.True(t, d("2000").Equal(o.Items[1].UnitPrice))
	for _, it := range o.Items {
		assert.Equal(t, o.ID, it.OrderID)
	}
	assert.Same(t, o, f.orders.lastOrder)
}

func TestCreate_PercentageCouponCapped(t *testing.T) {
	f := newFixture()

	o, err := f.svc.Create(context.Background(), CreateRequest{
		UserID:    "u1",
		CourseIDs: []string{"sql"},
		CouponID:  "pct20",
	})
	require.NoError(t, err)

	assert.True(t, d("2000").Equal(o.SubtotalAmount))
	assert.True(t, d("300").Equal(o.DiscountAmount), "discount %s", o.DiscountAmount)
	assert.True(t, d("1700").Equal(o.TotalAmount), "total %s", o.TotalAmount)
	require.NotNil(t, o.CouponID)
	assert.Equal(t, "pct20", *o.CouponID)
}

func TestCreate_DoesNotCountCouponUsage(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), CreateRequest{
		UserID:    "u1",
		CourseIDs: []string{"sql"},
		CouponID:  "pct20",
	})
	require.NoError(t, err)
	assert.Empty(t, f.coupons.incremented)
}

func TestCreate_MinimumOrderNotMet(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), CreateRequest{
		UserID:    "u1",
		CourseIDs: []string{"cheap"},
		CouponID:  "min1500",
	})
	require.ErrorIs(t, err, apperr.ErrMinimumOrderNotMet)
	assert.Nil(t, f.orders.lastOrder)
}

func TestCreate_InvalidCoupon(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), CreateRequest{
		UserID:    "u1",
		CourseIDs: []string{"sql"},
		CouponID:  "expired",
	})
	require.ErrorIs(t, err, apperr.ErrCouponInvalid)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, string(coupon.ReasonExpired), e.Reason)
	assert.Nil(t, f.orders.lastOrder)
}

func TestCreate_CouponNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), CreateRequest{
		UserID:    "u1",
		CourseIDs: []string{"sql"},
		CouponID:  "nope",
	})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreate_TotalNeverNegative(t *testing.T) {
	f := newFixture()

	o, err := f.svc.Create(context.Background(), CreateRequest{
		UserID:    "u1",
		CourseIDs: []string{"cheap"},
		CouponID:  "huge",
	})
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(o.TotalAmount))
	assert.True(t, o.TotalAmount.LessThanOrEqual(o.SubtotalAmount))
	assert.True(t, d("1000").Equal(o.DiscountAmount))
}

func TestCreate_CourseNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), CreateRequest{
		UserID:    "u1",
		CourseIDs: []string{"go", "missing"},
	})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	e, _ := apperr.As(err)
	assert.Equal(t, "missing", e.ID)
	assert.Nil(t, f.orders.lastOrder)
}

func TestCreate_InvalidCourseIDs(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
	}{
		{name: "empty", ids: nil},
		{name: "blank", ids: []string{"go", " "}},
		{name: "duplicate", ids: []string{"go", "go"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Create(context.Background(), CreateRequest{UserID: "u1", CourseIDs: tt.ids})
			require.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}

func TestCreate_AlreadyEnrolled(t *testing.T) {
	f := newFixture()
	f.enrollments.owned = []string{"sql"}

	_, err := f.svc.Create(context.Background(), CreateRequest{
		UserID:    "u1",
		CourseIDs: []string{"go", "sql"},
	})
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestCreate_RepositoryErrors(t *testing.T) {
	f := newFixture()
	f.orders.err = apperr.Upstream("postgres", errors.New("db write failed"))

	_, err := f.svc.Create(context.Background(), CreateRequest{UserID: "u1", CourseIDs: []string{"go"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))

	f = newFixture()
	f.courses.getErr = errors.New("db read failed")
	_, err = f.svc.Create(context.Background(), CreateRequest{UserID: "u1", CourseIDs: []string{"go"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get courses")
}

func TestCreateFromCart(t *testing.T) {
	f := newFixture()
	f.carts.cart = &cart.Cart{ID: "cart1", UserID: "u1", Items: []cart.Item{
		{ID: "i1", CartID: "cart1", CourseID: "sql"},
		{ID: "i2", CartID: "cart1", CourseID: "cheap"},
	}}

	o, err := f.svc.CreateFromCart(context.Background(), "u1", "pct20")
	require.NoError(t, err)
	assert.True(t, d("3000").Equal(o.SubtotalAmount))
	assert.True(t, d("2700").Equal(o.TotalAmount))
	assert.Equal(t, "cart1", f.carts.cleared)
}

func TestCreateFromCart_ClearFailureKeepsOrder(t *testing.T) {
	f := newFixture()
	f.carts.cart = &cart.Cart{ID: "cart1", UserID: "u1", Items: []cart.Item{{CourseID: "sql"}}}
	f.carts.clearErr = errors.New("db down")

	o, err := f.svc.CreateFromCart(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.NotNil(t, o)
}

func TestCreateFromCart_Empty(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateFromCart(context.Background(), "u1", "")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	f.carts.cart = &cart.Cart{ID: "cart1", UserID: "u1"}
	_, err = f.svc.CreateFromCart(context.Background(), "u1", "")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestGet_OwnerOnly(t *testing.T) {
	f := newFixture()
	f.orders.byID["o1"] = &Order{ID: "o1", UserID: "u1"}

	o, err := f.svc.Get(context.Background(), "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)

	_, err = f.svc.Get(context.Background(), "u2", "o1")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Get(context.Background(), "u1", "o2")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
