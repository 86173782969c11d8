// Package handler exposes the checkout use cases over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/xenking/course-checkout/internal/auth"
	"github.com/xenking/course-checkout/internal/domain/cart"
	"github.com/xenking/course-checkout/internal/domain/course"
	"github.com/xenking/course-checkout/internal/domain/enrollment"
	"github.com/xenking/course-checkout/internal/domain/order"
	"github.com/xenking/course-checkout/internal/domain/payment"
)

// Courses reads the catalog.
type Courses interface {
	List(ctx context.Context) ([]course.Course, error)
	GetByID(ctx context.Context, id string) (*course.Course, error)
}

// Carts manages the user's cart.
type Carts interface {
	Get(ctx context.Context, userID string) (*cart.View, error)
	Add(ctx context.Context, userID, courseID string) (*cart.View, error)
	Remove(ctx context.Context, userID, courseID string) (*cart.View, error)
	Clear(ctx context.Context, userID string) error
}

// Orders creates and reads orders.
type Orders interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	CreateFromCart(ctx context.Context, userID, couponID string) (*order.Order, error)
	Get(ctx context.Context, userID, orderID string) (*order.Order, error)
	List(ctx context.Context, userID string) ([]order.Order, error)
}

// Enrollments lists and creates free enrollments.
type Enrollments interface {
	Enroll(ctx context.Context, userID, courseID string) (*enrollment.Enrollment, error)
	List(ctx context.Context, userID string) ([]enrollment.Enrollment, error)
}

// Payments runs the payment lifecycle.
type Payments interface {
	CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Payment, error)
	CreateBankTransfer(ctx context.Context, req payment.BankTransferRequest) (*payment.Payment, error)
	ApproveBankTransfer(ctx context.Context, req payment.ApprovalRequest) (*payment.Payment, error)
	ReconcileCharge(ctx context.Context, paymentID string) (*payment.Payment, error)
	Get(ctx context.Context, userID, paymentID string) (*payment.Payment, error)
}

// Sessions is the OTP sign-in pass-through.
type Sessions interface {
	SendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, token string) (*auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Forgetter drops cached token lookups.
type Forgetter interface {
	Forget(ctx context.Context, accessToken string) error
}

// Config holds transport limits.
type Config struct {
	// MaxUploadBytes bounds multipart bodies.
	MaxUploadBytes int64
}

// Deps are the use cases served by Handler.
type Deps struct {
	Courses     Courses
	Carts       Carts
	Orders      Orders
	Enrollments Enrollments
	Payments    Payments
	Sessions    Sessions
	// Users resolves bearer tokens. When it also implements Forgetter the
	// cached lookup is dropped on sign-out.
	Users auth.Resolver
}

// Handler serves the /api routes.
type Handler struct {
	Deps
	maxUpload int64
	now       func() time.Time
}

// New returns a Handler.
func New(cfg Config, d Deps) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 6 << 20
	}
	return &Handler{Deps: d, maxUpload: cfg.MaxUploadBytes, now: time.Now}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	user := auth.Middleware(h.Users, WriteError)
	admin := func(next http.Handler) http.Handler {
		return user(auth.RequireRole(auth.RoleAdmin, WriteError)(next))
	}
	handle := func(pattern string, guard func(http.Handler) http.Handler, fn http.HandlerFunc) {
		if guard == nil {
			mux.Handle(pattern, fn)
			return
		}
		mux.Handle(pattern, guard(fn))
	}

	handle("POST /api/auth/otp", nil, h.sendOTP)
	handle("POST /api/auth/verify", nil, h.verifyOTP)
	handle("POST /api/auth/refresh", nil, h.refresh)
	handle("POST /api/auth/signout", nil, h.signOut)

	handle("GET /api/courses", nil, h.listCourses)
	handle("GET /api/courses/{id}", nil, h.getCourse)

	handle("GET /api/cart", user, h.getCart)
	handle("POST /api/cart/items", user, h.addCartItem)
	handle("DELETE /api/cart/items/{courseId}", user, h.removeCartItem)
	handle("DELETE /api/cart", user, h.clearCart)

	handle("GET /api/enrollments", user, h.listEnrollments)
	handle("POST /api/enrollments", user, h.enroll)

	handle("GET /api/orders", user, h.listOrders)
	handle("POST /api/orders", user, h.createOrder)
	handle("POST /api/orders/checkout", user, h.checkout)
	handle("GET /api/orders/{id}", user, h.getOrder)

	handle("POST /api/payments/charge", user, h.createCharge)
	handle("POST /api/payments/bank-transfer", user, h.createBankTransfer)
	handle("GET /api/payments/{id}", user, h.getPayment)

	handle("POST /api/admin/payments/{id}/approval", admin, h.approveBankTransfer)
	handle("POST /api/admin/payments/{id}/reconcile", admin, h.reconcileCharge)
}

// userID returns the caller resolved by the auth middleware.
func userID(r *http.Request) string {
	u, ok := auth.UserFrom(r.Context())
	if !ok {
		return ""
	}
	return u.ID
}
