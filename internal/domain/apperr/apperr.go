// Package apperr defines the business and infrastructure error kinds
// returned by the checkout use cases.
//
// Every use case either succeeds or fails with exactly one *Error. Callers
// branch on the Kind, never on the message.
package apperr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// Kind classifies an error for the caller.
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindAlreadyExists      Kind = "ALREADY_EXISTS"
	KindCouponInvalid      Kind = "COUPON_INVALID"
	KindMinimumOrderNotMet Kind = "MINIMUM_ORDER_NOT_MET"
	KindBelowMinimumCharge Kind = "BELOW_MINIMUM_CHARGE"
	KindAlreadyProcessed   Kind = "ALREADY_PROCESSED"
	KindReasonRequired     Kind = "REASON_REQUIRED"
	KindConcurrentUpdate   Kind = "CONCURRENT_UPDATE"
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindPaymentRequired    Kind = "PAYMENT_REQUIRED"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindForbidden          Kind = "FORBIDDEN"

	// KindUpstreamUnavailable marks infrastructure failures: database,
	// payment gateway, auth provider or object storage errors and timeouts.
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
)

// Business reports whether k is a business-level kind, correctable by the
// caller changing its input.
func (k Kind) Business() bool {
	return k != KindUpstreamUnavailable && k != ""
}

// Sentinels for errors.Is matching by kind.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrAlreadyExists       = &Error{Kind: KindAlreadyExists}
	ErrCouponInvalid       = &Error{Kind: KindCouponInvalid}
	ErrMinimumOrderNotMet  = &Error{Kind: KindMinimumOrderNotMet}
	ErrBelowMinimumCharge  = &Error{Kind: KindBelowMinimumCharge}
	ErrAlreadyProcessed    = &Error{Kind: KindAlreadyProcessed}
	ErrReasonRequired      = &Error{Kind: KindReasonRequired}
	ErrConcurrentUpdate    = &Error{Kind: KindConcurrentUpdate}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrPaymentRequired     = &Error{Kind: KindPaymentRequired}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
)

// Error is a classified use case failure.
type Error struct {
	Kind Kind
	// Entity names the record involved, e.g. "course" or "payment".
	Entity string
	// ID is the identifier of the record involved, if any.
	ID string
	// Reason is a machine-readable sub-code, e.g. the coupon validator reason.
	Reason string
	// Fields holds per-field messages for KindInvalidInput.
	Fields map[string]string
	// Message overrides the generated message when set.
	Message string

	cause error
}

func (e *Error) Error() string {
	msg := e.message()
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

// PublicMessage is the message without the wrapped cause, safe to return to
// clients.
func (e *Error) PublicMessage() string { return e.message() }

func (e *Error) message() string {
	if e.Message != "" {
		return e.Message
	}
	var b strings.Builder
	switch {
	case e.Entity != "" && e.ID != "":
		fmt.Fprintf(&b, "%s %s", e.Entity, e.ID)
	case e.Entity != "":
		b.WriteString(e.Entity)
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " ")))
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "; %s: %s", k, e.Fields[k])
		}
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error of the same kind, so sentinels like ErrNotFound work
// with errors.Is regardless of entity or reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// NotFound reports a missing record.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id}
}

// AlreadyExists reports a uniqueness conflict.
func AlreadyExists(entity, id string) *Error {
	return &Error{Kind: KindAlreadyExists, Entity: entity, ID: id}
}

// CouponInvalid reports a coupon rejected by the validator with reason.
func CouponInvalid(id, reason string) *Error {
	return &Error{Kind: KindCouponInvalid, Entity: "coupon", ID: id, Reason: reason}
}

// MinimumOrderNotMet reports an order amount below the coupon minimum.
func MinimumOrderNotMet(couponID, minimum string) *Error {
	return &Error{
		Kind:    KindMinimumOrderNotMet,
		Entity:  "coupon",
		ID:      couponID,
		Message: fmt.Sprintf("order amount is below the coupon minimum of %s", minimum),
	}
}

// BelowMinimumCharge reports an order total the gateway would refuse.
func BelowMinimumCharge(orderID, minimum string) *Error {
	return &Error{
		Kind:    KindBelowMinimumCharge,
		Entity:  "order",
		ID:      orderID,
		Message: fmt.Sprintf("order total is below the minimum chargeable amount of %s", minimum),
	}
}

// AlreadyProcessed reports a state transition attempted on a record that has
// already left its initial state.
func AlreadyProcessed(entity, id, status string) *Error {
	return &Error{Kind: KindAlreadyProcessed, Entity: entity, ID: id, Reason: status}
}

// ReasonRequired reports a rejection without a reason.
func ReasonRequired() *Error {
	return &Error{Kind: KindReasonRequired, Message: "a reason is required when rejecting a payment"}
}

// ConcurrentUpdate reports a lost compare-and-swap.
func ConcurrentUpdate(entity, id string) *Error {
	return &Error{Kind: KindConcurrentUpdate, Entity: entity, ID: id}
}

// PaymentRequired reports a direct enrollment into a paid course.
func PaymentRequired(courseID string) *Error {
	return &Error{Kind: KindPaymentRequired, Entity: "course", ID: courseID}
}

// Unauthorized reports a missing or rejected credential.
func Unauthorized(cause error) *Error {
	return &Error{Kind: KindUnauthorized, Message: "unauthorized", cause: cause}
}

// Forbidden reports an authenticated caller lacking a role.
func Forbidden(role string) *Error {
	return &Error{Kind: KindForbidden, Message: "requires role " + role}
}

// Upstream wraps an infrastructure failure of the named service.
func Upstream(service string, cause error) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Entity:  service,
		Message: service + " unavailable",
		cause:   cause,
	}
}

// Invalid collects field-level validation messages. The zero value is ready
// to use.
type Invalid struct {
	fields map[string]string
}

// Add records msg for field. The first message per field wins.
func (v *Invalid) Add(field, msg string) {
	if v.fields == nil {
		v.fields = make(map[string]string)
	}
	if _, ok := v.fields[field]; !ok {
		v.fields[field] = msg
	}
}

// Err returns nil when nothing was recorded, otherwise an INVALID_INPUT error.
func (v *Invalid) Err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &Error{Kind: KindInvalidInput, Fields: v.fields}
}

// InvalidField is a shortcut for a single-field INVALID_INPUT error.
func InvalidField(field, msg string) *Error {
	return &Error{Kind: KindInvalidInput, Fields: map[string]string{field: msg}}
}
