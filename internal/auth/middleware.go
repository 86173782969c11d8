package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/domain/apperr"
)

// RoleAdmin may review bank transfers and reconcile charges.
const RoleAdmin = "admin"

type userKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the user stored by Middleware.
func UserFrom(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userKey{}).(*User)
	return u, ok
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ErrorFunc writes err as the response.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// Middleware rejects requests without a valid bearer token and stores the
// resolved user in the request context.
func Middleware(res Resolver, onErr ErrorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				onErr(w, r, apperr.Unauthorized(errors.New("missing bearer token")))
				return
			}
			u, err := res.User(r.Context(), token)
			if err != nil {
				onErr(w, r, err)
				return
			}
			ctx := WithUser(r.Context(), u)
			ctx = zctx.With(ctx, zap.String("user_id", u.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated users without role. It must run after
// Middleware.
func RequireRole(role string, onErr ErrorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := UserFrom(r.Context())
			if !ok {
				onErr(w, r, apperr.Unauthorized(errors.New("no user in context")))
				return
			}
			if u.Role != role {
				onErr(w, r, apperr.Forbidden(role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
