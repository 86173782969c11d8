// Package auth passes OTP sign-in through to a GoTrue-compatible auth
// service and resolves bearer tokens into users.
package auth

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/course-checkout/internal/domain/apperr"
)

const (
	service = "auth"

	maxResponse = 1 << 20
)

// Config configures the auth service client.
type Config struct {
	// URL is the GoTrue base URL, e.g. https://<project>.supabase.co/auth/v1.
	URL string
	// APIKey is sent as the apikey header on every call.
	APIKey  string
	Timeout time.Duration `default:"10s"`
	// CacheTTL bounds how long a resolved user is cached.
	CacheTTL time.Duration `default:"1m"`
}

// User is an authenticated principal.
type User struct {
	ID    string
	Email string
	Role  string
}

// Session is issued on successful verification or refresh.
type Session struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	ExpiresIn    int64
	ExpiresAt    time.Time
	User         User
}

// Client talks to the auth service REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New returns a Client. A nil transport uses an instrumented default transport.
func New(cfg Config, transport http.RoundTripper) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}
}

// SendOTP asks the auth service to email a one-time code, creating the
// user on first sign-in.
func (c *Client) SendOTP(ctx context.Context, email string) error {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("email", func(e *jx.Encoder) { e.Str(email) })
		e.Field("create_user", func(e *jx.Encoder) { e.Bool(true) })
	})
	_, err := c.do(ctx, http.MethodPost, "/otp", "", e.Bytes())
	return err
}

// VerifyOTP exchanges an emailed code for a session.
func (c *Client) VerifyOTP(ctx context.Context, email, token string) (*Session, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str("email") })
		e.Field("email", func(e *jx.Encoder) { e.Str(email) })
		e.Field("token", func(e *jx.Encoder) { e.Str(token) })
	})
	data, err := c.do(ctx, http.MethodPost, "/verify", "", e.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeSession(data)
}

// Refresh exchanges a refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("refresh_token", func(e *jx.Encoder) { e.Str(refreshToken) })
	})
	q := url.Values{"grant_type": {"refresh_token"}}
	data, err := c.do(ctx, http.MethodPost, "/token?"+q.Encode(), "", e.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeSession(data)
}

// SignOut revokes the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, http.MethodPost, "/logout", accessToken, nil)
	return err
}

// User returns the owner of accessToken.
func (c *Client) User(ctx context.Context, accessToken string) (*User, error) {
	data, err := c.do(ctx, http.MethodGet, "/user", accessToken, nil)
	if err != nil {
		return nil, err
	}
	u, err := decodeUser(jx.DecodeBytes(data))
	if err != nil {
		return nil, apperr.Upstream(service, errors.Wrap(err, "decode user"))
	}
	return u, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body []byte) ([]byte, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Upstream(service, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, apperr.Upstream(service, errors.Wrap(err, "read response"))
	}

	switch {
	case resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, apperr.Unauthorized(errors.New(errorMessage(data)))
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperr.Upstream(service, errors.Errorf("status %d: %s", resp.StatusCode, errorMessage(data)))
	default:
		// Wrong or expired codes come back as 4xx.
		return nil, apperr.Unauthorized(errors.Errorf("status %d: %s", resp.StatusCode, errorMessage(data)))
	}
}

func decodeSession(data []byte) (*Session, error) {
	var (
		s       Session
		hasUser bool
	)
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "access_token":
			s.AccessToken, err = d.Str()
		case "token_type":
			s.TokenType, err = d.Str()
		case "refresh_token":
			s.RefreshToken, err = d.Str()
		case "expires_in":
			s.ExpiresIn, err = d.Int64()
		case "expires_at":
			var v int64
			v, err = d.Int64()
			s.ExpiresAt = time.Unix(v, 0).UTC()
		case "user":
			var u *User
			u, err = decodeUser(d)
			if u != nil {
				s.User, hasUser = *u, true
			}
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, apperr.Upstream(service, errors.Wrap(err, "decode session"))
	}
	if s.AccessToken == "" || !hasUser {
		return nil, apperr.Upstream(service, errors.New("session without token or user"))
	}
	return &s, nil
}

// decodeUser reads a GoTrue user object. app_metadata.role, when set,
// overrides the top-level role which is "authenticated" for every user.
func decodeUser(d *jx.Decoder) (*User, error) {
	var (
		u       User
		appRole string
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			u.ID, err = d.Str()
		case "email":
			u.Email, err = optStr(d)
		case "role":
			u.Role, err = optStr(d)
		case "app_metadata":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "role" || d.Next() != jx.String {
					return d.Skip()
				}
				appRole, err = d.Str()
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, errors.New("user without id")
	}
	if appRole != "" {
		u.Role = appRole
	}
	return &u, nil
}

// errorMessage extracts the human readable part of a GoTrue error body.
func errorMessage(data []byte) string {
	var msg string
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return strings.TrimSpace(string(data))
	}
	_ = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "msg", "message", "error_description":
			v, err := optStr(d)
			if msg == "" {
				msg = v
			}
			return err
		default:
			return d.Skip()
		}
	})
	if msg == "" {
		return "request rejected"
	}
	return msg
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
