package handler

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/auth"
	"github.com/xenking/course-checkout/internal/domain/apperr"
)

type otpRequest struct {
	Email string
	Token string
}

func decodeOTPRequest(r *http.Request, withToken bool) (otpRequest, error) {
	var req otpRequest
	err := decodeObject(r, false, func(d *jx.Decoder, key string, inv *apperr.Invalid) error {
		var err error
		switch key {
		case "email":
			req.Email, err = readString(d, inv, "email")
		case "token":
			req.Token, err = readString(d, inv, "token")
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return req, err
	}

	var inv apperr.Invalid
	req.Email = strings.TrimSpace(req.Email)
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		inv.Add("email", "must be a valid email address")
	}
	req.Token = strings.TrimSpace(req.Token)
	if withToken && req.Token == "" {
		inv.Add("token", "is required")
	}
	return req, inv.Err()
}

func (h *Handler) sendOTP(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOTPRequest(r, false)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.Sessions.SendOTP(r.Context(), req.Email); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOTPRequest(r, true)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	s, err := h.Sessions.VerifyOTP(r.Context(), req.Email, req.Token)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSession(e, s) })
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var token string
	err := decodeObject(r, false, func(d *jx.Decoder, key string, inv *apperr.Invalid) error {
		if key != "refreshToken" {
			return d.Skip()
		}
		var err error
		token, err = readString(d, inv, "refreshToken")
		return err
	})
	if err == nil && strings.TrimSpace(token) == "" {
		err = apperr.InvalidField("refreshToken", "is required")
	}
	if err != nil {
		WriteError(w, r, err)
		return
	}
	s, err := h.Sessions.Refresh(r.Context(), token)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSession(e, s) })
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.BearerToken(r)
	if !ok {
		WriteError(w, r, apperr.Unauthorized(errors.New("missing bearer token")))
		return
	}
	if err := h.Sessions.SignOut(r.Context(), token); err != nil {
		WriteError(w, r, err)
		return
	}
	if f, ok := h.Users.(Forgetter); ok {
		if err := f.Forget(r.Context(), token); err != nil {
			zctx.From(r.Context()).Warn("Forget signed out token", zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func encodeSession(e *jx.Encoder, s *auth.Session) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("accessToken", func(e *jx.Encoder) { e.Str(s.AccessToken) })
		e.Field("tokenType", func(e *jx.Encoder) { e.Str(s.TokenType) })
		e.Field("refreshToken", func(e *jx.Encoder) { e.Str(s.RefreshToken) })
		e.Field("expiresIn", func(e *jx.Encoder) { e.Int64(s.ExpiresIn) })
		if !s.ExpiresAt.IsZero() {
			e.Field("expiresAt", func(e *jx.Encoder) { timestamp(e, s.ExpiresAt) })
		}
		e.Field("user", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(s.User.ID) })
				e.Field("email", func(e *jx.Encoder) { e.Str(s.User.Email) })
				e.Field("role", func(e *jx.Encoder) { e.Str(s.User.Role) })
			})
		})
	})
}
