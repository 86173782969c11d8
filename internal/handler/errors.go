package handler

import (
	"net/http"
	"sort"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/domain/apperr"
)

// statusOf maps error kinds to HTTP status codes.
func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAlreadyExists, apperr.KindAlreadyProcessed, apperr.KindConcurrentUpdate:
		return http.StatusConflict
	case apperr.KindInvalidInput, apperr.KindReasonRequired:
		return http.StatusBadRequest
	case apperr.KindCouponInvalid, apperr.KindMinimumOrderNotMet, apperr.KindBelowMinimumCharge:
		return http.StatusUnprocessableEntity
	case apperr.KindPaymentRequired:
		return http.StatusPaymentRequired
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as {"code","kind","message","reason"?,"fields"?}.
// Unclassified errors are logged and hidden behind a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	lg := zctx.From(r.Context())

	e, ok := apperr.As(err)
	if !ok {
		lg.Error("Unhandled error", zap.Error(err))
		e = &apperr.Error{Kind: "INTERNAL", Message: "internal server error"}
	}
	status := statusOf(e.Kind)
	switch {
	case status >= 500 && ok:
		lg.Error("Request failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	case e.Kind == apperr.KindConcurrentUpdate:
		lg.Warn("Request lost a race", zap.Error(err))
	}

	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("code", func(enc *jx.Encoder) { enc.Int(status) })
		enc.Field("kind", func(enc *jx.Encoder) { enc.Str(string(e.Kind)) })
		enc.Field("message", func(enc *jx.Encoder) { enc.Str(e.PublicMessage()) })
		if e.Reason != "" {
			enc.Field("reason", func(enc *jx.Encoder) { enc.Str(e.Reason) })
		}
		if len(e.Fields) > 0 {
			keys := make([]string, 0, len(e.Fields))
			for k := range e.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			enc.Field("fields", func(enc *jx.Encoder) {
				enc.Obj(func(enc *jx.Encoder) {
					for _, k := range keys {
						enc.Field(k, func(enc *jx.Encoder) { enc.Str(e.Fields[k]) })
					}
				})
			})
		}
	})
	writeRaw(w, status, enc.Bytes())
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
