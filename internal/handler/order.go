package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/enrollment"
	"github.com/xenking/course-checkout/internal/domain/order"
)

// decodeCreateOrder reads {"courseIds": [...], "couponId": "..."}. Course id
// rules are enforced by the order service.
func decodeCreateOrder(r *http.Request) (order.CreateRequest, error) {
	var req order.CreateRequest
	err := decodeObject(r, false, func(d *jx.Decoder, key string, inv *apperr.Invalid) error {
		var err error
		switch key {
		case "courseIds":
			req.CourseIDs, err = readStrings(d, inv, "courseIds")
		case "couponId":
			req.CouponID, err = readString(d, inv, "couponId")
		default:
			err = d.Skip()
		}
		return err
	})
	req.CouponID = strings.TrimSpace(req.CouponID)
	return req, err
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCreateOrder(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	req.UserID = userID(r)
	o, err := h.Orders.Create(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var couponID string
	err := decodeObject(r, true, func(d *jx.Decoder, key string, inv *apperr.Invalid) error {
		if key != "couponId" {
			return d.Skip()
		}
		var err error
		couponID, err = readString(d, inv, "couponId")
		return err
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	o, err := h.Orders.CreateFromCart(r.Context(), userID(r), strings.TrimSpace(couponID))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.List(r.Context(), userID(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range list {
				encodeOrder(e, &list[i])
			}
		})
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
						e.Field("courseId", func(e *jx.Encoder) { e.Str(it.CourseID) })
						e.Field("unitPrice", func(e *jx.Encoder) { money(e, it.UnitPrice) })
					})
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { money(e, o.SubtotalAmount) })
		e.Field("discount", func(e *jx.Encoder) { money(e, o.DiscountAmount) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.TotalAmount) })
		e.Field("couponId", func(e *jx.Encoder) { optString(e, o.CouponID) })
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { timestamp(e, o.UpdatedAt) })
	})
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	courseID, err := decodeCourseRef(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	en, err := h.Enrollments.Enroll(r.Context(), userID(r), courseID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeEnrollment(e, en) })
}

func (h *Handler) listEnrollments(w http.ResponseWriter, r *http.Request) {
	list, err := h.Enrollments.List(r.Context(), userID(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range list {
				encodeEnrollment(e, &list[i])
			}
		})
	})
}

func encodeEnrollment(e *jx.Encoder, en *enrollment.Enrollment) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(en.ID) })
		e.Field("courseId", func(e *jx.Encoder) { e.Str(en.CourseID) })
		e.Field("paymentId", func(e *jx.Encoder) { optString(e, en.PaymentID) })
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, en.CreatedAt) })
	})
}
