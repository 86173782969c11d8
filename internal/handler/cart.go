package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/cart"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	v, err := h.Carts.Get(r.Context(), userID(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, v) })
}

// decodeCourseRef reads {"courseId": "..."}.
func decodeCourseRef(r *http.Request) (string, error) {
	var id string
	err := decodeObject(r, false, func(d *jx.Decoder, key string, inv *apperr.Invalid) error {
		if key != "courseId" {
			return d.Skip()
		}
		var err error
		id, err = readString(d, inv, "courseId")
		return err
	})
	if err != nil {
		return "", err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperr.InvalidField("courseId", "is required")
	}
	return id, nil
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	courseID, err := decodeCourseRef(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	v, err := h.Carts.Add(r.Context(), userID(r), courseID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCart(e, v) })
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	v, err := h.Carts.Remove(r.Context(), userID(r), r.PathValue("courseId"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, v) })
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.Carts.Clear(r.Context(), userID(r)); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func encodeCart(e *jx.Encoder, v *cart.View) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(v.CartID) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range v.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("courseId", func(e *jx.Encoder) { e.Str(l.Course.ID) })
						e.Field("title", func(e *jx.Encoder) { e.Str(l.Course.Title) })
						e.Field("price", func(e *jx.Encoder) { money(e, l.UnitPrice) })
						e.Field("normalPrice", func(e *jx.Encoder) { money(e, l.Course.NormalPrice) })
						e.Field("earlyBird", func(e *jx.Encoder) { e.Bool(l.EarlyBird) })
						e.Field("addedAt", func(e *jx.Encoder) { timestamp(e, l.Item.CreatedAt) })
					})
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { money(e, v.Subtotal) })
	})
}
