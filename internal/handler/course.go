package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/course-checkout/internal/domain/course"
	"github.com/xenking/course-checkout/internal/domain/pricing"
)

func (h *Handler) listCourses(w http.ResponseWriter, r *http.Request) {
	list, err := h.Courses.List(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	now := h.now()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, c := range list {
				encodeCourse(e, c, now)
			}
		})
	})
}

func (h *Handler) getCourse(w http.ResponseWriter, r *http.Request) {
	c, err := h.Courses.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCourse(e, *c, h.now()) })
}

// encodeCourse includes the price billed at now.
func encodeCourse(e *jx.Encoder, c course.Course, now time.Time) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
		e.Field("title", func(e *jx.Encoder) { e.Str(c.Title) })
		e.Field("description", func(e *jx.Encoder) { e.Str(c.Description) })
		e.Field("normalPrice", func(e *jx.Encoder) { money(e, c.NormalPrice) })
		e.Field("earlyBirdPrice", func(e *jx.Encoder) {
			if !c.EarlyBirdPrice.Valid {
				e.Null()
				return
			}
			money(e, c.EarlyBirdPrice.Decimal)
		})
		e.Field("earlyBirdStart", func(e *jx.Encoder) { optTime(e, c.EarlyBirdStart) })
		e.Field("earlyBirdEnd", func(e *jx.Encoder) { optTime(e, c.EarlyBirdEnd) })
		e.Field("price", func(e *jx.Encoder) { money(e, pricing.EffectivePrice(c, now)) })
		e.Field("earlyBird", func(e *jx.Encoder) { e.Bool(pricing.EarlyBirdApplies(c, now)) })
	})
}
