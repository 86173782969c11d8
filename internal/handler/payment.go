package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/payment"
)

// decodeCharge reads {"orderId", "card": {...}}. Card contents are checked
// by the payment service.
func decodeCharge(r *http.Request) (payment.ChargeRequest, error) {
	var req payment.ChargeRequest
	err := decodeObject(r, false, func(d *jx.Decoder, key string, inv *apperr.Invalid) error {
		var err error
		switch key {
		case "orderId":
			req.OrderID, err = readString(d, inv, "orderId")
		case "card":
			if d.Next() != jx.Object {
				inv.Add("card", "must be an object")
				return d.Skip()
			}
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				c := &req.Card
				switch string(key) {
				case "name":
					c.Name, err = readString(d, inv, "card.name")
				case "number":
					c.Number, err = readString(d, inv, "card.number")
				case "expirationMonth":
					c.ExpirationMonth, err = readInt(d, inv, "card.expirationMonth")
				case "expirationYear":
					c.ExpirationYear, err = readInt(d, inv, "card.expirationYear")
				case "securityCode":
					c.SecurityCode, err = readString(d, inv, "card.securityCode")
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return req, err
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" {
		return req, apperr.InvalidField("orderId", "is required")
	}
	return req, nil
}

func (h *Handler) createCharge(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCharge(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	req.UserID = userID(r)
	p, err := h.Payments.CreateCharge(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodePayment(e, p) })
}

// decodeBankTransfer reads a multipart form with orderId, an optional
// couponId and the slip file.
func (h *Handler) decodeBankTransfer(w http.ResponseWriter, r *http.Request) (payment.BankTransferRequest, error) {
	var req payment.BankTransferRequest

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, apperr.InvalidField("slip", "upload too large")
		}
		return req, apperr.InvalidField("body", "multipart form required")
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var inv apperr.Invalid
	req.OrderID = strings.TrimSpace(r.FormValue("orderId"))
	if req.OrderID == "" {
		inv.Add("orderId", "is required")
	}
	req.CouponID = strings.TrimSpace(r.FormValue("couponId"))

	f, hdr, err := r.FormFile("slip")
	if err != nil {
		inv.Add("slip", "file is required")
		return req, inv.Err()
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		inv.Add("slip", "unreadable file")
		return req, inv.Err()
	}
	req.Slip = payment.Slip{
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Data:        data,
	}
	return req, inv.Err()
}

func (h *Handler) createBankTransfer(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeBankTransfer(w, r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	req.UserID = userID(r)
	p, err := h.Payments.CreateBankTransfer(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodePayment(e, p) })
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payments.Get(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, p) })
}

// decodeApproval reads {"approved": bool, "reason": "..."}.
func decodeApproval(r *http.Request) (payment.ApprovalRequest, error) {
	var (
		req         payment.ApprovalRequest
		hasApproved bool
	)
	err := decodeObject(r, false, func(d *jx.Decoder, key string, inv *apperr.Invalid) error {
		var err error
		switch key {
		case "approved":
			hasApproved = true
			req.Approved, err = readBool(d, inv, "approved")
		case "reason":
			req.Reason, err = readString(d, inv, "reason")
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && !hasApproved {
		err = apperr.InvalidField("approved", "is required")
	}
	req.PaymentID = r.PathValue("id")
	return req, err
}

func (h *Handler) approveBankTransfer(w http.ResponseWriter, r *http.Request) {
	req, err := decodeApproval(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	p, err := h.Payments.ApproveBankTransfer(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, p) })
}

func (h *Handler) reconcileCharge(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payments.ReconcileCharge(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, p) })
}

func encodePayment(e *jx.Encoder, p *payment.Payment) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(p.Type)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(p.Status)) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(p.OrderID) })
		e.Field("amount", func(e *jx.Encoder) { money(e, p.Amount) })
		switch p.Type {
		case payment.TypeCreditCard:
			e.Field("chargeId", func(e *jx.Encoder) { optString(e, p.OmiseChargeID) })
			e.Field("cardBrand", func(e *jx.Encoder) { optString(e, p.CardBrand) })
			e.Field("cardLastDigits", func(e *jx.Encoder) { optString(e, p.CardLastDigits) })
			e.Field("failureCode", func(e *jx.Encoder) { optString(e, p.FailureCode) })
			e.Field("failureMessage", func(e *jx.Encoder) { optString(e, p.FailureMessage) })
		case payment.TypeBankTransfer:
			e.Field("slip", func(e *jx.Encoder) { optString(e, p.SlipImage) })
			e.Field("rejectReason", func(e *jx.Encoder) { optString(e, p.RejectReason) })
		}
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, p.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { timestamp(e, p.UpdatedAt) })
	})
}
