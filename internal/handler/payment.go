package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/nopego-checkout/internal/domain/order"
)

const (
	reconciliationMessage = "Your payment was received but some items are out of stock. " +
		"Our team will contact you shortly to resolve this."
	unsettleableMessage = "Your payment was received but this order can no longer be confirmed. " +
		"Our team will contact you shortly to arrange a refund."
)

// VerifyPayment handles POST /payments/verify.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req order.PaymentVerification
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderId":
			req.OrderID, err = optStr(d)
		case "razorpayOrderId":
			req.Confirmation.IntentID, err = optStr(d)
		case "razorpayPaymentId":
			req.Confirmation.PaymentID, err = optStr(d)
		case "razorpaySignature":
			req.Confirmation.Signature, err = optStr(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	res, err := h.deps.Payments.VerifyPayment(r.Context(), req)
	if err != nil {
		var conflict *order.StockConflictError
		switch {
		case errors.As(err, &conflict):
			writeError(w, http.StatusConflict, reconciliationMessage)
			return
		case errors.Is(err, order.ErrNotSettleable):
			writeError(w, http.StatusConflict, unsettleableMessage)
			return
		}
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("orderNumber", func(e *jx.Encoder) { e.Str(res.OrderNumber) })
		})
	})
}
