package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/nopego-checkout/internal/domain/order"
)

// UpdateStatus handles PATCH /admin/orders/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var upd order.StatusUpdate
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			upd.Status, err = optStr(d)
		case "trackingNumber":
			upd.TrackingNumber, err = optStr(d)
		case "courierName":
			upd.CourierName, err = optStr(d)
		case "note":
			upd.Note, err = optStr(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	o, err := h.deps.Orders.UpdateStatus(r.Context(), id, upd)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orderId", func(e *jx.Encoder) { e.Str(o.ID) })
			e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
			if o.TrackingNumber != "" {
				e.Field("trackingNumber", func(e *jx.Encoder) { e.Str(o.TrackingNumber) })
			}
			if o.CourierName != "" {
				e.Field("courierName", func(e *jx.Encoder) { e.Str(o.CourierName) })
			}
		})
	})
}
