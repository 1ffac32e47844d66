package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/nopego-checkout/internal/carrier/shiprocket"
	"github.com/xenking/nopego-checkout/internal/domain/order"
)

// Track handles GET /track?orderNumber=...&phone=....
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	number := q.Get("orderNumber")
	if number == "" {
		number = q.Get("order")
	}
	phone := q.Get("phone")
	if strings.TrimSpace(number) == "" || strings.TrimSpace(phone) == "" {
		writeError(w, http.StatusBadRequest, "orderNumber and phone are required")
		return
	}

	t, err := h.deps.Orders.Track(r.Context(), number, phone)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var live *shiprocket.Tracking
	if h.deps.Tracker != nil && t.Order.TrackingNumber != "" {
		live, err = h.deps.Tracker.Track(r.Context(), t.Order.TrackingNumber)
		if err != nil {
			zctx.From(r.Context()).Warn("Carrier tracking unavailable",
				zap.String("awb", t.Order.TrackingNumber),
				zap.Error(err),
			)
			live = nil
		}
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeTracking(e, t, live)
	})
}

func encodeTracking(e *jx.Encoder, t *order.Tracking, live *shiprocket.Tracking) {
	o := t.Order
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeDecimal(e, o.Subtotal) })
		e.Field("shippingCharge", func(e *jx.Encoder) { encodeDecimal(e, o.ShippingCharge) })
		e.Field("discount", func(e *jx.Encoder) { encodeDecimal(e, o.Discount) })
		e.Field("total", func(e *jx.Encoder) { encodeDecimal(e, o.Total) })
		if o.TrackingNumber != "" {
			e.Field("trackingNumber", func(e *jx.Encoder) { e.Str(o.TrackingNumber) })
		}
		if o.CourierName != "" {
			e.Field("courierName", func(e *jx.Encoder) { e.Str(o.CourierName) })
		}
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		e.Field("address", func(e *jx.Encoder) { e.Str(formatAddress(o.Address)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productName", func(e *jx.Encoder) { e.Str(it.ProductName) })
						e.Field("size", func(e *jx.Encoder) { e.Str(it.Size) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unitPrice", func(e *jx.Encoder) { encodeDecimal(e, it.UnitPrice) })
						e.Field("lineTotal", func(e *jx.Encoder) { encodeDecimal(e, it.LineTotal) })
					})
				}
			})
		})
		e.Field("statusHistory", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, h := range t.History {
					e.Obj(func(e *jx.Encoder) {
						e.Field("status", func(e *jx.Encoder) { e.Str(string(h.Status)) })
						e.Field("note", func(e *jx.Encoder) { e.Str(h.Note) })
						e.Field("createdAt", func(e *jx.Encoder) { e.Str(h.CreatedAt.UTC().Format(time.RFC3339)) })
					})
				}
			})
		})
		if live != nil {
			e.Field("carrier", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("status", func(e *jx.Encoder) { e.Str(live.Status) })
					e.Field("activities", func(e *jx.Encoder) {
						e.Arr(func(e *jx.Encoder) {
							for _, a := range live.Activities {
								e.Obj(func(e *jx.Encoder) {
									e.Field("date", func(e *jx.Encoder) { e.Str(a.Date) })
									e.Field("status", func(e *jx.Encoder) { e.Str(a.Status) })
									e.Field("location", func(e *jx.Encoder) { e.Str(a.Location) })
								})
							}
						})
					})
				})
			})
		}
	})
}

func formatAddress(a order.Address) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Line1, a.Line2, a.City, a.State} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	s := strings.Join(parts, ", ")
	if a.Pincode != "" {
		s += " - " + a.Pincode
	}
	return s
}
