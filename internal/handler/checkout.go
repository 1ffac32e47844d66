package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/nopego-checkout/internal/domain/customer"
	"github.com/xenking/nopego-checkout/internal/domain/order"
)

func decodeLines(d *jx.Decoder) ([]order.Line, error) {
	var lines []order.Line
	err := d.Arr(func(d *jx.Decoder) error {
		var l order.Line
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "variantId":
				l.VariantID, err = d.Str()
			case "quantity":
				l.Quantity, err = d.Int()
			default:
				return d.Skip()
			}
			return err
		})
		lines = append(lines, l)
		return err
	})
	return lines, err
}

// Quote handles POST /checkout/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req order.QuoteRequest
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = decodeLines(d)
		case "couponCode":
			req.CouponCode, err = optStr(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	res, err := h.deps.Orders.Quote(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("subtotal", func(e *jx.Encoder) { encodeDecimal(e, res.Subtotal) })
			e.Field("shipping", func(e *jx.Encoder) { encodeDecimal(e, res.Shipping) })
			e.Field("discount", func(e *jx.Encoder) { encodeDecimal(e, res.Discount) })
			e.Field("total", func(e *jx.Encoder) { encodeDecimal(e, res.Total) })
			if res.CouponCode != "" {
				e.Field("couponCode", func(e *jx.Encoder) { e.Str(res.CouponCode) })
			}
		})
	})
}

// ValidateCoupon handles POST /coupons/validate. It never records usage.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var (
		code        string
		subtotal    decimal.Decimal
		hasSubtotal bool
	)
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = optStr(d)
		case "subtotal":
			subtotal, err = decodeDecimal(d)
			hasSubtotal = true
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if strings.TrimSpace(code) == "" || !hasSubtotal {
		writeError(w, http.StatusBadRequest, "code and subtotal are required")
		return
	}

	discount, err := h.deps.Coupons.Validate(r.Context(), code, subtotal)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("valid", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("code", func(e *jx.Encoder) { e.Str(discount.Code) })
			e.Field("discount", func(e *jx.Encoder) { encodeDecimal(e, discount.Amount) })
		})
	})
}

// PlaceOrder handles POST /orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var (
		req  order.PlaceOrderRequest
		cust customer.Identity
		addr order.Address
	)
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customerId":
			cust.ID, err = optStr(d)
		case "customerName":
			cust.Name, err = optStr(d)
		case "customerEmail":
			cust.Email, err = optStr(d)
		case "customerPhone":
			cust.Phone, err = optStr(d)
		case "whatsappOptIn":
			cust.WhatsAppOptIn, err = optBool(d)
		case "addressLine1":
			addr.Line1, err = optStr(d)
		case "addressLine2":
			addr.Line2, err = optStr(d)
		case "city":
			addr.City, err = optStr(d)
		case "state":
			addr.State, err = optStr(d)
		case "pincode":
			addr.Pincode, err = optStr(d)
		case "items":
			req.Items, err = decodeLines(d)
		case "paymentMethod":
			req.PaymentMethod, err = optStr(d)
		case "couponCode":
			req.CouponCode, err = optStr(d)
		case "utmSource":
			req.Attribution.Source, err = optStr(d)
		case "utmMedium":
			req.Attribution.Medium, err = optStr(d)
		case "utmCampaign":
			req.Attribution.Campaign, err = optStr(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	addr.Name, addr.Phone = cust.Name, cust.Phone
	req.Customer, req.Address = cust, addr

	res, err := h.deps.Orders.PlaceOrder(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	o := res.Order
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orderId", func(e *jx.Encoder) { e.Str(o.ID) })
			e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
			e.Field("total", func(e *jx.Encoder) { encodeDecimal(e, o.Total) })
			e.Field("discount", func(e *jx.Encoder) { encodeDecimal(e, o.Discount) })
			e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
			if res.Intent != nil {
				e.Field("razorpayOrderId", func(e *jx.Encoder) { e.Str(res.Intent.ID) })
				e.Field("amount", func(e *jx.Encoder) { e.Int64(res.Intent.Amount) })
				e.Field("currency", func(e *jx.Encoder) { e.Str(res.Intent.Currency) })
				e.Field("keyId", func(e *jx.Encoder) { e.Str(h.cfg.GatewayKeyID) })
			}
		})
	})
}
