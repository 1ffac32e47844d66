package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/nopego-checkout/internal/domain/catalog"
	"github.com/xenking/nopego-checkout/internal/domain/coupon"
	"github.com/xenking/nopego-checkout/internal/domain/customer"
	"github.com/xenking/nopego-checkout/internal/domain/inventory"
	"github.com/xenking/nopego-checkout/internal/domain/order"
	"github.com/xenking/nopego-checkout/internal/domain/payment"
	"github.com/xenking/nopego-checkout/internal/gateway/razorpay"
)

// couponMessage returns the customer-facing text for a coupon rejection.
func couponMessage(err error) (string, bool) {
	var minErr *coupon.MinimumOrderError
	switch {
	case errors.As(err, &minErr):
		return "Minimum order value for this coupon is ₹" + minErr.Minimum.String(), true
	case errors.Is(err, coupon.ErrNotFound):
		return "Coupon code not found", true
	case errors.Is(err, coupon.ErrInactive):
		return "This coupon is no longer active", true
	case errors.Is(err, coupon.ErrExpired):
		return "This coupon has expired", true
	case errors.Is(err, coupon.ErrExhausted):
		return "This coupon has reached its usage limit", true
	default:
		return "", false
	}
}

// writeDomainError maps domain errors to status codes. Unknown errors are
// logged and reported as 500 without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if msg, ok := couponMessage(err); ok {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	var (
		validation *order.ValidationError
		stock      *inventory.InsufficientStockError
		conflict   *order.StockConflictError
		transition *order.TransitionError
		codMin     *order.CODMinimumError
		gateway    *razorpay.APIError
	)
	switch {
	case errors.Is(err, errBadJSON):
		writeError(w, http.StatusBadRequest, "Invalid request body")
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &stock):
		writeError(w, http.StatusUnprocessableEntity, stock.Error())
	case errors.As(err, &codMin):
		writeError(w, http.StatusUnprocessableEntity,
			"Cash on delivery is available on orders of ₹"+codMin.Minimum.String()+" or more")
	case errors.Is(err, order.ErrCODUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "Cash on delivery is not available")
	case errors.Is(err, catalog.ErrVariantNotFound):
		writeError(w, http.StatusUnprocessableEntity, "Some items are no longer available")
	case errors.Is(err, customer.ErrNotFound):
		writeError(w, http.StatusUnprocessableEntity, "Customer not found")
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, payment.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "Invalid payment signature")
	case errors.Is(err, order.ErrIntentMismatch):
		writeError(w, http.StatusUnauthorized, "Payment does not match order")
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "Some items went out of stock while confirming your order")
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, transition.Error())
	case errors.Is(err, order.ErrStatusChanged):
		writeError(w, http.StatusConflict, "Order was updated concurrently, reload and retry")
	case errors.Is(err, order.ErrNotSettleable):
		writeError(w, http.StatusConflict, "Order cannot be paid")
	case errors.As(err, &gateway):
		zctx.From(r.Context()).Error("Payment gateway error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Payment gateway unavailable, please retry")
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
