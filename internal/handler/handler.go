// Package handler exposes the checkout HTTP API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/nopego-checkout/internal/carrier/shiprocket"
	"github.com/xenking/nopego-checkout/internal/domain/auth"
	"github.com/xenking/nopego-checkout/internal/domain/coupon"
	"github.com/xenking/nopego-checkout/internal/domain/order"
)

// OrderService is the order placement and lifecycle API.
type OrderService interface {
	Quote(ctx context.Context, req order.QuoteRequest) (*order.QuoteResult, error)
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	Track(ctx context.Context, number, phoneLast4 string) (*order.Tracking, error)
	UpdateStatus(ctx context.Context, orderID string, upd order.StatusUpdate) (*order.Order, error)
}

// PaymentVerifier settles orders from signed gateway confirmations.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, req order.PaymentVerification) (*order.VerifyResult, error)
}

// ShipmentTracker fetches live carrier scans.
type ShipmentTracker interface {
	Track(ctx context.Context, awb string) (*shiprocket.Tracking, error)
}

// Config holds non-dependency settings.
type Config struct {
	// GatewayKeyID is returned to the storefront with online orders.
	GatewayKeyID string
	// APIKeyPepper is the HMAC key for admin API key hashes.
	APIKeyPepper []byte
}

// Deps groups the handler collaborators. Tracker is optional.
type Deps struct {
	Orders   OrderService
	Payments PaymentVerifier
	Coupons  coupon.Validator
	APIKeys  auth.Repository
	Tracker  ShipmentTracker
}

// Handler serves the checkout API.
type Handler struct {
	cfg  Config
	deps Deps
}

// New creates a Handler.
func New(cfg Config, deps Deps) *Handler {
	return &Handler{cfg: cfg, deps: deps}
}

// Routes returns the /api router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Post("/checkout/quote", h.Quote)
	r.Post("/coupons/validate", h.ValidateCoupon)
	r.Post("/orders", h.PlaceOrder)
	r.Post("/payments/verify", h.VerifyPayment)
	r.Get("/track", h.Track)

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireAPIKey(h.deps.APIKeys, h.cfg.APIKeyPepper, auth.ScopeOrdersWrite))
		r.Patch("/orders/{id}/status", h.UpdateStatus)
	})
	return r
}
