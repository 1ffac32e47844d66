package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/nopego-checkout/internal/domain/catalog"
	"github.com/xenking/nopego-checkout/internal/domain/coupon"
	"github.com/xenking/nopego-checkout/internal/domain/payment"
)

const (
	stockConflictNote = "Payment captured but stock unavailable: manual reconciliation required"
	unsettleableNote  = "Payment captured for an order that can no longer be settled: manual reconciliation required"
)

// PaymentVerification is the signed confirmation relayed by the client.
type PaymentVerification struct {
	OrderID      string
	Confirmation payment.Confirmation
}

// VerifyResult is returned for both first and repeated confirmations.
type VerifyResult struct {
	OrderNumber string
	Duplicate   bool
}

// Settler verifies payment confirmations and runs settlement.
type Settler struct {
	orders    Repository
	store     SettlementStore
	gateway   payment.Gateway
	coupons   coupon.Redeemer
	fulfiller Fulfiller

	now func() time.Time
	tel *instruments
}

// NewSettler creates a Settler.
func NewSettler(
	orders Repository,
	store SettlementStore,
	gateway payment.Gateway,
	coupons coupon.Redeemer,
	fulfiller Fulfiller,
	opts ...Option,
) (*Settler, error) {
	o := buildOptions(opts)
	tel, err := newInstruments(o)
	if err != nil {
		return nil, err
	}
	return &Settler{
		orders:    orders,
		store:     store,
		gateway:   gateway,
		coupons:   coupons,
		fulfiller: fulfiller,
		now:       o.now,
		tel:       tel,
	}, nil
}

// VerifyPayment checks the gateway signature and settles the order. A
// confirmation for an order that is already paid succeeds without side
// effects.
func (s *Settler) VerifyPayment(ctx context.Context, req PaymentVerification) (_ *VerifyResult, rerr error) {
	ctx, span := s.tel.tracer.Start(ctx, "order.VerifyPayment")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	conf := req.Confirmation
	switch {
	case strings.TrimSpace(req.OrderID) == "":
		return nil, invalid("orderId", "is required")
	case strings.TrimSpace(conf.IntentID) == "":
		return nil, invalid("razorpayOrderId", "is required")
	case strings.TrimSpace(conf.PaymentID) == "":
		return nil, invalid("razorpayPaymentId", "is required")
	case strings.TrimSpace(conf.Signature) == "":
		return nil, invalid("razorpaySignature", "is required")
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", req.OrderID),
		zap.String("intent_id", conf.IntentID),
	)

	if err := s.gateway.Verify(conf); err != nil {
		s.tel.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "signature")))
		lg.Warn("Rejected payment confirmation", zap.Error(err))
		return nil, errors.Wrap(err, "verify signature")
	}

	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.GatewayOrderID == "" || o.GatewayOrderID != conf.IntentID {
		s.tel.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "intent_mismatch")))
		lg.Warn("Payment intent does not match order", zap.String("order_intent_id", o.GatewayOrderID))
		return nil, ErrIntentMismatch
	}
	if !o.PaymentMethod.Online() {
		return nil, ErrNotSettleable
	}
	if o.PaymentStatus == PaymentPaid {
		s.tel.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "duplicate")))
		return &VerifyResult{OrderNumber: o.Number, Duplicate: true}, nil
	}

	res, err := s.settle(ctx, o, conf.PaymentID)
	if err != nil {
		// The signature is valid, so the money has been taken.
		var conflict *StockConflictError
		switch {
		case errors.As(err, &conflict):
			s.escalate(ctx, o, conf.PaymentID, "Payment captured but stock unavailable", stockConflictNote,
				zap.String("variant_id", conflict.VariantID),
			)
		case errors.Is(err, ErrNotSettleable):
			s.escalate(ctx, o, conf.PaymentID, "Payment captured for unsettleable order", unsettleableNote,
				zap.String("status", string(o.Status)),
			)
		}
		return nil, err
	}

	return &VerifyResult{OrderNumber: o.Number, Duplicate: res.AlreadySettled}, nil
}

// settle runs the settlement unit, then the isolated coupon redemption and
// the fulfillment hand-off.
func (s *Settler) settle(ctx context.Context, o *Order, paymentID string) (*SettlementResult, error) {
	ctx, span := s.tel.tracer.Start(ctx, "order.Settle")
	defer span.End()

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("order_number", o.Number))

	res, err := s.store.Settle(ctx, Settlement{OrderID: o.ID, PaymentID: paymentID, At: s.now()})
	if err != nil {
		result := "error"
		var conflict *StockConflictError
		if errors.As(err, &conflict) {
			result = "stock_conflict"
		}
		s.tel.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrap(err, "settle")
	}
	if res.AlreadySettled {
		s.tel.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "duplicate")))
		lg.Info("Order already settled")
		return res, nil
	}
	s.tel.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "settled")))
	lg.Info("Order settled", zap.String("payment_method", string(o.PaymentMethod)))

	if o.CouponCode != "" {
		s.redeemCoupon(ctx, o)
	}

	var low []catalog.StockLevel
	for _, l := range res.StockLevels {
		if l.Low() {
			low = append(low, l)
		}
	}
	s.fulfiller.OrderSettled(ctx, res.Order, low)

	return res, nil
}

// redeemCoupon counts coupon usage once per order. Failures are logged and
// never undo the settlement.
func (s *Settler) redeemCoupon(ctx context.Context, o *Order) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("coupon", o.CouponCode))

	counted, err := s.coupons.Redeem(ctx, o.CouponCode, o.ID)
	switch {
	case err != nil:
		lg.Warn("Coupon redemption failed", zap.Error(err))
	case !counted:
		lg.Info("Coupon redemption already recorded")
	}
}

// escalate records a captured payment that settlement could not apply.
func (s *Settler) escalate(ctx context.Context, o *Order, paymentID, msg, note string, fields ...zap.Field) {
	lg := zctx.From(ctx).With(
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("payment_id", paymentID),
		zap.Bool("manual_reconciliation", true),
	)
	lg.Error(msg, fields...)

	// Detach from the request so a disconnecting client cannot lose the flag.
	flagCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.orders.FlagReconciliation(flagCtx, o.ID, paymentID, note); err != nil {
		lg.Error("Failed to flag order for reconciliation", zap.Error(err))
	}
}
