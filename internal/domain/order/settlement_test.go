package order

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/nopego-checkout/internal/domain/payment"
)

func placeOnline(t *testing.T, f *fixture, couponCode string) *Order {
	t.Helper()
	req := validRequest("UPI", exampleCart()...)
	req.CouponCode = couponCode
	res, err := f.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	return res.Order
}

func confirmation(f *fixture, o *Order, paymentID string) PaymentVerification {
	return PaymentVerification{
		OrderID: o.ID,
		Confirmation: payment.Confirmation{
			IntentID:  o.GatewayOrderID,
			PaymentID: paymentID,
			Signature: f.gateway.sign(o.GatewayOrderID, paymentID),
		},
	}
}

func TestVerifyPayment_Settles(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	o := placeOnline(t, f, "FLAT200")

	res, err := f.settler.VerifyPayment(context.Background(), confirmation(f, o, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, o.Number, res.OrderNumber)
	assert.False(t, res.Duplicate)

	stored, err := f.store.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, stored.PaymentStatus)
	assert.Equal(t, StatusConfirmed, stored.Status)
	assert.Equal(t, "pay_1", stored.GatewayPaymentID)
	assert.Equal(t, 4, f.store.stock["var-a"])
	assert.Equal(t, 2, f.store.stock["var-b"])
	assert.Equal(t, 1, f.store.stats[o.CustomerID])
	assert.Equal(t, 1, f.redeemer.count())
	assert.Equal(t, []string{"settled"}, f.fulfiller.kinds())

	history, err := f.store.History(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, []Status{StatusPending, StatusConfirmed}, []Status{history[0].Status, history[1].Status})
}

func TestVerifyPayment_LowStockReported(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	o := placeOnline(t, f, "")

	_, err := f.settler.VerifyPayment(context.Background(), confirmation(f, o, "pay_1"))
	require.NoError(t, err)

	require.Len(t, f.fulfiller.events, 1)
	low := f.fulfiller.events[0].lowStock
	require.Len(t, low, 1, "only var-b fell to its threshold")
	assert.Equal(t, "var-b", low[0].VariantID)
	assert.Equal(t, 2, low[0].Stock)
}

func TestVerifyPayment_DuplicateIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	o := placeOnline(t, f, "SPORT40")
	req := confirmation(f, o, "pay_1")

	first, err := f.settler.VerifyPayment(context.Background(), req)
	require.NoError(t, err)
	second, err := f.settler.VerifyPayment(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, f.store.settles)
	assert.Equal(t, 1, f.store.stats[o.CustomerID])
	assert.Equal(t, 4, f.store.stock["var-a"])
	assert.Equal(t, 1, f.redeemer.count())
	assert.Equal(t, []string{"settled"}, f.fulfiller.kinds())
}

func TestVerifyPayment_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	o := placeOnline(t, f, "FLAT200")
	req := confirmation(f, o, "pay_1")

	var eg errgroup.Group
	for range 16 {
		eg.Go(func() error {
			res, err := f.settler.VerifyPayment(context.Background(), req)
			if err != nil {
				return err
			}
			if res.OrderNumber != o.Number {
				return errors.Errorf("unexpected order number %s", res.OrderNumber)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	assert.Equal(t, 1, f.store.settles)
	assert.Equal(t, 4, f.store.stock["var-a"])
	assert.Equal(t, 2, f.store.stock["var-b"])
	assert.Equal(t, 1, f.redeemer.count())
	assert.Len(t, f.fulfiller.kinds(), 1)
}

func TestVerifyPayment_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture, r *PaymentVerification)
		wantErr error
		field   string
	}{
		{
			name: "flipped signature bit",
			mutate: func(_ *fixture, r *PaymentVerification) {
				b := []byte(r.Confirmation.Signature)
				b[len(b)-1] ^= 0x01
				r.Confirmation.Signature = string(b)
			},
			wantErr: payment.ErrInvalidSignature,
		},
		{
			name:    "payment id swapped",
			mutate:  func(_ *fixture, r *PaymentVerification) { r.Confirmation.PaymentID = "pay_2" },
			wantErr: payment.ErrInvalidSignature,
		},
		{
			name: "intent of another order",
			mutate: func(f *fixture, r *PaymentVerification) {
				r.Confirmation.IntentID = "order_999"
				r.Confirmation.Signature = f.gateway.sign("order_999", r.Confirmation.PaymentID)
			},
			wantErr: ErrIntentMismatch,
		},
		{
			name:    "unknown order",
			mutate:  func(_ *fixture, r *PaymentVerification) { r.OrderID = "missing" },
			wantErr: ErrNotFound,
		},
		{
			name:   "missing signature",
			mutate: func(_ *fixture, r *PaymentVerification) { r.Confirmation.Signature = "" },
			field:  "razorpaySignature",
		},
		{
			name:   "missing order id",
			mutate: func(_ *fixture, r *PaymentVerification) { r.OrderID = "" },
			field:  "orderId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultPolicy())
			o := placeOnline(t, f, "FLAT200")
			req := confirmation(f, o, "pay_1")
			tt.mutate(f, &req)

			_, err := f.settler.VerifyPayment(context.Background(), req)
			if tt.field != "" {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tt.field, vErr.Field)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}

			stored, err := f.store.GetByID(context.Background(), o.ID)
			require.NoError(t, err)
			assert.Equal(t, PaymentPending, stored.PaymentStatus)
			assert.Equal(t, StatusPending, stored.Status)
			assert.Empty(t, stored.GatewayPaymentID)
			history, _ := f.store.History(context.Background(), o.ID)
			assert.Len(t, history, 1)
			assert.Zero(t, f.store.settles)
			assert.Zero(t, f.redeemer.calls)
			assert.Empty(t, f.fulfiller.kinds())
		})
	}
}

func TestVerifyPayment_StockConflictEscalates(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	o := placeOnline(t, f, "")
	f.store.stock["var-b"] = 1

	_, err := f.settler.VerifyPayment(context.Background(), confirmation(f, o, "pay_1"))

	var conflict *StockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, f.store.flagged[o.ID], "pay_1")

	stored, err := f.store.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, stored.NeedsReconciliation)
	assert.Equal(t, PaymentPending, stored.PaymentStatus)
	assert.Equal(t, 5, f.store.stock["var-a"])
	assert.Empty(t, f.fulfiller.kinds())
}

func TestVerifyPayment_CancelledOrderEscalates(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()
	o := placeOnline(t, f, "")

	_, err := f.svc.UpdateStatus(ctx, o.ID, StatusUpdate{Status: "CANCELLED"})
	require.NoError(t, err)

	_, err = f.settler.VerifyPayment(ctx, confirmation(f, o, "pay_late"))
	require.ErrorIs(t, err, ErrNotSettleable)
	assert.Contains(t, f.store.flagged[o.ID], "pay_late")

	stored, err := f.store.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, stored.NeedsReconciliation)
	assert.Equal(t, "pay_late", stored.GatewayPaymentID)
	assert.Equal(t, StatusCancelled, stored.Status)
	assert.Equal(t, PaymentPending, stored.PaymentStatus)
	assert.Equal(t, 5, f.store.stock["var-a"])
	assert.Zero(t, f.store.settles)
	assert.NotContains(t, f.fulfiller.kinds(), "settled")
}

func TestVerifyPayment_CouponFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	o := placeOnline(t, f, "FLAT200")
	f.redeemer.err = errors.New("coupon table locked")

	res, err := f.settler.VerifyPayment(context.Background(), confirmation(f, o, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, o.Number, res.OrderNumber)
	assert.Equal(t, 1, f.store.settles)
	assert.Equal(t, []string{"settled"}, f.fulfiller.kinds())
}

func TestVerifyPayment_CODOrderRejected(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	res, err := f.svc.PlaceOrder(context.Background(), validRequest("COD", exampleCart()...))
	require.NoError(t, err)

	_, err = f.settler.VerifyPayment(context.Background(), PaymentVerification{
		OrderID: res.Order.ID,
		Confirmation: payment.Confirmation{
			IntentID: "order_1", PaymentID: "pay_1", Signature: f.gateway.sign("order_1", "pay_1"),
		},
	})
	require.ErrorIs(t, err, ErrIntentMismatch)
}
