package order

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/nopego-checkout/internal/domain/catalog"
	"github.com/xenking/nopego-checkout/internal/domain/coupon"
	"github.com/xenking/nopego-checkout/internal/domain/customer"
	"github.com/xenking/nopego-checkout/internal/domain/inventory"
	"github.com/xenking/nopego-checkout/internal/domain/payment"
	"github.com/xenking/nopego-checkout/internal/domain/pricing"
)

const (
	maxNumberAttempts = 3
	placedNote        = "Order placed"
	stockLostNote     = "Stock unavailable at settlement"
)

// Policy holds store rules that apply at order creation.
type Policy struct {
	Pricing    pricing.Policy
	CODEnabled bool
	CODMinimum decimal.Decimal
}

// DefaultPolicy mirrors the store defaults: free shipping from ₹999 and COD
// from ₹299.
func DefaultPolicy() Policy {
	return Policy{
		Pricing:    pricing.DefaultPolicy(),
		CODEnabled: true,
		CODMinimum: decimal.NewFromInt(299),
	}
}

// Line is one requested cart line.
type Line struct {
	VariantID string
	Quantity  int
}

// QuoteRequest prices a cart without persisting anything.
type QuoteRequest struct {
	Items      []Line
	CouponCode string
}

// QuoteResult is the priced cart.
type QuoteResult struct {
	pricing.Quote
	CouponCode string
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Customer      customer.Identity
	Address       Address
	Items         []Line
	PaymentMethod string
	CouponCode    string
	Attribution   Attribution
}

// PlaceOrderResult holds the persisted order and, for online payment, the
// gateway intent the client hands to the hosted checkout.
type PlaceOrderResult struct {
	Order  *Order
	Intent *payment.Intent
}

// StatusUpdate is an admin status change.
type StatusUpdate struct {
	Status         string
	TrackingNumber string
	CourierName    string
	Note           string
}

// Tracking is the customer-facing view of an order.
type Tracking struct {
	Order   *Order
	History []HistoryEntry
}

// Deps groups the collaborators of Service.
type Deps struct {
	Catalog   catalog.Repository
	Coupons   coupon.Validator
	Customers customer.Repository
	Orders    Repository
	Gateway   payment.Gateway
	Settler   *Settler
	Fulfiller Fulfiller
	Numbers   *NumberGenerator
}

// Service encapsulates order placement and lifecycle logic.
type Service struct {
	deps   Deps
	policy Policy
	now    func() time.Time
	tel    *instruments
}

// NewService creates an order Service.
func NewService(deps Deps, policy Policy, opts ...Option) (*Service, error) {
	o := buildOptions(opts)
	tel, err := newInstruments(o)
	if err != nil {
		return nil, err
	}
	if deps.Numbers == nil {
		deps.Numbers = NewNumberGenerator("")
	}
	return &Service{deps: deps, policy: policy, now: o.now, tel: tel}, nil
}

type pricedCart struct {
	items    []Item
	quote    pricing.Quote
	discount *coupon.Discount
}

// price resolves variants from the live catalog, checks stock, validates the
// coupon against the subtotal and computes totals. Quote and PlaceOrder
// share it.
func (s *Service) price(ctx context.Context, lines []Line, couponCode string) (*pricedCart, error) {
	if len(lines) == 0 {
		return nil, invalid("items", "at least one item is required")
	}

	ids := make([]string, 0, len(lines))
	for i, l := range lines {
		if strings.TrimSpace(l.VariantID) == "" {
			return nil, invalid(fmt.Sprintf("items[%d].variantId", i), "is required")
		}
		if l.Quantity <= 0 {
			return nil, invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than 0")
		}
		ids = append(ids, l.VariantID)
	}

	fetched, err := s.deps.Catalog.GetVariants(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get variants")
	}
	variants := make(map[string]catalog.Variant, len(fetched))
	for _, v := range fetched {
		variants[v.ID] = v
	}

	requests := make([]inventory.Request, len(lines))
	for i, l := range lines {
		if _, ok := variants[l.VariantID]; !ok {
			return nil, invalid(fmt.Sprintf("items[%d].variantId", i), "unknown variant %s", l.VariantID)
		}
		requests[i] = inventory.Request{VariantID: l.VariantID, Quantity: l.Quantity}
	}
	if err := inventory.Check(requests, variants); err != nil {
		return nil, err
	}

	items := make([]Item, len(lines))
	priced := make([]pricing.Line, len(lines))
	for i, l := range lines {
		v := variants[l.VariantID]
		priced[i] = pricing.Line{UnitPrice: v.UnitPrice(), Quantity: l.Quantity}
		items[i] = Item{
			ProductID:   v.ProductID,
			VariantID:   v.ID,
			ProductName: v.ProductName,
			Size:        v.Size,
			Color:       v.Color,
			SKU:         v.SKU,
			UnitPrice:   v.UnitPrice(),
			Quantity:    l.Quantity,
			LineTotal:   priced[i].Total(),
		}
	}

	discountAmount := decimal.Zero
	var discount *coupon.Discount
	if strings.TrimSpace(couponCode) != "" {
		discount, err = s.deps.Coupons.Validate(ctx, couponCode, pricing.Subtotal(priced))
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
		discountAmount = discount.Amount
	}

	return &pricedCart{
		items:    items,
		quote:    s.policy.Pricing.Quote(priced, discountAmount),
		discount: discount,
	}, nil
}

// Quote prices a cart exactly as PlaceOrder would.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	cart, err := s.price(ctx, req.Items, req.CouponCode)
	if err != nil {
		return nil, err
	}
	res := &QuoteResult{Quote: cart.quote}
	if cart.discount != nil {
		res.CouponCode = cart.discount.Code
	}
	return res, nil
}

// PlaceOrder validates the request, recomputes prices from the catalog,
// persists the order and either creates a payment intent or, for cash on
// delivery, settles immediately.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	ctx, span := s.tel.tracer.Start(ctx, "order.PlaceOrder")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	method, ok := ParsePaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod)))
	if !ok {
		return nil, invalid("paymentMethod", "unsupported payment method %q", req.PaymentMethod)
	}
	identity := req.Customer.Normalize()
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	if err := validateAddress(req.Address); err != nil {
		return nil, err
	}

	cart, err := s.price(ctx, req.Items, req.CouponCode)
	if err != nil {
		return nil, err
	}

	if method == MethodCOD {
		if !s.policy.CODEnabled {
			return nil, ErrCODUnavailable
		}
		if cart.quote.Total.LessThan(s.policy.CODMinimum) {
			return nil, &CODMinimumError{Minimum: s.policy.CODMinimum}
		}
	}

	cust, err := s.deps.Customers.Resolve(ctx, identity)
	if err != nil {
		return nil, errors.Wrap(err, "resolve customer")
	}

	o := &Order{
		ID:             uuid.New().String(),
		CustomerID:     cust.ID,
		Contact:        Contact{Name: cust.Name, Email: cust.Email, Phone: cust.Phone, WhatsAppOptIn: cust.WhatsAppOptIn},
		Address:        trimAddress(req.Address),
		Items:          cart.items,
		PaymentMethod:  method,
		PaymentStatus:  PaymentPending,
		Status:         StatusPending,
		Subtotal:       cart.quote.Subtotal,
		ShippingCharge: cart.quote.Shipping,
		Discount:       cart.quote.Discount,
		Total:          cart.quote.Total,
		Attribution:    req.Attribution,
		CreatedAt:      s.now(),
	}
	if method == MethodCOD {
		o.Status = StatusConfirmed
	}
	if cart.discount != nil {
		o.CouponCode = cart.discount.Code
	}

	intent, err := s.persist(ctx, o)
	if err != nil {
		return nil, err
	}
	s.tel.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(method))))

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("order_number", o.Number))
	lg.Info("Order placed",
		zap.String("payment_method", string(method)),
		zap.String("total", o.Total.String()),
	)

	if method == MethodCOD {
		if _, err := s.deps.Settler.settle(ctx, o, ""); err != nil {
			var conflict *StockConflictError
			if errors.As(err, &conflict) {
				s.cancelUnsettled(ctx, o)
				return nil, s.insufficientStock(ctx, o, conflict)
			}
			return nil, err
		}
	}

	return &PlaceOrderResult{Order: o, Intent: intent}, nil
}

// insufficientStock reports a settlement stock conflict the way the
// pre-order check does, with the stock left after the competing settlement.
func (s *Service) insufficientStock(ctx context.Context, o *Order, conflict *StockConflictError) error {
	e := &inventory.InsufficientStockError{VariantID: conflict.VariantID, Requested: conflict.Requested}
	for _, it := range o.Items {
		if it.VariantID == conflict.VariantID {
			e.ProductName, e.Size = it.ProductName, it.Size
			break
		}
	}
	if variants, err := s.deps.Catalog.GetVariants(ctx, []string{conflict.VariantID}); err == nil && len(variants) == 1 {
		e.Available = variants[0].Stock
	}
	return e
}

// persist assigns an order number, creates the payment intent for online
// methods and writes the order, retrying on number collisions. The intent is
// created once; its receipt is the first number tried.
func (s *Service) persist(ctx context.Context, o *Order) (*payment.Intent, error) {
	o.Number = s.deps.Numbers.Next()

	var intent *payment.Intent
	if o.PaymentMethod.Online() {
		var err error
		intent, err = s.deps.Gateway.CreateIntent(ctx, o.Total, o.Number)
		if err != nil {
			return nil, errors.Wrap(err, "create payment intent")
		}
		o.GatewayOrderID = intent.ID
	}

	for attempt := 1; ; attempt++ {
		err := s.deps.Orders.Create(ctx, o, placedNote)
		if err == nil {
			return intent, nil
		}
		if !errors.Is(err, ErrDuplicateNumber) || attempt >= maxNumberAttempts {
			return nil, errors.Wrap(err, "create order")
		}
		zctx.From(ctx).Warn("Order number collision, regenerating", zap.String("order_number", o.Number))
		o.Number = s.deps.Numbers.Next()
	}
}

// cancelUnsettled cancels a cash on delivery order whose stock disappeared
// between the check and settlement. No money was taken.
func (s *Service) cancelUnsettled(ctx context.Context, o *Order) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	if _, err := s.deps.Orders.Transition(context.WithoutCancel(ctx), Transition{
		OrderID: o.ID,
		From:    o.Status,
		To:      StatusCancelled,
		Note:    stockLostNote,
	}); err != nil {
		lg.Error("Failed to cancel order after stock conflict", zap.Error(err))
		return
	}
	lg.Warn("Cancelled cash on delivery order after stock conflict")
}

// Track returns an order and its history by order number. When phoneLast4
// is set it must match the last four digits of the customer's phone.
func (s *Service) Track(ctx context.Context, number, phoneLast4 string) (*Tracking, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == "" {
		return nil, invalid("orderNumber", "is required")
	}

	o, err := s.deps.Orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if phoneLast4 = strings.TrimSpace(phoneLast4); phoneLast4 != "" {
		phone := digits(o.Contact.Phone)
		if phone == "" {
			phone = digits(o.Address.Phone)
		}
		if !strings.HasSuffix(phone, digits(phoneLast4)) || len(digits(phoneLast4)) != 4 {
			return nil, ErrNotFound
		}
	}

	history, err := s.deps.Orders.History(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "get history")
	}
	return &Tracking{Order: o, History: history}, nil
}

// UpdateStatus applies an admin status change along the order lifecycle.
// Setting the current status again only updates the shipping details.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, upd StatusUpdate) (*Order, error) {
	to, ok := ParseStatus(strings.ToUpper(strings.TrimSpace(upd.Status)))
	if !ok {
		return nil, invalid("status", "unknown status %q", upd.Status)
	}

	o, err := s.deps.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if to != o.Status && !CanTransition(o.Status, to) {
		return nil, &TransitionError{From: o.Status, To: to}
	}

	updated, err := s.deps.Orders.Transition(ctx, Transition{
		OrderID:        o.ID,
		From:           o.Status,
		To:             to,
		TrackingNumber: strings.TrimSpace(upd.TrackingNumber),
		CourierName:    strings.TrimSpace(upd.CourierName),
		Note:           strings.TrimSpace(upd.Note),
	})
	if err != nil {
		return nil, errors.Wrap(err, "transition")
	}

	zctx.From(ctx).Info("Order status updated",
		zap.String("order_id", o.ID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)),
	)

	switch {
	case to == o.Status:
	case to == StatusShipped:
		s.deps.Fulfiller.OrderShipped(ctx, updated)
	case to == StatusCancelled && updated.ShipmentID != "":
		s.deps.Fulfiller.OrderCancelled(ctx, updated)
	}
	return updated, nil
}

func validateIdentity(id customer.Identity) error {
	if id.ID != "" {
		return nil
	}
	if id.Name == "" {
		return invalid("customer.name", "is required")
	}
	if _, err := mail.ParseAddress(id.Email); err != nil || !strings.Contains(id.Email, "@") {
		return invalid("customer.email", "must be a valid email address")
	}
	if n := len(digits(id.Phone)); n < 10 || n > 13 {
		return invalid("customer.phone", "must contain 10 to 13 digits")
	}
	return nil
}

func validateAddress(a Address) error {
	required := []struct {
		field, value string
	}{
		{"address.name", a.Name},
		{"address.phone", a.Phone},
		{"address.line1", a.Line1},
		{"address.city", a.City},
		{"address.state", a.State},
		{"address.pincode", a.Pincode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return invalid(r.field, "is required")
		}
	}
	pin := strings.TrimSpace(a.Pincode)
	if len(pin) != 6 || digits(pin) != pin {
		return invalid("address.pincode", "must be 6 digits")
	}
	return nil
}

func trimAddress(a Address) Address {
	return Address{
		Name:    strings.TrimSpace(a.Name),
		Phone:   strings.TrimSpace(a.Phone),
		Line1:   strings.TrimSpace(a.Line1),
		Line2:   strings.TrimSpace(a.Line2),
		City:    strings.TrimSpace(a.City),
		State:   strings.TrimSpace(a.State),
		Pincode: strings.TrimSpace(a.Pincode),
	}
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
