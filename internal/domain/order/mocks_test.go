package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/nopego-checkout/internal/domain/catalog"
	"github.com/xenking/nopego-checkout/internal/domain/coupon"
	"github.com/xenking/nopego-checkout/internal/domain/customer"
	"github.com/xenking/nopego-checkout/internal/domain/payment"
)

// --- Mock implementations ---

type mockCatalog struct {
	variants map[string]catalog.Variant
	err      error
}

func (m *mockCatalog) GetVariants(_ context.Context, ids []string) ([]catalog.Variant, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []catalog.Variant
	for _, id := range ids {
		if v, ok := m.variants[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

type mockCouponRepo struct {
	mu      sync.Mutex
	coupons map[string]*coupon.Coupon
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

type mockRedeemer struct {
	mu       sync.Mutex
	redeemed map[string]bool
	calls    int
	err      error
}

func (m *mockRedeemer) Redeem(_ context.Context, code, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	if m.redeemed == nil {
		m.redeemed = make(map[string]bool)
	}
	key := code + "/" + orderID
	if m.redeemed[key] {
		return false, nil
	}
	m.redeemed[key] = true
	return true, nil
}

func (m *mockRedeemer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redeemed)
}

type mockCustomers struct {
	mu      sync.Mutex
	byEmail map[string]*customer.Customer
}

func (m *mockCustomers) Resolve(_ context.Context, id customer.Identity) (*customer.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byEmail == nil {
		m.byEmail = make(map[string]*customer.Customer)
	}
	for _, c := range m.byEmail {
		if id.ID != "" && c.ID == id.ID {
			return c, nil
		}
	}
	c, ok := m.byEmail[id.Email]
	if !ok {
		c = &customer.Customer{ID: fmt.Sprintf("cust-%d", len(m.byEmail)+1), Email: id.Email}
		m.byEmail[id.Email] = c
	}
	c.Name, c.Phone, c.WhatsAppOptIn = id.Name, id.Phone, id.WhatsAppOptIn
	return c, nil
}

type mockGateway struct {
	mu        sync.Mutex
	intents   []payment.Intent
	createErr error
	secret    string
}

func (m *mockGateway) CreateIntent(_ context.Context, amount decimal.Decimal, reference string) (*payment.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	in := payment.Intent{
		ID:       fmt.Sprintf("order_%d", len(m.intents)+1),
		Amount:   payment.MinorUnits(amount),
		Currency: payment.Currency,
		Receipt:  reference,
	}
	m.intents = append(m.intents, in)
	return &in, nil
}

func (m *mockGateway) sign(intentID, paymentID string) string {
	return m.secret + ":" + intentID + "|" + paymentID
}

func (m *mockGateway) Verify(c payment.Confirmation) error {
	if c.Signature != m.sign(c.IntentID, c.PaymentID) {
		return payment.ErrInvalidSignature
	}
	return nil
}

// memStore is an in-memory order repository and settlement store. Settle
// applies the same gate as the database: an order settles once.
type memStore struct {
	mu        sync.Mutex
	orders    map[string]*Order
	history   map[string][]HistoryEntry
	stock     map[string]int
	stats     map[string]int
	dupFirst  int
	creates   int
	settles   int
	flagged   map[string]string
	shipments map[string]string
}

func newMemStore(stock map[string]int) *memStore {
	return &memStore{
		orders:    make(map[string]*Order),
		history:   make(map[string][]HistoryEntry),
		stock:     stock,
		stats:     make(map[string]int),
		flagged:   make(map[string]string),
		shipments: make(map[string]string),
	}
}

func (m *memStore) Create(_ context.Context, o *Order, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.dupFirst > 0 {
		m.dupFirst--
		return ErrDuplicateNumber
	}
	cp := *o
	m.orders[o.ID] = &cp
	m.history[o.ID] = append(m.history[o.ID], HistoryEntry{Status: o.Status, Note: note, CreatedAt: time.Now()})
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetByNumber(_ context.Context, number string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Number == number {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) History(_ context.Context, orderID string) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryEntry(nil), m.history[orderID]...), nil
}

func (m *memStore) SetShipmentID(_ context.Context, orderID, shipmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shipments[orderID] = shipmentID
	if o, ok := m.orders[orderID]; ok {
		o.ShipmentID = shipmentID
	}
	return nil
}

func (m *memStore) Transition(_ context.Context, t Transition) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[t.OrderID]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != t.From {
		return nil, ErrStatusChanged
	}
	if t.TrackingNumber != "" {
		o.TrackingNumber = t.TrackingNumber
	}
	if t.CourierName != "" {
		o.CourierName = t.CourierName
	}
	if t.To != t.From {
		o.Status = t.To
		m.history[o.ID] = append(m.history[o.ID], HistoryEntry{Status: t.To, Note: t.Note, CreatedAt: time.Now()})
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) FlagReconciliation(_ context.Context, orderID, paymentID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flagged[orderID] = paymentID + ": " + note
	if o, ok := m.orders[orderID]; ok {
		o.NeedsReconciliation = true
		o.GatewayPaymentID = paymentID
	}
	return nil
}

func (m *memStore) Settle(_ context.Context, s Settlement) (*SettlementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[s.OrderID]
	if !ok {
		return nil, ErrNotFound
	}
	if o.SettledAt != nil {
		cp := *o
		return &SettlementResult{Order: &cp, AlreadySettled: true}, nil
	}
	if o.Status != StatusPending && o.Status != StatusConfirmed {
		return nil, ErrNotSettleable
	}
	if o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentRefunded {
		return nil, ErrNotSettleable
	}

	var levels []catalog.StockLevel
	next := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		have, ok := next[it.VariantID]
		if !ok {
			have = m.stock[it.VariantID]
		}
		if have < it.Quantity {
			return nil, &StockConflictError{OrderID: o.ID, VariantID: it.VariantID, Requested: it.Quantity}
		}
		next[it.VariantID] = have - it.Quantity
		levels = append(levels, catalog.StockLevel{VariantID: it.VariantID, Stock: have - it.Quantity, Threshold: 2})
	}
	for id, v := range next {
		m.stock[id] = v
	}

	m.settles++
	at := s.At
	o.SettledAt = &at
	if o.PaymentMethod.Online() {
		o.PaymentStatus = PaymentPaid
		o.GatewayPaymentID = s.PaymentID
	}
	if o.Status != StatusConfirmed {
		o.Status = StatusConfirmed
		m.history[o.ID] = append(m.history[o.ID], HistoryEntry{Status: StatusConfirmed, CreatedAt: at})
	}
	m.stats[o.CustomerID]++

	cp := *o
	return &SettlementResult{Order: &cp, StockLevels: levels}, nil
}

type fulfillEvent struct {
	kind     string
	orderID  string
	lowStock []catalog.StockLevel
}

type mockFulfiller struct {
	mu     sync.Mutex
	events []fulfillEvent
}

func (m *mockFulfiller) OrderSettled(_ context.Context, o *Order, low []catalog.StockLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, fulfillEvent{kind: "settled", orderID: o.ID, lowStock: low})
}

func (m *mockFulfiller) OrderShipped(_ context.Context, o *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, fulfillEvent{kind: "shipped", orderID: o.ID})
}

func (m *mockFulfiller) OrderCancelled(_ context.Context, o *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, fulfillEvent{kind: "cancelled", orderID: o.ID})
}

func (m *mockFulfiller) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.kind
	}
	return out
}
