package fulfillment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/nopego-checkout/internal/carrier/shiprocket"
	"github.com/xenking/nopego-checkout/internal/domain/catalog"
	"github.com/xenking/nopego-checkout/internal/domain/order"
	"github.com/xenking/nopego-checkout/internal/notify"
	"github.com/xenking/nopego-checkout/internal/notify/email"
)

// --- Mock implementations ---

type syncQueue struct {
	tasks []Task
}

func (q *syncQueue) Enqueue(t Task) { q.tasks = append(q.tasks, t) }

func (q *syncQueue) names() []string {
	out := make([]string, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.Name
	}
	return out
}

func (q *syncQueue) runAll(t *testing.T) []error {
	t.Helper()
	errs := make([]error, len(q.tasks))
	for i, task := range q.tasks {
		errs[i] = task.Run(context.Background())
	}
	return errs
}

type sentMessage struct {
	phone, text string
}

type mockWhatsApp struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (m *mockWhatsApp) Send(_ context.Context, phone, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{phone, text})
	return nil
}

type mockEmail struct {
	sent []email.Message
	err  error
}

func (m *mockEmail) Send(_ context.Context, msg email.Message) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "em_1", nil
}

type mockCarrier struct {
	requests  []shiprocket.ShipmentRequest
	cancelled []string
}

func (m *mockCarrier) CreateShipment(_ context.Context, r shiprocket.ShipmentRequest) (*shiprocket.Shipment, error) {
	m.requests = append(m.requests, r)
	return &shiprocket.Shipment{OrderID: "281248157", ShipmentID: "280640052"}, nil
}

func (m *mockCarrier) Cancel(_ context.Context, ids ...string) error {
	m.cancelled = append(m.cancelled, ids...)
	return nil
}

type mockShipments struct {
	saved map[string]string
}

func (m *mockShipments) SetShipmentID(_ context.Context, orderID, shipmentID string) error {
	m.saved[orderID] = shipmentID
	return nil
}

func settledOrder(optIn bool) *order.Order {
	return &order.Order{
		ID:     "ord-1",
		Number: "NPG-2026-0A1B2C3D",
		Contact: order.Contact{
			Name: "Asha Rao", Email: "asha@example.com", Phone: "9876543210", WhatsAppOptIn: optIn,
		},
		Address: order.Address{
			Name: "Asha Rao", Phone: "9876543211", Line1: "12 MG Road",
			City: "Bengaluru", State: "Karnataka", Pincode: "560001",
		},
		Items: []order.Item{{
			ProductName: "Stride Runner", SKU: "STR-9-BLK", Size: "UK9", Color: "Black",
			UnitPrice: decimal.NewFromInt(1499), Quantity: 2, LineTotal: decimal.NewFromInt(2998),
		}},
		PaymentMethod:  order.MethodUPI,
		Subtotal:       decimal.NewFromInt(2998),
		ShippingCharge: decimal.Zero,
		Discount:       decimal.Zero,
		Total:          decimal.NewFromInt(2998),
		CreatedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

type tasksFixture struct {
	queue     *syncQueue
	whatsapp  *mockWhatsApp
	email     *mockEmail
	carrier   *mockCarrier
	shipments *mockShipments
	fulfiller *Fulfiller
}

func newTasksFixture() *tasksFixture {
	f := &tasksFixture{
		queue:     &syncQueue{},
		whatsapp:  &mockWhatsApp{},
		email:     &mockEmail{},
		carrier:   &mockCarrier{},
		shipments: &mockShipments{saved: map[string]string{}},
	}
	f.fulfiller = NewFulfiller(Deps{
		Queue:      f.queue,
		Renderer:   notify.Renderer{AppURL: "https://nopego.com"},
		WhatsApp:   f.whatsapp,
		AdminPhone: "+91 90000 00000",
		Email:      f.email,
		Carrier:    f.carrier,
		Shipments:  f.shipments,
	})
	return f
}

func TestFulfiller_OrderSettled(t *testing.T) {
	f := newTasksFixture()
	low := []catalog.StockLevel{{VariantID: "var-a", ProductName: "Stride Runner", SKU: "STR-9-BLK", Size: "UK9", Stock: 1, Threshold: 5}}

	f.fulfiller.OrderSettled(context.Background(), settledOrder(true), low)
	assert.Equal(t, []string{
		TaskWhatsAppConfirmation,
		TaskEmailConfirmation,
		TaskShipmentCreate,
		TaskLowStockAlert,
	}, f.queue.names())

	for _, err := range f.queue.runAll(t) {
		require.NoError(t, err)
	}

	require.Len(t, f.whatsapp.sent, 2)
	assert.Equal(t, "9876543210", f.whatsapp.sent[0].phone)
	assert.Contains(t, f.whatsapp.sent[0].text, "NPG-2026-0A1B2C3D")
	assert.Equal(t, "+91 90000 00000", f.whatsapp.sent[1].phone)
	assert.Contains(t, f.whatsapp.sent[1].text, "STR-9-BLK")

	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "asha@example.com", f.email.sent[0].To)
	assert.Equal(t, "Order Confirmed — NPG-2026-0A1B2C3D | Nopego", f.email.sent[0].Subject)

	require.Len(t, f.carrier.requests, 1)
	req := f.carrier.requests[0]
	assert.Equal(t, "9876543211", req.Phone)
	assert.False(t, req.CashOnDelivery)
	require.Len(t, req.Items, 1)
	assert.True(t, req.Items[0].SellingPrice.Equal(decimal.NewFromInt(1499)))
	assert.Equal(t, "281248157", f.shipments.saved["ord-1"])
}

func TestFulfiller_OrderSettled_SkipsDisabled(t *testing.T) {
	q := &syncQueue{}
	fl := NewFulfiller(Deps{Queue: q, Email: &mockEmail{}})

	fl.OrderSettled(context.Background(), settledOrder(true), []catalog.StockLevel{{Stock: 0}})
	assert.Equal(t, []string{TaskEmailConfirmation}, q.names())

	f := newTasksFixture()
	f.fulfiller.OrderSettled(context.Background(), settledOrder(false), nil)
	assert.Equal(t, []string{TaskEmailConfirmation, TaskShipmentCreate}, f.queue.names())
}

func TestFulfiller_TaskErrorsSurfaceToDispatcher(t *testing.T) {
	f := newTasksFixture()
	f.email.err = errors.New("resend: 500")

	f.fulfiller.OrderSettled(context.Background(), settledOrder(false), nil)
	errs := f.queue.runAll(t)
	require.Len(t, errs, 2)
	assert.Error(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestFulfiller_OrderShipped(t *testing.T) {
	f := newTasksFixture()
	o := settledOrder(true)

	f.fulfiller.OrderShipped(context.Background(), o)
	assert.Empty(t, f.queue.names(), "no tracking number yet")

	o.TrackingNumber = "AWB123"
	f.fulfiller.OrderShipped(context.Background(), o)
	require.Equal(t, []string{TaskShippingUpdate}, f.queue.names())
	for _, err := range f.queue.runAll(t) {
		require.NoError(t, err)
	}
	require.Len(t, f.whatsapp.sent, 1)
	assert.Contains(t, f.whatsapp.sent[0].text, "Courier: *Courier*")
	assert.Contains(t, f.whatsapp.sent[0].text, "AWB123")
}

func TestFulfiller_OrderCancelled(t *testing.T) {
	f := newTasksFixture()
	o := settledOrder(false)

	f.fulfiller.OrderCancelled(context.Background(), o)
	assert.Empty(t, f.queue.names())

	o.ShipmentID = "281248157"
	f.fulfiller.OrderCancelled(context.Background(), o)
	for _, err := range f.queue.runAll(t) {
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"281248157"}, f.carrier.cancelled)
}
