package fulfillment

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/nopego-checkout/internal/carrier/shiprocket"
	"github.com/xenking/nopego-checkout/internal/domain/catalog"
	"github.com/xenking/nopego-checkout/internal/domain/order"
	"github.com/xenking/nopego-checkout/internal/notify"
	"github.com/xenking/nopego-checkout/internal/notify/email"
)

// MessageSender sends a WhatsApp text.
type MessageSender interface {
	Send(ctx context.Context, phone, text string) error
}

// EmailSender sends an email and returns the provider id.
type EmailSender interface {
	Send(ctx context.Context, m email.Message) (string, error)
}

// Carrier books and cancels shipments.
type Carrier interface {
	CreateShipment(ctx context.Context, r shiprocket.ShipmentRequest) (*shiprocket.Shipment, error)
	Cancel(ctx context.Context, orderIDs ...string) error
}

// ShipmentStore records the carrier reference on the order.
type ShipmentStore interface {
	SetShipmentID(ctx context.Context, orderID, shipmentID string) error
}

// Queue accepts tasks without blocking.
type Queue interface {
	Enqueue(t Task)
}

// Deps are the task collaborators. A nil sender or carrier disables the
// tasks that need it.
type Deps struct {
	Queue      Queue
	Renderer   notify.Renderer
	WhatsApp   MessageSender
	AdminPhone string
	Email      EmailSender
	Carrier    Carrier
	Shipments  ShipmentStore
}

var _ order.Fulfiller = (*Fulfiller)(nil)

// Fulfiller turns order events into queued tasks.
type Fulfiller struct {
	deps Deps
}

// NewFulfiller creates a Fulfiller.
func NewFulfiller(deps Deps) *Fulfiller {
	return &Fulfiller{deps: deps}
}

// OrderSettled queues confirmations, shipment booking and restock alerts.
func (f *Fulfiller) OrderSettled(ctx context.Context, o *order.Order, lowStock []catalog.StockLevel) {
	if f.deps.WhatsApp != nil && o.Contact.WhatsAppOptIn && o.Contact.Phone != "" {
		f.enqueue(ctx, TaskWhatsAppConfirmation, o, func(ctx context.Context) error {
			text, err := f.deps.Renderer.OrderConfirmationText(summary(o))
			if err != nil {
				return err
			}
			return f.deps.WhatsApp.Send(ctx, o.Contact.Phone, text)
		})
	}

	if f.deps.Email != nil && o.Contact.Email != "" {
		f.enqueue(ctx, TaskEmailConfirmation, o, func(ctx context.Context) error {
			msg, err := f.deps.Renderer.OrderConfirmationEmail(summary(o))
			if err != nil {
				return err
			}
			id, err := f.deps.Email.Send(ctx, email.Message{To: o.Contact.Email, Subject: msg.Subject, HTML: msg.HTML})
			if err != nil {
				return err
			}
			zctx.From(ctx).Debug("Confirmation email sent", zap.String("email_id", id))
			return nil
		})
	}

	if f.deps.Carrier != nil {
		f.enqueue(ctx, TaskShipmentCreate, o, func(ctx context.Context) error {
			s, err := f.deps.Carrier.CreateShipment(ctx, shipmentRequest(o))
			if err != nil {
				return errors.Wrap(err, "create shipment")
			}
			if err := f.deps.Shipments.SetShipmentID(ctx, o.ID, s.OrderID); err != nil {
				return errors.Wrap(err, "save shipment id")
			}
			zctx.From(ctx).Info("Shipment created", zap.String("shipment_id", s.OrderID))
			return nil
		})
	}

	if f.deps.WhatsApp != nil && f.deps.AdminPhone != "" {
		for _, l := range lowStock {
			f.enqueue(ctx, TaskLowStockAlert, o, func(ctx context.Context) error {
				text, err := f.deps.Renderer.LowStockText(notify.LowStock{
					ProductName: l.ProductName,
					SKU:         l.SKU,
					Size:        l.Size,
					Stock:       l.Stock,
				})
				if err != nil {
					return err
				}
				return f.deps.WhatsApp.Send(ctx, f.deps.AdminPhone, text)
			})
		}
	}
}

// OrderShipped queues the shipping update for opted-in customers with a
// tracking number.
func (f *Fulfiller) OrderShipped(ctx context.Context, o *order.Order) {
	if f.deps.WhatsApp == nil || !o.Contact.WhatsAppOptIn || o.Contact.Phone == "" || o.TrackingNumber == "" {
		return
	}
	courier := o.CourierName
	if courier == "" {
		courier = "Courier"
	}
	f.enqueue(ctx, TaskShippingUpdate, o, func(ctx context.Context) error {
		text, err := f.deps.Renderer.ShippingUpdateText(notify.Shipment{
			CustomerName:   o.Contact.Name,
			OrderNumber:    o.Number,
			TrackingNumber: o.TrackingNumber,
			CourierName:    courier,
		})
		if err != nil {
			return err
		}
		return f.deps.WhatsApp.Send(ctx, o.Contact.Phone, text)
	})
}

// OrderCancelled cancels the carrier booking.
func (f *Fulfiller) OrderCancelled(ctx context.Context, o *order.Order) {
	if f.deps.Carrier == nil || o.ShipmentID == "" {
		return
	}
	f.enqueue(ctx, TaskShipmentCancel, o, func(ctx context.Context) error {
		return f.deps.Carrier.Cancel(ctx, o.ShipmentID)
	})
}

func (f *Fulfiller) enqueue(ctx context.Context, name string, o *order.Order, run func(ctx context.Context) error) {
	zctx.From(ctx).Debug("Queueing fulfillment task", zap.String("task", name), zap.String("order_id", o.ID))
	f.deps.Queue.Enqueue(Task{Name: name, OrderID: o.ID, Run: run})
}

func summary(o *order.Order) notify.OrderSummary {
	lines := make([]notify.Line, len(o.Items))
	for i, it := range o.Items {
		lines[i] = notify.Line{
			Name:      it.ProductName,
			Size:      it.Size,
			Color:     it.Color,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal,
		}
	}
	return notify.OrderSummary{
		CustomerName: o.Contact.Name,
		OrderNumber:  o.Number,
		Items:        lines,
		Subtotal:     o.Subtotal,
		Shipping:     o.ShippingCharge,
		Discount:     o.Discount,
		Total:        o.Total,
		Address:      strings.Join([]string{o.Address.Line1, o.Address.City}, ", ") + " - " + o.Address.Pincode,
	}
}

func shipmentRequest(o *order.Order) shiprocket.ShipmentRequest {
	items := make([]shiprocket.Item, len(o.Items))
	for i, it := range o.Items {
		items[i] = shiprocket.Item{
			Name:         it.ProductName,
			SKU:          it.SKU,
			Units:        it.Quantity,
			SellingPrice: it.UnitPrice,
		}
	}
	phone := o.Address.Phone
	if phone == "" {
		phone = o.Contact.Phone
	}
	return shiprocket.ShipmentRequest{
		OrderNumber:    o.Number,
		OrderDate:      o.CreatedAt,
		CustomerName:   o.Contact.Name,
		Email:          o.Contact.Email,
		Phone:          phone,
		AddressLine1:   o.Address.Line1,
		AddressLine2:   o.Address.Line2,
		City:           o.Address.City,
		State:          o.Address.State,
		Pincode:        o.Address.Pincode,
		Items:          items,
		CashOnDelivery: o.PaymentMethod == order.MethodCOD,
		SubTotal:       o.Subtotal,
	}
}
