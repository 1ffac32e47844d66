package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/nopego-checkout/internal/domain/catalog"
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	MethodUPI        PaymentMethod = "UPI"
	MethodCard       PaymentMethod = "CARD"
	MethodNetBanking PaymentMethod = "NETBANKING"
	MethodCOD        PaymentMethod = "COD"
	MethodEMI        PaymentMethod = "EMI"
	MethodWallet     PaymentMethod = "WALLET"
)

// ParsePaymentMethod accepts the upper-case method names.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch m := PaymentMethod(s); m {
	case MethodUPI, MethodCard, MethodNetBanking, MethodCOD, MethodEMI, MethodWallet:
		return m, true
	default:
		return "", false
	}
}

// Online reports whether the method goes through the payment gateway.
func (m PaymentMethod) Online() bool { return m != MethodCOD }

// PaymentStatus tracks money movement for an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Item is an immutable snapshot of a purchased line.
type Item struct {
	ProductID   string
	VariantID   string
	ProductName string
	Size        string
	Color       string
	SKU         string
	UnitPrice   decimal.Decimal
	Quantity    int
	LineTotal   decimal.Decimal
}

// Address is the delivery address captured with the order.
type Address struct {
	Name    string
	Phone   string
	Line1   string
	Line2   string
	City    string
	State   string
	Pincode string
}

// Attribution holds marketing tags captured at checkout.
type Attribution struct {
	Source   string
	Medium   string
	Campaign string
}

// Contact is the customer's reachable details as of order load time.
type Contact struct {
	Name          string
	Email         string
	Phone         string
	WhatsAppOptIn bool
}

// Order is the order aggregate.
type Order struct {
	ID             string
	Number         string
	CustomerID     string
	Contact        Contact
	Address        Address
	Items          []Item
	PaymentMethod  PaymentMethod
	PaymentStatus  PaymentStatus
	Status         Status
	Subtotal       decimal.Decimal
	ShippingCharge decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	CouponCode     string
	Attribution    Attribution

	GatewayOrderID   string
	GatewayPaymentID string
	ShipmentID       string
	TrackingNumber   string
	CourierName      string

	SettledAt           *time.Time
	NeedsReconciliation bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HistoryEntry is one append-only status history row.
type HistoryEntry struct {
	Status    Status
	Note      string
	CreatedAt time.Time
}

// Transition describes a compare-and-set status change. When From equals
// To only the shipping fields are updated and no history is appended.
type Transition struct {
	OrderID        string
	From           Status
	To             Status
	TrackingNumber string
	CourierName    string
	Note           string
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts the order with its items, address snapshot and an
	// initial history entry. It returns ErrDuplicateNumber when the order
	// number is taken.
	Create(ctx context.Context, o *Order, note string) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	// History returns entries in the order they were appended.
	History(ctx context.Context, orderID string) ([]HistoryEntry, error)
	SetShipmentID(ctx context.Context, orderID, shipmentID string) error
	// Transition returns ErrStatusChanged when the stored status is no
	// longer t.From.
	Transition(ctx context.Context, t Transition) (*Order, error)
	// FlagReconciliation marks a paid order whose settlement could not
	// complete, without touching its status.
	FlagReconciliation(ctx context.Context, orderID, paymentID, note string) error
}

// Settlement is a request to settle one order.
type Settlement struct {
	OrderID   string
	PaymentID string
	At        time.Time
}

// SettlementResult describes what the store did.
type SettlementResult struct {
	Order *Order
	// AlreadySettled is set when another call settled the order first and
	// nothing was applied.
	AlreadySettled bool
	// StockLevels lists the remaining stock of every decremented variant.
	StockLevels []catalog.StockLevel
}

// SettlementStore applies a settlement as one atomic unit: payment and
// status flip, history entry, customer statistics and stock decrements. The
// unsettled state of the order row is the serialization gate, so of any
// number of concurrent calls exactly one applies changes. A decrement that
// would take stock below zero fails the whole unit with *StockConflictError.
type SettlementStore interface {
	Settle(ctx context.Context, s Settlement) (*SettlementResult, error)
}

// Fulfiller receives post-settlement events. Implementations must not block
// and have no way to report failure: everything they do is best effort.
type Fulfiller interface {
	OrderSettled(ctx context.Context, o *Order, lowStock []catalog.StockLevel)
	OrderShipped(ctx context.Context, o *Order)
	// OrderCancelled is called after an admin cancels an order that already
	// has a carrier shipment.
	OrderCancelled(ctx context.Context, o *Order)
}
