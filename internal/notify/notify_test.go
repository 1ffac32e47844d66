package notify

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatINR(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "₹0"},
		{"49", "₹49"},
		{"999", "₹999"},
		{"1499", "₹1,499"},
		{"1499.5", "₹1,499.50"},
		{"1499.05", "₹1,499.05"},
		{"123456", "₹1,23,456"},
		{"12345678.9", "₹1,23,45,678.90"},
		{"-200", "-₹200"},
		{"0.004", "₹0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatINR(decimal.RequireFromString(tt.in)))
		})
	}
}

func exampleSummary() OrderSummary {
	return OrderSummary{
		CustomerName: "Asha <Rao>",
		OrderNumber:  "NPG-2026-0A1B2C3D",
		Items: []Line{
			{Name: "Stride Runner", Size: "UK9", Color: "Black", Quantity: 2, LineTotal: decimal.NewFromInt(2998)},
		},
		Subtotal: decimal.NewFromInt(2998),
		Shipping: decimal.Zero,
		Discount: decimal.NewFromInt(200),
		Total:    decimal.NewFromInt(2798),
		Address:  "12 MG Road, Bengaluru - 560001",
	}
}

func TestRenderer_OrderConfirmationEmail(t *testing.T) {
	r := Renderer{AppURL: "https://nopego.com/"}
	email, err := r.OrderConfirmationEmail(exampleSummary())
	require.NoError(t, err)

	assert.Equal(t, "Order Confirmed — NPG-2026-0A1B2C3D | Nopego", email.Subject)
	assert.Contains(t, email.HTML, "Asha &lt;Rao&gt;")
	assert.Contains(t, email.HTML, "Stride Runner (Black, UK9) x2")
	assert.Contains(t, email.HTML, "₹2,998")
	assert.Contains(t, email.HTML, "-₹200")
	assert.Contains(t, email.HTML, "FREE")
	assert.Contains(t, email.HTML, "₹2,798")
}

func TestRenderer_Texts(t *testing.T) {
	r := Renderer{AppURL: "https://nopego.com/"}

	msg, err := r.OrderConfirmationText(exampleSummary())
	require.NoError(t, err)
	assert.Contains(t, msg, "*NPG-2026-0A1B2C3D* is confirmed")
	assert.Contains(t, msg, "*2 item(s)* · Total: *₹2,798*")
	assert.Contains(t, msg, "https://nopego.com/track")

	msg, err = r.ShippingUpdateText(Shipment{
		CustomerName: "Asha", OrderNumber: "NPG-2026-0A1B2C3D", TrackingNumber: "AWB123", CourierName: "Delhivery",
	})
	require.NoError(t, err)
	assert.Contains(t, msg, "Courier: *Delhivery*")
	assert.Contains(t, msg, "https://nopego.com/track?order=NPG-2026-0A1B2C3D")

	msg, err = r.LowStockText(LowStock{ProductName: "Stride Runner", SKU: "STR-9-BLK", Size: "UK9", Stock: 2})
	require.NoError(t, err)
	assert.Contains(t, msg, "Product: *Stride Runner* (UK9)")
	assert.Contains(t, msg, "Stock remaining: *2 units*")
}
