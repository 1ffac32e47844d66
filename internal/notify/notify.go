// Package notify renders customer and admin messages.
package notify

import (
	"bytes"
	"html/template"
	"strings"
	texttemplate "text/template"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Line is one purchased item as shown to the customer.
type Line struct {
	Name      string
	Size      string
	Color     string
	Quantity  int
	LineTotal decimal.Decimal
}

// OrderSummary is the data behind confirmation messages.
type OrderSummary struct {
	CustomerName string
	OrderNumber  string
	Items        []Line
	Subtotal     decimal.Decimal
	Shipping     decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	Address      string
}

// ItemCount is the number of units ordered.
func (s OrderSummary) ItemCount() int {
	n := 0
	for _, l := range s.Items {
		n += l.Quantity
	}
	return n
}

// Shipment is the data behind a shipping update.
type Shipment struct {
	CustomerName   string
	OrderNumber    string
	TrackingNumber string
	CourierName    string
}

// LowStock is the data behind an admin restock alert.
type LowStock struct {
	ProductName string
	SKU         string
	Size        string
	Stock       int
}

// Email is a rendered email.
type Email struct {
	Subject string
	HTML    string
}

var funcs = map[string]any{
	"inr": FormatINR,
	"free": func(d decimal.Decimal) bool {
		return d.IsZero()
	},
}

var (
	confirmationEmail = template.Must(template.New("confirmation").Funcs(funcs).Parse(
		`<div style="font-family:sans-serif;max-width:600px;margin:0 auto;background:#0B1120;color:#fff;padding:32px;border-radius:8px;">
<h1 style="font-size:32px;letter-spacing:4px;margin-bottom:4px;">NOPEGO</h1>
<p style="color:#94A3B8;font-size:13px;margin-bottom:24px;">Order Confirmation</p>
<h2 style="font-size:18px;margin-bottom:8px;">Thank you, {{.CustomerName}}!</h2>
<p style="color:#94A3B8;margin-bottom:4px;">Order: <strong style="color:#fff">{{.OrderNumber}}</strong></p>
<p style="color:#94A3B8;margin-bottom:24px;">We'll start preparing your order right away.</p>
<table style="width:100%;border-collapse:collapse;margin-bottom:16px;">
{{- range .Items}}
<tr><td style="padding:8px;border-bottom:1px solid #1E293B;color:#94A3B8">{{.Name}} ({{.Color}}, {{.Size}}) x{{.Quantity}}</td><td style="padding:8px;border-bottom:1px solid #1E293B;color:#fff;text-align:right">{{inr .LineTotal}}</td></tr>
{{- end}}
<tr><td style="padding:8px;color:#94A3B8">Subtotal</td><td style="padding:8px;text-align:right;color:#fff">{{inr .Subtotal}}</td></tr>
{{- if not (free .Discount)}}
<tr><td style="padding:8px;color:#94A3B8">Discount</td><td style="padding:8px;text-align:right;color:#22c55e">-{{inr .Discount}}</td></tr>
{{- end}}
<tr><td style="padding:8px;color:#94A3B8">Shipping</td><td style="padding:8px;text-align:right;color:#fff">{{if free .Shipping}}FREE{{else}}{{inr .Shipping}}{{end}}</td></tr>
<tr style="border-top:2px solid #FF5A00"><td style="padding:8px;font-weight:bold;color:#fff">Total</td><td style="padding:8px;text-align:right;font-weight:bold;color:#FF5A00;font-size:18px;">{{inr .Total}}</td></tr>
</table>
<p style="color:#94A3B8;font-size:13px;margin-bottom:4px;">Delivering to:</p>
<p style="color:#fff;font-size:13px;margin-bottom:24px;">{{.Address}}</p>
<p style="color:#64748B;font-size:12px;">Questions? WhatsApp us or reply to this email. We're here to help.</p>
</div>`))

	confirmationText = texttemplate.Must(texttemplate.New("confirmation").Funcs(funcs).Parse(
		"Hi {{.Summary.CustomerName}}! Your Nopego order *{{.Summary.OrderNumber}}* is confirmed!\n\n" +
			"*{{.Summary.ItemCount}} item(s)* · Total: *{{inr .Summary.Total}}*\n\n" +
			"We'll ship it within 48 hours. Track your order at {{.AppURL}}/track\n\n" +
			"_Questions? Just reply to this message!_"))

	shippingText = texttemplate.Must(texttemplate.New("shipping").Parse(
		"Hi {{.Shipment.CustomerName}}! Your Nopego order *{{.Shipment.OrderNumber}}* has been shipped!\n\n" +
			"Courier: *{{.Shipment.CourierName}}*\n" +
			"Tracking: *{{.Shipment.TrackingNumber}}*\n\n" +
			"Track at: {{.AppURL}}/track?order={{.Shipment.OrderNumber}}"))

	lowStockText = texttemplate.Must(texttemplate.New("low_stock").Parse(
		"*Low Stock Alert: Nopego*\n\n" +
			"Product: *{{.ProductName}}*{{if .Size}} ({{.Size}}){{end}}\n" +
			"SKU: {{.SKU}}\n" +
			"Stock remaining: *{{.Stock}} units*\n\n" +
			"Time to restock!"))
)

// Renderer renders messages with store-wide settings.
type Renderer struct {
	AppURL string
}

// OrderConfirmationEmail renders the confirmation email.
func (r Renderer) OrderConfirmationEmail(s OrderSummary) (Email, error) {
	var buf bytes.Buffer
	if err := confirmationEmail.Execute(&buf, s); err != nil {
		return Email{}, errors.Wrap(err, "render confirmation email")
	}
	return Email{
		Subject: "Order Confirmed — " + s.OrderNumber + " | Nopego",
		HTML:    buf.String(),
	}, nil
}

// OrderConfirmationText renders the WhatsApp confirmation.
func (r Renderer) OrderConfirmationText(s OrderSummary) (string, error) {
	return execText(confirmationText, struct {
		Summary OrderSummary
		AppURL  string
	}{s, r.appURL()})
}

// ShippingUpdateText renders the WhatsApp shipping update.
func (r Renderer) ShippingUpdateText(s Shipment) (string, error) {
	return execText(shippingText, struct {
		Shipment Shipment
		AppURL   string
	}{s, r.appURL()})
}

// LowStockText renders the admin restock alert.
func (r Renderer) LowStockText(l LowStock) (string, error) {
	return execText(lowStockText, l)
}

func (r Renderer) appURL() string {
	return strings.TrimRight(r.AppURL, "/")
}

func execText(t *texttemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "render %s", t.Name())
	}
	return buf.String(), nil
}

// FormatINR formats rupees with Indian digit grouping, e.g. ₹1,23,456.50.
// Paise are shown only when non-zero.
func FormatINR(d decimal.Decimal) string {
	d = d.Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}

	whole := d.Truncate(0)
	paise := d.Sub(whole).Shift(2).IntPart()
	digits := whole.String()

	var b strings.Builder
	b.WriteString(sign)
	b.WriteString("₹")
	if len(digits) > 3 {
		head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
		for i, r := range head {
			if i > 0 && (len(head)-i)%2 == 0 {
				b.WriteByte(',')
			}
			b.WriteRune(r)
		}
		b.WriteByte(',')
		b.WriteString(tail)
	} else {
		b.WriteString(digits)
	}
	if paise != 0 {
		b.WriteByte('.')
		if paise < 10 {
			b.WriteByte('0')
		}
		b.WriteString(decimal.NewFromInt(paise).String())
	}
	return b.String()
}
