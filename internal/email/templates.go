package email

import (
	"bytes"
	"html/template"

	"github.com/shopspring/decimal"
)

// OrderItem represents an item in an order for email purposes
type OrderItem struct {
	Name     string
	SKU      string
	Quantity int
	Price    decimal.Decimal
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderConfirmation is the data rendered into the confirmation mail.
type OrderConfirmation struct {
	OrderID       string
	Items         []OrderItem
	ItemsPrice    decimal.Decimal
	ShippingPrice decimal.Decimal
	TaxPrice      decimal.Decimal
	TotalPrice    decimal.Decimal
	ShipTo        []string
}

func (c OrderConfirmation) ShortID() string {
	if len(c.OrderID) > 8 {
		return c.OrderID[:8]
	}
	return c.OrderID
}

var funcs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return "$" + d.StringFixed(2) },
}

var confirmationTmpl = template.Must(template.New("confirmation").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: #1f2937; padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">Thank you for your order</h1>
	</div>
	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">We have received your order and will let you know when it ships.</p>
		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Order number</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">{{.OrderID}}</p>
		</div>
		<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left;">Item</th>
					<th style="padding: 12px; text-align: center;">Qty</th>
					<th style="padding: 12px; text-align: right;">Price</th>
					<th style="padding: 12px; text-align: right;">Total</th>
				</tr>
			</thead>
			<tbody>
			{{- range .Items}}
				<tr>
					<td style="padding: 12px; border-bottom: 1px solid #eee;">{{.Name}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">{{.Quantity}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">{{money .Price}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">{{money .LineTotal}}</td>
				</tr>
			{{- end}}
			</tbody>
		</table>
		<table style="width: 100%; margin: 20px 0;">
			<tr><td>Items</td><td style="text-align: right;">{{money .ItemsPrice}}</td></tr>
			<tr><td>Shipping</td><td style="text-align: right;">{{money .ShippingPrice}}</td></tr>
			<tr><td>Tax</td><td style="text-align: right;">{{money .TaxPrice}}</td></tr>
			<tr><td style="font-weight: bold;">Total</td><td style="text-align: right; font-weight: bold;">{{money .TotalPrice}}</td></tr>
		</table>
		<h2 style="font-size: 16px;">Shipping to</h2>
		<p>{{range .ShipTo}}{{.}}<br>{{end}}</p>
	</div>
</body>
</html>`))

// BuildOrderConfirmationBody renders the HTML body of the confirmation mail.
func BuildOrderConfirmationBody(c OrderConfirmation) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, c); err != nil {
		return "", err
	}
	return buf.String(), nil
}
