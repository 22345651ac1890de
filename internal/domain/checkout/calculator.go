// Package checkout computes order totals. Cart previews and order creation
// both go through Calculate so the numbers a customer sees are the numbers
// that get charged.
package checkout

import "github.com/shopspring/decimal"

var (
	FreeShippingThreshold = decimal.NewFromInt(1000)
	FlatShippingPrice     = decimal.NewFromInt(50)
	TaxRate               = decimal.RequireFromString("0.18")
)

const moneyPlaces = 2

// Line is one priced entry of a cart or order.
type Line struct {
	Price    decimal.Decimal
	Quantity int
}

type Totals struct {
	ItemsPrice    decimal.Decimal `json:"itemsPrice"`
	ShippingPrice decimal.Decimal `json:"shippingPrice"`
	TaxPrice      decimal.Decimal `json:"taxPrice"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
}

// Calculate is pure; it never touches storage.
func Calculate(lines []Line) Totals {
	items := Subtotal(lines)

	shipping := FlatShippingPrice
	if items.GreaterThan(FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	tax := items.Mul(TaxRate).Round(moneyPlaces)
	total := items.Add(shipping).Add(tax).Round(moneyPlaces)

	return Totals{
		ItemsPrice:    items,
		ShippingPrice: shipping,
		TaxPrice:      tax,
		TotalPrice:    total,
	}
}

// Subtotal is Σ(price × quantity).
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}
