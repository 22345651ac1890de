package command

import (
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/shopspring/decimal"
)

// Cart Commands
type AddToCart struct {
	VariantReference string `json:"variantReference"`
	Quantity         int    `json:"quantity"`
}

type UpdateCartItem struct {
	Quantity int `json:"quantity"`
}

// Order Commands
type PlaceOrder struct {
	ShippingAddress order.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                `json:"paymentMethod"`
	IdempotencyKey  string                `json:"-"`
}

type PayOrder struct {
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Gateway       string          `json:"gateway"`
}

type SetOrderStatus struct {
	Status string `json:"status"`
}
