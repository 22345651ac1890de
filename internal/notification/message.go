package notification

import (
	"time"

	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/shopspring/decimal"
)

const TypeOrderPlaced = "OrderPlaced"

type MessageItem struct {
	Name     string          `json:"name"`
	SKU      string          `json:"sku"`
	Size     string          `json:"size"`
	Color    string          `json:"color"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// OrderPlacedMessage carries everything the mail worker needs, so it never
// has to read the order database.
type OrderPlacedMessage struct {
	Type            string                `json:"type"`
	OrderID         string                `json:"orderId"`
	UserID          string                `json:"userId"`
	Email           string                `json:"email"`
	Items           []MessageItem         `json:"items"`
	ShippingAddress order.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                `json:"paymentMethod"`
	ItemsPrice      decimal.Decimal       `json:"itemsPrice"`
	ShippingPrice   decimal.Decimal       `json:"shippingPrice"`
	TaxPrice        decimal.Decimal       `json:"taxPrice"`
	TotalPrice      decimal.Decimal       `json:"totalPrice"`
	PlacedAt        time.Time             `json:"placedAt"`
}

func NewOrderPlacedMessage(o *order.Order, email string) OrderPlacedMessage {
	items := make([]MessageItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = MessageItem{
			Name:     it.Name,
			SKU:      it.SKU,
			Size:     it.Size,
			Color:    it.Color,
			Quantity: it.Quantity,
			Price:    it.PriceAtTimeOfPurchase,
		}
	}
	return OrderPlacedMessage{
		Type:            TypeOrderPlaced,
		OrderID:         o.ID,
		UserID:          o.UserID,
		Email:           email,
		Items:           items,
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   o.PaymentMethod,
		ItemsPrice:      o.ItemsPrice,
		ShippingPrice:   o.ShippingPrice,
		TaxPrice:        o.TaxPrice,
		TotalPrice:      o.TotalPrice,
		PlacedAt:        o.CreatedAt,
	}
}
