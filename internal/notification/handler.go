package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/email"
	"go.uber.org/zap"
)

// Sender delivers a rendered confirmation.
type Sender interface {
	SendOrderConfirmation(ctx context.Context, to string, c email.OrderConfirmation) error
}

// Handler processes queued notification messages
type Handler struct {
	sender Sender
	logger *zap.Logger
}

func NewHandler(sender Sender, logger *zap.Logger) *Handler {
	return &Handler{
		sender: sender,
		logger: logger.Named("notification"),
	}
}

// HandleMessage matches kafka.MessageHandler and rabbitmq.MessageHandler.
// Unknown message types are ignored.
func (h *Handler) HandleMessage(ctx context.Context, key, value []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return fmt.Errorf("decode message %s: %w", key, err)
	}
	if head.Type != TypeOrderPlaced {
		h.logger.Debug("ignoring message", zap.String("type", head.Type), zap.ByteString("key", key))
		return nil
	}

	var m OrderPlacedMessage
	if err := json.Unmarshal(value, &m); err != nil {
		return fmt.Errorf("decode %s message %s: %w", TypeOrderPlaced, key, err)
	}
	if m.Email == "" {
		h.logger.Warn("order message without recipient", zap.String("order_id", m.OrderID))
		return nil
	}

	if err := h.sender.SendOrderConfirmation(ctx, m.Email, toConfirmation(m)); err != nil {
		return fmt.Errorf("send confirmation for order %s: %w", m.OrderID, err)
	}

	h.logger.Info("order confirmation sent",
		zap.String("order_id", m.OrderID),
		zap.String("to", m.Email))
	return nil
}

func toConfirmation(m OrderPlacedMessage) email.OrderConfirmation {
	items := make([]email.OrderItem, len(m.Items))
	for i, it := range m.Items {
		name := it.Name
		if it.Size != "" && it.Size != catalog.DefaultVariantLabel {
			name = fmt.Sprintf("%s (%s / %s)", it.Name, it.Size, it.Color)
		}
		items[i] = email.OrderItem{
			Name:     name,
			SKU:      it.SKU,
			Quantity: it.Quantity,
			Price:    it.Price,
		}
	}

	a := m.ShippingAddress
	return email.OrderConfirmation{
		OrderID:       m.OrderID,
		Items:         items,
		ItemsPrice:    m.ItemsPrice,
		ShippingPrice: m.ShippingPrice,
		TaxPrice:      m.TaxPrice,
		TotalPrice:    m.TotalPrice,
		ShipTo:        []string{a.Street, fmt.Sprintf("%s %s %s", a.City, a.State, a.PostalCode), a.Country},
	}
}
