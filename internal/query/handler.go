// Package query serves the storefront's reads.
package query

import (
	"context"

	"github.com/example/ec-storefront/internal/auth"
	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/checkout"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/shopspring/decimal"
)

type Handler struct {
	carts  *cart.Store
	orders order.Repository
}

func NewHandler(carts *cart.Store, orders order.Repository) *Handler {
	return &Handler{carts: carts, orders: orders}
}

// Cart
func (h *Handler) GetCart(ctx context.Context, caller auth.Identity) (*cart.Cart, error) {
	return h.carts.Get(ctx, caller.UserID)
}

// CartTotals previews what checkout would charge for the current cart. An
// empty cart costs nothing, shipping included.
func (h *Handler) CartTotals(ctx context.Context, caller auth.Identity) (checkout.Totals, error) {
	c, err := h.carts.Get(ctx, caller.UserID)
	if err != nil {
		return checkout.Totals{}, err
	}
	if c.IsEmpty() {
		zero := decimal.Zero
		return checkout.Totals{ItemsPrice: zero, ShippingPrice: zero, TaxPrice: zero, TotalPrice: zero}, nil
	}
	return checkout.Calculate(c.Lines()), nil
}

// Orders
func (h *Handler) MyOrders(ctx context.Context, caller auth.Identity) ([]*order.Order, error) {
	return h.orders.ListOrdersByUser(ctx, caller.UserID)
}

func (h *Handler) GetOrder(ctx context.Context, caller auth.Identity, orderRef string) (*order.Order, error) {
	id, err := order.ParseID(orderRef)
	if err != nil {
		return nil, err
	}
	o, err := h.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.CanView(caller.UserID, caller.Admin) {
		return nil, order.ErrForbidden
	}
	return o, nil
}
