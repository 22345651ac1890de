// Package command runs the storefront's write operations on behalf of an
// authenticated caller.
package command

import (
	"context"

	"github.com/example/ec-storefront/internal/auth"
	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/order"
)

type Handler struct {
	carts   *cart.Store
	factory *order.Factory
	machine *order.StateMachine
	orders  order.Repository
}

func NewHandler(carts *cart.Store, factory *order.Factory, machine *order.StateMachine, orders order.Repository) *Handler {
	return &Handler{
		carts:   carts,
		factory: factory,
		machine: machine,
		orders:  orders,
	}
}

func (h *Handler) AddToCart(ctx context.Context, caller auth.Identity, cmd AddToCart) (*cart.Cart, error) {
	return h.carts.AddItem(ctx, caller.UserID, cmd.VariantReference, cmd.Quantity)
}

func (h *Handler) UpdateCartItem(ctx context.Context, caller auth.Identity, itemID string, cmd UpdateCartItem) (*cart.Cart, error) {
	return h.carts.UpdateItem(ctx, caller.UserID, itemID, cmd.Quantity)
}

func (h *Handler) RemoveFromCart(ctx context.Context, caller auth.Identity, itemID string) (*cart.Cart, error) {
	return h.carts.RemoveItem(ctx, caller.UserID, itemID)
}

func (h *Handler) ClearCart(ctx context.Context, caller auth.Identity) error {
	return h.carts.Clear(ctx, caller.UserID)
}

func (h *Handler) PlaceOrder(ctx context.Context, caller auth.Identity, cmd PlaceOrder) (*order.Order, error) {
	return h.factory.Create(ctx, order.PlaceRequest{
		UserID:          caller.UserID,
		Email:           caller.Email,
		ShippingAddress: cmd.ShippingAddress,
		PaymentMethod:   cmd.PaymentMethod,
		IdempotencyKey:  cmd.IdempotencyKey,
	})
}

// PayOrder records a payment. Only the owner or an admin may pay, and the
// check happens before anything is written.
func (h *Handler) PayOrder(ctx context.Context, caller auth.Identity, orderRef string, cmd PayOrder) (*order.Order, error) {
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
	return h.machine.MarkPaid(ctx, id, order.PaymentConfirmation{
		TransactionID: cmd.TransactionID,
		Amount:        cmd.Amount,
		Gateway:       cmd.Gateway,
	})
}

func (h *Handler) SetOrderStatus(ctx context.Context, caller auth.Identity, orderRef string, cmd SetOrderStatus) (*order.Order, error) {
	if !caller.Admin {
		return nil, order.ErrForbidden
	}
	id, err := order.ParseID(orderRef)
	if err != nil {
		return nil, err
	}
	return h.machine.AdminSetStatus(ctx, id, order.Status(cmd.Status))
}
