package order

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "Unpaid"
	PaymentPaid     PaymentStatus = "Paid"
	PaymentRefunded PaymentStatus = "Refunded"
)

const PaymentSucceeded = "Succeeded"

var (
	ErrOrderNotFound           = fmt.Errorf("order %w", apperr.ErrNotFound)
	ErrPaymentNotFound         = fmt.Errorf("payment %w", apperr.ErrNotFound)
	ErrEmptyCart               = fmt.Errorf("cannot place order: %w", apperr.ErrEmptyCart)
	ErrForbidden               = fmt.Errorf("order belongs to another user: %w", apperr.ErrUnauthorized)
	ErrAlreadyPaid             = fmt.Errorf("order is already paid: %w", apperr.ErrConflict)
	ErrInvalidTransition       = fmt.Errorf("invalid order status transition: %w", apperr.ErrConflict)
	ErrStatusChanged           = fmt.Errorf("order status changed concurrently: %w", apperr.ErrConflict)
	ErrDuplicateTransaction    = fmt.Errorf("transaction id already used: %w", apperr.ErrConflict)
	ErrDuplicateIdempotencyKey = fmt.Errorf("idempotency key already used: %w", apperr.ErrConflict)
	ErrInvalidID               = fmt.Errorf("order id: %w", apperr.ErrInvalidReference)
)

// validTransitions defines allowed order status transitions
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusDelivered, StatusCancelled},
	StatusProcessing: {StatusDelivered, StatusCancelled},
	StatusDelivered:  {}, // terminal state
	StatusCancelled:  {}, // terminal state
}

// ParseID normalizes an order id taken from a URL.
func ParseID(ref string) (string, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%q: %w", ref, ErrInvalidID)
	}
	return id.String(), nil
}

// ParseStatus accepts one of the four order statuses.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	_, ok := validTransitions[st]
	return st, ok
}

type ShippingAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Item is a frozen copy of what was bought. Later product edits never touch it.
type Item struct {
	VariantID             string          `json:"variantId"`
	ProductID             string          `json:"productId"`
	Name                  string          `json:"name"`
	Image                 string          `json:"image"`
	Size                  string          `json:"size"`
	Color                 string          `json:"color"`
	SKU                   string          `json:"sku"`
	Quantity              int             `json:"quantity"`
	PriceAtTimeOfPurchase decimal.Decimal `json:"priceAtTimeOfPurchase"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Items           []Item          `json:"orderItems"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	ItemsPrice      decimal.Decimal `json:"itemsPrice"`
	ShippingPrice   decimal.Decimal `json:"shippingPrice"`
	TaxPrice        decimal.Decimal `json:"taxPrice"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	Status          Status          `json:"orderStatus"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
	IdempotencyKey  string          `json:"-"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// CanTransitionTo checks if the order can move to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	for _, s := range validTransitions[o.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// CanView reports whether the caller may read or pay for the order.
func (o *Order) CanView(userID string, admin bool) bool {
	return admin || o.UserID == userID
}

// StockChanges lists the per-variant quantities of the order.
func (o *Order) StockChanges() []StockChange {
	changes := make([]StockChange, 0, len(o.Items))
	index := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		if i, ok := index[it.VariantID]; ok {
			changes[i].Quantity += it.Quantity
			continue
		}
		index[it.VariantID] = len(changes)
		changes = append(changes, StockChange{VariantID: it.VariantID, Quantity: it.Quantity})
	}
	return changes
}

// ProductIDs returns the distinct products in the order.
func (o *Order) ProductIDs() []string {
	seen := make(map[string]bool, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	return ids
}

// Payment is an append-only ledger row.
type Payment struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"orderId"`
	UserID        string          `json:"userId"`
	Gateway       string          `json:"gateway"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type StockChange struct {
	VariantID string
	Quantity  int
}

// CartRef identifies the cart version an order was built from.
type CartRef struct {
	ID      string
	Version int64
}

// Repository persists orders and payments. The three write methods are each
// a single transaction.
type Repository interface {
	GetOrder(ctx context.Context, id string) (*Order, error)
	// ListOrdersByUser returns newest first.
	ListOrdersByUser(ctx context.Context, userID string) ([]*Order, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error)
	GetPaymentByTransaction(ctx context.Context, transactionID string) (*Payment, error)

	// PlaceOrder inserts o, empties the cart if it is still at cartRef.Version
	// (cart.ErrConcurrentModification otherwise) and decrements each variant
	// only where countInStock >= quantity (*catalog.StockError otherwise).
	// A repeated idempotency key yields ErrDuplicateIdempotencyKey.
	PlaceOrder(ctx context.Context, o *Order, cartRef CartRef, decrements []StockChange) error

	// RecordPayment stores the payment fields of o provided the order is
	// still unpaid (ErrAlreadyPaid otherwise) and inserts p. A reused
	// transaction id yields ErrDuplicateTransaction.
	RecordPayment(ctx context.Context, o *Order, p *Payment) error

	// UpdateStatus stores the status fields of o provided the stored status
	// is still from (ErrStatusChanged otherwise) and adds restock back to
	// each variant.
	UpdateStatus(ctx context.Context, o *Order, from Status, restock []StockChange) error
}

// CartSource reads the reconciled cart at checkout.
type CartSource interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
}

// CacheInvalidator purges stale read caches. Implementations must not block
// and have no way to report failure.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, patterns []string)
}

// Notifier hands an order confirmation to the async mail worker.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *Order, email string)
}
