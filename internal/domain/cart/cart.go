package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/domain/checkout"
	"github.com/shopspring/decimal"
)

var (
	ErrCartNotFound           = fmt.Errorf("cart %w", apperr.ErrNotFound)
	ErrItemNotFound           = fmt.Errorf("cart item %w", apperr.ErrNotFound)
	ErrCartExists             = fmt.Errorf("cart already exists: %w", apperr.ErrConflict)
	ErrConcurrentModification = fmt.Errorf("cart was modified concurrently: %w", apperr.ErrConflict)
)

// Item is one line of a cart. Price is the snapshot taken when the variant
// was first added; Variant is filled on load and never persisted.
type Item struct {
	ID        string                   `json:"id"`
	VariantID string                   `json:"variantId"`
	Quantity  int                      `json:"quantity"`
	Price     decimal.Decimal          `json:"price"`
	Variant   *catalog.ResolvedVariant `json:"variant,omitempty"`
}

type Cart struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Items     []Item    `json:"items"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GetCartID returns the cart ID for a user. One cart per user, so the id is
// derived rather than generated.
func GetCartID(userID string) string {
	return "cart-" + userID
}

func newCart(userID string, now time.Time) *Cart {
	return &Cart{
		ID:        GetCartID(userID),
		UserID:    userID,
		Items:     []Item{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Lines converts the cart into calculator input.
func (c *Cart) Lines() []checkout.Line {
	lines := make([]checkout.Line, 0, len(c.Items))
	for _, it := range c.Items {
		lines = append(lines, checkout.Line{Price: it.Price, Quantity: it.Quantity})
	}
	return lines
}

// Subtotal is Σ(price × quantity) over the snapshot prices.
func (c *Cart) Subtotal() decimal.Decimal {
	return checkout.Subtotal(c.Lines())
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) indexOfItem(itemID string) int {
	for i, it := range c.Items {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) indexOfVariant(variantID string) int {
	for i, it := range c.Items {
		if it.VariantID == variantID {
			return i
		}
	}
	return -1
}

func (c *Cart) removeAt(i int) {
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
}

// Repository persists carts. SaveCart is a compare-and-swap on Version: it
// succeeds only if the stored version equals c.Version, and then bumps
// c.Version.
type Repository interface {
	GetCart(ctx context.Context, userID string) (*Cart, error)
	CreateCart(ctx context.Context, c *Cart) error
	SaveCart(ctx context.Context, c *Cart) error
}

// VariantResolver is the slice of catalog.Resolver the cart needs.
type VariantResolver interface {
	Resolve(ctx context.Context, reference string) (*catalog.ResolvedVariant, error)
	Lookup(ctx context.Context, variantID string) (*catalog.ResolvedVariant, error)
}
