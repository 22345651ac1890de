package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultVariantLabel = "Default"
	DefaultVariantStock = 1000
	defaultSKUPrefix    = "DEFAULT-"
)

var (
	ErrVariantNotFound  = fmt.Errorf("variant %w", apperr.ErrNotFound)
	ErrProductNotFound  = fmt.Errorf("product %w", apperr.ErrNotFound)
	ErrDuplicateSKU     = fmt.Errorf("sku already exists: %w", apperr.ErrConflict)
	ErrInvalidReference = fmt.Errorf("variant reference: %w", apperr.ErrInvalidReference)
)

// Product is owned by the product subsystem and only read here.
type Product struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	BasePrice     decimal.Decimal     `json:"basePrice"`
	DiscountPrice decimal.NullDecimal `json:"discountPrice"`
	Images        []string            `json:"images"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// UnitPrice is the price a customer pays today: the discount when it is set
// and actually lower than the base price, the base price otherwise.
func (p Product) UnitPrice() decimal.Decimal {
	if p.DiscountPrice.Valid && p.DiscountPrice.Decimal.LessThan(p.BasePrice) {
		return p.DiscountPrice.Decimal
	}
	return p.BasePrice
}

// Image returns the primary image or an empty string.
func (p Product) Image() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Variant is a purchasable size/color configuration of a product.
type Variant struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"productId"`
	Size         string    `json:"size"`
	Color        string    `json:"color"`
	CountInStock int       `json:"countInStock"`
	SKU          string    `json:"sku"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ResolvedVariant is a variant joined with its parent product.
type ResolvedVariant struct {
	Variant
	Product Product `json:"product"`
}

// DefaultSKU derives the SKU of the placeholder variant for a product.
func DefaultSKU(productID string) string {
	return defaultSKUPrefix + productID
}

// NewDefaultVariant builds the placeholder variant created for products that
// were listed before variants existed.
func NewDefaultVariant(productID string, now time.Time) *Variant {
	return &Variant{
		ID:           uuid.New().String(),
		ProductID:    productID,
		Size:         DefaultVariantLabel,
		Color:        DefaultVariantLabel,
		CountInStock: DefaultVariantStock,
		SKU:          DefaultSKU(productID),
		CreatedAt:    now,
	}
}

// ParseID normalizes a client supplied identifier.
func ParseID(ref string) (string, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%q: %w", ref, ErrInvalidReference)
	}
	return id.String(), nil
}

// Repository is the product/variant read API plus the single write the
// resolver performs.
type Repository interface {
	GetVariant(ctx context.Context, id string) (*Variant, error)
	GetVariantBySKU(ctx context.Context, sku string) (*Variant, error)
	// FirstVariant returns the oldest variant of a product.
	FirstVariant(ctx context.Context, productID string) (*Variant, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	// CreateVariant fails with ErrDuplicateSKU when the SKU is taken.
	CreateVariant(ctx context.Context, v *Variant) error
}

// StockError reports a request for more units than a variant holds.
// Available is negative when the store could not tell.
type StockError struct {
	VariantID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	if e.Available < 0 {
		return fmt.Sprintf("variant %s: requested %d: %s", e.VariantID, e.Requested, apperr.ErrInsufficientStock)
	}
	return fmt.Sprintf("variant %s: requested %d, available %d: %s",
		e.VariantID, e.Requested, e.Available, apperr.ErrInsufficientStock)
}

func (e *StockError) Is(target error) bool {
	return target == apperr.ErrInsufficientStock
}

// CachePatterns lists the read-through cache keys that go stale when stock or
// visible fields of the given products change: every listing page and each
// product's detail page.
func CachePatterns(productIDs ...string) []string {
	patterns := []string{"cache:/api/products*"}
	seen := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		patterns = append(patterns, "cache:/api/products/"+id+"*")
	}
	return patterns
}
