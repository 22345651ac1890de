package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/domain/checkout"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxIdempotencyKeyLen = 128

// PlaceRequest is what a customer submits at checkout.
type PlaceRequest struct {
	UserID          string
	Email           string
	ShippingAddress ShippingAddress
	PaymentMethod   string
	IdempotencyKey  string
}

func (r PlaceRequest) validate() error {
	v := apperr.NewValidationError()
	required := map[string]string{
		"shippingAddress.street":     r.ShippingAddress.Street,
		"shippingAddress.city":       r.ShippingAddress.City,
		"shippingAddress.postalCode": r.ShippingAddress.PostalCode,
		"shippingAddress.country":    r.ShippingAddress.Country,
		"paymentMethod":              r.PaymentMethod,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			v.Add(field, "is required")
		}
	}
	if len(r.IdempotencyKey) > maxIdempotencyKeyLen {
		v.Add("idempotencyKey", fmt.Sprintf("must be at most %d characters", maxIdempotencyKeyLen))
	}
	return v.OrNil()
}

// Factory turns a cart into an order.
type Factory struct {
	carts       CartSource
	repo        Repository
	invalidator CacheInvalidator
	notifier    Notifier
	logger      *zap.Logger
	now         func() time.Time
}

func NewFactory(carts CartSource, repo Repository, invalidator CacheInvalidator, notifier Notifier, logger *zap.Logger) *Factory {
	return &Factory{
		carts:       carts,
		repo:        repo,
		invalidator: invalidator,
		notifier:    notifier,
		logger:      logger.Named("order-factory"),
		now:         time.Now,
	}
}

// Create places an order for everything in the user's cart. The order
// insert, the cart reset and the stock decrements commit together or not at
// all. Retrying with the same idempotency key returns the first order.
func (f *Factory) Create(ctx context.Context, req PlaceRequest) (*Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := f.repo.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	c, err := f.carts.Get(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}

	now := f.now()
	items := make([]Item, 0, len(c.Items))
	for _, ci := range c.Items {
		rv := ci.Variant
		items = append(items, Item{
			VariantID:             rv.ID,
			ProductID:             rv.ProductID,
			Name:                  rv.Product.Name,
			Image:                 rv.Product.Image(),
			Size:                  rv.Size,
			Color:                 rv.Color,
			SKU:                   rv.SKU,
			Quantity:              ci.Quantity,
			PriceAtTimeOfPurchase: ci.Price,
		})
	}

	totals := checkout.Calculate(c.Lines())
	o := &Order{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		ItemsPrice:      totals.ItemsPrice,
		ShippingPrice:   totals.ShippingPrice,
		TaxPrice:        totals.TaxPrice,
		TotalPrice:      totals.TotalPrice,
		PaymentStatus:   PaymentUnpaid,
		Status:          StatusPending,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = f.repo.PlaceOrder(ctx, o, CartRef{ID: c.ID, Version: c.Version}, o.StockChanges())
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return f.repo.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
	}
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	f.logger.Info("order placed",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Int("items", len(o.Items)),
		zap.String("total", o.TotalPrice.StringFixed(2)))

	f.invalidator.Invalidate(ctx, catalog.CachePatterns(o.ProductIDs()...))
	f.notifier.OrderPlaced(ctx, o, req.Email)

	return o, nil
}
