package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Resolver maps line references to concrete variants.
type Resolver struct {
	repo   Repository
	logger *zap.Logger
	group  singleflight.Group
	now    func() time.Time
}

func NewResolver(repo Repository, logger *zap.Logger) *Resolver {
	return &Resolver{
		repo:   repo,
		logger: logger.Named("resolver"),
		now:    time.Now,
	}
}

// Resolve accepts a variant id, or a product id from older clients. A
// product without variants gets exactly one default variant.
func (r *Resolver) Resolve(ctx context.Context, reference string) (*ResolvedVariant, error) {
	id, err := ParseID(reference)
	if err != nil {
		return nil, err
	}

	v, err := r.repo.GetVariant(ctx, id)
	if err == nil {
		return r.attachProduct(ctx, v)
	}
	if !errors.Is(err, ErrVariantNotFound) {
		return nil, fmt.Errorf("get variant %s: %w", id, err)
	}

	p, err := r.repo.GetProduct(ctx, id)
	if errors.Is(err, ErrProductNotFound) {
		return nil, fmt.Errorf("resolve %s: %w", id, ErrVariantNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}

	v, err = r.variantForProduct(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &ResolvedVariant{Variant: *v, Product: *p}, nil
}

// Lookup resolves a stored variant id without any fallback.
func (r *Resolver) Lookup(ctx context.Context, variantID string) (*ResolvedVariant, error) {
	v, err := r.repo.GetVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	return r.attachProduct(ctx, v)
}

func (r *Resolver) attachProduct(ctx context.Context, v *Variant) (*ResolvedVariant, error) {
	p, err := r.repo.GetProduct(ctx, v.ProductID)
	if err != nil {
		return nil, fmt.Errorf("product of variant %s: %w", v.ID, err)
	}
	return &ResolvedVariant{Variant: *v, Product: *p}, nil
}

func (r *Resolver) variantForProduct(ctx context.Context, productID string) (*Variant, error) {
	res, err, _ := r.group.Do(productID, func() (any, error) {
		v, err := r.repo.FirstVariant(ctx, productID)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrVariantNotFound) {
			return nil, fmt.Errorf("first variant of %s: %w", productID, err)
		}

		def := NewDefaultVariant(productID, r.now())
		err = r.repo.CreateVariant(ctx, def)
		if errors.Is(err, ErrDuplicateSKU) {
			// another process created it first
			return r.repo.GetVariantBySKU(ctx, def.SKU)
		}
		if err != nil {
			return nil, fmt.Errorf("create default variant for %s: %w", productID, err)
		}

		r.logger.Info("created default variant",
			zap.String("product_id", productID),
			zap.String("variant_id", def.ID),
			zap.String("sku", def.SKU))
		return def, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*Variant), nil
}
