package catalog_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/infrastructure/store/memstore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestResolver() (*catalog.Resolver, *memstore.Store) {
	store := memstore.New()
	return catalog.NewResolver(store, zap.NewNop()), store
}

func seedProduct(store *memstore.Store, base string) catalog.Product {
	p := catalog.Product{
		ID:        uuid.New().String(),
		Name:      "Linen Shirt",
		BasePrice: decimal.RequireFromString(base),
		Images:    []string{"/img/shirt.jpg"},
	}
	store.PutProduct(p)
	return p
}

// ============================================
// Resolve Tests
// ============================================

func TestResolver_Resolve_ExistingVariant(t *testing.T) {
	resolver, store := newTestResolver()
	p := seedProduct(store, "80")
	v := catalog.Variant{ID: uuid.New().String(), ProductID: p.ID, Size: "M", Color: "Blue", CountInStock: 4, SKU: "SHIRT-M-BLUE"}
	store.PutVariant(v)

	rv, err := resolver.Resolve(context.Background(), v.ID)

	require.NoError(t, err)
	assert.Equal(t, v.ID, rv.ID)
	assert.Equal(t, "M", rv.Size)
	assert.Equal(t, p.ID, rv.Product.ID)
	assert.True(t, decimal.NewFromInt(80).Equal(rv.Product.UnitPrice()))
}

func TestResolver_Resolve_ProductFallsBackToFirstVariant(t *testing.T) {
	resolver, store := newTestResolver()
	p := seedProduct(store, "80")
	first := catalog.Variant{ID: uuid.New().String(), ProductID: p.ID, Size: "S", CountInStock: 2, SKU: "S-1", CreatedAt: time.Now()}
	second := catalog.Variant{ID: uuid.New().String(), ProductID: p.ID, Size: "L", CountInStock: 2, SKU: "L-1", CreatedAt: time.Now()}
	store.PutVariant(first)
	store.PutVariant(second)

	rv, err := resolver.Resolve(context.Background(), p.ID)

	require.NoError(t, err)
	assert.Equal(t, first.ID, rv.ID)
}

func TestResolver_Resolve_ProductWithoutVariantsCreatesDefault(t *testing.T) {
	resolver, store := newTestResolver()
	p := seedProduct(store, "25")
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, p.ID)
	require.NoError(t, err)
	second, err := resolver.Resolve(ctx, p.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, catalog.DefaultVariantLabel, first.Size)
	assert.Equal(t, catalog.DefaultVariantLabel, first.Color)
	assert.Equal(t, catalog.DefaultVariantStock, first.CountInStock)
	assert.Equal(t, "DEFAULT-"+p.ID, first.SKU)
	assert.Len(t, store.VariantsOf(p.ID), 1)
}

func TestResolver_Resolve_ConcurrentDefaultCreation(t *testing.T) {
	resolver, store := newTestResolver()
	p := seedProduct(store, "25")

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rv, err := resolver.Resolve(context.Background(), p.ID)
			if assert.NoError(t, err) {
				ids[i] = rv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, store.VariantsOf(p.ID), 1)
}

func TestResolver_Resolve_Errors(t *testing.T) {
	resolver, _ := newTestResolver()

	tests := []struct {
		name      string
		reference string
		wantErr   error
	}{
		{"malformed id", "not-a-uuid", apperr.ErrInvalidReference},
		{"empty id", "", apperr.ErrInvalidReference},
		{"unknown id", uuid.New().String(), apperr.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rv, err := resolver.Resolve(context.Background(), tt.reference)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, rv)
		})
	}
}

// ============================================
// Lookup Tests
// ============================================

func TestResolver_Lookup_DanglingProduct(t *testing.T) {
	resolver, store := newTestResolver()
	p := seedProduct(store, "10")
	v := catalog.Variant{ID: uuid.New().String(), ProductID: p.ID, CountInStock: 1, SKU: "X"}
	store.PutVariant(v)
	store.DeleteProduct(p.ID)

	_, err := resolver.Lookup(context.Background(), v.ID)

	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestResolver_Lookup_DoesNotFallBack(t *testing.T) {
	resolver, store := newTestResolver()
	p := seedProduct(store, "10")

	_, err := resolver.Lookup(context.Background(), p.ID)

	assert.ErrorIs(t, err, catalog.ErrVariantNotFound)
}
