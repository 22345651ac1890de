// Package memstore keeps the whole storefront in process memory. It backs
// STORE_DRIVER=memory and the domain tests. One mutex guards everything, so
// each write method is trivially atomic.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/domain/order"
)

type Store struct {
	mu       sync.RWMutex
	products map[string]catalog.Product
	variants map[string]catalog.Variant
	carts    map[string]*cart.Cart // userID -> cart
	orders   map[string]*order.Order
	payments map[string]order.Payment // transactionID -> payment
	seq      map[string]int           // variantID -> insertion order
}

func New() *Store {
	return &Store{
		products: make(map[string]catalog.Product),
		variants: make(map[string]catalog.Variant),
		carts:    make(map[string]*cart.Cart),
		orders:   make(map[string]*order.Order),
		payments: make(map[string]order.Payment),
		seq:      make(map[string]int),
	}
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// DeleteProduct removes a product, leaving its variants dangling.
func (s *Store) DeleteProduct(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

// PutVariant inserts or replaces a variant.
func (s *Store) PutVariant(v catalog.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putVariantLocked(v)
}

func (s *Store) DeleteVariant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.variants, id)
}

func (s *Store) putVariantLocked(v catalog.Variant) {
	if _, ok := s.seq[v.ID]; !ok {
		s.seq[v.ID] = len(s.seq)
	}
	s.variants[v.ID] = v
}

// Variant returns a copy of a stored variant, for inspection.
func (s *Store) Variant(id string) (catalog.Variant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[id]
	return v, ok
}

// VariantsOf returns every variant of a product.
func (s *Store) VariantsOf(productID string) []catalog.Variant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Variant
	for _, v := range s.variants {
		if v.ProductID == productID {
			out = append(out, v)
		}
	}
	return out
}

// Payments returns every ledger row, for inspection.
func (s *Store) Payments() []order.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]order.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, p)
	}
	return out
}

// ============================================
// catalog.Repository
// ============================================

func (s *Store) GetVariant(_ context.Context, id string) (*catalog.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[id]
	if !ok {
		return nil, catalog.ErrVariantNotFound
	}
	return &v, nil
}

func (s *Store) GetVariantBySKU(_ context.Context, sku string) (*catalog.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.variants {
		if v.SKU == sku {
			return &v, nil
		}
	}
	return nil, catalog.ErrVariantNotFound
}

func (s *Store) FirstVariant(_ context.Context, productID string) (*catalog.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		first *catalog.Variant
		best  int
	)
	for id, v := range s.variants {
		if v.ProductID != productID {
			continue
		}
		if first == nil || s.seq[id] < best {
			first, best = &v, s.seq[id]
		}
	}
	if first == nil {
		return nil, catalog.ErrVariantNotFound
	}
	return first, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return &p, nil
}

func (s *Store) CreateVariant(_ context.Context, v *catalog.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.variants {
		if existing.SKU == v.SKU {
			return catalog.ErrDuplicateSKU
		}
	}
	s.putVariantLocked(*v)
	return nil
}

// ============================================
// cart.Repository
// ============================================

func (s *Store) GetCart(_ context.Context, userID string) (*cart.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.carts[userID]
	if !ok {
		return nil, cart.ErrCartNotFound
	}
	return cloneCart(c), nil
}

func (s *Store) CreateCart(_ context.Context, c *cart.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[c.UserID]; ok {
		return cart.ErrCartExists
	}
	s.carts[c.UserID] = cloneCart(c)
	return nil
}

func (s *Store) SaveCart(_ context.Context, c *cart.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.carts[c.UserID]
	if !ok {
		return cart.ErrCartNotFound
	}
	if stored.Version != c.Version {
		return cart.ErrConcurrentModification
	}
	c.Version++
	s.carts[c.UserID] = cloneCart(c)
	return nil
}

// cloneCart copies c without the hydrated variant data.
func cloneCart(c *cart.Cart) *cart.Cart {
	out := *c
	out.Items = make([]cart.Item, len(c.Items))
	for i, it := range c.Items {
		it.Variant = nil
		out.Items[i] = it
	}
	return &out
}

// ============================================
// order.Repository
// ============================================

func (s *Store) GetOrder(_ context.Context, id string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) ListOrdersByUser(_ context.Context, userID string) ([]*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*order.Order, 0)
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) FindByIdempotencyKey(_ context.Context, userID, key string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o := s.findByKeyLocked(userID, key); o != nil {
		return cloneOrder(o), nil
	}
	return nil, order.ErrOrderNotFound
}

func (s *Store) findByKeyLocked(userID, key string) *order.Order {
	if key == "" {
		return nil
	}
	for _, o := range s.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			return o
		}
	}
	return nil
}

func (s *Store) GetPaymentByTransaction(_ context.Context, transactionID string) (*order.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[transactionID]
	if !ok {
		return nil, order.ErrPaymentNotFound
	}
	return &p, nil
}

func (s *Store) PlaceOrder(_ context.Context, o *order.Order, ref order.CartRef, decrements []order.StockChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findByKeyLocked(o.UserID, o.IdempotencyKey) != nil {
		return order.ErrDuplicateIdempotencyKey
	}

	c, ok := s.carts[o.UserID]
	if !ok || c.ID != ref.ID {
		return cart.ErrCartNotFound
	}
	if c.Version != ref.Version {
		return cart.ErrConcurrentModification
	}

	// check every variant before touching any
	for _, d := range decrements {
		v, ok := s.variants[d.VariantID]
		if !ok {
			return catalog.ErrVariantNotFound
		}
		if v.CountInStock < d.Quantity {
			return &catalog.StockError{VariantID: d.VariantID, Requested: d.Quantity, Available: v.CountInStock}
		}
	}

	for _, d := range decrements {
		v := s.variants[d.VariantID]
		v.CountInStock -= d.Quantity
		s.variants[d.VariantID] = v
	}
	c.Items = []cart.Item{}
	c.Version++
	c.UpdatedAt = o.CreatedAt
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *Store) RecordPayment(_ context.Context, o *order.Order, p *order.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[o.ID]
	if !ok {
		return order.ErrOrderNotFound
	}
	if _, dup := s.payments[p.TransactionID]; dup {
		return order.ErrDuplicateTransaction
	}
	if stored.PaymentStatus != order.PaymentUnpaid {
		return order.ErrAlreadyPaid
	}

	s.payments[p.TransactionID] = *p
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, o *order.Order, from order.Status, restock []order.StockChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[o.ID]
	if !ok {
		return order.ErrOrderNotFound
	}
	if stored.Status != from {
		return order.ErrStatusChanged
	}

	for _, r := range restock {
		// a variant deleted since the order was placed has nothing to restock
		if v, ok := s.variants[r.VariantID]; ok {
			v.CountInStock += r.Quantity
			s.variants[r.VariantID] = v
		}
	}
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func cloneOrder(o *order.Order) *order.Order {
	out := *o
	out.Items = append([]order.Item(nil), o.Items...)
	return &out
}
