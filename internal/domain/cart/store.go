package cart

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Optimistic writes retry with jittered exponential backoff until the
// request context ends. maxWriteAttempts only guards contexts without a
// deadline.
const (
	maxWriteAttempts = 50
	retryBaseDelay   = 2 * time.Millisecond
	retryMaxDelay    = 50 * time.Millisecond
)

// Store owns a user's mutable cart.
type Store struct {
	repo     Repository
	resolver VariantResolver
	logger   *zap.Logger
	now      func() time.Time
}

func NewStore(repo Repository, resolver VariantResolver, logger *zap.Logger) *Store {
	return &Store{
		repo:     repo,
		resolver: resolver,
		logger:   logger.Named("cart"),
		now:      time.Now,
	}
}

// Get returns the user's cart, creating it on first access. Items whose
// variant or product no longer exists are dropped, and the repaired cart is
// written back only when something was dropped.
func (s *Store) Get(ctx context.Context, userID string) (*Cart, error) {
	for attempt := 1; ; attempt++ {
		stored, err := s.loadOrCreate(ctx, userID)
		if err != nil {
			return nil, err
		}

		clean, dirty, err := s.Reconcile(ctx, stored)
		if err != nil {
			return nil, err
		}
		if !dirty {
			return clean, nil
		}

		removed := len(stored.Items) - len(clean.Items)
		clean.UpdatedAt = s.now()
		err = s.repo.SaveCart(ctx, clean)
		if errors.Is(err, ErrConcurrentModification) && attempt < maxWriteAttempts {
			if werr := waitRetry(ctx, attempt); werr != nil {
				return nil, fmt.Errorf("save reconciled cart: %w", errors.Join(err, werr))
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save reconciled cart: %w", err)
		}

		s.logger.Info("pruned dangling cart items",
			zap.String("cart_id", clean.ID),
			zap.Int("removed", removed))
		return clean, nil
	}
}

// Reconcile returns a copy of c without items whose variant or parent
// product has gone away, with every remaining item hydrated. dirty reports
// whether anything was dropped. It never writes.
func (s *Store) Reconcile(ctx context.Context, c *Cart) (*Cart, bool, error) {
	clean := *c
	clean.Items = make([]Item, 0, len(c.Items))
	dirty := false

	for _, it := range c.Items {
		rv, err := s.resolver.Lookup(ctx, it.VariantID)
		if errors.Is(err, apperr.ErrNotFound) {
			dirty = true
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("reconcile item %s: %w", it.ID, err)
		}
		it.Variant = rv
		clean.Items = append(clean.Items, it)
	}
	return &clean, dirty, nil
}

// AddItem puts quantity units of the referenced variant into the cart. A
// variant already in the cart has its quantity increased and keeps its
// original price snapshot.
func (s *Store) AddItem(ctx context.Context, userID, reference string, quantity int) (*Cart, error) {
	if quantity < 1 {
		return nil, apperr.Invalid("quantity", "must be at least 1")
	}

	rv, err := s.resolver.Resolve(ctx, reference)
	if err != nil {
		return nil, err
	}
	if quantity > rv.CountInStock {
		return nil, &catalog.StockError{VariantID: rv.ID, Requested: quantity, Available: rv.CountInStock}
	}

	return s.mutate(ctx, userID, true, func(c *Cart) error {
		if i := c.indexOfVariant(rv.ID); i >= 0 {
			c.Items[i].Quantity += quantity
			return nil
		}
		c.Items = append(c.Items, Item{
			ID:        uuid.New().String(),
			VariantID: rv.ID,
			Quantity:  quantity,
			Price:     rv.Product.UnitPrice(),
			Variant:   rv,
		})
		return nil
	})
}

// UpdateItem sets an item's quantity; zero or less removes it.
func (s *Store) UpdateItem(ctx context.Context, userID, itemID string, quantity int) (*Cart, error) {
	return s.mutate(ctx, userID, false, func(c *Cart) error {
		i := c.indexOfItem(itemID)
		if i < 0 {
			return ErrItemNotFound
		}
		if quantity <= 0 {
			c.removeAt(i)
			return nil
		}
		c.Items[i].Quantity = quantity
		return nil
	})
}

func (s *Store) RemoveItem(ctx context.Context, userID, itemID string) (*Cart, error) {
	return s.mutate(ctx, userID, false, func(c *Cart) error {
		i := c.indexOfItem(itemID)
		if i < 0 {
			return ErrItemNotFound
		}
		c.removeAt(i)
		return nil
	})
}

func (s *Store) Clear(ctx context.Context, userID string) error {
	_, err := s.mutate(ctx, userID, false, func(c *Cart) error {
		c.Items = []Item{}
		return nil
	})
	return err
}

// mutate runs a read-modify-write cycle, retrying when another writer got
// in between the read and the write.
func (s *Store) mutate(ctx context.Context, userID string, create bool, fn func(*Cart) error) (*Cart, error) {
	for attempt := 1; ; attempt++ {
		var (
			stored *Cart
			err    error
		)
		if create {
			stored, err = s.loadOrCreate(ctx, userID)
		} else {
			stored, err = s.repo.GetCart(ctx, userID)
		}
		if err != nil {
			return nil, err
		}

		c, _, err := s.Reconcile(ctx, stored)
		if err != nil {
			return nil, err
		}
		if err := fn(c); err != nil {
			return nil, err
		}

		c.UpdatedAt = s.now()
		err = s.repo.SaveCart(ctx, c)
		if errors.Is(err, ErrConcurrentModification) && attempt < maxWriteAttempts {
			s.logger.Debug("retrying cart write",
				zap.String("user_id", userID),
				zap.Int("attempt", attempt))
			if werr := waitRetry(ctx, attempt); werr != nil {
				return nil, fmt.Errorf("save cart: %w", errors.Join(err, werr))
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save cart: %w", err)
		}
		return c, nil
	}
}

func (s *Store) loadOrCreate(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.repo.GetCart(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	c = newCart(userID, s.now())
	err = s.repo.CreateCart(ctx, c)
	if errors.Is(err, ErrCartExists) {
		return s.repo.GetCart(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return c, nil
}

// retryDelay doubles from retryBaseDelay up to retryMaxDelay and adds up to
// the same amount again as jitter, so colliding writers spread out.
func retryDelay(attempt int) time.Duration {
	d := retryBaseDelay << min(attempt-1, 5)
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d + time.Duration(rand.Int63n(int64(d)))
}

func waitRetry(ctx context.Context, attempt int) error {
	t := time.NewTimer(retryDelay(attempt))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
