package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ec-storefront/internal/domain/cart"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type cartItemDoc struct {
	ID        string               `bson:"id"`
	VariantID string               `bson:"variant_id"`
	Quantity  int                  `bson:"quantity"`
	Price     primitive.Decimal128 `bson:"price"`
}

type cartDoc struct {
	ID        string        `bson:"_id"`
	UserID    string        `bson:"user_id"`
	Items     []cartItemDoc `bson:"items"`
	Version   int64         `bson:"version"`
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

func newCartItemDocs(items []cart.Item) []cartItemDoc {
	docs := make([]cartItemDoc, len(items))
	for i, it := range items {
		docs[i] = cartItemDoc{ID: it.ID, VariantID: it.VariantID, Quantity: it.Quantity, Price: toDecimal128(it.Price)}
	}
	return docs
}

func (d cartDoc) toDomain() *cart.Cart {
	c := &cart.Cart{
		ID:        d.ID,
		UserID:    d.UserID,
		Items:     make([]cart.Item, len(d.Items)),
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for i, it := range d.Items {
		c.Items[i] = cart.Item{ID: it.ID, VariantID: it.VariantID, Quantity: it.Quantity, Price: fromDecimal128(it.Price)}
	}
	return c
}

func (s *Store) GetCart(ctx context.Context, userID string) (*cart.Cart, error) {
	var doc cartDoc
	err := s.carts.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if notFound(err) {
		return nil, cart.ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) CreateCart(ctx context.Context, c *cart.Cart) error {
	_, err := s.carts.InsertOne(ctx, cartDoc{
		ID:        c.ID,
		UserID:    c.UserID,
		Items:     newCartItemDocs(c.Items),
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return cart.ErrCartExists
	}
	if err != nil {
		return fmt.Errorf("failed to create cart: %w", err)
	}
	return nil
}

func (s *Store) SaveCart(ctx context.Context, c *cart.Cart) error {
	if err := casCart(ctx, s.carts, c.ID, c.Version, newCartItemDocs(c.Items), c.UpdatedAt); err != nil {
		return err
	}
	c.Version++
	return nil
}

// casCart replaces the items of a cart still at version and bumps it.
func casCart(ctx context.Context, carts *mongo.Collection, id string, version int64, items []cartItemDoc, now time.Time) error {
	res, err := carts.UpdateOne(ctx,
		bson.M{"_id": id, "version": version},
		bson.M{
			"$set": bson.M{"items": items, "updated_at": now},
			"$inc": bson.M{"version": 1},
		})
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	ok, err := exists(ctx, carts, id)
	if err != nil {
		return fmt.Errorf("failed to check cart: %w", err)
	}
	if !ok {
		return cart.ErrCartNotFound
	}
	return cart.ErrConcurrentModification
}
