// Package mongostore persists the storefront in MongoDB. The atomic writes
// use multi-document transactions, so the server must run as a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	idxVariantSKU   = "variants_sku_unique"
	idxCartUser     = "carts_user_unique"
	idxOrderIdemKey = "orders_user_idempotency_key"
	idxPaymentTxn   = "payments_transaction_unique"
	collProducts    = "products"
	collVariants    = "product_variants"
	collCarts       = "carts"
	collOrders      = "orders"
	collPayments    = "payments"
)

// Store implements catalog.Repository, cart.Repository and order.Repository.
type Store struct {
	db       *mongo.Database
	products *mongo.Collection
	variants *mongo.Collection
	carts    *mongo.Collection
	orders   *mongo.Collection
	payments *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		db:       db,
		products: db.Collection(collProducts),
		variants: db.Collection(collVariants),
		carts:    db.Collection(collCarts),
		orders:   db.Collection(collOrders),
		payments: db.Collection(collPayments),
	}
}

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// CreateIndexes installs the unique indexes the repositories rely on.
func (s *Store) CreateIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.variants: {
			{Keys: bson.D{{Key: "sku", Value: 1}}, Options: options.Index().SetUnique(true).SetName(idxVariantSKU)},
			{Keys: bson.D{{Key: "product_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		s.carts: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName(idxCartUser)},
		},
		s.orders: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{
				Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxOrderIdemKey).
					SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$exists": true}}),
			},
		},
		s.payments: {
			{Keys: bson.D{{Key: "transaction_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName(idxPaymentTxn)},
		},
	}

	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// withTransaction runs fn inside a session transaction. Errors returned by
// fn abort the transaction and come back unchanged.
func (s *Store) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

func duplicateOn(err error, index string) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), index)
}

func exists(ctx context.Context, coll *mongo.Collection, id string) (bool, error) {
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	return n > 0, err
}

// toDecimal128 is exact for amounts of up to 34 significant digits.
func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, _ := primitive.ParseDecimal128FromBigInt(d.Coefficient(), int(d.Exponent()))
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func notFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
