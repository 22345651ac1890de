package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type productDoc struct {
	ID            string                `bson:"_id"`
	Name          string                `bson:"name"`
	BasePrice     primitive.Decimal128  `bson:"base_price"`
	DiscountPrice *primitive.Decimal128 `bson:"discount_price,omitempty"`
	Images        []string              `bson:"images"`
	CreatedAt     time.Time             `bson:"created_at"`
	UpdatedAt     time.Time             `bson:"updated_at"`
}

func (d productDoc) toDomain() *catalog.Product {
	p := &catalog.Product{
		ID:        d.ID,
		Name:      d.Name,
		BasePrice: fromDecimal128(d.BasePrice),
		Images:    d.Images,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.DiscountPrice != nil {
		p.DiscountPrice = decimal.NewNullDecimal(fromDecimal128(*d.DiscountPrice))
	}
	return p
}

type variantDoc struct {
	ID           string    `bson:"_id"`
	ProductID    string    `bson:"product_id"`
	Size         string    `bson:"size"`
	Color        string    `bson:"color"`
	CountInStock int       `bson:"count_in_stock"`
	SKU          string    `bson:"sku"`
	CreatedAt    time.Time `bson:"created_at"`
}

func newVariantDoc(v *catalog.Variant) variantDoc {
	return variantDoc(*v)
}

func (d variantDoc) toDomain() *catalog.Variant {
	v := catalog.Variant(d)
	return &v
}

func (s *Store) findVariant(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*catalog.Variant, error) {
	var doc variantDoc
	err := s.variants.FindOne(ctx, filter, opts...).Decode(&doc)
	if notFound(err) {
		return nil, catalog.ErrVariantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) GetVariant(ctx context.Context, id string) (*catalog.Variant, error) {
	return s.findVariant(ctx, bson.M{"_id": id})
}

func (s *Store) GetVariantBySKU(ctx context.Context, sku string) (*catalog.Variant, error) {
	return s.findVariant(ctx, bson.M{"sku": sku})
}

func (s *Store) FirstVariant(ctx context.Context, productID string) (*catalog.Variant, error) {
	return s.findVariant(ctx, bson.M{"product_id": productID},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
}

func (s *Store) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	var doc productDoc
	err := s.products.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if notFound(err) {
		return nil, catalog.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) CreateVariant(ctx context.Context, v *catalog.Variant) error {
	_, err := s.variants.InsertOne(ctx, newVariantDoc(v))
	if duplicateOn(err, idxVariantSKU) {
		return catalog.ErrDuplicateSKU
	}
	if err != nil {
		return fmt.Errorf("failed to create variant: %w", err)
	}
	return nil
}

// PutProduct upserts a product. Products are owned elsewhere; this exists
// for seeding.
func (s *Store) PutProduct(ctx context.Context, p *catalog.Product) error {
	doc := productDoc{
		ID:        p.ID,
		Name:      p.Name,
		BasePrice: toDecimal128(p.BasePrice),
		Images:    p.Images,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.DiscountPrice.Valid {
		d := toDecimal128(p.DiscountPrice.Decimal)
		doc.DiscountPrice = &d
	}
	_, err := s.products.ReplaceOne(ctx, bson.M{"_id": p.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to put product: %w", err)
	}
	return nil
}
