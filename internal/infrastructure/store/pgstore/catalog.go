package pgstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/lib/pq"
)

const variantColumns = `id, product_id, size, color, count_in_stock, sku, created_at`

func scanVariant(row interface{ Scan(...any) error }) (*catalog.Variant, error) {
	var v catalog.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.CountInStock, &v.SKU, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrVariantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) GetVariant(ctx context.Context, id string) (*catalog.Variant, error) {
	return scanVariant(s.db.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM product_variants WHERE id = $1`, id))
}

func (s *Store) GetVariantBySKU(ctx context.Context, sku string) (*catalog.Variant, error) {
	return scanVariant(s.db.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM product_variants WHERE sku = $1`, sku))
}

func (s *Store) FirstVariant(ctx context.Context, productID string) (*catalog.Variant, error) {
	return scanVariant(s.db.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM product_variants WHERE product_id = $1 ORDER BY created_at, id LIMIT 1`, productID))
}

func (s *Store) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, base_price, discount_price, images, created_at, updated_at
		FROM products WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.BasePrice, &p.DiscountPrice, pq.Array(&p.Images), &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateVariant(ctx context.Context, v *catalog.Variant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_variants (`+variantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, v.ID, v.ProductID, v.Size, v.Color, v.CountInStock, v.SKU, v.CreatedAt)
	if pqViolation(err, codeUniqueViolation, "product_variants_sku_key") {
		return catalog.ErrDuplicateSKU
	}
	return err
}
