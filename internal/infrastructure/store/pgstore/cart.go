package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/example/ec-storefront/internal/domain/cart"
)

func (s *Store) GetCart(ctx context.Context, userID string) (*cart.Cart, error) {
	var c cart.Cart
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, version, created_at, updated_at FROM carts WHERE user_id = $1
	`, userID).Scan(&c.ID, &c.UserID, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cart.ErrCartNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, variant_id, quantity, price FROM cart_items WHERE cart_id = $1 ORDER BY position
	`, c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	c.Items = []cart.Item{}
	for rows.Next() {
		var it cart.Item
		if err := rows.Scan(&it.ID, &it.VariantID, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		c.Items = append(c.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCart(ctx context.Context, c *cart.Cart) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO carts (id, user_id, version, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		`, c.ID, c.UserID, c.Version, c.CreatedAt, c.UpdatedAt)
		if pqViolation(err, codeUniqueViolation, "") {
			return cart.ErrCartExists
		}
		if err != nil {
			return err
		}
		return insertCartItems(ctx, tx, c)
	})
}

// SaveCart replaces the item list if the stored version still matches.
func (s *Store) SaveCart(ctx context.Context, c *cart.Cart) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := bumpCartVersion(ctx, tx, c.ID, c.Version, c.UpdatedAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, c.ID); err != nil {
			return err
		}
		return insertCartItems(ctx, tx, c)
	})
	if err != nil {
		return err
	}
	c.Version++
	return nil
}

func bumpCartVersion(ctx context.Context, tx *sql.Tx, cartID string, version int64, updatedAt time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE carts SET version = version + 1, updated_at = $3 WHERE id = $1 AND version = $2
	`, cartID, version, updatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM carts WHERE id = $1)`, cartID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return cart.ErrCartNotFound
	}
	return cart.ErrConcurrentModification
}

func insertCartItems(ctx context.Context, tx *sql.Tx, c *cart.Cart) error {
	for i, it := range c.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (cart_id, position, id, variant_id, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.ID, i, it.ID, it.VariantID, it.Quantity, it.Price)
		if err != nil {
			return err
		}
	}
	return nil
}
