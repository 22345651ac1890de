package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/domain/order"
)

const orderColumns = `id, user_id, shipping_address, payment_method, items_price, shipping_price,
	tax_price, total_price, payment_status, order_status, paid_at, delivered_at, idempotency_key,
	created_at, updated_at`

func (s *Store) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*order.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, o := range orders {
		if err := s.loadItems(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, userID, key string) (*order.Order, error) {
	if key == "" {
		return nil, order.ErrOrderNotFound
	}
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) GetPaymentByTransaction(ctx context.Context, transactionID string) (*order.Payment, error) {
	var p order.Payment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, user_id, gateway, transaction_id, amount, status, created_at
		FROM payments WHERE transaction_id = $1
	`, transactionID).Scan(&p.ID, &p.OrderID, &p.UserID, &p.Gateway, &p.TransactionID, &p.Amount, &p.Status, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) PlaceOrder(ctx context.Context, o *order.Order, cartRef order.CartRef, decrements []order.StockChange) error {
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, o.ID, o.UserID, address, o.PaymentMethod, o.ItemsPrice, o.ShippingPrice,
			o.TaxPrice, o.TotalPrice, string(o.PaymentStatus), string(o.Status),
			nullTime(o.PaidAt), nullTime(o.DeliveredAt), nullString(o.IdempotencyKey),
			o.CreatedAt, o.UpdatedAt)
		if pqViolation(err, codeUniqueViolation, "orders_user_idempotency_key") {
			return order.ErrDuplicateIdempotencyKey
		}
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i, it := range o.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, position, variant_id, product_id, name, image, size, color, sku, quantity, price_at_time_of_purchase)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			`, o.ID, i, it.VariantID, it.ProductID, it.Name, it.Image, it.Size, it.Color, it.SKU, it.Quantity, it.PriceAtTimeOfPurchase)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		for _, d := range decrements {
			if err := decrementStock(ctx, tx, d); err != nil {
				return err
			}
		}

		if err := bumpCartVersion(ctx, tx, cartRef.ID, cartRef.Version, o.CreatedAt); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartRef.ID)
		return err
	})
}

// decrementStock takes d.Quantity units only if that many are on hand.
func decrementStock(ctx context.Context, tx *sql.Tx, d order.StockChange) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE product_variants SET count_in_stock = count_in_stock - $1
		WHERE id = $2 AND count_in_stock >= $1
	`, d.Quantity, d.VariantID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var available int
	err = tx.QueryRowContext(ctx, `SELECT count_in_stock FROM product_variants WHERE id = $1`, d.VariantID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.ErrVariantNotFound
	}
	if err != nil {
		available = -1
	}
	return &catalog.StockError{VariantID: d.VariantID, Requested: d.Quantity, Available: available}
}

func (s *Store) RecordPayment(ctx context.Context, o *order.Order, p *order.Payment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payments (id, order_id, user_id, gateway, transaction_id, amount, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, p.ID, p.OrderID, p.UserID, p.Gateway, p.TransactionID, p.Amount, p.Status, p.CreatedAt)
		switch {
		case pqViolation(err, codeUniqueViolation, "payments_transaction_id_key"):
			return order.ErrDuplicateTransaction
		case pqViolation(err, codeForeignKeyViolation, ""):
			return order.ErrOrderNotFound
		case err != nil:
			return fmt.Errorf("insert payment: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE orders SET payment_status = $2, paid_at = $3, updated_at = $4
			WHERE id = $1 AND payment_status = $5
		`, o.ID, string(o.PaymentStatus), nullTime(o.PaidAt), o.UpdatedAt, string(order.PaymentUnpaid))
		if err != nil {
			return fmt.Errorf("update order payment: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return order.ErrAlreadyPaid
		}
		return nil
	})
}

func (s *Store) UpdateStatus(ctx context.Context, o *order.Order, from order.Status, restock []order.StockChange) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders SET order_status = $2, payment_status = $3, paid_at = $4, delivered_at = $5, updated_at = $6
			WHERE id = $1 AND order_status = $7
		`, o.ID, string(o.Status), string(o.PaymentStatus), nullTime(o.PaidAt), nullTime(o.DeliveredAt),
			o.UpdatedAt, string(from))
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return order.ErrOrderNotFound
			}
			return order.ErrStatusChanged
		}

		// variants deleted since the order was placed match no row
		for _, r := range restock {
			if _, err := tx.ExecContext(ctx, `
				UPDATE product_variants SET count_in_stock = count_in_stock + $1 WHERE id = $2
			`, r.Quantity, r.VariantID); err != nil {
				return fmt.Errorf("restock: %w", err)
			}
		}
		return nil
	})
}

func scanOrder(row interface{ Scan(...any) error }) (*order.Order, error) {
	var (
		o           order.Order
		address     []byte
		payStatus   string
		status      string
		paidAt      sql.NullTime
		deliveredAt sql.NullTime
		key         sql.NullString
	)
	err := row.Scan(&o.ID, &o.UserID, &address, &o.PaymentMethod, &o.ItemsPrice, &o.ShippingPrice,
		&o.TaxPrice, &o.TotalPrice, &payStatus, &status, &paidAt, &deliveredAt, &key,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	o.PaymentStatus = order.PaymentStatus(payStatus)
	o.Status = order.Status(status)
	o.PaidAt = timePtr(paidAt)
	o.DeliveredAt = timePtr(deliveredAt)
	o.IdempotencyKey = key.String
	return &o, nil
}

func (s *Store) loadItems(ctx context.Context, o *order.Order) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT variant_id, product_id, name, image, size, color, sku, quantity, price_at_time_of_purchase
		FROM order_items WHERE order_id = $1 ORDER BY position
	`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	o.Items = []order.Item{}
	for rows.Next() {
		var it order.Item
		if err := rows.Scan(&it.VariantID, &it.ProductID, &it.Name, &it.Image, &it.Size, &it.Color,
			&it.SKU, &it.Quantity, &it.PriceAtTimeOfPurchase); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

var _ cart.Repository = (*Store)(nil)
var _ order.Repository = (*Store)(nil)
var _ catalog.Repository = (*Store)(nil)
