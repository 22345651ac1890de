package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/domain/order"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type orderItemDoc struct {
	VariantID string               `bson:"variant_id"`
	ProductID string               `bson:"product_id"`
	Name      string               `bson:"name"`
	Image     string               `bson:"image"`
	Size      string               `bson:"size"`
	Color     string               `bson:"color"`
	SKU       string               `bson:"sku"`
	Quantity  int                  `bson:"quantity"`
	Price     primitive.Decimal128 `bson:"price_at_time_of_purchase"`
}

type addressDoc struct {
	Street     string `bson:"street"`
	City       string `bson:"city"`
	State      string `bson:"state"`
	PostalCode string `bson:"postal_code"`
	Country    string `bson:"country"`
}

type orderDoc struct {
	ID              string               `bson:"_id"`
	UserID          string               `bson:"user_id"`
	Items           []orderItemDoc       `bson:"order_items"`
	ShippingAddress addressDoc           `bson:"shipping_address"`
	PaymentMethod   string               `bson:"payment_method"`
	ItemsPrice      primitive.Decimal128 `bson:"items_price"`
	ShippingPrice   primitive.Decimal128 `bson:"shipping_price"`
	TaxPrice        primitive.Decimal128 `bson:"tax_price"`
	TotalPrice      primitive.Decimal128 `bson:"total_price"`
	PaymentStatus   string               `bson:"payment_status"`
	Status          string               `bson:"order_status"`
	PaidAt          *time.Time           `bson:"paid_at,omitempty"`
	DeliveredAt     *time.Time           `bson:"delivered_at,omitempty"`
	IdempotencyKey  string               `bson:"idempotency_key,omitempty"`
	CreatedAt       time.Time            `bson:"created_at"`
	UpdatedAt       time.Time            `bson:"updated_at"`
}

func newOrderDoc(o *order.Order) orderDoc {
	doc := orderDoc{
		ID:              o.ID,
		UserID:          o.UserID,
		Items:           make([]orderItemDoc, len(o.Items)),
		ShippingAddress: addressDoc(o.ShippingAddress),
		PaymentMethod:   o.PaymentMethod,
		ItemsPrice:      toDecimal128(o.ItemsPrice),
		ShippingPrice:   toDecimal128(o.ShippingPrice),
		TaxPrice:        toDecimal128(o.TaxPrice),
		TotalPrice:      toDecimal128(o.TotalPrice),
		PaymentStatus:   string(o.PaymentStatus),
		Status:          string(o.Status),
		PaidAt:          o.PaidAt,
		DeliveredAt:     o.DeliveredAt,
		IdempotencyKey:  o.IdempotencyKey,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for i, it := range o.Items {
		doc.Items[i] = orderItemDoc{
			VariantID: it.VariantID,
			ProductID: it.ProductID,
			Name:      it.Name,
			Image:     it.Image,
			Size:      it.Size,
			Color:     it.Color,
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			Price:     toDecimal128(it.PriceAtTimeOfPurchase),
		}
	}
	return doc
}

func (d orderDoc) toDomain() *order.Order {
	o := &order.Order{
		ID:              d.ID,
		UserID:          d.UserID,
		Items:           make([]order.Item, len(d.Items)),
		ShippingAddress: order.ShippingAddress(d.ShippingAddress),
		PaymentMethod:   d.PaymentMethod,
		ItemsPrice:      fromDecimal128(d.ItemsPrice),
		ShippingPrice:   fromDecimal128(d.ShippingPrice),
		TaxPrice:        fromDecimal128(d.TaxPrice),
		TotalPrice:      fromDecimal128(d.TotalPrice),
		PaymentStatus:   order.PaymentStatus(d.PaymentStatus),
		Status:          order.Status(d.Status),
		PaidAt:          d.PaidAt,
		DeliveredAt:     d.DeliveredAt,
		IdempotencyKey:  d.IdempotencyKey,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	for i, it := range d.Items {
		o.Items[i] = order.Item{
			VariantID:             it.VariantID,
			ProductID:             it.ProductID,
			Name:                  it.Name,
			Image:                 it.Image,
			Size:                  it.Size,
			Color:                 it.Color,
			SKU:                   it.SKU,
			Quantity:              it.Quantity,
			PriceAtTimeOfPurchase: fromDecimal128(it.Price),
		}
	}
	return o
}

type paymentDoc struct {
	ID            string               `bson:"_id"`
	OrderID       string               `bson:"order_id"`
	UserID        string               `bson:"user_id"`
	Gateway       string               `bson:"gateway"`
	TransactionID string               `bson:"transaction_id"`
	Amount        primitive.Decimal128 `bson:"amount"`
	Status        string               `bson:"status"`
	CreatedAt     time.Time            `bson:"created_at"`
}

func (s *Store) findOrder(ctx context.Context, filter bson.M) (*order.Order, error) {
	var doc orderDoc
	err := s.orders.FindOne(ctx, filter).Decode(&doc)
	if notFound(err) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return s.findOrder(ctx, bson.M{"_id": id})
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, userID, key string) (*order.Order, error) {
	if key == "" {
		return nil, order.ErrOrderNotFound
	}
	return s.findOrder(ctx, bson.M{"user_id": userID, "idempotency_key": key})
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	cursor, err := s.orders.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	orders := make([]*order.Order, 0, len(docs))
	for _, d := range docs {
		orders = append(orders, d.toDomain())
	}
	return orders, nil
}

func (s *Store) GetPaymentByTransaction(ctx context.Context, transactionID string) (*order.Payment, error) {
	var doc paymentDoc
	err := s.payments.FindOne(ctx, bson.M{"transaction_id": transactionID}).Decode(&doc)
	if notFound(err) {
		return nil, order.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &order.Payment{
		ID:            doc.ID,
		OrderID:       doc.OrderID,
		UserID:        doc.UserID,
		Gateway:       doc.Gateway,
		TransactionID: doc.TransactionID,
		Amount:        fromDecimal128(doc.Amount),
		Status:        doc.Status,
		CreatedAt:     doc.CreatedAt,
	}, nil
}

func (s *Store) PlaceOrder(ctx context.Context, o *order.Order, cartRef order.CartRef, decrements []order.StockChange) error {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		if _, err := s.orders.InsertOne(sc, newOrderDoc(o)); err != nil {
			if duplicateOn(err, idxOrderIdemKey) {
				return order.ErrDuplicateIdempotencyKey
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for _, d := range decrements {
			if err := s.decrementStock(sc, d); err != nil {
				return err
			}
		}

		return casCart(sc, s.carts, cartRef.ID, cartRef.Version, []cartItemDoc{}, o.CreatedAt)
	})
}

func (s *Store) decrementStock(ctx context.Context, d order.StockChange) error {
	res, err := s.variants.UpdateOne(ctx,
		bson.M{"_id": d.VariantID, "count_in_stock": bson.M{"$gte": d.Quantity}},
		bson.M{"$inc": bson.M{"count_in_stock": -d.Quantity}})
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	v, err := s.GetVariant(ctx, d.VariantID)
	if err != nil {
		return err
	}
	return &catalog.StockError{VariantID: d.VariantID, Requested: d.Quantity, Available: v.CountInStock}
}

func (s *Store) RecordPayment(ctx context.Context, o *order.Order, p *order.Payment) error {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		_, err := s.payments.InsertOne(sc, paymentDoc{
			ID:            p.ID,
			OrderID:       p.OrderID,
			UserID:        p.UserID,
			Gateway:       p.Gateway,
			TransactionID: p.TransactionID,
			Amount:        toDecimal128(p.Amount),
			Status:        p.Status,
			CreatedAt:     p.CreatedAt,
		})
		if duplicateOn(err, idxPaymentTxn) {
			return order.ErrDuplicateTransaction
		}
		if err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}

		res, err := s.orders.UpdateOne(sc,
			bson.M{"_id": o.ID, "payment_status": string(order.PaymentUnpaid)},
			bson.M{"$set": bson.M{
				"payment_status": string(o.PaymentStatus),
				"paid_at":        o.PaidAt,
				"updated_at":     o.UpdatedAt,
			}})
		if err != nil {
			return fmt.Errorf("failed to update order payment: %w", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}
		return s.orderMiss(sc, o.ID, order.ErrAlreadyPaid)
	})
}

func (s *Store) UpdateStatus(ctx context.Context, o *order.Order, from order.Status, restock []order.StockChange) error {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		set := bson.M{
			"order_status":   string(o.Status),
			"payment_status": string(o.PaymentStatus),
			"updated_at":     o.UpdatedAt,
		}
		if o.PaidAt != nil {
			set["paid_at"] = o.PaidAt
		}
		if o.DeliveredAt != nil {
			set["delivered_at"] = o.DeliveredAt
		}

		res, err := s.orders.UpdateOne(sc, bson.M{"_id": o.ID, "order_status": string(from)}, bson.M{"$set": set})
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		if res.MatchedCount != 1 {
			return s.orderMiss(sc, o.ID, order.ErrStatusChanged)
		}

		// variants deleted since the order was placed match nothing
		for _, r := range restock {
			if _, err := s.variants.UpdateOne(sc, bson.M{"_id": r.VariantID},
				bson.M{"$inc": bson.M{"count_in_stock": r.Quantity}}); err != nil {
				return fmt.Errorf("failed to restock: %w", err)
			}
		}
		return nil
	})
}

// orderMiss explains a conditional update that matched nothing.
func (s *Store) orderMiss(ctx context.Context, id string, conflict error) error {
	ok, err := exists(ctx, s.orders, id)
	if err != nil {
		return fmt.Errorf("failed to check order: %w", err)
	}
	if !ok {
		return order.ErrOrderNotFound
	}
	return conflict
}

var (
	_ catalog.Repository = (*Store)(nil)
	_ cart.Repository    = (*Store)(nil)
	_ order.Repository   = (*Store)(nil)
)
