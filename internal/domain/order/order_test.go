package order_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/infrastructure/store/memstore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testUser  = "user-123"
	testEmail = "buyer@example.com"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, patterns []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, patterns)
}

type recordingNotifier struct {
	mu     sync.Mutex
	orders []*order.Order
	emails []string
}

func (r *recordingNotifier) OrderPlaced(_ context.Context, o *order.Order, email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, o)
	r.emails = append(r.emails, email)
}

// failingRepo wraps the memory store and fails PlaceOrder.
type failingRepo struct {
	*memstore.Store
	err error
}

func (f *failingRepo) PlaceOrder(context.Context, *order.Order, order.CartRef, []order.StockChange) error {
	return f.err
}

type fixture struct {
	store       *memstore.Store
	carts       *cart.Store
	factory     *order.Factory
	machine     *order.StateMachine
	invalidator *recordingInvalidator
	notifier    *recordingNotifier
	product     catalog.Product
	variant     catalog.Variant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	logger := zap.NewNop()
	resolver := catalog.NewResolver(store, logger)
	carts := cart.NewStore(store, resolver, logger)
	inv := &recordingInvalidator{}
	notifier := &recordingNotifier{}

	p := catalog.Product{
		ID:        uuid.New().String(),
		Name:      "Variant A Jacket",
		BasePrice: decimal.NewFromInt(500),
		Images:    []string{"/img/jacket.jpg"},
	}
	store.PutProduct(p)
	v := catalog.Variant{ID: uuid.New().String(), ProductID: p.ID, Size: "M", Color: "Black", CountInStock: 10, SKU: "JKT-M-BLK"}
	store.PutVariant(v)

	return &fixture{
		store:       store,
		carts:       carts,
		factory:     order.NewFactory(carts, store, inv, notifier, logger),
		machine:     order.NewStateMachine(store, inv, logger),
		invalidator: inv,
		notifier:    notifier,
		product:     p,
		variant:     v,
	}
}

func validRequest() order.PlaceRequest {
	return order.PlaceRequest{
		UserID: testUser,
		Email:  testEmail,
		ShippingAddress: order.ShippingAddress{
			Street:     "1 Main St",
			City:       "Springfield",
			State:      "IL",
			PostalCode: "62701",
			Country:    "US",
		},
		PaymentMethod: "PayPal",
	}
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	v, ok := f.store.Variant(id)
	require.True(t, ok)
	return v.CountInStock
}

func (f *fixture) placeOrder(t *testing.T, qty int) *order.Order {
	t.Helper()
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, testUser, f.variant.ID, qty)
	require.NoError(t, err)
	o, err := f.factory.Create(ctx, validRequest())
	require.NoError(t, err)
	return o
}

// ============================================
// Factory Tests
// ============================================

func TestFactory_Create_CheckoutScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, testUser, f.variant.ID, 2)
	require.NoError(t, err)

	o, err := f.factory.Create(ctx, validRequest())

	require.NoError(t, err)
	assert.Equal(t, "1000.00", o.ItemsPrice.StringFixed(2))
	assert.Equal(t, "50.00", o.ShippingPrice.StringFixed(2))
	assert.Equal(t, "180.00", o.TaxPrice.StringFixed(2))
	assert.Equal(t, "1230.00", o.TotalPrice.StringFixed(2))
	assert.Equal(t, order.PaymentUnpaid, o.PaymentStatus)
	assert.Equal(t, order.StatusPending, o.Status)

	assert.Equal(t, 8, f.stock(t, f.variant.ID))

	c, err := f.carts.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, c.Items)

	stored, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.TotalPrice.String(), stored.TotalPrice.String())
}

func TestFactory_Create_SnapshotsItems(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 3)

	require.Len(t, o.Items, 1)
	it := o.Items[0]
	assert.Equal(t, f.variant.ID, it.VariantID)
	assert.Equal(t, f.product.ID, it.ProductID)
	assert.Equal(t, "Variant A Jacket", it.Name)
	assert.Equal(t, "/img/jacket.jpg", it.Image)
	assert.Equal(t, "JKT-M-BLK", it.SKU)
	assert.Equal(t, 3, it.Quantity)
	assert.True(t, decimal.NewFromInt(500).Equal(it.PriceAtTimeOfPurchase))

	// later product edits leave the order alone
	f.product.Name = "Renamed"
	f.store.PutProduct(f.product)
	stored, err := f.store.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Variant A Jacket", stored.Items[0].Name)
}

func TestFactory_Create_StockDecrementEqualsOrderedQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second := catalog.Variant{ID: uuid.New().String(), ProductID: f.product.ID, Size: "L", CountInStock: 7, SKU: "JKT-L"}
	f.store.PutVariant(second)

	_, err := f.carts.AddItem(ctx, testUser, f.variant.ID, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, testUser, second.ID, 3)
	require.NoError(t, err)

	o, err := f.factory.Create(ctx, validRequest())
	require.NoError(t, err)

	ordered := 0
	for _, it := range o.Items {
		ordered += it.Quantity
	}
	decremented := (10 - f.stock(t, f.variant.ID)) + (7 - f.stock(t, second.ID))
	assert.Equal(t, 5, ordered)
	assert.Equal(t, ordered, decremented)
}

func TestFactory_Create_EmptyCart(t *testing.T) {
	f := newFixture(t)

	o, err := f.factory.Create(context.Background(), validRequest())

	assert.ErrorIs(t, err, order.ErrEmptyCart)
	assert.ErrorIs(t, err, apperr.ErrEmptyCart)
	assert.Nil(t, o)
	assert.Empty(t, f.notifier.orders)
}

func TestFactory_Create_Validation(t *testing.T) {
	f := newFixture(t)

	req := validRequest()
	req.ShippingAddress.City = ""
	req.PaymentMethod = " "

	_, err := f.factory.Create(context.Background(), req)

	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "shippingAddress.city")
	assert.Contains(t, verr.Fields, "paymentMethod")
	assert.NotContains(t, verr.Fields, "shippingAddress.state")
}

func TestFactory_Create_InsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, testUser, f.variant.ID, 4)
	require.NoError(t, err)

	// someone else bought most of the stock after the item went into the cart
	f.variant.CountInStock = 3
	f.store.PutVariant(f.variant)

	_, err = f.factory.Create(ctx, validRequest())

	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Equal(t, 3, f.stock(t, f.variant.ID))
	c, err := f.carts.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
	orders, err := f.store.ListOrdersByUser(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.invalidator.calls)
}

func TestFactory_Create_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, testUser, f.variant.ID, 2)
	require.NoError(t, err)

	req := validRequest()
	req.IdempotencyKey = "checkout-abc"

	first, err := f.factory.Create(ctx, req)
	require.NoError(t, err)
	second, err := f.factory.Create(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 8, f.stock(t, f.variant.ID))
	orders, err := f.store.ListOrdersByUser(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestFactory_Create_InvalidatesAndNotifies(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 1)

	require.Len(t, f.invalidator.calls, 1)
	assert.Contains(t, f.invalidator.calls[0], "cache:/api/products/"+f.product.ID+"*")
	require.Len(t, f.notifier.orders, 1)
	assert.Equal(t, o.ID, f.notifier.orders[0].ID)
	assert.Equal(t, testEmail, f.notifier.emails[0])
}

func TestFactory_Create_RepositoryFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := &failingRepo{Store: f.store, err: errors.New("connection reset")}
	factory := order.NewFactory(f.carts, repo, f.invalidator, f.notifier, zap.NewNop())

	_, err := f.carts.AddItem(ctx, testUser, f.variant.ID, 1)
	require.NoError(t, err)

	_, err = factory.Create(ctx, validRequest())

	assert.ErrorContains(t, err, "connection reset")
	assert.Empty(t, f.notifier.orders)
	assert.Empty(t, f.invalidator.calls)
}

// ============================================
// MarkPaid Tests
// ============================================

func TestStateMachine_MarkPaid(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 2)

	paid, err := f.machine.MarkPaid(context.Background(), o.ID, order.PaymentConfirmation{
		TransactionID: "txn-1",
		Amount:        decimal.RequireFromString("1230.00"),
		Gateway:       "stripe",
	})

	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, paid.PaymentStatus)
	assert.Equal(t, order.StatusProcessing, paid.Status)
	require.NotNil(t, paid.PaidAt)

	payments := f.store.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, o.ID, payments[0].OrderID)
	assert.Equal(t, testUser, payments[0].UserID)
	assert.Equal(t, "stripe", payments[0].Gateway)
	assert.Equal(t, order.PaymentSucceeded, payments[0].Status)
	assert.True(t, o.TotalPrice.Equal(payments[0].Amount))
}

func TestStateMachine_MarkPaid_SameTransactionIsDeduplicated(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 2)
	ctx := context.Background()
	conf := order.PaymentConfirmation{TransactionID: "txn-1", Amount: o.TotalPrice}

	_, err := f.machine.MarkPaid(ctx, o.ID, conf)
	require.NoError(t, err)
	again, err := f.machine.MarkPaid(ctx, o.ID, conf)

	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, again.PaymentStatus)
	assert.Len(t, f.store.Payments(), 1)
}

func TestStateMachine_MarkPaid_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOrder(t, 1)

	other := f.placeOrder(t, 1)
	_, err := f.machine.MarkPaid(ctx, other.ID, order.PaymentConfirmation{TransactionID: "txn-other", Amount: other.TotalPrice})
	require.NoError(t, err)

	tests := []struct {
		name    string
		orderID string
		conf    order.PaymentConfirmation
		wantErr error
	}{
		{"missing transaction", o.ID, order.PaymentConfirmation{Amount: o.TotalPrice}, apperr.ErrValidation},
		{"non positive amount", o.ID, order.PaymentConfirmation{TransactionID: "t", Amount: decimal.Zero}, apperr.ErrValidation},
		{"amount mismatch", o.ID, order.PaymentConfirmation{TransactionID: "t", Amount: decimal.NewFromInt(1)}, apperr.ErrValidation},
		{"unknown order", uuid.New().String(), order.PaymentConfirmation{TransactionID: "t", Amount: o.TotalPrice}, order.ErrOrderNotFound},
		{"transaction of another order", o.ID, order.PaymentConfirmation{TransactionID: "txn-other", Amount: o.TotalPrice}, order.ErrDuplicateTransaction},
		{"already paid", other.ID, order.PaymentConfirmation{TransactionID: "txn-new", Amount: other.TotalPrice}, order.ErrAlreadyPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.machine.MarkPaid(ctx, tt.orderID, tt.conf)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Len(t, f.store.Payments(), 1)
}

func TestStateMachine_MarkPaid_CancelledOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOrder(t, 1)

	_, err := f.machine.AdminSetStatus(ctx, o.ID, order.StatusCancelled)
	require.NoError(t, err)

	_, err = f.machine.MarkPaid(ctx, o.ID, order.PaymentConfirmation{TransactionID: "t", Amount: o.TotalPrice})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

// ============================================
// AdminSetStatus Tests
// ============================================

func TestStateMachine_AdminSetStatus_DeliveredSettlesPayment(t *testing.T) {
	tests := []struct {
		name   string
		prePay bool
	}{
		{"unpaid cash on delivery", false},
		{"already paid", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			o := f.placeOrder(t, 1)

			var paidAt *time.Time
			if tt.prePay {
				paid, err := f.machine.MarkPaid(ctx, o.ID, order.PaymentConfirmation{TransactionID: "t", Amount: o.TotalPrice})
				require.NoError(t, err)
				paidAt = paid.PaidAt
			}

			delivered, err := f.machine.AdminSetStatus(ctx, o.ID, order.StatusDelivered)

			require.NoError(t, err)
			assert.Equal(t, order.StatusDelivered, delivered.Status)
			assert.Equal(t, order.PaymentPaid, delivered.PaymentStatus)
			require.NotNil(t, delivered.DeliveredAt)
			require.NotNil(t, delivered.PaidAt)
			if paidAt != nil {
				assert.True(t, paidAt.Equal(*delivered.PaidAt), "existing paidAt is kept")
			}
		})
	}
}

func TestStateMachine_AdminSetStatus_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []order.Status
		wantErr error
	}{
		{"pending to processing", []order.Status{order.StatusProcessing}, nil},
		{"processing to delivered", []order.Status{order.StatusProcessing, order.StatusDelivered}, nil},
		{"same status is a no-op", []order.Status{order.StatusPending}, nil},
		{"delivered after cancelled", []order.Status{order.StatusCancelled, order.StatusDelivered}, order.ErrInvalidTransition},
		{"back to pending", []order.Status{order.StatusProcessing, order.StatusPending}, order.ErrInvalidTransition},
		{"cancel delivered", []order.Status{order.StatusDelivered, order.StatusCancelled}, order.ErrInvalidTransition},
		{"unknown status", []order.Status{"Shipped"}, apperr.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := f.placeOrder(t, 1)

			var err error
			for _, st := range tt.path {
				_, err = f.machine.AdminSetStatus(context.Background(), o.ID, st)
			}
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStateMachine_AdminSetStatus_CancelRestocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOrder(t, 4)
	require.Equal(t, 6, f.stock(t, f.variant.ID))
	f.invalidator.calls = nil

	cancelled, err := f.machine.AdminSetStatus(ctx, o.ID, order.StatusCancelled)

	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, 10, f.stock(t, f.variant.ID))
	assert.Len(t, f.invalidator.calls, 1)

	// cancelling twice must not restock twice
	_, err = f.machine.AdminSetStatus(ctx, o.ID, order.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 10, f.stock(t, f.variant.ID))
}

func TestOrder_CanView(t *testing.T) {
	o := &order.Order{UserID: "owner"}

	assert.True(t, o.CanView("owner", false))
	assert.True(t, o.CanView("someone", true))
	assert.False(t, o.CanView("someone", false))
}

func TestOrder_StockChangesMergesVariants(t *testing.T) {
	o := &order.Order{Items: []order.Item{
		{VariantID: "a", Quantity: 1},
		{VariantID: "b", Quantity: 2},
		{VariantID: "a", Quantity: 3},
	}}

	assert.Equal(t, []order.StockChange{
		{VariantID: "a", Quantity: 4},
		{VariantID: "b", Quantity: 2},
	}, o.StockChanges())
}

func TestParseID(t *testing.T) {
	id := uuid.New()

	got, err := order.ParseID(strings.ToUpper(id.String()))
	require.NoError(t, err)
	assert.Equal(t, id.String(), got)

	_, err = order.ParseID("not-an-id")
	assert.ErrorIs(t, err, apperr.ErrInvalidReference)
}
