package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ec-storefront/internal/auth"
	"github.com/example/ec-storefront/internal/command"
	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/domain/checkout"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/infrastructure/cache"
	"github.com/example/ec-storefront/internal/infrastructure/store/memstore"
	"github.com/example/ec-storefront/internal/notification"
	"github.com/example/ec-storefront/internal/query"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	handler http.Handler
	store   *memstore.Store
	jwt     *auth.JWTService
	variant catalog.Variant
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := memstore.New()

	now := time.Now()
	p := catalog.Product{ID: uuid.NewString(), Name: "Jacket", BasePrice: decimal.NewFromInt(500), Images: []string{"jacket.jpg"}, CreatedAt: now}
	v := catalog.Variant{ID: uuid.NewString(), ProductID: p.ID, Size: "M", Color: "Black", CountInStock: 10, SKU: "JKT-M-BLK", CreatedAt: now}
	store.PutProduct(p)
	store.PutVariant(v)

	carts := cart.NewStore(store, catalog.NewResolver(store, logger), logger)
	notifier := notification.NewNotifier(notification.LogPublisher{Logger: logger}, logger)
	factory := order.NewFactory(carts, store, cache.Nop{}, notifier, logger)
	machine := order.NewStateMachine(store, cache.Nop{}, logger)

	jwtService := auth.NewJWTService("test-secret", time.Hour)
	handlers := NewHandlers(
		command.NewHandler(carts, factory, machine, store),
		query.NewHandler(carts, store),
		logger,
		false,
	)

	return &testServer{
		handler: NewRouter(handlers, jwtService, logger, 5*time.Second),
		store:   store,
		jwt:     jwtService,
		variant: v,
	}
}

func (s *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	token, _, err := s.jwt.GenerateAccessToken(userID, userID+"@example.com", role)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var validOrderBody = map[string]any{
	"shippingAddress": map[string]string{"street": "1 Main St", "city": "Istanbul", "postalCode": "34000", "country": "TR"},
	"paymentMethod":   "card",
}

// ============================================
// Health and auth
// ============================================

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/cart", "/cart/totals", "/orders/my-orders"} {
		rec := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

// ============================================
// Checkout flow
// ============================================

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	buyer := s.token(t, "user-1", "customer")
	admin := s.token(t, "admin-1", auth.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/cart", buyer, command.AddToCart{VariantReference: s.variant.ID, Quantity: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := decode[cart.Cart](t, rec)
	require.Len(t, c.Items, 1)
	require.NotNil(t, c.Items[0].Variant)
	assert.Equal(t, "Jacket", c.Items[0].Variant.Product.Name)

	rec = s.do(t, http.MethodGet, "/cart/totals", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	totals := decode[checkout.Totals](t, rec)
	assert.True(t, totals.TotalPrice.Equal(decimal.NewFromInt(1230)), totals.TotalPrice.String())

	rec = s.do(t, http.MethodPost, "/orders", buyer, validOrderBody, idempotencyHeader, "checkout-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := decode[order.Order](t, rec)
	assert.True(t, placed.TotalPrice.Equal(decimal.NewFromInt(1230)))
	assert.Equal(t, order.StatusPending, placed.Status)

	v, _ := s.store.Variant(s.variant.ID)
	assert.Equal(t, 8, v.CountInStock)

	// retry with the same key returns the same order without charging stock again
	rec = s.do(t, http.MethodPost, "/orders", buyer, validOrderBody, idempotencyHeader, "checkout-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, placed.ID, decode[order.Order](t, rec).ID)
	v, _ = s.store.Variant(s.variant.ID)
	assert.Equal(t, 8, v.CountInStock)

	rec = s.do(t, http.MethodGet, "/orders/my-orders", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]order.Order](t, rec), 1)

	stranger := s.token(t, "user-2", "customer")
	rec = s.do(t, http.MethodGet, "/orders/"+placed.ID, stranger, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, "/orders/"+placed.ID+"/pay", stranger, map[string]any{"transactionId": "tx-1", "amount": "1230.00"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, s.store.Payments())

	rec = s.do(t, http.MethodPut, "/orders/"+placed.ID+"/pay", buyer, map[string]any{"transactionId": "tx-1", "amount": "1230.00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[order.Order](t, rec)
	assert.Equal(t, order.PaymentPaid, paid.PaymentStatus)
	assert.NotNil(t, paid.PaidAt)

	rec = s.do(t, http.MethodPut, "/admin/orders/"+placed.ID+"/status", buyer, map[string]string{"status": "Delivered"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, "/admin/orders/"+placed.ID+"/status", admin, map[string]string{"status": "Delivered"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	delivered := decode[order.Order](t, rec)
	assert.Equal(t, order.StatusDelivered, delivered.Status)
	assert.NotNil(t, delivered.DeliveredAt)

	rec = s.do(t, http.MethodPut, "/admin/orders/"+placed.ID+"/status", admin, map[string]string{"status": "Cancelled"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCartItemEndpoints(t *testing.T) {
	s := newTestServer(t)
	buyer := s.token(t, "user-1", "customer")

	rec := s.do(t, http.MethodPost, "/cart", buyer, command.AddToCart{VariantReference: s.variant.ID, Quantity: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	itemID := decode[cart.Cart](t, rec).Items[0].ID

	rec = s.do(t, http.MethodPut, "/cart/"+itemID, buyer, command.UpdateCartItem{Quantity: 4})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decode[cart.Cart](t, rec).Items[0].Quantity)

	rec = s.do(t, http.MethodDelete, "/cart/"+itemID, buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[cart.Cart](t, rec).Items)

	rec = s.do(t, http.MethodDelete, "/cart/"+itemID, buyer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/cart", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"cart cleared"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/cart/totals", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[checkout.Totals](t, rec).TotalPrice.IsZero())
}

// ============================================
// Error mapping
// ============================================

func TestErrorResponses(t *testing.T) {
	s := newTestServer(t)
	buyer := s.token(t, "user-1", "customer")

	tests := []struct {
		name      string
		method    string
		path      string
		body      any
		wantCode  int
		wantField string
	}{
		{"malformed reference", http.MethodPost, "/cart", command.AddToCart{VariantReference: "abc", Quantity: 1}, http.StatusBadRequest, ""},
		{"zero quantity", http.MethodPost, "/cart", command.AddToCart{VariantReference: s.variant.ID, Quantity: 0}, http.StatusBadRequest, "quantity"},
		{"unknown variant", http.MethodPost, "/cart", command.AddToCart{VariantReference: uuid.NewString(), Quantity: 1}, http.StatusNotFound, ""},
		{"more than stock", http.MethodPost, "/cart", command.AddToCart{VariantReference: s.variant.ID, Quantity: 11}, http.StatusConflict, ""},
		{"malformed body", http.MethodPost, "/cart", "{not json", http.StatusBadRequest, "body"},
		{"empty cart checkout", http.MethodPost, "/orders", validOrderBody, http.StatusBadRequest, ""},
		{"missing address", http.MethodPost, "/orders", map[string]any{"paymentMethod": "card"}, http.StatusBadRequest, "shippingAddress.street"},
		{"malformed order id", http.MethodGet, "/orders/not-a-uuid", nil, http.StatusBadRequest, ""},
		{"unknown order", http.MethodGet, "/orders/" + uuid.NewString(), nil, http.StatusNotFound, ""},
		{"unknown cart item", http.MethodPut, "/cart/" + uuid.NewString(), command.UpdateCartItem{Quantity: 1}, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, buyer, tt.body)

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			body := decode[errorResponse](t, rec)
			assert.NotEmpty(t, body.Error)
			if tt.wantField != "" {
				assert.Contains(t, body.Fields, tt.wantField)
			}
		})
	}
}

func TestWriteError_HidesInternalErrors(t *testing.T) {
	tests := []struct {
		name   string
		expose bool
		want   string
	}{
		{"production", false, "internal server error"},
		{"development", true, "load cart: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(nil, nil, zap.NewNop(), tt.expose)
			rec := httptest.NewRecorder()

			h.writeError(rec, httptest.NewRequest(http.MethodGet, "/cart", nil),
				fmt.Errorf("load cart: %w", errors.New("connection refused")))

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, tt.want, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestWriteError_Timeout(t *testing.T) {
	tests := []struct {
		name   string
		expose bool
		want   string
	}{
		{"production", false, "request timed out"},
		{"development", true, "place order: context deadline exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(nil, nil, zap.NewNop(), tt.expose)
			rec := httptest.NewRecorder()

			h.writeError(rec, httptest.NewRequest(http.MethodPost, "/orders", nil),
				fmt.Errorf("place order: %w", context.DeadlineExceeded))

			assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
			assert.Equal(t, tt.want, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{order.ErrOrderNotFound, http.StatusNotFound},
		{catalog.ErrInvalidReference, http.StatusBadRequest},
		{&catalog.StockError{VariantID: "v", Requested: 2, Available: 1}, http.StatusConflict},
		{order.ErrEmptyCart, http.StatusBadRequest},
		{order.ErrForbidden, http.StatusForbidden},
		{order.ErrInvalidTransition, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
