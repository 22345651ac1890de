package api

import (
	"net/http"

	"github.com/example/ec-storefront/internal/api/middleware"
	"github.com/example/ec-storefront/internal/auth"
	"github.com/example/ec-storefront/internal/command"
	"github.com/example/ec-storefront/internal/query"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
	logger       *zap.Logger
	exposeErrors bool
}

// NewHandlers builds the HTTP handlers. exposeErrors puts the text of
// internal errors into 500 responses and is meant for development only.
func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, logger *zap.Logger, exposeErrors bool) *Handlers {
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
		logger:       logger.Named("api"),
		exposeErrors: exposeErrors,
	}
}

func caller(r *http.Request) auth.Identity {
	id, _ := middleware.Identity(r.Context())
	return id
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Cart Handlers

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.queryHandler.GetCart(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) GetCartTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.queryHandler.CartTotals(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, totals)
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var cmd command.AddToCart
	if err := decodeJSON(w, r, &cmd); err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.cmdHandler.AddToCart(r.Context(), caller(r), cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var cmd command.UpdateCartItem
	if err := decodeJSON(w, r, &cmd); err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.cmdHandler.UpdateCartItem(r.Context(), caller(r), chi.URLParam(r, "itemId"), cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.cmdHandler.RemoveFromCart(r.Context(), caller(r), chi.URLParam(r, "itemId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.cmdHandler.ClearCart(r.Context(), caller(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "cart cleared"})
}

// Order Handlers

func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var cmd command.PlaceOrder
	if err := decodeJSON(w, r, &cmd); err != nil {
		h.writeError(w, r, err)
		return
	}
	cmd.IdempotencyKey = r.Header.Get(idempotencyHeader)

	o, err := h.cmdHandler.PlaceOrder(r.Context(), caller(r), cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

func (h *Handlers) GetMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.queryHandler.MyOrders(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.queryHandler.GetOrder(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) PayOrder(w http.ResponseWriter, r *http.Request) {
	var cmd command.PayOrder
	if err := decodeJSON(w, r, &cmd); err != nil {
		h.writeError(w, r, err)
		return
	}

	o, err := h.cmdHandler.PayOrder(r.Context(), caller(r), chi.URLParam(r, "id"), cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	var cmd command.SetOrderStatus
	if err := decodeJSON(w, r, &cmd); err != nil {
		h.writeError(w, r, err)
		return
	}

	o, err := h.cmdHandler.SetOrderStatus(r.Context(), caller(r), chi.URLParam(r, "id"), cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}
