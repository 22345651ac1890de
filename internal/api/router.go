package api

import (
	"net/http"
	"time"

	"github.com/example/ec-storefront/internal/api/middleware"
	"github.com/example/ec-storefront/internal/auth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(handlers *Handlers, jwtService *auth.JWTService, logger *zap.Logger, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer(logger.Named("http")))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", handlers.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService))

		// Cart
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", handlers.GetCart)
			r.Post("/", handlers.AddToCart)
			r.Delete("/", handlers.ClearCart)
			r.Get("/totals", handlers.GetCartTotals)
			r.Put("/{itemId}", handlers.UpdateCartItem)
			r.Delete("/{itemId}", handlers.RemoveFromCart)
		})

		// Orders
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", handlers.PlaceOrder)
			r.Get("/my-orders", handlers.GetMyOrders)
			r.Get("/{id}", handlers.GetOrder)
			r.Put("/{id}/pay", handlers.PayOrder)
		})

		// Admin
		r.With(middleware.RequireRole(auth.RoleAdmin)).
			Put("/admin/orders/{id}/status", handlers.SetOrderStatus)
	})

	return r
}
