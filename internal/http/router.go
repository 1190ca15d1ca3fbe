package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/cartcheckout/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterDeps struct {
	Carts          CartService
	Checkout       CheckoutService
	Orders         OrderService
	Sales          SalesReader // optional
	JWTSecret      []byte
	RequestTimeout time.Duration
	MaxBodySize    int64
	Log            *slog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	cartHandler := NewCartHandler(deps.Carts, deps.RequestTimeout, deps.MaxBodySize)
	ordersHandler := NewOrdersHandler(deps.Checkout, deps.Orders, deps.RequestTimeout, deps.MaxBodySize)
	webhookHandler := NewWebhookHandler(deps.Checkout, deps.Log, deps.MaxBodySize)
	adminHandler := NewAdminHandler(deps.Sales, deps.RequestTimeout)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(deps.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/webhook-checkout", webhookHandler.HandleCheckout)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Use(AuthMiddleware(deps.JWTSecret))

		r.Route("/cart", func(r chi.Router) {
			r.Use(RequireRole(service.RoleUser))
			r.Get("/", cartHandler.GetCart)
			r.Post("/", cartHandler.AddItem)
			r.Delete("/", cartHandler.ClearCart)
			r.Patch("/applyCoupon", cartHandler.ApplyCoupon)
			r.Patch("/{itemId}", cartHandler.UpdateQuantity)
			r.Delete("/{itemId}", cartHandler.RemoveItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordersHandler.ListOrders)
			r.With(RequireRole(service.RoleUser)).Post("/", ordersHandler.CreateCashOrder)
			r.With(RequireRole(service.RoleUser)).Get("/checkout-session", ordersHandler.CreateCheckoutSession)
			r.With(RequireRole(service.RoleUser)).Post("/checkout-session", ordersHandler.CreateCheckoutSession)
			r.Get("/{id}", ordersHandler.GetOrder)
			r.With(RequireRole(service.RoleUser, service.RoleAdmin)).Delete("/{id}", ordersHandler.CancelOrder)
			r.With(RequireRole(service.RoleAdmin, service.RoleManager)).Patch("/{id}/status", ordersHandler.UpdateStatus)
		})

		r.With(RequireRole(service.RoleAdmin)).Get("/admin/sales", adminHandler.SalesSummary)
	})

	return otelhttp.NewHandler(r, "cartcheckout",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/health" }),
	)
}
