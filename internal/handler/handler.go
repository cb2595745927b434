// Package handler exposes the cart, order and payment services over a JSON
// HTTP API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/domain/user"
	"github.com/xenking/kart-orders/internal/jwtauth"
	"github.com/xenking/kart-orders/internal/payment"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// WebhookSecret verifies the X-Signature header of payment webhooks.
	WebhookSecret []byte
	// DefaultShippingCost applies when a placement request omits shippingCost.
	DefaultShippingCost decimal.Decimal
	// PlaceOrderMiddleware wraps POST /api/orders only, e.g. a rate limiter.
	PlaceOrderMiddleware []func(http.Handler) http.Handler
}

// Handler serves the /api routes.
type Handler struct {
	cfg      Config
	products product.Repository
	users    user.Repository
	carts    *cart.Service
	orders   *order.Service
	payments *payment.Processor
	issuer   *jwtauth.Issuer
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	products product.Repository,
	users user.Repository,
	carts *cart.Service,
	orders *order.Service,
	payments *payment.Processor,
	issuer *jwtauth.Issuer,
) *Handler {
	return &Handler{
		cfg:      cfg,
		products: products,
		users:    users,
		carts:    carts,
		orders:   orders,
		payments: payments,
		issuer:   issuer,
	}
}

// Router returns the API routes mounted under /api.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)
		r.Post("/webhooks/payments", h.paymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Authenticate(h.issuer, h.unauthenticated))

			r.Get("/cart", h.viewCart)
			r.Post("/cart/items", h.addCartItem)
			r.Patch("/cart/items/{productId}", h.setCartQuantity)
			r.Delete("/cart/items/{productId}", h.removeCartItem)
			r.Put("/me/address", h.setAddress)

			r.With(h.cfg.PlaceOrderMiddleware...).Post("/orders", h.placeOrder)
			r.Get("/orders", h.listOrders)
			r.Get("/orders/history", h.orderHistory)
			r.Get("/orders/{id}", h.getOrder)
			r.Post("/orders/{id}/cancel", h.cancelOrder)

			r.Get("/admin/orders", h.listAllOrders)
			r.Post("/admin/orders/{id}/status", h.advanceStatus)
		})
	})
	return r
}
