package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/internal/service"
	"github.com/go-chi/chi/v5"
)

type CheckoutService interface {
	CreateCashOrder(ctx context.Context, p service.Principal, address *domain.ShippingAddress) (*service.CheckoutResult, error)
	CreateCheckoutSession(ctx context.Context, p service.Principal, address *domain.ShippingAddress) (*service.CheckoutResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*service.WebhookResult, error)
}

type OrderService interface {
	GetOrder(ctx context.Context, p service.Principal, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, p service.Principal) ([]*domain.Order, error)
	CancelCashOrder(ctx context.Context, p service.Principal, id string) error
	UpdateOrderStatus(ctx context.Context, id string, update domain.StatusUpdate) (*domain.Order, error)
}

type OrdersHandler struct {
	checkout    CheckoutService
	orders      OrderService
	timeout     time.Duration
	maxBodySize int64
}

func NewOrdersHandler(checkout CheckoutService, orders OrderService, timeout time.Duration, maxBodySize int64) *OrdersHandler {
	return &OrdersHandler{
		checkout:    checkout,
		orders:      orders,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

type CheckoutRequestDTO struct {
	ShippingAddress *domain.ShippingAddress `json:"shippingAddress"`
}

type UpdateStatusRequestDTO struct {
	IsPaid      *bool `json:"isPaid"`
	IsDelivered *bool `json:"isDelivered"`
}

type ProductsChangedDTO struct {
	ProductsChanged []service.ItemAnnotation `json:"productsChanged"`
}

type CartDTO struct {
	Cart *domain.Cart `json:"cart"`
}

type OrderDTO struct {
	Order *domain.Order `json:"order"`
}

type OrdersDTO struct {
	Results int             `json:"results"`
	Orders  []*domain.Order `json:"orders"`
}

type SessionResponseDTO struct {
	Status  string      `json:"status"`
	Session interface{} `json:"session"`
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, _ := principalFromContext(r.Context())
	orders, err := h.orders.ListOrders(ctx, p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, OrdersDTO{Results: len(orders), Orders: orders})
}

// GET /api/v1/orders/{id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, _ := principalFromContext(r.Context())
	order, err := h.orders.GetOrder(ctx, p, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, OrderDTO{Order: order})
}

// POST /api/v1/orders
func (h *OrdersHandler) CreateCashOrder(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequestDTO
	if !h.decodeOptional(w, r, &req) {
		return
	}

	p, _ := principalFromContext(r.Context())
	res, err := h.checkout.CreateCashOrder(r.Context(), p, req.ShippingAddress)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if res.IsBlocked() {
		respondBlocked(w, res)
		return
	}

	respondSuccess(w, http.StatusCreated, OrderDTO{Order: res.Order})
}

// GET|POST /api/v1/orders/checkout-session
func (h *OrdersHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequestDTO
	if !h.decodeOptional(w, r, &req) {
		return
	}

	p, _ := principalFromContext(r.Context())
	res, err := h.checkout.CreateCheckoutSession(r.Context(), p, req.ShippingAddress)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if res.IsBlocked() {
		respondBlocked(w, res)
		return
	}

	respondJSON(w, http.StatusOK, SessionResponseDTO{Status: statusSuccess, Session: res.Session})
}

// DELETE /api/v1/orders/{id}
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, _ := principalFromContext(r.Context())
	if err := h.orders.CancelCashOrder(ctx, p, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PATCH /api/v1/orders/{id}/status
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateStatusRequestDTO
	if !decodeJSON(w, r, h.maxBodySize, &req) {
		return
	}
	if req.IsPaid == nil && req.IsDelivered == nil {
		respondError(w, http.StatusBadRequest, "invalid_input", "isPaid or isDelivered is required")
		return
	}

	order, err := h.orders.UpdateOrderStatus(ctx, chi.URLParam(r, "id"), domain.StatusUpdate{
		IsPaid:      req.IsPaid,
		IsDelivered: req.IsDelivered,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, OrderDTO{Order: order})
}

// decodeOptional decodes the body if there is one; checkout accepts an
// empty body.
func (h *OrdersHandler) decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, h.maxBodySize, v, true)
}

func respondBlocked(w http.ResponseWriter, res *service.CheckoutResult) {
	rec := res.Blocked
	if rec.AvailabilityChanged() {
		respondWarn(w, rec.Message(), ProductsChangedDTO{ProductsChanged: rec.Annotations})
		return
	}
	respondWarn(w, rec.Message(), CartDTO{Cart: res.Cart})
}
