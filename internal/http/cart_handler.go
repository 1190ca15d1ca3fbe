package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/internal/service"
	"github.com/go-chi/chi/v5"
)

type CartService interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID string, in service.AddItemInput) (*domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, itemID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
	ApplyCoupon(ctx context.Context, userID, code string) (*domain.Cart, error)
}

type CartHandler struct {
	carts       CartService
	timeout     time.Duration
	maxBodySize int64
}

func NewCartHandler(carts CartService, timeout time.Duration, maxBodySize int64) *CartHandler {
	return &CartHandler{
		carts:       carts,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type ApplyCouponRequestDTO struct {
	Coupon string `json:"coupon"`
}

type CartResponseDTO struct {
	NumOfCartItems int          `json:"numOfCartItems"`
	Cart           *domain.Cart `json:"cart"`
}

func cartResponse(cart *domain.Cart) CartResponseDTO {
	return CartResponseDTO{NumOfCartItems: len(cart.Items), Cart: cart}
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, _ := principalFromContext(r.Context())
	cart, err := h.carts.GetCart(ctx, p.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, cartResponse(cart))
}

// POST /api/v1/cart
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req service.AddItemInput
	if !decodeJSON(w, r, h.maxBodySize, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	p, _ := principalFromContext(r.Context())
	cart, err := h.carts.AddItem(ctx, p.UserID, req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, cartResponse(cart))
}

// PATCH /api/v1/cart/{itemId}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, h.maxBodySize, &req) {
		return
	}

	p, _ := principalFromContext(r.Context())
	cart, err := h.carts.UpdateItemQuantity(ctx, p.UserID, chi.URLParam(r, "itemId"), req.Quantity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, cartResponse(cart))
}

// DELETE /api/v1/cart/{itemId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, _ := principalFromContext(r.Context())
	cart, err := h.carts.RemoveItem(ctx, p.UserID, chi.URLParam(r, "itemId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if cart == nil {
		// last item removed, the cart is gone
		w.WriteHeader(http.StatusNoContent)
		return
	}

	respondSuccess(w, http.StatusOK, cartResponse(cart))
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, _ := principalFromContext(r.Context())
	if err := h.carts.ClearCart(ctx, p.UserID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PATCH /api/v1/cart/applyCoupon
func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ApplyCouponRequestDTO
	if !decodeJSON(w, r, h.maxBodySize, &req) {
		return
	}

	p, _ := principalFromContext(r.Context())
	cart, err := h.carts.ApplyCoupon(ctx, p.UserID, req.Coupon)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, cartResponse(cart))
}
