package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/internal/repository"
)

type reconciledCart struct {
	cart     *domain.Cart
	products map[string]*domain.Product
	blocked  *CheckoutResult
}

// loadAndReconcile pulls the user's cart with live product data and checks it.
// Price-only drift is persisted (version checked) and reported as blocked, as
// is any availability problem, which leaves the cart untouched.
func (s *CheckoutService) loadAndReconcile(ctx context.Context, attempt *checkoutAttempt, userID string) (*reconciledCart, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.reconcile")
	defer span.End()

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, cartErr(err)
	}
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}

	products, err := s.products.GetProducts(ctx, cart.ProductIDs())
	if err != nil {
		return nil, fmt.Errorf("load cart products: %w", err)
	}

	rec := Reconcile(cart, products)
	if err := attempt.advance(domain.CheckoutStatusReconciled); err != nil {
		return nil, err
	}
	if !rec.Changed {
		return &reconciledCart{cart: cart, products: products}, attempt.advance(domain.CheckoutStatusCleared)
	}

	result := &CheckoutResult{Blocked: rec}
	if rec.Corrected != nil {
		saved, err := s.carts.ReplaceItems(ctx, rec.Corrected)
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}
		if err != nil {
			return nil, cartErr(err)
		}
		s.invalidateCache(userID)
		result.Cart = saved
	}

	s.log.InfoContext(ctx, "checkout blocked by cart drift",
		"user_id", userID, "cart_id", cart.ID, "items", len(rec.Annotations), "prices_corrected", rec.Corrected != nil)
	return &reconciledCart{cart: cart, products: products, blocked: result}, attempt.advance(domain.CheckoutStatusBlocked)
}
