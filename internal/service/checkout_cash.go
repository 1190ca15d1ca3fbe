package service

import (
	"context"
	"errors"

	"github.com/fjod/cartcheckout/internal/domain"
)

// CreateCashOrder reconciles the caller's cart and, when nothing drifted,
// commits an unpaid cash order for it.
func (s *CheckoutService) CreateCashOrder(ctx context.Context, p Principal, address *domain.ShippingAddress) (*CheckoutResult, error) {
	attempt := newCheckoutAttempt(s.log)

	rc, err := s.loadAndReconcile(ctx, attempt, p.UserID)
	if err != nil {
		return nil, err
	}
	if rc.blocked != nil {
		return rc.blocked, nil
	}

	order, err := s.placeOrder(ctx, attempt, placement{
		cart:       rc.cart,
		products:   rc.products,
		method:     domain.PaymentMethodCash,
		totalPrice: s.cashTotal(rc.cart),
		address:    address,
	})
	if errors.Is(err, errAlreadyPlaced) {
		// A concurrent request checked this cart out first.
		return nil, ErrEmptyCart
	}
	if err != nil {
		s.log.ErrorContext(ctx, "cash checkout failed", "user_id", p.UserID, "error", err)
		return nil, err
	}
	return &CheckoutResult{Order: order}, nil
}
