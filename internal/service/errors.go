package service

import (
	"fmt"

	"github.com/fjod/cartcheckout/internal/domain"
)

var (
	ErrEmptyCart       = fmt.Errorf("there is no cart for this user: %w", domain.ErrNotFound)
	ErrVariantNotFound = fmt.Errorf("product has no such color: %w", domain.ErrNotFound)
	ErrNotCashOrder    = fmt.Errorf("order is not a cash order: %w", domain.ErrInvalidInput)
	ErrOrderPaid       = fmt.Errorf("order is already paid: %w", domain.ErrInvalidInput)
)

// InsufficientStockError reports how many units are left for a requested line.
type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("only %d items available, requested %d", e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return domain.ErrInsufficientStock
}

type IllegalTransitionError struct {
	From domain.CheckoutStatus
	To   domain.CheckoutStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal checkout transition from %s to %s", e.From, e.To)
}
