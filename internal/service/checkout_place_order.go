package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// errAlreadyPlaced means the cart was consumed by an earlier commit.
var errAlreadyPlaced = errors.New("cart already checked out")

type placement struct {
	cart     *domain.Cart
	products map[string]*domain.Product
	method   domain.PaymentMethod
	// paid is set for orders whose payment the gateway already confirmed.
	paid       bool
	paymentRef string
	totalPrice float64
	address    *domain.ShippingAddress
}

// placeOrder is the single commit path for both payment methods. In one
// transaction it deletes the cart (only if it is still the reconciled
// version), decrements stock conditionally, inserts the order and appends the
// OrderPlaced outbox event. Any failure leaves all four untouched.
func (s *CheckoutService) placeOrder(ctx context.Context, attempt *checkoutAttempt, pl placement) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.placeOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("cart.id", pl.cart.ID),
		attribute.String("payment.method", string(pl.method)),
	)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	now := s.now()
	order := s.buildOrder(pl, now)
	event, err := newOutboxEvent(order, domain.OrderPlaced, now)
	if err != nil {
		return nil, err
	}
	lines := stockLines(pl.cart, pl.products)

	err = s.withRetry(ctx, func() error {
		return s.tx.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := s.carts.DeleteCheckedOut(ctx, pl.cart.ID, pl.cart.UserID, pl.cart.Version); err != nil {
				return err
			}
			if err := s.products.DecrementStock(ctx, lines); err != nil {
				return err
			}
			if err := s.orders.CreateOrder(ctx, order); err != nil {
				return err
			}
			return s.outbox.AddEvent(ctx, event)
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout aborted")
		if errT := attempt.advance(domain.CheckoutStatusAborted); errT != nil {
			s.log.ErrorContext(ctx, "checkout state", "error", errT)
		}
		return nil, classifyCommitErr(ctx, err)
	}
	if err := attempt.advance(domain.CheckoutStatusCommitted); err != nil {
		return nil, err
	}

	s.invalidateCache(pl.cart.UserID)
	s.log.InfoContext(ctx, "order placed",
		"order_id", order.ID, "user_id", order.UserID, "payment_method", order.PaymentMethod, "total", order.TotalPrice)
	return order, nil
}

func classifyCommitErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrCartNotFound), errors.Is(err, repository.ErrDuplicateOrder):
		return errAlreadyPlaced
	case errors.Is(err, domain.ErrConflict):
		return err
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return fmt.Errorf("checkout timed out: %w", domain.ErrUpstreamFailure)
	default:
		return fmt.Errorf("checkout failed: %w: %w", domain.ErrUpstreamFailure, err)
	}
}

// withRetry retries transient transaction failures with exponential backoff
// until MaxAttempts is reached or ctx ends. Exhausting the attempts is a
// conflict the caller resolves by reconciling again.
func (s *CheckoutService) withRetry(ctx context.Context, fn func() error) error {
	backoff := s.cfg.BaseBackoff
	var err error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil || !repository.IsTransient(err) {
			return err
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}
		s.log.WarnContext(ctx, "checkout transaction retry", "attempt", attempt, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return fmt.Errorf("checkout retries exhausted: %w: %w", domain.ErrConflict, err)
}

func (s *CheckoutService) buildOrder(pl placement, now time.Time) *domain.Order {
	items := make([]domain.OrderItem, 0, len(pl.cart.Items))
	for _, it := range pl.cart.Items {
		oi := domain.OrderItem{
			ProductID: it.ProductID,
			Price:     it.UnitPrice,
			Quantity:  it.Quantity,
			Color:     it.Color,
		}
		if p, ok := pl.products[it.ProductID]; ok {
			oi.Name = p.Name
			oi.ImageCover = p.ImageCover
		}
		items = append(items, oi)
	}

	order := &domain.Order{
		ID:              uuid.NewString(),
		UserID:          pl.cart.UserID,
		CheckoutRef:     pl.cart.ID,
		PaymentRef:      pl.paymentRef,
		Items:           items,
		ShippingAddress: pl.address,
		TaxPrice:        s.cfg.TaxPrice,
		ShippingPrice:   s.cfg.ShippingPrice,
		TotalPrice:      pl.totalPrice,
		PaymentMethod:   pl.method,
		CreatedAt:       now,
	}
	if pl.paid {
		order.IsPaid = true
		paidAt := now
		order.PaidAt = &paidAt
	}
	return order
}

// cashTotal is the cart total plus tax and shipping.
func (s *CheckoutService) cashTotal(cart *domain.Cart) float64 {
	return decimal.NewFromFloat(cart.Total()).
		Add(decimal.NewFromFloat(s.cfg.TaxPrice)).
		Add(decimal.NewFromFloat(s.cfg.ShippingPrice)).
		Round(2).
		InexactFloat64()
}

func stockLines(cart *domain.Cart, products map[string]*domain.Product) []domain.StockLine {
	lines := make([]domain.StockLine, 0, len(cart.Items))
	for _, it := range cart.Items {
		variant := false
		if p, ok := products[it.ProductID]; ok {
			variant = p.UsesVariant(it.Color)
		}
		lines = append(lines, domain.StockLine{
			ProductID: it.ProductID,
			Color:     it.Color,
			Variant:   variant,
			Quantity:  it.Quantity,
		})
	}
	return lines
}

func (s *CheckoutService) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cache invalidate error", "user_id", userID, "error", err)
	}
}
