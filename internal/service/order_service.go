package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/internal/repository"
)

type OrderService struct {
	orders repository.OrderRepository
	outbox repository.OutboxRepository
	tx     repository.Transactor
	log    *slog.Logger
	now    func() time.Time
}

func NewOrderService(orders repository.OrderRepository, outbox repository.OutboxRepository, tx repository.Transactor, log *slog.Logger) *OrderService {
	return &OrderService{
		orders: orders,
		outbox: outbox,
		tx:     tx,
		log:    log,
		now:    time.Now,
	}
}

// GetOrder returns the order if the caller may see it. Other users' orders are
// reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, p Principal, id string) (*domain.Order, error) {
	o, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsStaff() && o.UserID != p.UserID {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

// ListOrders returns the caller's orders, or every order for staff.
func (s *OrderService) ListOrders(ctx context.Context, p Principal) ([]*domain.Order, error) {
	userID := p.UserID
	if p.IsStaff() {
		userID = ""
	}
	return s.orders.ListOrders(ctx, userID)
}

// CancelCashOrder deletes an unpaid cash order and records an OrderCancelled
// event. Stock taken by the order is not returned to the catalog.
func (s *OrderService) CancelCashOrder(ctx context.Context, p Principal, id string) error {
	err := s.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		o, err := s.GetOrder(ctx, p, id)
		if err != nil {
			return err
		}
		if o.PaymentMethod != domain.PaymentMethodCash {
			return ErrNotCashOrder
		}
		if o.IsPaid {
			return ErrOrderPaid
		}

		if err := s.orders.DeleteUnpaidCashOrder(ctx, id); err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				// paid or removed since it was read
				return ErrOrderPaid
			}
			return err
		}

		event, err := newOutboxEvent(o, domain.OrderCancelled, s.now())
		if err != nil {
			return err
		}
		return s.outbox.AddEvent(ctx, event)
	})
	if err != nil {
		return err
	}

	s.log.InfoContext(ctx, "cash order cancelled", "order_id", id, "user_id", p.UserID)
	return nil
}

// UpdateOrderStatus sets the paid and delivered flags; setting a flag stamps
// its timestamp.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id string, update domain.StatusUpdate) (*domain.Order, error) {
	o, err := s.orders.UpdateOrderStatus(ctx, id, update, s.now())
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "order status updated", "order_id", id, "is_paid", o.IsPaid, "is_delivered", o.IsDelivered)
	return o, nil
}
