package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/google/uuid"
)

func newOutboxEvent(order *domain.Order, eventType domain.OrderEventType, now time.Time) (*domain.OutboxEvent, error) {
	ev := domain.OrderEvent{
		EventID:       uuid.NewString(),
		Type:          eventType,
		OrderID:       order.ID,
		CheckoutRef:   order.CheckoutRef,
		UserID:        order.UserID,
		PaymentMethod: order.PaymentMethod,
		TotalPrice:    order.TotalPrice,
		OccurredAt:    now,
	}
	if eventType == domain.OrderPlaced {
		ev.Items = order.Items
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order event: %w", err)
	}
	return &domain.OutboxEvent{
		ID:          ev.EventID,
		AggregateID: order.ID,
		EventType:   string(eventType),
		Payload:     payload,
		CreatedAt:   now,
	}, nil
}
