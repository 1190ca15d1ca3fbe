package domain

import "time"

type OrderEventType string

const (
	OrderPlaced    OrderEventType = "OrderPlaced"
	OrderCancelled OrderEventType = "OrderCancelled"
)

// OrderEvent is the payload written to the outbox and published to the order
// event stream.
type OrderEvent struct {
	EventID       string         `json:"event_id"`
	Type          OrderEventType `json:"type"`
	OrderID       string         `json:"order_id"`
	CheckoutRef   string         `json:"checkout_ref"`
	UserID        string         `json:"user_id"`
	PaymentMethod PaymentMethod  `json:"payment_method"`
	TotalPrice    float64        `json:"total_price"`
	Items         []OrderItem    `json:"items,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// OutboxEvent is a stored, not yet necessarily published, OrderEvent.
type OutboxEvent struct {
	ID          string     `bson:"_id"`
	AggregateID string     `bson:"aggregate_id"`
	EventType   string     `bson:"event_type"`
	Payload     []byte     `bson:"payload"`
	CreatedAt   time.Time  `bson:"created_at"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty"`
}
