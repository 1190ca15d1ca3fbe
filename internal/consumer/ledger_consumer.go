package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/internal/ledger"
	"github.com/segmentio/kafka-go"
)

const (
	retryBackoff    = 500 * time.Millisecond
	maxRetryBackoff = 10 * time.Second
)

// errSkip marks messages that can never be applied.
var errSkip = errors.New("unprocessable message")

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// LedgerConsumer projects order events into the sales ledger. Offsets are
// committed only after an event was applied, and applying is idempotent, so
// redelivery is harmless.
type LedgerConsumer struct {
	repo   ledger.Repository
	reader MessageReader
	log    *slog.Logger
}

func NewLedgerConsumer(repo ledger.Repository, log *slog.Logger, topic, groupID string, brokers ...string) *LedgerConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &LedgerConsumer{repo: repo, reader: reader, log: log}
}

func (c *LedgerConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *LedgerConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error("error closing kafka reader", "error", err)
	}
}

func (c *LedgerConsumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.ErrorContext(ctx, "error reading message", "error", err)
		return
	}

	backoff := retryBackoff
	for {
		err = c.apply(ctx, m)
		if err == nil || errors.Is(err, errSkip) {
			break
		}
		c.log.ErrorContext(ctx, "failed to apply order event, retrying",
			"partition", m.Partition, "offset", m.Offset, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
	if err != nil {
		c.log.WarnContext(ctx, "skipping order event", "partition", m.Partition, "offset", m.Offset, "error", err)
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.ErrorContext(ctx, "error committing message", "offset", m.Offset, "error", err)
	}
}

func (c *LedgerConsumer) apply(ctx context.Context, m kafka.Message) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return errors.Join(errSkip, err)
	}
	if event.OrderID == "" {
		return errors.Join(errSkip, errors.New("missing order_id"))
	}

	switch event.Type {
	case domain.OrderPlaced:
		err := c.repo.RecordOrder(ctx, entryFromEvent(&event))
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			c.log.InfoContext(ctx, "order already in ledger, skipping", "order_id", event.OrderID)
			return nil
		}
		if err != nil {
			return err
		}
		c.log.InfoContext(ctx, "order recorded in ledger", "order_id", event.OrderID, "total", event.TotalPrice)
		return nil

	case domain.OrderCancelled:
		err := c.repo.MarkCancelled(ctx, event.OrderID, event.OccurredAt)
		if errors.Is(err, ledger.ErrEntryNotFound) {
			return errors.Join(errSkip, err)
		}
		if err != nil {
			return err
		}
		c.log.InfoContext(ctx, "order cancelled in ledger", "order_id", event.OrderID)
		return nil

	default:
		c.log.DebugContext(ctx, "ignoring order event", "type", event.Type)
		return nil
	}
}

func entryFromEvent(event *domain.OrderEvent) *ledger.Entry {
	count := 0
	for _, it := range event.Items {
		count += it.Quantity
	}
	return &ledger.Entry{
		OrderID:       event.OrderID,
		CheckoutRef:   event.CheckoutRef,
		UserID:        event.UserID,
		PaymentMethod: string(event.PaymentMethod),
		TotalPrice:    event.TotalPrice,
		ItemCount:     count,
		PlacedAt:      event.OccurredAt,
	}
}
