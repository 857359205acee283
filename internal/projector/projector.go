// Package projector keeps the Redis order status read model in step with the
// order event stream.
package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkax "github.com/ariefcatur/go-grocery-orders/internal/kafka"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
)

type StatusStore interface {
	Get(ctx context.Context, orderID string) (*redisx.OrderStatus, error)
	Set(ctx context.Context, orderID string, s redisx.OrderStatus) error
}

// Deduper remembers processed event ids.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type Projector struct {
	Status StatusStore
	Dedup  Deduper
	Log    *slog.Logger
}

// Handle is a kafka.Handler. Returning an error makes the consumer retry the
// message before anything later on its partition is committed.
func (p *Projector) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message: log and let it be committed
		p.logger().ErrorContext(ctx, "decode envelope", "topic", m.Topic, "offset", m.Offset, "err", err)
		return nil
	}

	if seen, err := p.Dedup.Seen(ctx, env.EventID); err != nil {
		return fmt.Errorf("dedup check: %w", err)
	} else if seen {
		return nil
	}

	var (
		orderID string
		next    redisx.OrderStatus
	)
	switch env.EventType {
	case orders.EventOrderPlaced:
		pl, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			p.logger().ErrorContext(ctx, "decode payload", "event_id", env.EventID, "err", err)
			return nil
		}
		orderID = pl.OrderID
		next = redisx.OrderStatus{
			CustomerID:    pl.CustomerID,
			Status:        string(pl.Status),
			PaymentStatus: string(pl.PaymentStatus),
			UpdatedAt:     pl.PlacedAt,
		}
	case orders.EventOrderStatusChanged:
		pl, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			p.logger().ErrorContext(ctx, "decode payload", "event_id", env.EventID, "err", err)
			return nil
		}
		orderID = pl.OrderID
		next = redisx.OrderStatus{
			CustomerID:    pl.CustomerID,
			Status:        string(pl.Status),
			PaymentStatus: string(pl.PaymentStatus),
			UpdatedAt:     pl.UpdatedAt,
		}
	default:
		return nil // ignore
	}

	cur, err := p.Status.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if cur == nil || !cur.UpdatedAt.After(next.UpdatedAt) {
		if err := p.Status.Set(ctx, orderID, next); err != nil {
			return fmt.Errorf("write status: %w", err)
		}
	}

	if err := p.Dedup.Mark(ctx, env.EventID); err != nil {
		p.logger().WarnContext(ctx, "dedup mark", "event_id", env.EventID, "err", err)
	}
	p.logger().DebugContext(ctx, "status projected",
		"order_id", orderID, "status", next.Status, "event_type", env.EventType, "trace_id", env.TraceID)
	return nil
}

func (p *Projector) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

