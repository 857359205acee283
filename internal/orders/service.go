package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/pricing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Service struct {
	UoW         UnitOfWork
	Events      Publisher // optional
	Log         *slog.Logger
	ServiceName string

	// PaymentStatusColumn is false on the legacy schema that has no
	// payment_status column; the pending-payment gate is then skipped.
	PaymentStatusColumn bool

	Now   func() time.Time
	NewID func() string
}

type DeliveryAddress struct {
	Street     string `json:"street" validate:"required,max=255"`
	Phone      string `json:"phone" validate:"required,min=7,max=20"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"required,max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,max=100"`
}

type CreateOrderInput struct {
	CustomerID string
	Address    DeliveryAddress
	Items      []inventory.LineItem
}

// CreateOrder reserves stock, prices the reservation and persists the order
// with its address and audit rows in a single transaction.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*PlacedOrder, error) {
	var placed *PlacedOrder
	var event OrderPlacedPayload

	err := s.UoW.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		customer, err := tx.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			return fmt.Errorf("load customer: %w", err)
		}
		if customer == nil {
			return ErrCustomerNotFound
		}

		if s.PaymentStatusColumn {
			pending, err := tx.HasOutstandingPayment(ctx, customer.ID)
			if err != nil {
				return fmt.Errorf("check pending payment: %w", err)
			}
			if pending {
				return ErrPaymentPending
			}
		}

		reserved, err := inventory.Reserve(ctx, tx, in.Items)
		if err != nil {
			return err
		}
		breakdown := pricing.Calculate(pricing.Subtotal(reserved))
		note, err := json.Marshal(breakdown)
		if err != nil {
			return err
		}

		now := s.now()
		addr := &Address{
			ID:         s.newID(),
			CustomerID: customer.ID,
			Street:     in.Address.Street,
			Phone:      in.Address.Phone,
			City:       in.Address.City,
			State:      in.Address.State,
			PostalCode: in.Address.PostalCode,
			Country:    in.Address.Country,
			CreatedAt:  now,
		}
		if err := tx.InsertAddress(ctx, addr); err != nil {
			return fmt.Errorf("insert address: %w", err)
		}

		order := &Order{
			ID:            s.newID(),
			CustomerID:    customer.ID,
			AddressID:     addr.ID,
			Total:         breakdown.Total,
			Status:        StatusPending,
			PaymentMethod: PaymentMethodUPI,
			PaymentNote:   string(note),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if s.PaymentStatusColumn {
			order.PaymentStatus = PaymentPendingVerification
		}
		for _, r := range reserved {
			order.Items = append(order.Items, OrderItem{
				OrderID:     order.ID,
				ProductID:   r.ProductID,
				ProductName: r.Name,
				Quantity:    r.Quantity,
				UnitPrice:   r.UnitPrice,
			})
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if err := tx.InsertStatusHistory(ctx, &StatusHistory{
			ID:        s.newID(),
			OrderID:   order.ID,
			Status:    StatusPending,
			Note:      "Order placed by customer",
			ActorID:   customer.ID,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}

		changes := make([]StockChange, 0, len(reserved))
		for _, r := range reserved {
			changes = append(changes, StockChange{
				ID:            s.newID(),
				ProductID:     r.ProductID,
				OrderID:       order.ID,
				Type:          StockOrderPlaced,
				Delta:         -r.Quantity,
				PreviousStock: r.PreviousStock,
				NewStock:      r.NewStock,
				Reason:        "Order " + order.ID + " placed",
				ActorID:       customer.ID,
				CreatedAt:     now,
			})
		}
		if err := tx.InsertStockChanges(ctx, changes); err != nil {
			return fmt.Errorf("insert stock history: %w", err)
		}

		placed = &PlacedOrder{
			ID:             order.ID,
			Status:         order.Status,
			PaymentStatus:  order.PaymentStatus,
			Subtotal:       breakdown.Subtotal,
			DeliveryCharge: breakdown.DeliveryCharge,
			Total:          breakdown.Total,
			CreatedAt:      order.CreatedAt,
			Customer:       *customer,
		}
		event = OrderPlacedPayload{
			OrderID:       order.ID,
			CustomerID:    customer.ID,
			Total:         breakdown.Total.String(),
			Status:        order.Status,
			PaymentStatus: order.PaymentStatus,
			PlacedAt:      order.CreatedAt,
		}
		for _, r := range reserved {
			placed.Items = append(placed.Items, PlacedItem{
				ProductID: r.ProductID,
				Name:      r.Name,
				Quantity:  r.Quantity,
				UnitPrice: r.UnitPrice,
				LineTotal: r.UnitPrice.Mul(decimal.NewFromInt(int64(r.Quantity))),
			})
			event.Items = append(event.Items, ItemQty{ProductID: r.ProductID, Qty: r.Quantity})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger().InfoContext(ctx, "order placed",
		"order_id", placed.ID, "customer_id", placed.Customer.ID,
		"items", len(placed.Items), "total", placed.Total.String())
	s.publish(ctx, TopicOrderPlaced, EventOrderPlaced, placed.ID, event)
	return placed, nil
}

type UpdateOrderInput struct {
	Status        *Status        `json:"status,omitempty"`
	PaymentStatus *PaymentStatus `json:"paymentStatus,omitempty"`
	CancelReason  *string        `json:"cancelReason,omitempty"`
}

// UpdateOrderStatus applies an admin status and/or payment change. Each call
// that changes anything appends exactly one status history row. Cancelling
// returns the ordered quantities to stock.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID, actorID string, in UpdateOrderInput) (*Order, error) {
	if in.Status == nil && in.PaymentStatus == nil {
		return nil, ErrNothingToUpdate
	}
	if in.PaymentStatus != nil && !s.PaymentStatusColumn {
		return nil, ErrPaymentStatusUnsupported
	}

	var updated *Order
	err := s.UoW.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetOrder(ctx, orderID, true)
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if o == nil {
			return ErrOrderNotFound
		}

		var notes []string

		payment := o.PaymentStatus
		paymentChanged := in.PaymentStatus != nil && *in.PaymentStatus != o.PaymentStatus
		if paymentChanged {
			if !CanTransitionPayment(o.PaymentStatus, *in.PaymentStatus) {
				return &TransitionError{Field: "payment status", From: string(o.PaymentStatus), To: string(*in.PaymentStatus)}
			}
			payment = *in.PaymentStatus
			notes = append(notes, "Payment marked "+string(payment))
		}

		status := o.Status
		statusChanged := in.Status != nil && *in.Status != o.Status
		var reason string
		if statusChanged {
			next := *in.Status
			if !CanTransition(o.Status, next) {
				return &TransitionError{Field: "status", From: string(o.Status), To: string(next)}
			}
			if s.PaymentStatusColumn && RequiresVerifiedPayment(next) && payment != PaymentVerified {
				return ErrPaymentNotVerified
			}
			if next == StatusCancelled {
				if in.CancelReason != nil {
					reason = strings.TrimSpace(*in.CancelReason)
				}
				if len([]rune(reason)) < MinCancelReasonLength {
					return ErrCancelReasonRequired
				}
				notes = append(notes, "Order cancelled: "+reason)
			} else {
				notes = append(notes, "Status changed to "+string(next))
			}
			status = next
		}

		if !statusChanged && !paymentChanged {
			return ErrNothingToUpdate
		}

		now := s.now()
		o.Status = status
		o.PaymentStatus = payment
		if status == StatusCancelled {
			o.CancelReason = reason
		}
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if err := tx.InsertStatusHistory(ctx, &StatusHistory{
			ID:        s.newID(),
			OrderID:   o.ID,
			Status:    o.Status,
			Note:      strings.Join(notes, "; "),
			ActorID:   actorID,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}

		if statusChanged && status == StatusCancelled {
			if err := s.restock(ctx, tx, o, actorID, now); err != nil {
				return err
			}
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger().InfoContext(ctx, "order updated",
		"order_id", updated.ID, "status", updated.Status,
		"payment_status", updated.PaymentStatus, "actor_id", actorID)
	s.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, updated.ID, OrderStatusChangedPayload{
		OrderID:       updated.ID,
		CustomerID:    updated.CustomerID,
		Status:        updated.Status,
		PaymentStatus: updated.PaymentStatus,
		ActorID:       actorID,
		UpdatedAt:     updated.UpdatedAt,
	})
	return updated, nil
}

func (s *Service) restock(ctx context.Context, tx Tx, o *Order, actorID string, now time.Time) error {
	changes := make([]StockChange, 0, len(o.Items))
	for _, it := range o.Items {
		newStock, err := tx.IncrementStock(ctx, it.ProductID, it.Quantity)
		if err != nil {
			return fmt.Errorf("restock %s: %w", it.ProductID, err)
		}
		changes = append(changes, StockChange{
			ID:            s.newID(),
			ProductID:     it.ProductID,
			OrderID:       o.ID,
			Type:          StockOrderCancelled,
			Delta:         it.Quantity,
			PreviousStock: newStock - it.Quantity,
			NewStock:      newStock,
			Reason:        "Order " + o.ID + " cancelled",
			ActorID:       actorID,
			CreatedAt:     now,
		})
	}
	if err := tx.InsertStockChanges(ctx, changes); err != nil {
		return fmt.Errorf("insert stock history: %w", err)
	}
	return nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o *Order
	err := s.UoW.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) ListCustomerOrders(ctx context.Context, customerID string) ([]Order, error) {
	var out []Order
	err := s.UoW.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListOrdersByCustomer(ctx, customerID)
		return err
	})
	return out, err
}

// publish is best-effort: the order is already committed, so a broker
// problem is logged and swallowed.
func (s *Service) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	if s.Events == nil {
		return
	}
	env, err := NewEnvelope(eventType, s.ServiceName, orderID, payload)
	if err != nil {
		s.logger().ErrorContext(ctx, "build event", "event_type", eventType, "order_id", orderID, "err", err)
		return
	}
	env.TraceID = traceID(ctx)
	b, err := json.Marshal(env)
	if err != nil {
		s.logger().ErrorContext(ctx, "marshal event", "event_type", eventType, "order_id", orderID, "err", err)
		return
	}
	if err := s.Events.Publish(ctx, topic, PartitionKey(orderID), b); err != nil {
		s.logger().WarnContext(ctx, "publish event", "topic", topic, "order_id", orderID, "err", err)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
