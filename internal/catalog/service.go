// Package catalog serves the product listing and admin stock adjustments.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/google/uuid"
)

var ErrNegativeStock = errors.New("stock cannot be negative")

// ListingCache holds the serialized product list. Cache failures never fail a
// request; they are logged and the store is used instead.
type ListingCache interface {
	Get(ctx context.Context) ([]byte, bool, error)
	Set(ctx context.Context, b []byte) error
	Invalidate(ctx context.Context) error
}

type Service struct {
	UoW   orders.UnitOfWork
	Cache ListingCache // optional
	Log   *slog.Logger
	Now   func() time.Time
}

func (s *Service) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	if s.Cache != nil {
		b, ok, err := s.Cache.Get(ctx)
		if err != nil {
			s.logger().WarnContext(ctx, "product cache get", "err", err)
		}
		if ok {
			var ps []inventory.Product
			if err := json.Unmarshal(b, &ps); err == nil {
				return ps, nil
			}
		}
	}

	var ps []inventory.Product
	err := s.UoW.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		var err error
		ps, err = tx.ListProducts(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	if s.Cache != nil {
		if b, err := json.Marshal(ps); err == nil {
			if err := s.Cache.Set(ctx, b); err != nil {
				s.logger().WarnContext(ctx, "product cache set", "err", err)
			}
		}
	}
	return ps, nil
}

// SetStock overwrites a product's stock and records an ADMIN_ADJUSTMENT row.
func (s *Service) SetStock(ctx context.Context, productID string, stock int, actorID, reason string) (*orders.StockChange, error) {
	if stock < 0 {
		return nil, ErrNegativeStock
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Manual stock adjustment"
	}

	var change *orders.StockChange
	err := s.UoW.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		prev, ok, err := tx.SetStock(ctx, productID, stock)
		if err != nil {
			return fmt.Errorf("set stock: %w", err)
		}
		if !ok {
			return &inventory.ProductNotFoundError{IDs: []string{productID}}
		}
		change = &orders.StockChange{
			ID:            uuid.NewString(),
			ProductID:     productID,
			Type:          orders.StockAdminAdjustment,
			Delta:         stock - prev,
			PreviousStock: prev,
			NewStock:      stock,
			Reason:        reason,
			ActorID:       actorID,
			CreatedAt:     s.now(),
		}
		return tx.InsertStockChanges(ctx, []orders.StockChange{*change})
	})
	if err != nil {
		return nil, err
	}

	if s.Cache != nil {
		if err := s.Cache.Invalidate(ctx); err != nil {
			s.logger().WarnContext(ctx, "product cache invalidate", "err", err)
		}
	}
	s.logger().InfoContext(ctx, "stock adjusted",
		"product_id", productID, "previous", change.PreviousStock, "new", change.NewStock, "actor_id", actorID)
	return change, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
