package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OrderStatus is the cached read model of one order's state.
type OrderStatus struct {
	CustomerID    string    `json:"customerId"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type StatusCache struct{ RDB redis.Cmdable }

func (c StatusCache) Get(ctx context.Context, orderID string) (*OrderStatus, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s OrderStatus
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c StatusCache) Set(ctx context.Context, orderID string, s OrderStatus) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// ProductCache stores the raw JSON of the product listing.
type ProductCache struct{ RDB redis.Cmdable }

func (c ProductCache) Get(ctx context.Context) ([]byte, bool, error) {
	b, err := c.RDB.Get(ctx, KeyProductList).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c ProductCache) Set(ctx context.Context, b []byte) error {
	return c.RDB.Set(ctx, KeyProductList, b, TTLProductCache).Err()
}

func (c ProductCache) Invalidate(ctx context.Context) error {
	return c.RDB.Del(ctx, KeyProductList).Err()
}

type StoreFlag struct{ RDB redis.Cmdable }

func (f StoreFlag) IsOpen(ctx context.Context) (bool, error) {
	v, err := f.RDB.Get(ctx, KeyStoreOpen).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return v != "0", nil
}

func (f StoreFlag) SetOpen(ctx context.Context, open bool) error {
	v := "0"
	if open {
		v = "1"
	}
	return f.RDB.Set(ctx, KeyStoreOpen, v, 0).Err()
}

// Dedup records processed event ids per consuming service.
type Dedup struct {
	RDB     redis.Cmdable
	Service string
}

func (d Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	return Exists(ctx, d.RDB, fmt.Sprintf(KeyDedup, d.Service, eventID))
}

func (d Dedup) Mark(ctx context.Context, eventID string) error {
	_, err := MarkOnce(ctx, d.RDB, fmt.Sprintf(KeyDedup, d.Service, eventID), TTLDedup)
	return err
}
