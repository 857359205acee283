package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RollbackDiscardsWrites(t *testing.T) {
	s := New()
	s.AddProduct(inventory.Product{ID: "p", Name: "Tea", Price: decimal.NewFromInt(120), Stock: 5})

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		n, ok, err := tx.DecrementStockIfEnough(ctx, "p", 3)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 2, n)
		require.NoError(t, tx.InsertStockChanges(ctx, []orders.StockChange{{ID: "c1", ProductID: "p"}}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, _ := s.Product("p")
	assert.Equal(t, 5, p.Stock)
	assert.Empty(t, s.StockChanges())
}

func TestStore_CommitKeepsWrites(t *testing.T) {
	s := New()
	s.AddProduct(inventory.Product{ID: "p", Name: "Tea", Price: decimal.NewFromInt(120), Stock: 5})

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		_, ok, err := tx.DecrementStockIfEnough(ctx, "p", 6)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := tx.IncrementStock(ctx, "p", 2)
		require.NoError(t, err)
		assert.Equal(t, 7, n)

		prev, found, err := tx.SetStock(ctx, "p", 1)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 7, prev)
		return nil
	})
	require.NoError(t, err)

	p, _ := s.Product("p")
	assert.Equal(t, 1, p.Stock)
}

func TestStore_OrderItemsAreCopied(t *testing.T) {
	s := New()
	o := &orders.Order{ID: "o-1", CustomerID: "c", Items: []orders.OrderItem{{ProductID: "p", Quantity: 1}}}
	require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.InsertOrder(ctx, o)
	}))
	o.Items[0].Quantity = 99

	got := s.Orders()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Items[0].Quantity)
}

func TestStore_MissingRows(t *testing.T) {
	s := New()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		c, err := tx.GetCustomer(ctx, "nobody")
		assert.NoError(t, err)
		assert.Nil(t, c)

		o, err := tx.GetOrder(ctx, "none", true)
		assert.NoError(t, err)
		assert.Nil(t, o)

		_, err = tx.IncrementStock(ctx, "ghost", 1)
		var nf *inventory.ProductNotFoundError
		assert.ErrorAs(t, err, &nf)

		_, found, err := tx.SetStock(ctx, "ghost", 1)
		assert.NoError(t, err)
		assert.False(t, found)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := New().WithinTx(ctx, func(context.Context, orders.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
