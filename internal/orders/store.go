package orders

import (
	"context"

	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
)

// Tx is the set of reads and writes available inside one transaction.
// Lookups return (nil, nil) when the row does not exist.
type Tx interface {
	inventory.Store

	// GetCustomer loads the customer and locks the row until the transaction
	// ends, so two orders from one customer cannot both pass the payment gate.
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	// HasOutstandingPayment reports whether the customer already has an order
	// awaiting payment verification that is neither cancelled nor delivered.
	HasOutstandingPayment(ctx context.Context, customerID string) (bool, error)

	InsertAddress(ctx context.Context, a *Address) error
	// InsertOrder writes the order row together with o.Items.
	InsertOrder(ctx context.Context, o *Order) error
	InsertStatusHistory(ctx context.Context, h *StatusHistory) error
	InsertStockChanges(ctx context.Context, changes []StockChange) error

	// GetOrder loads an order with its items. forUpdate locks the row until
	// the transaction ends.
	GetOrder(ctx context.Context, id string, forUpdate bool) (*Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID string) ([]Order, error)
	UpdateOrder(ctx context.Context, o *Order) error
	IncrementStock(ctx context.Context, productID string, qty int) (newStock int, err error)

	ListProducts(ctx context.Context) ([]inventory.Product, error)
	// SetStock overwrites stock and returns the previous value; ok is false
	// when the product does not exist.
	SetStock(ctx context.Context, productID string, stock int) (previous int, ok bool, err error)
}

// UnitOfWork runs fn inside a transaction: commit when fn returns nil,
// rollback otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Publisher delivers serialized events; Publish must not block on the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type traceKey struct{}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}
