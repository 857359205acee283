package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock"`
	CategoryID string          `json:"categoryId,omitempty"`
}

// LineItem is one requested (productID, quantity) pair.
type LineItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ReservedItem snapshots name, price and stock at reservation time so later
// catalog edits don't change a placed order.
type ReservedItem struct {
	ProductID     string          `json:"productId"`
	Name          string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	Quantity      int             `json:"quantity"`
	PreviousStock int             `json:"previousStock"`
	NewStock      int             `json:"newStock"`
}

// Store is the slice of a transaction that reservation needs. Every call must
// run against the same open transaction.
type Store interface {
	ProductsByIDs(ctx context.Context, ids []string) ([]Product, error)
	// DecrementStockIfEnough applies stock = stock - qty only when stock >= qty.
	// ok reports whether a row was changed; newStock is the value the update
	// wrote, read from the same row.
	DecrementStockIfEnough(ctx context.Context, productID string, qty int) (newStock int, ok bool, err error)
	CurrentStock(ctx context.Context, productID string) (int, error)
}
