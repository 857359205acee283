package inventory

import (
	"context"
	"fmt"
)

// Normalize merges duplicate product ids by summing their quantities. The
// result keeps the order in which each product id first appeared.
func Normalize(items []LineItem) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, &InvalidOrderItemError{Reason: "at least one item is required"}
	}
	idx := make(map[string]int, len(items))
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return nil, &InvalidOrderItemError{Reason: "product id is required"}
		}
		if it.Quantity <= 0 {
			return nil, &InvalidOrderItemError{ProductID: it.ProductID, Reason: "quantity must be a positive integer"}
		}
		if i, ok := idx[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

// Reserve checks availability and decrements stock for items inside the
// caller's transaction. The conditional decrement is what prevents oversell;
// the pre-flight comparison only fails fast. A late failure can leave earlier
// decrements applied, so the caller must roll back on any error.
func Reserve(ctx context.Context, s Store, items []LineItem) ([]ReservedItem, error) {
	norm, err := Normalize(items)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(norm))
	for i, it := range norm {
		ids[i] = it.ProductID
	}
	products, err := s.ProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var missing []string
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &ProductNotFoundError{IDs: missing}
	}

	for _, it := range norm {
		p := byID[it.ProductID]
		if it.Quantity > p.Stock {
			return nil, &InsufficientStockError{ProductID: p.ID, Requested: it.Quantity, Available: p.Stock}
		}
	}

	out := make([]ReservedItem, 0, len(norm))
	for _, it := range norm {
		p := byID[it.ProductID]
		newStock, ok, err := s.DecrementStockIfEnough(ctx, p.ID, it.Quantity)
		if err != nil {
			return nil, fmt.Errorf("decrement stock %s: %w", p.ID, err)
		}
		if !ok {
			// someone else took the stock after our snapshot read
			current, err := s.CurrentStock(ctx, p.ID)
			if err != nil {
				return nil, fmt.Errorf("re-read stock %s: %w", p.ID, err)
			}
			return nil, &InsufficientStockError{ProductID: p.ID, Requested: it.Quantity, Available: current}
		}
		out = append(out, ReservedItem{
			ProductID:     p.ID,
			Name:          p.Name,
			UnitPrice:     p.Price,
			Quantity:      it.Quantity,
			PreviousStock: newStock + it.Quantity,
			NewStock:      newStock,
		})
	}
	return out, nil
}
