package inventory

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConflict
)

// Error is implemented by every reservation failure. The set is closed:
// *InvalidOrderItemError, *ProductNotFoundError, *InsufficientStockError.
type Error interface {
	error
	ErrKind() Kind
}

type InvalidOrderItemError struct {
	ProductID string
	Reason    string
}

func (e *InvalidOrderItemError) Error() string {
	if e.ProductID == "" {
		return "invalid order item: " + e.Reason
	}
	return fmt.Sprintf("invalid order item %s: %s", e.ProductID, e.Reason)
}

func (e *InvalidOrderItemError) ErrKind() Kind { return KindValidation }

type ProductNotFoundError struct {
	IDs []string
}

func (e *ProductNotFoundError) Error() string {
	return "product not found: " + strings.Join(e.IDs, ", ")
}

func (e *ProductNotFoundError) ErrKind() Kind { return KindNotFound }

type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) ErrKind() Kind { return KindConflict }

// QuantityFromNumber converts a decoded JSON number into a whole quantity.
// Fractional or out-of-range values are rejected the same way a non-positive
// quantity is.
func QuantityFromNumber(productID string, n json.Number) (int, error) {
	f, err := n.Float64()
	if err != nil {
		return 0, &InvalidOrderItemError{ProductID: productID, Reason: "quantity is not a number"}
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, &InvalidOrderItemError{ProductID: productID, Reason: "quantity must be a whole number"}
	}
	return int(f), nil
}
