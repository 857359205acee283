// Package pricing computes order totals from reserved snapshot prices.
package pricing

import (
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/shopspring/decimal"
)

var (
	FreeDeliveryMinOrder         = decimal.NewFromInt(200)
	DeliveryChargeBelowThreshold = decimal.NewFromInt(25)
)

type Breakdown struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DeliveryCharge decimal.Decimal `json:"deliveryCharge"`
	Total          decimal.Decimal `json:"total"`
}

func DeliveryCharge(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(FreeDeliveryMinOrder) {
		return decimal.Zero
	}
	return DeliveryChargeBelowThreshold
}

func Calculate(subtotal decimal.Decimal) Breakdown {
	charge := DeliveryCharge(subtotal)
	return Breakdown{
		Subtotal:       subtotal,
		DeliveryCharge: charge,
		Total:          subtotal.Add(charge),
	}
}

// Subtotal sums unit price * quantity over reserved items.
func Subtotal(items []inventory.ReservedItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}
