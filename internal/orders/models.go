package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleCustomer Role = "CUSTOMER"
)

type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Address is written once per order and never updated in place.
type Address struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	Street     string    `json:"street"`
	Phone      string    `json:"phone"`
	City       string    `json:"city"`
	State      string    `json:"state"`
	PostalCode string    `json:"postalCode"`
	Country    string    `json:"country"`
	CreatedAt  time.Time `json:"createdAt"`
}

const PaymentMethodUPI = "UPI_QR"

type Order struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customerId"`
	AddressID     string          `json:"addressId"`
	Total         decimal.Decimal `json:"total"`
	Status        Status          `json:"status"`
	PaymentStatus PaymentStatus   `json:"paymentStatus,omitempty"`
	PaymentMethod string          `json:"paymentMethod"`
	PaymentNote   string          `json:"paymentNote,omitempty"` // JSON pricing.Breakdown
	CancelReason  string          `json:"cancelReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Items         []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	OrderID     string          `json:"orderId"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

type StatusHistory struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	Status    Status    `json:"status"`
	Note      string    `json:"note"`
	ActorID   string    `json:"actorId"`
	CreatedAt time.Time `json:"createdAt"`
}

type StockChangeType string

const (
	StockOrderPlaced     StockChangeType = "ORDER_PLACED"
	StockOrderCancelled  StockChangeType = "ORDER_CANCELLED"
	StockAdminAdjustment StockChangeType = "ADMIN_ADJUSTMENT"
)

// StockChange is an audit row; business logic never reads it back.
type StockChange struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"productId"`
	OrderID       string          `json:"orderId,omitempty"`
	Type          StockChangeType `json:"changeType"`
	Delta         int             `json:"quantityDelta"`
	PreviousStock int             `json:"previousStock"`
	NewStock      int             `json:"newStock"`
	Reason        string          `json:"reason"`
	ActorID       string          `json:"actorId"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// PlacedOrder is what CreateOrder hands back to the caller.
type PlacedOrder struct {
	ID             string          `json:"id"`
	Status         Status          `json:"status"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DeliveryCharge decimal.Decimal `json:"deliveryCharge"`
	Total          decimal.Decimal `json:"total"`
	CreatedAt      time.Time       `json:"createdAt"`
	Customer       Customer        `json:"customer"`
	Items          []PlacedItem    `json:"items"`
}

type PlacedItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}
