package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type StoreStatus interface {
	IsOpen(ctx context.Context) (bool, error)
	SetOpen(ctx context.Context, open bool) error
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (*redisx.OrderStatus, error)
	Set(ctx context.Context, orderID string, s redisx.OrderStatus) error
}

// ListingInvalidator drops the cached product listing after stock moves.
type ListingInvalidator interface {
	Invalidate(ctx context.Context) error
}

type OrdersHandler struct {
	Orders   *orders.Service
	Store    StoreStatus
	Status   StatusCache        // optional
	Listing  ListingInvalidator // optional
	Validate *validator.Validate
	Log      *slog.Logger
}

type orderItemReq struct {
	ProductID string      `json:"productId"`
	Quantity  json.Number `json:"quantity"`
}

type createOrderReq struct {
	DeliveryAddress *orders.DeliveryAddress `json:"deliveryAddress" validate:"required"`
	Items           []orderItemReq          `json:"items"`
}

type updateOrderReq struct {
	Status        *orders.Status        `json:"status" validate:"omitempty,oneof=PENDING CONFIRMED SHIPPED DELIVERED CANCELLED"`
	PaymentStatus *orders.PaymentStatus `json:"paymentStatus" validate:"omitempty,oneof=PENDING_VERIFICATION VERIFIED FAILED"`
	CancelReason  *string               `json:"cancelReason" validate:"omitempty,max=500"`
}

func (h *OrdersHandler) Register(r chi.Router, authn func(http.Handler) http.Handler, limiter *IPLimiter) {
	r.Group(func(r chi.Router) {
		r.Use(authn)

		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getOrderStatus)

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(orders.RoleCustomer))
			r.Get("/orders", h.listOrders)
			if limiter != nil {
				r.With(limiter.Middleware).Post("/orders", h.createOrder)
			} else {
				r.Post("/orders", h.createOrder)
			}
		})

		r.With(RequireRole(orders.RoleAdmin)).Patch("/admin/orders/{id}", h.updateOrder)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req createOrderReq
	if !bindAndValidate(w, r, h.Validate, &req) {
		return
	}
	items := make([]inventory.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		qty, err := inventory.QuantityFromNumber(it.ProductID, it.Quantity)
		if err != nil {
			writeError(w, r, h.logger(), err)
			return
		}
		items = append(items, inventory.LineItem{ProductID: it.ProductID, Quantity: qty})
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.Store != nil {
		open, err := h.Store.IsOpen(ctx)
		if err != nil {
			// flag unreadable: keep taking orders
			h.logger().WarnContext(ctx, "store status unavailable", "err", err)
		} else if !open {
			writeError(w, r, h.logger(), errStoreClosed)
			return
		}
	}

	placed, err := h.Orders.CreateOrder(ctx, orders.CreateOrderInput{
		CustomerID: p.ID,
		Address:    *req.DeliveryAddress,
		Items:      items,
	})
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}

	h.cacheStatus(ctx, redisx.OrderStatus{
		CustomerID:    placed.Customer.ID,
		Status:        string(placed.Status),
		PaymentStatus: string(placed.PaymentStatus),
		UpdatedAt:     placed.CreatedAt,
	}, placed.ID)
	h.dropListing(ctx)
	writeJSON(w, http.StatusCreated, placed)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListCustomerOrders(ctx, p.ID)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	// other customers' orders look like missing ones
	if !p.IsAdmin() && o.CustomerID != p.ID {
		writeError(w, r, h.logger(), orders.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getOrderStatus serves from the Redis read model and falls back to the store.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	if h.Status != nil {
		if s, err := h.Status.Get(ctx, orderID); err == nil && s != nil {
			if !p.IsAdmin() && s.CustomerID != p.ID {
				writeError(w, r, h.logger(), orders.ErrOrderNotFound)
				return
			}
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	// 2) fallback store
	o, err := h.Orders.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	if !p.IsAdmin() && o.CustomerID != p.ID {
		writeError(w, r, h.logger(), orders.ErrOrderNotFound)
		return
	}
	s := redisx.OrderStatus{
		CustomerID:    o.CustomerID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		UpdatedAt:     o.UpdatedAt,
	}
	h.cacheStatus(ctx, s, o.ID)
	writeJSON(w, http.StatusOK, s)
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req updateOrderReq
	if !bindAndValidate(w, r, h.Validate, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.UpdateOrderStatus(ctx, chi.URLParam(r, "id"), p.ID, orders.UpdateOrderInput{
		Status:        req.Status,
		PaymentStatus: req.PaymentStatus,
		CancelReason:  req.CancelReason,
	})
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	h.cacheStatus(ctx, redisx.OrderStatus{
		CustomerID:    o.CustomerID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		UpdatedAt:     o.UpdatedAt,
	}, o.ID)
	if req.Status != nil && o.Status == orders.StatusCancelled {
		// cancel restocked the items
		h.dropListing(ctx)
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, s redisx.OrderStatus, orderID string) {
	if h.Status == nil {
		return
	}
	if err := h.Status.Set(ctx, orderID, s); err != nil {
		h.logger().WarnContext(ctx, "cache order status", "order_id", orderID, "err", err)
	}
}

func (h *OrdersHandler) dropListing(ctx context.Context) {
	if h.Listing == nil {
		return
	}
	if err := h.Listing.Invalidate(ctx); err != nil {
		h.logger().WarnContext(ctx, "invalidate product listing", "err", err)
	}
}

func (h *OrdersHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}
