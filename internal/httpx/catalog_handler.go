package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/catalog"
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type CatalogHandler struct {
	Catalog  *catalog.Service
	Store    StoreStatus
	Validate *validator.Validate
	Log      *slog.Logger
}

type setStockReq struct {
	Stock  *int   `json:"stock" validate:"required,min=0"`
	Reason string `json:"reason" validate:"max=255"`
}

type storeStatusReq struct {
	Open *bool `json:"open" validate:"required"`
}

func (h *CatalogHandler) Register(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Get("/products", h.listProducts)
	r.Get("/store/status", h.getStoreStatus)

	r.Group(func(r chi.Router) {
		r.Use(authn, RequireRole(orders.RoleAdmin))
		r.Put("/admin/products/{id}/stock", h.setStock)
		r.Put("/admin/store/status", h.setStoreStatus)
	})
}

func (h *CatalogHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	if ps == nil {
		ps = []inventory.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *CatalogHandler) setStock(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req setStockReq
	if !bindAndValidate(w, r, h.Validate, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	change, err := h.Catalog.SetStock(ctx, chi.URLParam(r, "id"), *req.Stock, p.ID, req.Reason)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (h *CatalogHandler) getStoreStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	open, err := h.Store.IsOpen(ctx)
	if err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"open": open})
}

func (h *CatalogHandler) setStoreStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req storeStatusReq
	if !bindAndValidate(w, r, h.Validate, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.SetOpen(ctx, *req.Open); err != nil {
		writeError(w, r, h.logger(), err)
		return
	}
	h.logger().InfoContext(ctx, "store status changed", "open", *req.Open, "actor_id", p.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"open": *req.Open})
}

func (h *CatalogHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}
