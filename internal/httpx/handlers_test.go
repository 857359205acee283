package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/auth"
	"github.com/ariefcatur/go-grocery-orders/internal/catalog"
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/memstore"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/redisx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFlag struct {
	mu   sync.Mutex
	open bool
	err  error
}

func (f *memFlag) IsOpen(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open, f.err
}

func (f *memFlag) SetOpen(_ context.Context, open bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = open
	return nil
}

type memStatusCache struct {
	mu sync.Mutex
	m  map[string]redisx.OrderStatus
}

func (c *memStatusCache) Get(_ context.Context, id string) (*redisx.OrderStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (c *memStatusCache) Set(_ context.Context, id string, s redisx.OrderStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[id] = s
	return nil
}

type memListing struct {
	mu    sync.Mutex
	b     []byte
	drops int
}

func (c *memListing) Get(context.Context) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b, c.b != nil, nil
}

func (c *memListing) Set(_ context.Context, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.b = b
	return nil
}

func (c *memListing) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.b = nil
	c.drops++
	return nil
}

func (c *memListing) dropCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drops
}

type testAPI struct {
	srv     *httptest.Server
	store   *memstore.Store
	flag    *memFlag
	status  *memStatusCache
	listing *memListing
	tokens  *auth.Tokens
}

func newTestAPI(t *testing.T, limiter *IPLimiter) *testAPI {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memstore.New()
	store.AddCustomer(orders.Customer{ID: "cust-1", Name: "Asha", Email: "asha@example.com", Role: orders.RoleCustomer})
	store.AddCustomer(orders.Customer{ID: "cust-2", Name: "Ravi", Email: "ravi@example.com", Role: orders.RoleCustomer})
	store.AddProduct(inventory.Product{ID: "milk", Name: "Milk 1L", Price: decimal.RequireFromString("62.50"), Stock: 10})
	store.AddProduct(inventory.Product{ID: "rice", Name: "Basmati 5kg", Price: decimal.RequireFromString("650"), Stock: 2})

	tokens := &auth.Tokens{Secret: []byte("test-secret"), TTL: time.Hour}
	flag := &memFlag{open: true}
	status := &memStatusCache{m: map[string]redisx.OrderStatus{}}
	listing := &memListing{}
	v := validator.New()

	r := NewRouter(log)
	authn := RequireAuth(tokens)
	oh := &OrdersHandler{
		Orders:   &orders.Service{UoW: store, Log: log, PaymentStatusColumn: true},
		Store:    flag,
		Status:   status,
		Listing:  listing,
		Validate: v,
		Log:      log,
	}
	oh.Register(r, authn, limiter)
	ch := &CatalogHandler{Catalog: &catalog.Service{UoW: store, Cache: listing, Log: log}, Store: flag, Validate: v, Log: log}
	ch.Register(r, authn)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, store: store, flag: flag, status: status, listing: listing, tokens: tokens}
}

func (a *testAPI) token(t *testing.T, id string, role orders.Role) string {
	t.Helper()
	s, err := a.tokens.Issue(id, role)
	require.NoError(t, err)
	return s
}

func (a *testAPI) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

const address = `"deliveryAddress":{"street":"12 MG Road","phone":"9876543210","city":"Pune","state":"MH","postalCode":"411001","country":"IN"}`

func TestCreateOrder_HTTP(t *testing.T) {
	tests := []struct {
		name       string
		role       orders.Role
		userID     string
		body       string
		storeOpen  bool
		wantStatus int
		wantError  string
	}{
		{
			name: "created", role: orders.RoleCustomer, userID: "cust-1", storeOpen: true,
			body:       `{` + address + `,"items":[{"productId":"milk","quantity":2},{"productId":"milk","quantity":1}]}`,
			wantStatus: http.StatusCreated,
		},
		{
			name: "fractional quantity", role: orders.RoleCustomer, userID: "cust-1", storeOpen: true,
			body:       `{` + address + `,"items":[{"productId":"milk","quantity":1.5}]}`,
			wantStatus: http.StatusBadRequest, wantError: "invalid_order_item",
		},
		{
			name: "zero quantity", role: orders.RoleCustomer, userID: "cust-1", storeOpen: true,
			body:       `{` + address + `,"items":[{"productId":"milk","quantity":0}]}`,
			wantStatus: http.StatusBadRequest, wantError: "invalid_order_item",
		},
		{
			name: "no items", role: orders.RoleCustomer, userID: "cust-1", storeOpen: true,
			body:       `{` + address + `,"items":[]}`,
			wantStatus: http.StatusBadRequest, wantError: "invalid_order_item",
		},
		{
			name: "missing address", role: orders.RoleCustomer, userID: "cust-1", storeOpen: true,
			body:       `{"items":[{"productId":"milk","quantity":1}]}`,
			wantStatus: http.StatusBadRequest, wantError: "validation_failed",
		},
		{
			name: "bad phone", role: orders.RoleCustomer, userID: "cust-1", storeOpen: true,
			body:       `{"deliveryAddress":{"street":"x","phone":"1","city":"c","state":"s","postalCode":"p","country":"IN"},"items":[{"productId":"milk","quantity":1}]}`,
			wantStatus: http.StatusBadRequest, wantError: "validation_failed",
		},
		{
			name: "malformed json", role: orders.RoleCustomer, userID: "cust-1", storeOpen: true,
			body:       `{`,
			wantStatus: http.StatusBadRequest, wantError: "invalid_request_body",
		},
		{
			name: "unknown product", role: orders.RoleCustomer, userID: "cust-1", storeOpen: true,
			body:       `{` + address + `,"items":[{"productId":"X","quantity":1}]}`,
			wantStatus: http.StatusNotFound, wantError: "product_not_found",
		},
		{
			name: "insufficient stock", role: orders.RoleCustomer, userID: "cust-1", storeOpen: true,
			body:       `{` + address + `,"items":[{"productId":"rice","quantity":3}]}`,
			wantStatus: http.StatusConflict, wantError: "insufficient_stock",
		},
		{
			name: "unknown customer", role: orders.RoleCustomer, userID: "ghost", storeOpen: true,
			body:       `{` + address + `,"items":[{"productId":"milk","quantity":1}]}`,
			wantStatus: http.StatusNotFound, wantError: "customer_not_found",
		},
		{
			name: "store closed", role: orders.RoleCustomer, userID: "cust-1", storeOpen: false,
			body:       `{` + address + `,"items":[{"productId":"milk","quantity":1}]}`,
			wantStatus: http.StatusConflict, wantError: "store_closed",
		},
		{
			name: "admin cannot place orders", role: orders.RoleAdmin, userID: "admin-1", storeOpen: true,
			body:       `{` + address + `,"items":[{"productId":"milk","quantity":1}]}`,
			wantStatus: http.StatusForbidden, wantError: "forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, nil)
			api.flag.open = tt.storeOpen

			code, body := api.do(t, http.MethodPost, "/orders", api.token(t, tt.userID, tt.role), tt.body)
			require.Equal(t, tt.wantStatus, code, body)

			milk, _ := api.store.Product("milk")
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
				assert.Equal(t, 10, milk.Stock)
				assert.Empty(t, api.store.Orders())
				return
			}
			assert.Equal(t, "PENDING", body["status"])
			assert.Equal(t, "PENDING_VERIFICATION", body["paymentStatus"])
			assert.Equal(t, "187.5", body["subtotal"])
			assert.Equal(t, "25", body["deliveryCharge"])
			assert.Equal(t, "212.5", body["total"])
			assert.Len(t, body["items"], 1)
			assert.Equal(t, 7, milk.Stock)

			cached, _ := api.status.Get(context.Background(), body["id"].(string))
			require.NotNil(t, cached)
			assert.Equal(t, "cust-1", cached.CustomerID)
		})
	}
}

func TestCreateOrder_InsufficientStockDetails(t *testing.T) {
	api := newTestAPI(t, nil)
	code, body := api.do(t, http.MethodPost, "/orders", api.token(t, "cust-1", orders.RoleCustomer),
		`{`+address+`,"items":[{"productId":"rice","quantity":5}]}`)

	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, map[string]any{"productId": "rice", "requested": float64(5), "available": float64(2)}, body["details"])
}

func TestCreateOrder_RequiresToken(t *testing.T) {
	api := newTestAPI(t, nil)

	code, body := api.do(t, http.MethodPost, "/orders", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", body["error"])

	code, _ = api.do(t, http.MethodPost, "/orders", "garbage", `{}`)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCreateOrder_CookieSession(t *testing.T) {
	api := newTestAPI(t, nil)
	req, err := http.NewRequest(http.MethodPost, api.srv.URL+"/orders",
		strings.NewReader(`{`+address+`,"items":[{"productId":"milk","quantity":1}]}`))
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "token", Value: api.token(t, "cust-1", orders.RoleCustomer)})

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCreateOrder_RateLimited(t *testing.T) {
	api := newTestAPI(t, NewIPLimiter(0.001, 1))
	tok := api.token(t, "cust-1", orders.RoleCustomer)
	body := `{` + address + `,"items":[{"productId":"milk","quantity":1}]}`

	code, _ := api.do(t, http.MethodPost, "/orders", tok, body)
	require.Equal(t, http.StatusCreated, code)

	code, resp := api.do(t, http.MethodPost, "/orders", tok, body)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limited", resp["error"])
}

func TestCreateOrder_PendingPayment(t *testing.T) {
	api := newTestAPI(t, nil)
	tok := api.token(t, "cust-1", orders.RoleCustomer)
	body := `{` + address + `,"items":[{"productId":"milk","quantity":1}]}`

	code, _ := api.do(t, http.MethodPost, "/orders", tok, body)
	require.Equal(t, http.StatusCreated, code)

	code, resp := api.do(t, http.MethodPost, "/orders", tok, body)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "payment_pending", resp["error"])
}

func placeViaAPI(t *testing.T, api *testAPI) string {
	t.Helper()
	code, body := api.do(t, http.MethodPost, "/orders", api.token(t, "cust-1", orders.RoleCustomer),
		`{`+address+`,"items":[{"productId":"rice","quantity":1}]}`)
	require.Equal(t, http.StatusCreated, code, body)
	return body["id"].(string)
}

func TestUpdateOrder_HTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	id := placeViaAPI(t, api)
	admin := api.token(t, "admin-1", orders.RoleAdmin)

	code, body := api.do(t, http.MethodPatch, "/admin/orders/"+id, api.token(t, "cust-1", orders.RoleCustomer), `{"status":"CONFIRMED"}`)
	assert.Equal(t, http.StatusForbidden, code, body)

	code, body = api.do(t, http.MethodPatch, "/admin/orders/"+id, admin, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", body["error"])

	code, body = api.do(t, http.MethodPatch, "/admin/orders/"+id, admin, `{"status":"LOST"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_failed", body["error"])

	code, body = api.do(t, http.MethodPatch, "/admin/orders/"+id, admin, `{"status":"CONFIRMED"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "payment_not_verified", body["error"])

	code, body = api.do(t, http.MethodPatch, "/admin/orders/"+id, admin, `{"status":"CONFIRMED","paymentStatus":"VERIFIED"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "CONFIRMED", body["status"])
	assert.Equal(t, "VERIFIED", body["paymentStatus"])

	cached, _ := api.status.Get(context.Background(), id)
	require.NotNil(t, cached)
	assert.Equal(t, "CONFIRMED", cached.Status)

	code, body = api.do(t, http.MethodPatch, "/admin/orders/"+id, admin, `{"status":"PENDING"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", body["error"])

	code, body = api.do(t, http.MethodPatch, "/admin/orders/"+id, admin, `{"status":"CANCELLED","cancelReason":"short"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", body["error"])

	code, body = api.do(t, http.MethodPatch, "/admin/orders/"+id, admin, `{"status":"CANCELLED","cancelReason":"courier unavailable in area"}`)
	require.Equal(t, http.StatusOK, code, body)
	rice, _ := api.store.Product("rice")
	assert.Equal(t, 2, rice.Stock)

	code, _ = api.do(t, http.MethodPatch, "/admin/orders/missing", admin, `{"status":"CONFIRMED"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetOrder_Ownership(t *testing.T) {
	api := newTestAPI(t, nil)
	id := placeViaAPI(t, api)

	code, body := api.do(t, http.MethodGet, "/orders/"+id, api.token(t, "cust-1", orders.RoleCustomer), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "cust-1", body["customerId"])
	assert.Equal(t, "UPI_QR", body["paymentMethod"])
	assert.NotContains(t, body, "customer_id")

	code, _ = api.do(t, http.MethodGet, "/orders/"+id, api.token(t, "cust-2", orders.RoleCustomer), "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = api.do(t, http.MethodGet, "/orders/"+id, api.token(t, "admin-1", orders.RoleAdmin), "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodGet, "/orders/"+id+"/status", api.token(t, "cust-2", orders.RoleCustomer), "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetOrderStatus_CacheThenStore(t *testing.T) {
	api := newTestAPI(t, nil)
	id := placeViaAPI(t, api)
	tok := api.token(t, "cust-1", orders.RoleCustomer)

	require.NoError(t, api.status.Set(context.Background(), id, redisx.OrderStatus{CustomerID: "cust-1", Status: "SHIPPED"}))
	code, body := api.do(t, http.MethodGet, "/orders/"+id+"/status", tok, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "SHIPPED", body["status"])

	api.status.mu.Lock()
	delete(api.status.m, id)
	api.status.mu.Unlock()

	code, body = api.do(t, http.MethodGet, "/orders/"+id+"/status", tok, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "PENDING", body["status"])
	cached, _ := api.status.Get(context.Background(), id)
	require.NotNil(t, cached)
}

func TestListOrders_HTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	placeViaAPI(t, api)

	req, _ := http.NewRequest(http.MethodGet, api.srv.URL+"/orders", nil)
	req.Header.Set("Authorization", "Bearer "+api.token(t, "cust-2", orders.RoleCustomer))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestCatalog_HTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	admin := api.token(t, "admin-1", orders.RoleAdmin)

	resp, err := http.Get(api.srv.URL + "/products")
	require.NoError(t, err)
	var ps []inventory.Product
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ps))
	resp.Body.Close()
	require.Len(t, ps, 2)
	assert.Equal(t, "Basmati 5kg", ps[0].Name)

	code, body := api.do(t, http.MethodPut, "/admin/products/rice/stock", admin, `{"stock":-1}`)
	assert.Equal(t, http.StatusBadRequest, code, body)

	code, body = api.do(t, http.MethodPut, "/admin/products/rice/stock", admin, `{"stock":40,"reason":"restock"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "ADMIN_ADJUSTMENT", body["changeType"])
	rice, _ := api.store.Product("rice")
	assert.Equal(t, 40, rice.Stock)

	code, _ = api.do(t, http.MethodPut, "/admin/products/nope/stock", admin, `{"stock":1}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = api.do(t, http.MethodPut, "/admin/store/status", admin, `{"open":false}`)
	require.Equal(t, http.StatusOK, code, body)
	code, body = api.do(t, http.MethodGet, "/store/status", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["open"])

	code, _ = api.do(t, http.MethodPut, "/admin/store/status", api.token(t, "cust-1", orders.RoleCustomer), `{"open":true}`)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestWriteError_HidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	writeError(rec, req, slog.New(slog.NewTextHandler(io.Discard, nil)), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestIPLimiter_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewIPLimiter(1, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	now = now.Add(time.Hour)
	l.Sweep()
	_, ok := l.entries.Load("10.0.0.1")
	assert.False(t, ok)
}

func listProducts(t *testing.T, api *testAPI) map[string]int {
	t.Helper()
	resp, err := http.Get(api.srv.URL + "/products")
	require.NoError(t, err)
	defer resp.Body.Close()
	var ps []inventory.Product
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ps))
	stock := make(map[string]int, len(ps))
	for _, p := range ps {
		stock[p.ID] = p.Stock
	}
	return stock
}

func TestProductListing_RefreshedAfterOrderAndCancel(t *testing.T) {
	api := newTestAPI(t, nil)
	admin := api.token(t, "admin-1", orders.RoleAdmin)

	assert.Equal(t, 2, listProducts(t, api)["rice"])

	id := placeViaAPI(t, api)
	assert.Equal(t, 1, listProducts(t, api)["rice"])
	assert.Equal(t, 1, api.listing.dropCount())

	code, body := api.do(t, http.MethodPatch, "/admin/orders/"+id, admin, `{"paymentStatus":"VERIFIED"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, 1, api.listing.dropCount())

	code, body = api.do(t, http.MethodPatch, "/admin/orders/"+id, admin, `{"status":"CANCELLED","cancelReason":"customer changed their mind"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, 2, listProducts(t, api)["rice"])
	assert.Equal(t, 2, api.listing.dropCount())
}
