// Package memstore is an in-process orders.UnitOfWork. Transactions are
// serialized and run against a private copy of the data that replaces the
// shared copy only on commit, so a failed transaction leaves nothing behind.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
)

type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	customers map[string]orders.Customer
	products  map[string]inventory.Product
	addresses map[string]orders.Address
	orders    map[string]orders.Order
	orderSeq  []string
	history   []orders.StatusHistory
	stock     []orders.StockChange
}

func New() *Store {
	return &Store{st: &state{
		customers: map[string]orders.Customer{},
		products:  map[string]inventory.Product{},
		addresses: map[string]orders.Address{},
		orders:    map[string]orders.Order{},
	}}
}

func (s *Store) AddCustomer(c orders.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.customers[c.ID] = c
}

func (s *Store) AddProduct(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Product returns the committed product row.
func (s *Store) Product(id string) (inventory.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	return p, ok
}

func (s *Store) Orders() []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Order, 0, len(s.st.orderSeq))
	for _, id := range s.st.orderSeq {
		out = append(out, s.st.orders[id])
	}
	return out
}

func (s *Store) Addresses() []orders.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Address, 0, len(s.st.addresses))
	for _, a := range s.st.addresses {
		out = append(out, a)
	}
	return out
}

func (s *Store) StatusHistory(orderID string) []orders.StatusHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.StatusHistory
	for _, h := range s.st.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out
}

func (s *Store) StockChanges() []orders.StockChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.StockChange(nil), s.st.stock...)
}

func (st *state) clone() *state {
	c := &state{
		customers: make(map[string]orders.Customer, len(st.customers)),
		products:  make(map[string]inventory.Product, len(st.products)),
		addresses: make(map[string]orders.Address, len(st.addresses)),
		orders:    make(map[string]orders.Order, len(st.orders)),
		orderSeq:  append([]string(nil), st.orderSeq...),
		history:   append([]orders.StatusHistory(nil), st.history...),
		stock:     append([]orders.StockChange(nil), st.stock...),
	}
	for k, v := range st.customers {
		c.customers[k] = v
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.addresses {
		c.addresses[k] = v
	}
	for k, v := range st.orders {
		v.Items = append([]orders.OrderItem(nil), v.Items...)
		c.orders[k] = v
	}
	return c
}

type tx struct {
	st *state
}

func (t *tx) ProductsByIDs(_ context.Context, ids []string) ([]inventory.Product, error) {
	out := make([]inventory.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := t.st.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *tx) DecrementStockIfEnough(_ context.Context, productID string, qty int) (int, bool, error) {
	p, ok := t.st.products[productID]
	if !ok || p.Stock < qty {
		return 0, false, nil
	}
	p.Stock -= qty
	t.st.products[productID] = p
	return p.Stock, true, nil
}

func (t *tx) CurrentStock(_ context.Context, productID string) (int, error) {
	return t.st.products[productID].Stock, nil
}

func (t *tx) GetCustomer(_ context.Context, id string) (*orders.Customer, error) {
	c, ok := t.st.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *tx) HasOutstandingPayment(_ context.Context, customerID string) (bool, error) {
	for _, o := range t.st.orders {
		if o.CustomerID == customerID &&
			o.PaymentStatus == orders.PaymentPendingVerification &&
			o.Status != orders.StatusCancelled && o.Status != orders.StatusDelivered {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertAddress(_ context.Context, a *orders.Address) error {
	t.st.addresses[a.ID] = *a
	return nil
}

func (t *tx) InsertOrder(_ context.Context, o *orders.Order) error {
	c := *o
	c.Items = append([]orders.OrderItem(nil), o.Items...)
	t.st.orders[o.ID] = c
	t.st.orderSeq = append(t.st.orderSeq, o.ID)
	return nil
}

func (t *tx) InsertStatusHistory(_ context.Context, h *orders.StatusHistory) error {
	t.st.history = append(t.st.history, *h)
	return nil
}

func (t *tx) InsertStockChanges(_ context.Context, changes []orders.StockChange) error {
	t.st.stock = append(t.st.stock, changes...)
	return nil
}

func (t *tx) GetOrder(_ context.Context, id string, _ bool) (*orders.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, nil
	}
	o.Items = append([]orders.OrderItem(nil), o.Items...)
	return &o, nil
}

func (t *tx) ListOrdersByCustomer(_ context.Context, customerID string) ([]orders.Order, error) {
	var out []orders.Order
	for i := len(t.st.orderSeq) - 1; i >= 0; i-- {
		o := t.st.orders[t.st.orderSeq[i]]
		if o.CustomerID == customerID {
			o.Items = append([]orders.OrderItem(nil), o.Items...)
			out = append(out, o)
		}
	}
	return out, nil
}

func (t *tx) UpdateOrder(_ context.Context, o *orders.Order) error {
	cur, ok := t.st.orders[o.ID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	cur.Status = o.Status
	cur.PaymentStatus = o.PaymentStatus
	cur.CancelReason = o.CancelReason
	cur.UpdatedAt = o.UpdatedAt
	t.st.orders[o.ID] = cur
	return nil
}

func (t *tx) IncrementStock(_ context.Context, productID string, qty int) (int, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return 0, &inventory.ProductNotFoundError{IDs: []string{productID}}
	}
	p.Stock += qty
	t.st.products[productID] = p
	return p.Stock, nil
}

func (t *tx) ListProducts(_ context.Context) ([]inventory.Product, error) {
	out := make([]inventory.Product, 0, len(t.st.products))
	for _, p := range t.st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) SetStock(_ context.Context, productID string, stock int) (int, bool, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return 0, false, nil
	}
	prev := p.Stock
	p.Stock = stock
	t.st.products[productID] = p
	return prev, true, nil
}
