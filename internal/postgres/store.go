package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store runs orders.Tx against Postgres. With PaymentStatusColumn false it
// never touches orders.payment_status, so it works on the legacy schema.
type Store struct {
	DB                  *pgxpool.Pool
	PaymentStatusColumn bool
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx, paymentStatus: s.PaymentStatusColumn}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx            pgx.Tx
	paymentStatus bool
}

func (t *pgTx) ProductsByIDs(ctx context.Context, ids []string) ([]inventory.Product, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, name, price::text, stock, COALESCE(category_id, '')
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return scanProducts(rows)
}

func (t *pgTx) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, name, price::text, stock, COALESCE(category_id, '')
		FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return scanProducts(rows)
}

func scanProducts(rows pgx.Rows) ([]inventory.Product, error) {
	defer rows.Close()
	var out []inventory.Product
	for rows.Next() {
		var (
			p     inventory.Product
			price string
		)
		if err := rows.Scan(&p.ID, &p.Name, &price, &p.Stock, &p.CategoryID); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("product %s price %q: %w", p.ID, price, err)
		}
		p.Price = d
		out = append(out, p)
	}
	return out, rows.Err()
}

// DecrementStockIfEnough is a single conditional UPDATE, so two concurrent
// orders can never both take the last unit.
func (t *pgTx) DecrementStockIfEnough(ctx context.Context, productID string, qty int) (int, bool, error) {
	var stock int
	err := t.tx.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
		RETURNING stock`, productID, qty).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return stock, true, nil
}

func (t *pgTx) CurrentStock(ctx context.Context, productID string) (int, error) {
	var stock int
	err := t.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return stock, err
}

func (t *pgTx) IncrementStock(ctx context.Context, productID string, qty int) (int, error) {
	var stock int
	err := t.tx.QueryRow(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1 RETURNING stock`, productID, qty).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &inventory.ProductNotFoundError{IDs: []string{productID}}
	}
	return stock, err
}

func (t *pgTx) SetStock(ctx context.Context, productID string, stock int) (int, bool, error) {
	var prev int
	err := t.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if _, err := t.tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = NOW() WHERE id = $1`, productID, stock); err != nil {
		return 0, false, err
	}
	return prev, true, nil
}

func (t *pgTx) GetCustomer(ctx context.Context, id string) (*orders.Customer, error) {
	var c orders.Customer
	err := t.tx.QueryRow(ctx, `SELECT id, name, email, role FROM customers WHERE id = $1 FOR UPDATE`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) HasOutstandingPayment(ctx context.Context, customerID string) (bool, error) {
	if !t.paymentStatus {
		return false, nil
	}
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE customer_id = $1 AND payment_status = $2
			  AND status NOT IN ($3, $4)
		)`, customerID, orders.PaymentPendingVerification, orders.StatusCancelled, orders.StatusDelivered).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertAddress(ctx context.Context, a *orders.Address) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO addresses (id, customer_id, street, phone, city, state, postal_code, country, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.CustomerID, a.Street, a.Phone, a.City, a.State, a.PostalCode, a.Country, a.CreatedAt)
	return err
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	cols := []string{"id", "customer_id", "address_id", "total", "status", "payment_method", "payment_note", "created_at", "updated_at"}
	args := []any{o.ID, o.CustomerID, o.AddressID, o.Total, o.Status, o.PaymentMethod, o.PaymentNote, o.CreatedAt, o.UpdatedAt}
	if t.paymentStatus {
		cols = append(cols, "payment_status")
		args = append(args, o.PaymentStatus)
	}
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO orders (`+strings.Join(cols, ", ")+`) VALUES (`+placeholders(len(cols))+`)`,
		args...); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) InsertStatusHistory(ctx context.Context, h *orders.StatusHistory) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_status_history (id, order_id, status, note, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		h.ID, h.OrderID, h.Status, h.Note, h.ActorID, h.CreatedAt)
	return err
}

func (t *pgTx) InsertStockChanges(ctx context.Context, changes []orders.StockChange) error {
	if len(changes) == 0 {
		return nil
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"stock_change_history"},
		[]string{"id", "product_id", "order_id", "change_type", "delta", "previous_stock", "new_stock", "reason", "actor_id", "created_at"},
		pgx.CopyFromSlice(len(changes), func(i int) ([]any, error) {
			c := changes[i]
			var orderID any
			if c.OrderID != "" {
				orderID = c.OrderID
			}
			return []any{c.ID, c.ProductID, orderID, string(c.Type), c.Delta, c.PreviousStock, c.NewStock, c.Reason, c.ActorID, c.CreatedAt}, nil
		}))
	return err
}

func (t *pgTx) orderColumns() string {
	cols := `id, customer_id, address_id, total::text, status, payment_method,
		COALESCE(payment_note, ''), COALESCE(cancel_reason, ''), created_at, updated_at`
	if t.paymentStatus {
		cols += `, payment_status`
	}
	return cols
}

func (t *pgTx) scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o     orders.Order
		total string
	)
	dest := []any{&o.ID, &o.CustomerID, &o.AddressID, &total, &o.Status, &o.PaymentMethod,
		&o.PaymentNote, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt}
	if t.paymentStatus {
		dest = append(dest, &o.PaymentStatus)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("order %s total %q: %w", o.ID, total, err)
	}
	o.Total = d
	return &o, nil
}

func (t *pgTx) GetOrder(ctx context.Context, id string, forUpdate bool) (*orders.Order, error) {
	q := `SELECT ` + t.orderColumns() + ` FROM orders WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	o, err := t.scanOrder(t.tx.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := t.loadItems(ctx, []*orders.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (t *pgTx) ListOrdersByCustomer(ctx context.Context, customerID string) ([]orders.Order, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+t.orderColumns()+`
		FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, err
	}
	var list []*orders.Order
	for rows.Next() {
		o, err := t.scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := t.loadItems(ctx, list); err != nil {
		return nil, err
	}
	out := make([]orders.Order, 0, len(list))
	for _, o := range list {
		out = append(out, *o)
	}
	return out, nil
}

func (t *pgTx) loadItems(ctx context.Context, list []*orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	byID := make(map[string]*orders.Order, len(list))
	ids := make([]string, 0, len(list))
	for _, o := range list {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}
	rows, err := t.tx.Query(ctx, `
		SELECT order_id, product_id, product_name, quantity, unit_price::text
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, product_name`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it    orders.OrderItem
			price string
		)
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &price); err != nil {
			return err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return err
		}
		o := byID[it.OrderID]
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *orders.Order) error {
	q := `UPDATE orders SET status = $2, cancel_reason = NULLIF($3, ''), updated_at = $4`
	args := []any{o.ID, o.Status, o.CancelReason, o.UpdatedAt}
	if t.paymentStatus {
		q += `, payment_status = $5`
		args = append(args, o.PaymentStatus)
	}
	ct, err := t.tx.Exec(ctx, q+` WHERE id = $1`, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrOrderNotFound
	}
	return nil
}

func placeholders(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i)
	}
	return b.String()
}
