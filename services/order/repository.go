package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"ordersaga/internal/events"
	"ordersaga/internal/inbox"
	"ordersaga/internal/outbox"
)

var ErrOrderNotFound = errors.New("order not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout=5000&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(2 * time.Minute)
	db.SetMaxOpenConns(1)

	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS orders(
  id            TEXT PRIMARY KEY,
  buyer_id      TEXT NOT NULL,
  status        TEXT NOT NULL,
  fail_message  TEXT NOT NULL DEFAULT '',
  addr_line     TEXT NOT NULL,
  addr_province TEXT NOT NULL,
  addr_district TEXT NOT NULL,
  total_cents   INTEGER NOT NULL,
  created_unix  INTEGER NOT NULL,
  updated_unix  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS order_items(
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id    TEXT NOT NULL,
  product_id  TEXT NOT NULL,
  count       INTEGER NOT NULL,
  price_cents INTEGER NOT NULL,
  FOREIGN KEY(order_id) REFERENCES orders(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders(buyer_id);
CREATE INDEX IF NOT EXISTS idx_items_order ON order_items(order_id);
`
	if _, err := r.db.Exec(schema); err != nil {
		return err
	}
	if err := outbox.Migrate(r.db); err != nil {
		return err
	}
	return inbox.Migrate(r.db)
}

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateOrder writes the order, its items and the staged OrderCreated event
// in one transaction. Either all of it commits or none of it does; the
// relay picks the event up only after commit.
func (r *Repository) CreateOrder(ctx context.Context, o *Order, evt events.OrderCreated, correlationID string) error {
	return r.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
  INSERT INTO orders(id, buyer_id, status, addr_line, addr_province, addr_district, total_cents, created_unix, updated_unix)
  VALUES(?,?,?,?,?,?,?,?,?)`,
			o.ID, o.BuyerID, o.Status, o.Address.Line, o.Address.Province, o.Address.District,
			o.TotalCents, o.CreatedUnix, o.UpdatedUnix)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
  INSERT INTO order_items(order_id, product_id, count, price_cents)
  VALUES(?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, it := range o.Items {
			if _, err := stmt.ExecContext(ctx, o.ID, it.ProductID, it.Count, it.PriceCents); err != nil {
				return fmt.Errorf("insert item: %w", err)
			}
		}

		return outbox.Append(ctx, tx, events.TypeOrderCreated, evt, correlationID)
	})
}

func (r *Repository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	row := r.db.QueryRowContext(ctx, `
    SELECT id, buyer_id, status, fail_message, addr_line, addr_province, addr_district, total_cents, created_unix, updated_unix
    FROM orders WHERE id=?`, orderID)
	var o Order
	err := row.Scan(&o.ID, &o.BuyerID, &o.Status, &o.FailMessage,
		&o.Address.Line, &o.Address.Province, &o.Address.District,
		&o.TotalCents, &o.CreatedUnix, &o.UpdatedUnix)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	items, err := r.listItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (r *Repository) listItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
    SELECT product_id, count, price_cents FROM order_items WHERE order_id=? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductID, &it.Count, &it.PriceCents); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func getOrderTx(ctx context.Context, tx *sql.Tx, orderID string) (*Order, error) {
	row := tx.QueryRowContext(ctx, `
    SELECT id, status, fail_message FROM orders WHERE id=?`, orderID)
	var o Order
	err := row.Scan(&o.ID, &o.Status, &o.FailMessage)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func updateStatusTx(ctx context.Context, tx *sql.Tx, orderID, status, failMessage string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE orders SET status=?, fail_message=?, updated_unix=? WHERE id=?`,
		status, failMessage, nowUnix(), orderID)
	return err
}
