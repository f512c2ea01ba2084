package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ordersaga/internal/inbox"
	"ordersaga/internal/outbox"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout=5000"
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
CREATE TABLE IF NOT EXISTS stock(
  id           TEXT PRIMARY KEY,
  product_id   TEXT NOT NULL UNIQUE,
  count        INTEGER NOT NULL CHECK(count >= 0),
  version      INTEGER NOT NULL DEFAULT 1,
  updated_unix INTEGER NOT NULL
);
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

func (r *Repository) List(ctx context.Context) ([]Stock, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, product_id, count, version, updated_unix FROM stock ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Stock
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.ID, &s.ProductID, &s.Count, &s.Version, &s.UpdatedUnix); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Upsert sets the absolute count for a product, creating the row if needed.
// Admin/seed path, not the reservation path.
func (r *Repository) Upsert(ctx context.Context, productID string, count int32) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO stock(id, product_id, count, version, updated_unix)
VALUES(?,?,?,1,?)
ON CONFLICT(product_id) DO UPDATE SET
  count=excluded.count,
  version=version+1,
  updated_unix=excluded.updated_unix`,
		uuid.NewString(), productID, count, nowUnix())
	if err != nil {
		return fmt.Errorf("upsert stock %s: %w", productID, err)
	}
	return nil
}

// DemoProductID matches the product the demo client orders against.
const DemoProductID = "d8d47424-0c5a-4e2b-b5d1-93335555d444"

// SeedDemo resets every known product to 100 units and makes sure the demo
// product exists.
func (r *Repository) SeedDemo(ctx context.Context) error {
	return r.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE stock SET count=100, version=version+1, updated_unix=?`, nowUnix()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO stock(id, product_id, count, version, updated_unix)
VALUES(?,?,100,1,?)
ON CONFLICT(product_id) DO NOTHING`,
			uuid.NewString(), DemoProductID, nowUnix())
		return err
	})
}

func stocksForProductsTx(ctx context.Context, tx *sql.Tx, productIDs []string) (map[string]Stock, error) {
	out := make(map[string]Stock, len(productIDs))
	for _, pid := range productIDs {
		var s Stock
		err := tx.QueryRowContext(ctx,
			`SELECT id, product_id, count, version FROM stock WHERE product_id=?`, pid).
			Scan(&s.ID, &s.ProductID, &s.Count, &s.Version)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load stock %s: %w", pid, err)
		}
		out[pid] = s
	}
	return out, nil
}

// decrementTx is the compare-and-swap commit: it only lands if the row's
// version is unchanged since the read and the count stays non-negative.
func decrementTx(ctx context.Context, tx *sql.Tx, s Stock, count int32) error {
	res, err := tx.ExecContext(ctx, `
UPDATE stock SET count=count-?, version=version+1, updated_unix=?
WHERE id=? AND version=? AND count-? >= 0`,
		count, nowUnix(), s.ID, s.Version, count)
	if err != nil {
		return fmt.Errorf("decrement %s: %w", s.ProductID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}
