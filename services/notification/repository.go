package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
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
CREATE TABLE IF NOT EXISTS notifications(
  id         TEXT PRIMARY KEY,
  order_id   TEXT NOT NULL,
  event_type TEXT NOT NULL,
  message    TEXT NOT NULL,
  sent_unix  INTEGER NOT NULL,
  UNIQUE(order_id, event_type)
);
CREATE INDEX IF NOT EXISTS idx_notifications_order ON notifications(order_id);
`
	_, err := r.db.Exec(schema)
	return err
}

func (r *Repository) Close() error { return r.db.Close() }

// Record persists one notification unless its (order, event type) pair is
// already present. The unique index is the dedup key; OR IGNORE makes the
// duplicate path a clean no-op and the return value says which way it went.
func (r *Repository) Record(ctx context.Context, orderID, eventType, message string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
INSERT OR IGNORE INTO notifications(id, order_id, event_type, message, sent_unix)
VALUES(?,?,?,?,?)`,
		uuid.NewString(), orderID, eventType, message, nowUnix())
	if err != nil {
		return false, fmt.Errorf("record notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns persisted records, newest first, optionally filtered by
// order.
func (r *Repository) List(ctx context.Context, orderID string) ([]NotificationRecord, error) {
	query := `SELECT id, order_id, event_type, message, sent_unix FROM notifications`
	args := []any{}
	if orderID != "" {
		query += ` WHERE order_id=?`
		args = append(args, orderID)
	}
	query += ` ORDER BY sent_unix DESC, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NotificationRecord
	for rows.Next() {
		var rec NotificationRecord
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.EventType, &rec.Message, &rec.SentUnix); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
