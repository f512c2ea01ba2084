package inbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// The inbox makes consumers idempotent under at-least-once delivery: the
// processed-set check and the Mark insert happen inside the same local
// transaction as the domain mutation, so a crash between them cannot leave
// an orphaned duplicate.

func Migrate(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS inbox(
  consumer       TEXT NOT NULL,
  message_id     TEXT NOT NULL,
  processed_unix INTEGER NOT NULL,
  PRIMARY KEY(consumer, message_id)
);
`
	_, err := db.Exec(schema)
	return err
}

// Seen reports whether the consumer already processed the message. The key
// may be a transport message id or a natural business key such as
// "<orderID>:<eventType>" when duplicate publications must dedup too.
func Seen(ctx context.Context, tx *sql.Tx, consumer, messageID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM inbox WHERE consumer=? AND message_id=?`, consumer, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inbox seen: %w", err)
	}
	return true, nil
}

// Mark records the message as processed, inside the caller's transaction.
func Mark(ctx context.Context, tx *sql.Tx, consumer, messageID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO inbox(consumer, message_id, processed_unix) VALUES(?,?,?)`,
		consumer, messageID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("inbox mark: %w", err)
	}
	return nil
}

// Prune drops records past the retention window. The inbox is append-only
// otherwise.
func Prune(ctx context.Context, db *sql.DB, olderThan time.Duration) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM inbox WHERE processed_unix < ?`, time.Now().Add(-olderThan).Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
