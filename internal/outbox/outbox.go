package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// The outbox bridges the dual-write problem: the row is written in the same
// local transaction as the domain change it reports, and a poller relays it
// to the bus afterwards. Once the transaction commits the event is published
// at least once; an event whose transaction rolled back is never published.

type Message struct {
	ID            string
	EventType     string
	Payload       []byte
	CorrelationID string
	CreatedUnix   int64
	SentUnix      sql.NullInt64
}

func Migrate(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS outbox(
  id             TEXT PRIMARY KEY,
  event_type     TEXT NOT NULL,
  payload        BLOB NOT NULL,
  correlation_id TEXT NOT NULL,
  created_unix   INTEGER NOT NULL,
  sent_unix      INTEGER
);
CREATE INDEX IF NOT EXISTS idx_outbox_unsent ON outbox(created_unix) WHERE sent_unix IS NULL;
`
	_, err := db.Exec(schema)
	return err
}

// Append stages an event inside the caller's transaction. It never commits:
// the event only becomes publishable when the caller's domain write does.
func Append(ctx context.Context, tx *sql.Tx, eventType string, payload any, correlationID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	_, err = tx.ExecContext(ctx, `
  INSERT INTO outbox(id, event_type, payload, correlation_id, created_unix)
  VALUES(?,?,?,?,?)`,
		uuid.NewString(), eventType, body, correlationID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("append outbox %s: %w", eventType, err)
	}
	return nil
}

// Publisher is what the relay needs from the bus. The outbox row id is
// passed as the message id so a row relayed twice keeps its identity
// downstream.
type Publisher interface {
	Publish(ctx context.Context, eventType string, body []byte, correlationID, messageID string) error
}

type Relay struct {
	db       *sql.DB
	pub      Publisher
	interval time.Duration
	debounce time.Duration
	batch    int
	log      zerolog.Logger
}

type RelayOptions struct {
	PollInterval time.Duration
	Debounce     time.Duration
	BatchSize    int
	Logger       zerolog.Logger
}

func NewRelay(db *sql.DB, pub Publisher, opts RelayOptions) *Relay {
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Second
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 50
	}
	return &Relay{
		db:       db,
		pub:      pub,
		interval: opts.PollInterval,
		debounce: opts.Debounce,
		batch:    opts.BatchSize,
		log:      opts.Logger,
	}
}

// Run drains unsent rows on a fixed interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.relayOnce(ctx); err != nil {
				r.log.Error().Err(err).Msg("outbox relay tick failed")
			} else if n > 0 {
				r.log.Debug().Int("relayed", n).Msg("outbox relayed")
			}
		}
	}
}

// relayOnce publishes pending rows in creation order and marks them sent.
// A row whose publish fails stays unsent and is retried next tick, so the
// guarantee is at-least-once and consumers must dedup.
func (r *Relay) relayOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.debounce).Unix()
	rows, err := r.db.QueryContext(ctx, `
  SELECT id, event_type, payload, correlation_id
  FROM outbox
  WHERE sent_unix IS NULL AND created_unix <= ?
  ORDER BY created_unix, id
  LIMIT ?`, cutoff, r.batch)
	if err != nil {
		return 0, fmt.Errorf("select pending: %w", err)
	}
	var pending []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.EventType, &m.Payload, &m.CorrelationID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan pending: %w", err)
		}
		pending = append(pending, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	sent := 0
	for _, m := range pending {
		if err := r.pub.Publish(ctx, m.EventType, m.Payload, m.CorrelationID, m.ID); err != nil {
			// Leave the row unsent; next tick retries it. Stop here to
			// keep per-row creation order on the wire.
			r.log.Warn().Err(err).Str("id", m.ID).Str("event", m.EventType).Msg("publish failed, will retry")
			return sent, nil
		}
		if _, err := r.db.ExecContext(ctx,
			`UPDATE outbox SET sent_unix=? WHERE id=?`, time.Now().Unix(), m.ID); err != nil {
			// Published but not marked: the row is relayed again next
			// tick. Safe, consumers dedup on message id / natural key.
			return sent, fmt.Errorf("mark sent %s: %w", m.ID, err)
		}
		sent++
	}
	return sent, nil
}

// Prune deletes sent rows older than the retention window.
func Prune(ctx context.Context, db *sql.DB, olderThan time.Duration) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM outbox WHERE sent_unix IS NOT NULL AND sent_unix < ?`,
		time.Now().Add(-olderThan).Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
