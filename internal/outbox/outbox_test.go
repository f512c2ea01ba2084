package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakePublisher struct {
	published []string // "<eventType>:<messageID>"
	corrs     []string
	failFirst int
	calls     int
}

func (p *fakePublisher) Publish(ctx context.Context, eventType string, body []byte, correlationID, messageID string) error {
	p.calls++
	if p.calls <= p.failFirst {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, fmt.Sprintf("%s:%s", eventType, messageID))
	p.corrs = append(p.corrs, correlationID)
	return nil
}

func appendOne(t *testing.T, db *sql.DB, eventType, corr string) {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := Append(context.Background(), tx, eventType, map[string]string{"k": "v"}, corr); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func countUnsent(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE sent_unix IS NULL`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestRelay_PublishesAndMarksSent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	appendOne(t, db, "OrderCreated", "corr-1")
	appendOne(t, db, "StockReserved", "corr-2")

	pub := &fakePublisher{}
	relay := NewRelay(db, pub, RelayOptions{Logger: zerolog.Nop()})

	n, err := relay.relayOnce(context.Background())
	if err != nil {
		t.Fatalf("relayOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 relayed, got %d", n)
	}
	if countUnsent(t, db) != 0 {
		t.Fatalf("expected all rows marked sent")
	}
	if len(pub.published) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(pub.published))
	}
	if pub.corrs[0] != "corr-1" || pub.corrs[1] != "corr-2" {
		t.Fatalf("correlation ids not preserved: %v", pub.corrs)
	}
}

func TestRelay_RollbackNeverPublishes(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := Append(context.Background(), tx, "OrderCreated", map[string]string{}, "corr"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	pub := &fakePublisher{}
	relay := NewRelay(db, pub, RelayOptions{Logger: zerolog.Nop()})
	n, err := relay.relayOnce(context.Background())
	if err != nil {
		t.Fatalf("relayOnce: %v", err)
	}
	if n != 0 || len(pub.published) != 0 {
		t.Fatalf("rolled-back row must not publish, got %v", pub.published)
	}
}

func TestRelay_PublishFailureLeavesUnsent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	appendOne(t, db, "OrderCreated", "corr")

	pub := &fakePublisher{failFirst: 1}
	relay := NewRelay(db, pub, RelayOptions{Logger: zerolog.Nop()})

	if n, err := relay.relayOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected 0 relayed without error, got n=%d err=%v", n, err)
	}
	if countUnsent(t, db) != 1 {
		t.Fatalf("row must stay unsent after publish failure")
	}

	// Next tick succeeds.
	if n, err := relay.relayOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("expected 1 relayed, got n=%d err=%v", n, err)
	}
	if countUnsent(t, db) != 0 {
		t.Fatalf("row must be sent after retry")
	}
}

func TestRelay_DoubleRelayKeepsMessageID(t *testing.T) {
	t.Parallel()

	// Simulates a relay crash between publish and mark-sent: the same row
	// is published twice, but with the same message id both times so
	// consumers can dedup.
	db := newTestDB(t)
	appendOne(t, db, "OrderCreated", "corr")

	pub := &fakePublisher{}
	relay := NewRelay(db, pub, RelayOptions{Logger: zerolog.Nop()})

	if _, err := relay.relayOnce(context.Background()); err != nil {
		t.Fatalf("relayOnce: %v", err)
	}
	// Crash-restart: un-mark the row as if the UPDATE never landed.
	if _, err := db.Exec(`UPDATE outbox SET sent_unix=NULL`); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := relay.relayOnce(context.Background()); err != nil {
		t.Fatalf("relayOnce: %v", err)
	}

	if len(pub.published) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(pub.published))
	}
	if pub.published[0] != pub.published[1] {
		t.Fatalf("message identity must survive double relay: %v", pub.published)
	}
}

func TestRelay_DebounceSkipsFreshRows(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	appendOne(t, db, "OrderCreated", "corr")

	pub := &fakePublisher{}
	relay := NewRelay(db, pub, RelayOptions{Debounce: time.Hour, Logger: zerolog.Nop()})
	if n, err := relay.relayOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("fresh row inside debounce window must wait, got n=%d err=%v", n, err)
	}
}

func TestPrune_RemovesOnlySentRows(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	appendOne(t, db, "OrderCreated", "corr-sent")
	appendOne(t, db, "StockReserved", "corr-pending")

	// Mark the first as sent long ago.
	if _, err := db.Exec(`UPDATE outbox SET sent_unix=? WHERE correlation_id='corr-sent'`,
		time.Now().Add(-48*time.Hour).Unix()); err != nil {
		t.Fatalf("mark: %v", err)
	}

	n, err := Prune(context.Background(), db, 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if countUnsent(t, db) != 1 {
		t.Fatalf("pending row must survive prune")
	}
}
