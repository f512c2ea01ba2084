package inbox

import (
	"context"
	"database/sql"
	"testing"
	"time"

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

func TestSeenAndMark(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	tx, _ := db.Begin()
	seen, err := Seen(ctx, tx, "stock-service", "msg-1")
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if seen {
		t.Fatal("fresh message must not be seen")
	}
	if err := Mark(ctx, tx, "stock-service", "msg-1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx, _ = db.Begin()
	seen, err = Seen(ctx, tx, "stock-service", "msg-1")
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if !seen {
		t.Fatal("committed mark must be visible")
	}
	_ = tx.Rollback()
}

func TestMark_ScopedPerConsumer(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	tx, _ := db.Begin()
	if err := Mark(ctx, tx, "order-service", "msg-1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	_ = tx.Commit()

	tx, _ = db.Begin()
	seen, err := Seen(ctx, tx, "notification-service", "msg-1")
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if seen {
		t.Fatal("mark for one consumer must not shadow another")
	}
	_ = tx.Rollback()
}

func TestMark_RollbackLeavesNoRecord(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	tx, _ := db.Begin()
	if err := Mark(ctx, tx, "stock-service", "msg-2"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	_ = tx.Rollback()

	tx, _ = db.Begin()
	seen, err := Seen(ctx, tx, "stock-service", "msg-2")
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if seen {
		t.Fatal("rolled-back mark must not be visible")
	}
	_ = tx.Rollback()
}

func TestPrune(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	tx, _ := db.Begin()
	_ = Mark(ctx, tx, "stock-service", "old")
	_ = Mark(ctx, tx, "stock-service", "new")
	_ = tx.Commit()

	if _, err := db.Exec(`UPDATE inbox SET processed_unix=? WHERE message_id='old'`,
		time.Now().Add(-72*time.Hour).Unix()); err != nil {
		t.Fatalf("age row: %v", err)
	}

	n, err := Prune(ctx, db, 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}

	tx, _ = db.Begin()
	seen, _ := Seen(ctx, tx, "stock-service", "new")
	if !seen {
		t.Fatal("recent record must survive prune")
	}
	_ = tx.Rollback()
}
