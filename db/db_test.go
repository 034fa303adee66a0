package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/vimm-chat/chat"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	database, err := Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestConnectRequiresDSN(t *testing.T) {
	if _, err := Connect(context.Background(), ""); !errors.Is(err, ErrNoDSN) {
		t.Fatalf("Connect(\"\") error = %v, want ErrNoDSN", err)
	}
}

func TestMigrate(t *testing.T) {
	database := openTestDB(t)
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// second run is a no-op
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate again: %v", err)
	}

	var exists bool
	if err := database.QueryRow(`SELECT EXISTS (
		SELECT FROM information_schema.tables WHERE table_name = 'chat_messages'
	)`).Scan(&exists); err != nil {
		t.Fatalf("check table: %v", err)
	}
	if !exists {
		t.Fatal("chat_messages does not exist after migration")
	}

	version, dirty, err := GetMigrationVersion(database)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if dirty || version < 1 {
		t.Errorf("version = %d dirty = %v, want >= 1 and clean", version, dirty)
	}
}

func TestArchiveWritesMessages(t *testing.T) {
	database := openTestDB(t)
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	msg := chat.Message{
		ID:        uuid.NewString(),
		Username:  "alice",
		Text:      "archived",
		Timestamp: time.Now().UTC(),
		Room:      chat.RoomKeyFor("acct1"),
		Account:   "acct1",
		Verified:  true,
	}

	a := NewArchive(database, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	a.Consume(msg)
	a.Consume(msg) // duplicate id is ignored

	deadline := time.Now().Add(5 * time.Second)
	var count int
	for time.Now().Before(deadline) {
		if err := database.QueryRow(`SELECT COUNT(*) FROM chat_messages WHERE id = $1`, msg.ID).Scan(&count); err != nil {
			t.Fatalf("count: %v", err)
		}
		if count == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done

	if count != 1 {
		t.Fatalf("archived rows = %d, want 1", count)
	}
	var account, text string
	if err := database.QueryRow(`SELECT hive_account, message FROM chat_messages WHERE id = $1`, msg.ID).Scan(&account, &text); err != nil {
		t.Fatalf("select: %v", err)
	}
	if account != "acct1" || text != "archived" {
		t.Errorf("row = (%q, %q)", account, text)
	}
}

func TestArchiveConsumeNeverBlocks(t *testing.T) {
	a := NewArchive(nil, 2)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			a.Consume(chat.Message{ID: uuid.NewString()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume blocked on a full queue")
	}
	if got := a.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}

func TestArchiveStartClosesAfterShutdown(t *testing.T) {
	a := NewArchive(nil, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := a.Start(ctx)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not report shutdown")
	}
}

func TestArchiveFlushesQueueOnShutdown(t *testing.T) {
	database := openTestDB(t)
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	a := NewArchive(database, 8)
	ids := make([]string, 3)
	for i := range ids {
		ids[i] = uuid.NewString()
		a.Consume(chat.Message{
			ID:        ids[i],
			Username:  "alice",
			Text:      "queued before shutdown",
			Timestamp: time.Now().UTC(),
			Room:      chat.RoomKeyFor("acct1"),
			Account:   "acct1",
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	<-a.Start(ctx)

	for _, id := range ids {
		var n int
		if err := database.QueryRow(`SELECT COUNT(*) FROM chat_messages WHERE id = $1`, id).Scan(&n); err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 1 {
			t.Errorf("message %s archived %d times, want 1", id, n)
		}
	}
	if a.Dropped() != 0 {
		t.Errorf("dropped = %d, want 0", a.Dropped())
	}
}
