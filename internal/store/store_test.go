package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenAppliesPragmas(t *testing.T) {
	db := testDB(t)
	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		var got string
		if err := db.QueryRow("PRAGMA " + tt.pragma).Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", tt.pragma, err)
		}
		if got != tt.want {
			t.Errorf("PRAGMA %s = %q, want %q", tt.pragma, got, tt.want)
		}
	}
}

func TestOpenBadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "test.db")
	if _, err := Open(path); err == nil {
		t.Error("Open() in a missing directory succeeded")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if result.Dirty {
		t.Error("schema is dirty")
	}
}

func TestMigrateFreshDBReportsChange(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if !result.Changed || result.Version != 1 {
		t.Errorf("result = %+v, want changed at version 1", result)
	}
}

func TestRecordOpenedAndGet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	got, err := db.GetConversation(ctx, "alice__bob")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("GetConversation() before open = %+v, want nil", got)
	}

	opened := time.UnixMilli(1_700_000_000_000)
	if err := db.RecordOpened(ctx, "alice__bob", "bob", "alice", opened); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordOpened(ctx, "alice__bob", "bob", "alice", opened.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	got, err = db.GetConversation(ctx, "alice__bob")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("conversation not recorded")
	}
	if got.Peer != "bob" || got.LocalUser != "alice" {
		t.Errorf("conversation = %+v", got)
	}
	if got.OpenedAt != opened.Add(time.Minute).UnixMilli() {
		t.Errorf("opened_at = %d, want reopen time", got.OpenedAt)
	}
}

func TestRecordActivityKeepsNewest(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if err := db.RecordOpened(ctx, "alice__bob", "bob", "alice", time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := db.RecordActivity(ctx, "alice__bob", Activity{MessageID: "m2", At: 2000, Preview: "second", Count: 2}); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordActivity(ctx, "alice__bob", Activity{MessageID: "m1", At: 1000, Preview: "first", Count: 12}); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation(ctx, "alice__bob")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastMessageID != "m2" || got.LastMessagePreview != "second" {
		t.Errorf("last message = %s %q, want m2", got.LastMessageID, got.LastMessagePreview)
	}
	if got.MessageCount != 12 {
		t.Errorf("message_count = %d, want 12", got.MessageCount)
	}
}

func TestRecordActivityTruncatesPreview(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.RecordOpened(ctx, "a__b", "b", "a", time.Now())

	long := ""
	for range 150 {
		long += "ü"
	}
	if err := db.RecordActivity(ctx, "a__b", Activity{MessageID: "x", At: 1, Preview: long, Count: 1}); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetConversation(ctx, "a__b")
	if n := len([]rune(got.LastMessagePreview)); n != 100 {
		t.Errorf("preview runes = %d, want 100", n)
	}
}

func TestMarkReadMovesForward(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.RecordOpened(ctx, "alice__bob", "bob", "alice", time.Now())
	_ = db.RecordActivity(ctx, "alice__bob", Activity{MessageID: "m1", At: 5000, Preview: "hi", Count: 1})

	got, _ := db.GetConversation(ctx, "alice__bob")
	if !got.Unread() {
		t.Error("Unread() = false before mark read")
	}

	if err := db.MarkRead(ctx, "alice__bob", time.UnixMilli(6000)); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkRead(ctx, "alice__bob", time.UnixMilli(3000)); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetConversation(ctx, "alice__bob")
	if got.LastReadAt != 6000 {
		t.Errorf("last_read_at = %d, want 6000", got.LastReadAt)
	}
	if got.Unread() {
		t.Error("Unread() = true after mark read")
	}
}

func TestListConversations(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_ = db.RecordOpened(ctx, "alice__bob", "bob", "alice", time.UnixMilli(1000))
	_ = db.RecordOpened(ctx, "alice__carol", "carol", "alice", time.UnixMilli(2000))
	_ = db.RecordOpened(ctx, "bob__carol", "carol", "bob", time.UnixMilli(3000))
	_ = db.RecordActivity(ctx, "alice__bob", Activity{MessageID: "m9", At: 5000, Preview: "latest", Count: 9})

	list, err := db.ListConversations(ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != "alice__bob" || list[1].ID != "alice__carol" {
		t.Errorf("order = %s, %s", list[0].ID, list[1].ID)
	}

	limited, err := db.ListConversations(ctx, "alice", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limited len = %d, want 1", len(limited))
	}
}
