package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndConversation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i, question := range []string{"how many customers?", "and last week?"} {
		err := store.Append(ctx, Entry{
			ConversationID: "conv-1",
			Question:       question,
			SQL:            "SELECT COUNT(*) FROM customers",
			Reasoning:      "count rows",
			Status:         "succeeded",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := store.Conversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(entries))
	}
	if entries[0].Question != "how many customers?" {
		t.Fatalf("expected chronological order, got %q first", entries[0].Question)
	}
	if entries[0].ID == "" {
		t.Fatal("expected generated turn ID")
	}
}

func TestRecentReturnsNewestInChronologicalOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	questions := []string{"q1", "q2", "q3", "q4"}
	for i, question := range questions {
		err := store.Append(ctx, Entry{
			ConversationID: "conv-2",
			Question:       question,
			Status:         "succeeded",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := store.Recent(ctx, "conv-2", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(entries))
	}
	if entries[0].Question != "q3" || entries[1].Question != "q4" {
		t.Fatalf("expected [q3 q4], got [%s %s]", entries[0].Question, entries[1].Question)
	}
}

func TestRecentIsolatesConversations(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_ = store.Append(ctx, Entry{ConversationID: "a", Question: "alpha", Status: "succeeded"})
	_ = store.Append(ctx, Entry{ConversationID: "b", Question: "beta", Status: "succeeded"})

	entries, err := store.Recent(ctx, "a", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Question != "alpha" {
		t.Fatalf("expected only conversation a turns, got %+v", entries)
	}
}
