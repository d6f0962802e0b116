package memory

import (
	"context"
	"fmt"
	"testing"
)

func TestInMemoryStoreEmptyReads(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	summary, err := store.GetSummary(ctx, "regulatory")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "" {
		t.Fatalf("expected empty summary, got %q", summary)
	}

	outputs, err := store.RecentOutputs(ctx, "regulatory", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outputs) != 0 {
		t.Fatalf("expected no outputs, got %d", len(outputs))
	}

	turns, err := store.Conversation(ctx, "regulatory", "thread-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected no turns, got %d", len(turns))
	}
}

func TestInMemoryStoreSummaryOverwrite(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.UpdateSummary(ctx, "regulatory", "latest findings"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	summary, err := store.GetSummary(ctx, "regulatory")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "latest findings" {
		t.Fatalf("unexpected summary: %q", summary)
	}

	if err := store.UpdateSummary(ctx, "regulatory", "newer findings"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	summary, _ = store.GetSummary(ctx, "regulatory")
	if summary != "newer findings" {
		t.Fatalf("summary should equal last write, got %q", summary)
	}
}

func TestInMemoryStoreSaveOutputRoundTrip(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	ref, err := store.SaveOutput(ctx, "market_research", "findings body", "weekly scan", OutputMetadata{
		Model:        "sonnet",
		InputTokens:  100,
		OutputTokens: 200,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref == "" {
		t.Fatalf("expected non-empty output ref")
	}

	records, err := store.RecentOutputs(ctx, "market_research", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0].Output != "findings body" {
		t.Fatalf("unexpected output: %q", records[0].Output)
	}
	if records[0].Task != "weekly scan" {
		t.Fatalf("metadata should carry the task, got %q", records[0].Task)
	}
	if records[0].Metadata.OutputTokens != 200 {
		t.Fatalf("unexpected metadata: %+v", records[0].Metadata)
	}
}

func TestInMemoryStoreRecentOutputsOrder(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.SaveOutput(ctx, "w", fmt.Sprintf("output %d", i), "task", OutputMetadata{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	records, err := store.RecentOutputs(ctx, "w", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}
	if records[0].Output != "output 2" || records[1].Output != "output 1" {
		t.Fatalf("records should be newest first: %+v", records)
	}
}

func TestInMemoryStoreConversationWriteCap(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 55; i++ {
		if err := store.AppendTurn(ctx, "w", "thread", RoleRequester, fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	turns, err := store.Conversation(ctx, "w", "thread")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != ConversationWriteCap {
		t.Fatalf("expected %d turns, got %d", ConversationWriteCap, len(turns))
	}
	if turns[0].Text != "turn 5" {
		t.Fatalf("oldest surviving turn should be turn 5, got %q", turns[0].Text)
	}
	if turns[len(turns)-1].Text != "turn 54" {
		t.Fatalf("newest turn should be turn 54, got %q", turns[len(turns)-1].Text)
	}
}

func TestInMemoryStoreConversationsIsolated(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_ = store.AppendTurn(ctx, "w", "a", RoleRequester, "hello a")
	_ = store.AppendTurn(ctx, "w", "b", RoleRequester, "hello b")

	turnsA, _ := store.Conversation(ctx, "w", "a")
	turnsB, _ := store.Conversation(ctx, "w", "b")
	if len(turnsA) != 1 || len(turnsB) != 1 {
		t.Fatalf("threads must stay independent: a=%d b=%d", len(turnsA), len(turnsB))
	}
	if turnsA[0].Text != "hello a" || turnsB[0].Text != "hello b" {
		t.Fatalf("threads leaked into each other")
	}
}
