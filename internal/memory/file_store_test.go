package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreSummaryRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	summary, err := store.GetSummary(ctx, "regulatory")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "" {
		t.Fatalf("expected empty summary for fresh worker, got %q", summary)
	}

	if err := store.UpdateSummary(ctx, "regulatory", "MiCA enforcement started"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	summary, err = store.GetSummary(ctx, "regulatory")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "MiCA enforcement started" {
		t.Fatalf("unexpected summary: %q", summary)
	}
}

func TestFileStoreSummaryIndependentFromOutputs(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if _, err := store.SaveOutput(ctx, "w", "body", "task", OutputMetadata{Model: "sonnet"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.UpdateSummary(ctx, "w", "summary"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 删除摘要文件不应影响产出历史。
	if err := os.Remove(filepath.Join(root, "w", summaryFileName)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	records, err := store.RecentOutputs(ctx, "w", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].Output != "body" {
		t.Fatalf("output history lost after summary removal: %+v", records)
	}
}

func TestFileStoreOutputsNewestFirst(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
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
	if records[0].Output != "output 2" {
		t.Fatalf("records should be newest first: %+v", records)
	}
	if records[0].Task != "task" {
		t.Fatalf("task missing from metadata: %+v", records[0])
	}
}

func TestFileStoreConversationWriteCap(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 55; i++ {
		if err := store.AppendTurn(ctx, "w", "thread", RoleWorker, fmt.Sprintf("turn %d", i)); err != nil {
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
	if turns[0].Text != "turn 5" || turns[len(turns)-1].Text != "turn 54" {
		t.Fatalf("turns should keep the most recent in order: first=%q last=%q",
			turns[0].Text, turns[len(turns)-1].Text)
	}
}

func TestFileStoreAllSummaries(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	_ = store.UpdateSummary(ctx, "regulatory", "reg summary")
	_ = store.UpdateSummary(ctx, "market_research", "market summary")
	_ = store.UpdateSummary(ctx, "empty_worker", "")

	all, err := store.AllSummaries(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two non-empty summaries, got %d", len(all))
	}
	if all["regulatory"] != "reg summary" {
		t.Fatalf("unexpected summaries: %+v", all)
	}
}

type failingMirror struct{}

func (failingMirror) UploadFile(context.Context, string, string, string, string) (string, error) {
	return "", fmt.Errorf("drive unreachable")
}

func TestMirrorStoreSwallowsMirrorFailure(t *testing.T) {
	store := NewMirrorStore(NewInMemoryStore(), failingMirror{}, "outputs")
	ctx := context.Background()

	ref, err := store.SaveOutput(ctx, "w", "body", "task", OutputMetadata{})
	if err != nil {
		t.Fatalf("mirror failure must not fail the primary save: %v", err)
	}
	if ref == "" {
		t.Fatalf("expected output ref despite mirror failure")
	}

	records, err := store.RecentOutputs(ctx, "w", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("primary save missing: %+v", records)
	}
}
