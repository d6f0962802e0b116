package runner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mrg275/proof2pay-agents/internal/config"
	xerrors "github.com/mrg275/proof2pay-agents/internal/errors"
	"github.com/mrg275/proof2pay-agents/internal/docs"
	"github.com/mrg275/proof2pay-agents/internal/llm"
	"github.com/mrg275/proof2pay-agents/internal/memory"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/tools"
)

// scriptedClient 按脚本依次返回补全结果，并记录每次请求。
type scriptedClient struct {
	results  []*llm.Result
	requests []llm.Request
}

func (c *scriptedClient) Complete(_ context.Context, req llm.Request) (*llm.Result, error) {
	c.requests = append(c.requests, req)
	idx := len(c.requests) - 1
	if idx >= len(c.results) {
		idx = len(c.results) - 1
	}
	if idx < 0 {
		return nil, errors.New("no scripted result")
	}
	return c.results[idx], nil
}

func testRoster(t *testing.T, workers ...config.WorkerConfig) *roster.Roster {
	t.Helper()
	cfg := &config.Config{
		Models:  config.ModelsConfig{Opus: "model-opus", Sonnet: "model-sonnet", Haiku: "model-haiku"},
		Workers: workers,
	}
	r, err := roster.New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r
}

func newTestRunner(t *testing.T, client llm.Client, store memory.Store, workers ...config.WorkerConfig) *Runner {
	t.Helper()
	r := testRoster(t, workers...)
	provider := docs.NewProvider(t.TempDir())
	return New(Options{
		Roster:       r,
		Store:        store,
		Assembler:    NewAssembler(r, store, provider),
		Tools:        tools.NewHandler(nil, nil),
		Client:       client,
		DefaultModel: "model-default",
	})
}

func TestRunUnknownWorker(t *testing.T) {
	runner := newTestRunner(t, &scriptedClient{}, memory.NewInMemoryStore(),
		config.WorkerConfig{ID: "regulatory", Instructions: "track rules", Model: "sonnet"})

	_, err := runner.Run(context.Background(), Request{WorkerID: "nobody", Task: "task"})
	if err == nil {
		t.Fatalf("expected error for unknown worker")
	}
	if xerrors.CodeOf(err) != xerrors.CodeUnknownWorker {
		t.Fatalf("unexpected error code: %v", xerrors.CodeOf(err))
	}
}

func TestRunPersistsOutput(t *testing.T) {
	store := memory.NewInMemoryStore()
	client := &scriptedClient{results: []*llm.Result{
		{Text: "final answer", InputTokens: 10, OutputTokens: 20},
	}}
	runner := newTestRunner(t, client, store,
		config.WorkerConfig{ID: "regulatory", Instructions: "track rules", Model: "sonnet"})

	result, err := runner.Run(context.Background(), Request{WorkerID: "regulatory", Task: "weekly scan"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "final answer" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
	if result.OutputRef == "" {
		t.Fatalf("expected output ref")
	}

	records, err := store.RecentOutputs(context.Background(), "regulatory", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one persisted output")
	}
	if records[0].Output != "final answer" || records[0].Task != "weekly scan" {
		t.Fatalf("unexpected record: %+v", records[0])
	}
	if records[0].Metadata.Model != "model-sonnet" {
		t.Fatalf("unexpected model: %q", records[0].Metadata.Model)
	}
	if records[0].Metadata.InputTokens != 10 || records[0].Metadata.OutputTokens != 20 {
		t.Fatalf("unexpected token counts: %+v", records[0].Metadata)
	}
}

func TestRunModelOverride(t *testing.T) {
	client := &scriptedClient{results: []*llm.Result{{Text: "ok"}}}
	runner := newTestRunner(t, client, memory.NewInMemoryStore(),
		config.WorkerConfig{ID: "regulatory", Instructions: "track rules", Model: "sonnet"})

	_, err := runner.Run(context.Background(), Request{
		WorkerID:      "regulatory",
		Task:          "task",
		ModelOverride: roster.TierHaiku,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.requests[0].Model != "model-haiku" {
		t.Fatalf("override should win: %q", client.requests[0].Model)
	}
}

func TestToolLoopMakesNPlusOneCalls(t *testing.T) {
	toolCall := []llm.ToolCall{{ID: "toolu_1", Name: tools.NameWebSearch, Input: map[string]any{"query": "x"}}}
	client := &scriptedClient{results: []*llm.Result{
		{Text: "looking", ToolCalls: toolCall, InputTokens: 5, OutputTokens: 5},
		{Text: "still looking", ToolCalls: toolCall, InputTokens: 5, OutputTokens: 5},
		{Text: "final answer", InputTokens: 5, OutputTokens: 5},
	}}
	runner := newTestRunner(t, client, memory.NewInMemoryStore(),
		config.WorkerConfig{ID: "w", Instructions: "work", Model: "sonnet", Tools: []string{tools.NameWebSearch}})

	result, err := runner.Run(context.Background(), Request{WorkerID: "w", Task: "task"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.requests) != 3 {
		t.Fatalf("expected exactly 3 completion calls, got %d", len(client.requests))
	}
	if result.Text != "final answer" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
	if result.InputTokens != 15 || result.OutputTokens != 15 {
		t.Fatalf("tokens must sum across iterations: %+v", result)
	}
}

func TestToolLoopStopsAtCap(t *testing.T) {
	toolCall := []llm.ToolCall{{ID: "toolu_1", Name: tools.NameWebSearch, Input: map[string]any{"query": "x"}}}
	client := &scriptedClient{results: []*llm.Result{
		{Text: "", ToolCalls: toolCall},
	}}
	base := llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Text: "go"}}}
	exec := tools.NewHandler(nil, nil).InvokeAll

	loop, err := RunToolLoop(context.Background(), client, base, exec, 4)
	if err != nil {
		t.Fatalf("cap reached must not be an error: %v", err)
	}
	if len(client.requests) != 4 {
		t.Fatalf("expected exactly 4 completion calls, got %d", len(client.requests))
	}
	if !loop.CapReached {
		t.Fatalf("expected cap to be reported")
	}
	if loop.Text != "" {
		t.Fatalf("last call's (empty) text should be returned, got %q", loop.Text)
	}
}

func TestToolLoopMatchesResultsToRequests(t *testing.T) {
	toolCalls := []llm.ToolCall{
		{ID: "toolu_a", Name: "bogus_one"},
		{ID: "toolu_b", Name: "bogus_two"},
	}
	client := &scriptedClient{results: []*llm.Result{
		{Text: "", ToolCalls: toolCalls},
		{Text: "done"},
	}}
	base := llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Text: "go"}}}

	loop, err := RunToolLoop(context.Background(), client, base, tools.NewHandler(nil, nil).InvokeAll, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loop.Text != "done" {
		t.Fatalf("unexpected text: %q", loop.Text)
	}

	// 第二次请求的线程里应有一条带两个结果的消息，id 与请求一一对应。
	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if len(last.ToolResults) != 2 {
		t.Fatalf("expected two tool results, got %d", len(last.ToolResults))
	}
	if last.ToolResults[0].ToolUseID != "toolu_a" || last.ToolResults[1].ToolUseID != "toolu_b" {
		t.Fatalf("results must match request ids: %+v", last.ToolResults)
	}
}

func TestRunInjectsNamedSummaryAfterOwn(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	_ = store.UpdateSummary(ctx, "regulatory", "own regulatory findings")
	_ = store.UpdateSummary(ctx, "market_research", "market research findings")

	client := &scriptedClient{results: []*llm.Result{{Text: "ok"}}}
	runner := newTestRunner(t, client, store,
		config.WorkerConfig{ID: "regulatory", Instructions: "track rules", Model: "sonnet"},
		config.WorkerConfig{ID: "market_research", Instructions: "scan markets", Model: "sonnet"})

	_, err := runner.Run(ctx, Request{
		WorkerID:         "regulatory",
		Task:             "assess impact",
		IncludeSummaries: []string{"market_research"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := client.requests[0].Messages[0].Text
	ownIdx := strings.Index(payload, "own regulatory findings")
	namedIdx := strings.Index(payload, "## Summary from market_research")
	if ownIdx < 0 {
		t.Fatalf("payload missing own summary:\n%s", payload)
	}
	if namedIdx < 0 {
		t.Fatalf("payload missing named summary section:\n%s", payload)
	}
	if ownIdx > namedIdx {
		t.Fatalf("own summary must precede the named summary")
	}
	if !strings.Contains(payload, "market research findings") {
		t.Fatalf("payload missing named summary content")
	}
}

func TestRunInteractiveTruncatesHistory(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		_ = store.AppendTurn(ctx, "w", "thread", memory.RoleRequester, "old question")
		_ = store.AppendTurn(ctx, "w", "thread", memory.RoleWorker, "old answer")
	}

	client := &scriptedClient{results: []*llm.Result{{Text: "reply"}}}
	runner := newTestRunner(t, client, store,
		config.WorkerConfig{ID: "w", Instructions: "chat", Model: "sonnet"})

	reply, err := runner.RunInteractive(ctx, "w", "thread", "new question")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "reply" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	// 历史截断到 20 轮，加上本轮请求共 21 条消息。
	if got := len(client.requests[0].Messages); got != 21 {
		t.Fatalf("expected 21 messages, got %d", got)
	}

	// 本轮两侧都已写回线程。
	turns, _ := store.Conversation(ctx, "w", "thread")
	lastTwo := turns[len(turns)-2:]
	if lastTwo[0].Text != "new question" || lastTwo[1].Text != "reply" {
		t.Fatalf("turns not appended: %+v", lastTwo)
	}
}
