package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/docs"
	"github.com/mrg275/proof2pay-agents/internal/llm"
	"github.com/mrg275/proof2pay-agents/internal/memory"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/runner"
	"github.com/mrg275/proof2pay-agents/internal/tools"
)

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

func newTestCoordinator(t *testing.T, workerClient, coordClient llm.Client, budget *Budget) (*Coordinator, memory.Store) {
	t.Helper()
	cfg := &config.Config{
		Models: config.ModelsConfig{Opus: "model-opus", Sonnet: "model-sonnet", Haiku: "model-haiku"},
		Workers: []config.WorkerConfig{
			{ID: roster.CoordinatorID, Instructions: "coordinate the roster", Model: "opus"},
			{ID: "regulatory", Instructions: "track rules", Model: "sonnet"},
			{ID: "market_research", Instructions: "scan markets", Model: "sonnet"},
		},
	}
	r, err := roster.New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store := memory.NewInMemoryStore()
	assembler := runner.NewAssembler(r, store, docs.NewProvider(t.TempDir()))
	taskRunner := runner.New(runner.Options{
		Roster:       r,
		Store:        store,
		Assembler:    assembler,
		Tools:        tools.NewHandler(nil, nil),
		Client:       workerClient,
		DefaultModel: "model-default",
	})

	coordinator := NewCoordinator(Options{
		Runner:    taskRunner,
		Assembler: assembler,
		Roster:    r,
		Store:     store,
		Budget:    budget,
		Client:    coordClient,
	})
	return coordinator, store
}

func delegateCall(id, agent, task string) llm.ToolCall {
	return llm.ToolCall{
		ID:    id,
		Name:  NameDelegateTask,
		Input: map[string]any{"agent": agent, "task": task},
	}
}

func TestDelegateRecordsBudget(t *testing.T) {
	budget := NewBudget(100_000, 8)
	workerClient := &scriptedClient{results: []*llm.Result{
		{Text: "delegated result", InputTokens: 30, OutputTokens: 70},
	}}
	coordinator, _ := newTestCoordinator(t, workerClient, &scriptedClient{}, budget)

	results := coordinator.Execute(context.Background(), []llm.ToolCall{
		delegateCall("toolu_1", "regulatory", "check MiCA"),
	})
	if len(results) != 1 {
		t.Fatalf("expected one result")
	}
	if results[0].Content != "delegated result" {
		t.Fatalf("unexpected content: %q", results[0].Content)
	}

	tokens, dispatches := budget.Snapshot()
	if tokens != 100 || dispatches != 1 {
		t.Fatalf("budget not recorded: tokens=%d dispatches=%d", tokens, dispatches)
	}
}

func TestDelegateRefusedAtLimit(t *testing.T) {
	budget := NewBudget(100_000, 1)
	workerClient := &scriptedClient{results: []*llm.Result{{Text: "first"}}}
	coordinator, _ := newTestCoordinator(t, workerClient, &scriptedClient{}, budget)
	ctx := context.Background()

	_ = coordinator.Execute(ctx, []llm.ToolCall{delegateCall("toolu_1", "regulatory", "first task")})

	results := coordinator.Execute(ctx, []llm.ToolCall{delegateCall("toolu_2", "regulatory", "second task")})
	if !strings.Contains(results[0].Content, "refused") {
		t.Fatalf("expected refusal result, got %q", results[0].Content)
	}
	if results[0].IsError {
		t.Fatalf("budget refusal is an outcome, not an error")
	}

	_, dispatches := budget.Snapshot()
	if dispatches != 1 {
		t.Fatalf("refused delegation must not change counters: %d", dispatches)
	}
}

func TestDelegateFailureBecomesToolResult(t *testing.T) {
	budget := NewBudget(100_000, 8)
	coordinator, _ := newTestCoordinator(t, &scriptedClient{}, &scriptedClient{}, budget)

	results := coordinator.Execute(context.Background(), []llm.ToolCall{
		delegateCall("toolu_1", "nonexistent", "do something"),
	})
	if !results[0].IsError {
		t.Fatalf("worker failure should be flagged in the result")
	}
	if !strings.Contains(results[0].Content, "failed") {
		t.Fatalf("unexpected content: %q", results[0].Content)
	}

	// 失败的委派不记账。
	_, dispatches := budget.Snapshot()
	if dispatches != 0 {
		t.Fatalf("failed delegation must not be recorded: %d", dispatches)
	}
}

func TestReadMemoryWithoutBudget(t *testing.T) {
	budget := NewBudget(100_000, 8)
	coordinator, store := newTestCoordinator(t, &scriptedClient{}, &scriptedClient{}, budget)
	ctx := context.Background()
	_ = store.UpdateSummary(ctx, "market_research", "market findings")

	results := coordinator.Execute(ctx, []llm.ToolCall{{
		ID:    "toolu_1",
		Name:  NameReadMemory,
		Input: map[string]any{"agent": "market_research"},
	}})
	if results[0].Content != "market findings" {
		t.Fatalf("unexpected content: %q", results[0].Content)
	}

	// 读取不占预算。
	tokens, dispatches := budget.Snapshot()
	if tokens != 0 || dispatches != 0 {
		t.Fatalf("reads must be budget-free: tokens=%d dispatches=%d", tokens, dispatches)
	}
}

func TestRunThreadDelegationLoop(t *testing.T) {
	budget := NewBudget(100_000, 8)
	workerClient := &scriptedClient{results: []*llm.Result{
		{Text: "worker output", InputTokens: 10, OutputTokens: 10},
	}}
	coordClient := &scriptedClient{results: []*llm.Result{
		{Text: "delegating", ToolCalls: []llm.ToolCall{delegateCall("toolu_1", "regulatory", "scan")}},
		{Text: "briefing done", InputTokens: 5, OutputTokens: 5},
	}}
	coordinator, _ := newTestCoordinator(t, workerClient, coordClient, budget)

	loop, err := coordinator.RunThread(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Text: "prepare the briefing"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loop.Text != "briefing done" {
		t.Fatalf("unexpected text: %q", loop.Text)
	}
	if len(coordClient.requests) != 2 {
		t.Fatalf("expected two coordinator completion calls, got %d", len(coordClient.requests))
	}

	// 委派的结果以工具结果形式回到协调者线程。
	second := coordClient.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if len(last.ToolResults) != 1 || last.ToolResults[0].Content != "worker output" {
		t.Fatalf("delegation result missing from thread: %+v", last.ToolResults)
	}

	_, dispatches := budget.Snapshot()
	if dispatches != 1 {
		t.Fatalf("expected one recorded dispatch, got %d", dispatches)
	}
}
