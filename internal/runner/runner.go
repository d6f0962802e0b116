// Package runner 端到端执行单个 worker 的任务：加载指令、组装上下文、
// 驱动补全调用（必要时带工具循环）、持久化结果。
package runner

import (
	"context"
	"fmt"
	"strings"

	xerrors "github.com/mrg275/proof2pay-agents/internal/errors"
	"github.com/mrg275/proof2pay-agents/internal/llm"
	"github.com/mrg275/proof2pay-agents/internal/memory"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/tools"
	"github.com/mrg275/proof2pay-agents/pkg/logger"
)

// 交互会话读取历史时只取最近 20 轮，控制上下文窗口开销。
const conversationReadCap = 20

// Request 描述一次任务执行。
type Request struct {
	WorkerID         string
	Task             string
	ExtraContext     string
	IncludeSummaries []string
	ModelOverride    roster.Tier
}

// Result 是一次任务执行的产物。
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
	OutputRef    string
}

// Runner 是任务执行器。
type Runner struct {
	roster        *roster.Roster
	store         memory.Store
	assembler     *Assembler
	tools         *tools.Handler
	client        llm.Client
	defaultModel  string
	maxIterations int
}

// Options 配置任务执行器。
type Options struct {
	Roster        *roster.Roster
	Store         memory.Store
	Assembler     *Assembler
	Tools         *tools.Handler
	Client        llm.Client
	DefaultModel  string
	MaxIterations int
}

// New 创建任务执行器。
func New(opts Options) *Runner {
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxToolIterations
	}
	return &Runner{
		roster:        opts.Roster,
		store:         opts.Store,
		assembler:     opts.Assembler,
		tools:         opts.Tools,
		client:        opts.Client,
		defaultModel:  opts.DefaultModel,
		maxIterations: maxIterations,
	}
}

// Run 端到端执行一次任务并持久化产出。
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	worker, ok := r.roster.Get(req.WorkerID)
	if !ok {
		return nil, xerrors.New(xerrors.CodeUnknownWorker,
			fmt.Sprintf("worker 不存在: %s", req.WorkerID))
	}
	if strings.TrimSpace(worker.Instructions) == "" {
		return nil, xerrors.New(xerrors.CodeMissingInstructions,
			fmt.Sprintf("worker %s 没有指令", req.WorkerID))
	}

	contextText, err := r.assembler.Assemble(ctx, worker, req.IncludeSummaries, req.ExtraContext)
	if err != nil {
		return nil, err
	}
	payload := req.Task
	if contextText != "" {
		payload = contextText + SectionSeparator + "## Task\n\n" + req.Task
	}

	model := r.resolveModel(worker, req.ModelOverride)
	base := llm.Request{
		System:   worker.Instructions,
		Messages: []llm.Message{{Role: llm.RoleUser, Text: payload}},
		Model:    model,
	}

	var loop *LoopResult
	if len(worker.Tools) > 0 {
		base.Tools = tools.Schemas(worker.Tools)
		loop, err = RunToolLoop(ctx, r.client, base, r.tools.InvokeAll, r.maxIterations)
	} else {
		loop, err = r.singleCall(ctx, base)
	}
	if err != nil {
		return nil, err
	}

	ref, err := r.store.SaveOutput(ctx, worker.ID, loop.Text, req.Task, memory.OutputMetadata{
		Model:        model,
		InputTokens:  loop.InputTokens,
		OutputTokens: loop.OutputTokens,
	})
	if err != nil {
		return nil, err
	}

	logger.L().Info("任务执行完成",
		"worker", worker.ID,
		"model", model,
		"calls", loop.Calls,
		"input_tokens", loop.InputTokens,
		"output_tokens", loop.OutputTokens,
		"output_ref", ref,
	)

	return &Result{
		Text:         loop.Text,
		InputTokens:  loop.InputTokens,
		OutputTokens: loop.OutputTokens,
		OutputRef:    ref,
	}, nil
}

// RunInteractive 在会话线程中执行一轮交互：历史截断到最近 20 轮，
// 本轮的请求与应答在成功后都追加到线程里。
func (r *Runner) RunInteractive(ctx context.Context, workerID, conversationID, userText string) (string, error) {
	worker, ok := r.roster.Get(workerID)
	if !ok {
		return "", xerrors.New(xerrors.CodeUnknownWorker,
			fmt.Sprintf("worker 不存在: %s", workerID))
	}
	if strings.TrimSpace(worker.Instructions) == "" {
		return "", xerrors.New(xerrors.CodeMissingInstructions,
			fmt.Sprintf("worker %s 没有指令", workerID))
	}

	contextText, err := r.assembler.Assemble(ctx, worker, nil, "")
	if err != nil {
		return "", err
	}
	system := worker.Instructions
	if contextText != "" {
		system += SectionSeparator + contextText
	}

	turns, err := r.store.Conversation(ctx, workerID, conversationID)
	if err != nil {
		return "", err
	}
	if len(turns) > conversationReadCap {
		turns = turns[len(turns)-conversationReadCap:]
	}

	messages := make([]llm.Message, 0, len(turns)+1)
	for _, turn := range turns {
		role := llm.RoleUser
		if turn.Role == memory.RoleWorker {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Text: turn.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Text: userText})

	base := llm.Request{
		System:   system,
		Messages: messages,
		Model:    r.resolveModel(worker, ""),
	}

	var loop *LoopResult
	if len(worker.Tools) > 0 {
		base.Tools = tools.Schemas(worker.Tools)
		loop, err = RunToolLoop(ctx, r.client, base, r.tools.InvokeAll, r.maxIterations)
	} else {
		loop, err = r.singleCall(ctx, base)
	}
	if err != nil {
		return "", err
	}

	if err := r.store.AppendTurn(ctx, workerID, conversationID, memory.RoleRequester, userText); err != nil {
		return "", err
	}
	if err := r.store.AppendTurn(ctx, workerID, conversationID, memory.RoleWorker, loop.Text); err != nil {
		return "", err
	}
	return loop.Text, nil
}

func (r *Runner) singleCall(ctx context.Context, req llm.Request) (*LoopResult, error) {
	result, err := r.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return &LoopResult{
		Text:         result.Text,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		Calls:        1,
	}, nil
}

// resolveModel 按优先级选择模型：显式档位覆盖 → worker 默认档位 → 全局默认。
func (r *Runner) resolveModel(worker roster.Worker, override roster.Tier) string {
	if override != "" {
		if model, ok := r.roster.ModelFor(override); ok && model != "" {
			return model
		}
	}
	if model, ok := r.roster.ModelFor(worker.Model); ok && model != "" {
		return model
	}
	return r.defaultModel
}

// Roster 返回执行器使用的花名册。
func (r *Runner) Roster() *roster.Roster {
	return r.roster
}

// Store 返回执行器使用的记忆存储。
func (r *Runner) Store() memory.Store {
	return r.store
}
