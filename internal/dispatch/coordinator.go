// Package dispatch 实现协调者：在每日预算约束下向其他 worker 委派任务，
// 以及不经委派直接读取其他 worker 的记忆。
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mrg275/proof2pay-agents/internal/llm"
	"github.com/mrg275/proof2pay-agents/internal/memory"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/runner"
	"github.com/mrg275/proof2pay-agents/pkg/logger"
)

// 协调者专属的两种工具。
const (
	NameDelegateTask = "dispatch_agent"
	NameReadMemory   = "read_agent_output"
)

// Coordinator 是拥有委派特权的 worker。委派互相串行，
// 预算只在委派前检查，读取记忆不占预算。
type Coordinator struct {
	runner        *runner.Runner
	assembler     *runner.Assembler
	roster        *roster.Roster
	store         memory.Store
	budget        *Budget
	client        llm.Client
	maxIterations int

	dispatchMu sync.Mutex
}

// Options 配置协调者。
type Options struct {
	Runner        *runner.Runner
	Assembler     *runner.Assembler
	Roster        *roster.Roster
	Store         memory.Store
	Budget        *Budget
	Client        llm.Client
	MaxIterations int
}

// NewCoordinator 创建协调者。
func NewCoordinator(opts Options) *Coordinator {
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = runner.DefaultMaxToolIterations
	}
	return &Coordinator{
		runner:        opts.Runner,
		assembler:     opts.Assembler,
		roster:        opts.Roster,
		store:         opts.Store,
		budget:        opts.Budget,
		client:        opts.Client,
		maxIterations: maxIterations,
	}
}

// Tools 返回协调者的两个工具 schema。可调度 worker 与模型档位
// 都以封闭枚举写进 schema。
func (c *Coordinator) Tools() []llm.Tool {
	workerIDs := c.roster.DispatchableIDs()
	tiers := []string{string(roster.TierOpus), string(roster.TierSonnet), string(roster.TierHaiku)}

	return []llm.Tool{
		{
			Name:        NameDelegateTask,
			Description: "Delegate a task to a specialist agent. Subject to the daily dispatch budget.",
			InputSchema: llm.Schema{
				Type: "object",
				Properties: map[string]llm.Property{
					"agent": {Type: "string", Description: "Target agent id", Enum: workerIDs},
					"task":  {Type: "string", Description: "Task description for the agent"},
					"context_from_agents": {
						Type:        "array",
						Description: "Other agent ids whose summaries to inject",
						Items:       &llm.Property{Type: "string", Enum: workerIDs},
					},
					"extra_context": {Type: "string", Description: "Free-form extra context"},
					"model":         {Type: "string", Description: "Model tier override", Enum: tiers},
				},
				Required: []string{"agent", "task"},
			},
		},
		{
			Name:        NameReadMemory,
			Description: "Read an agent's summary or recent outputs without delegating new work.",
			InputSchema: llm.Schema{
				Type: "object",
				Properties: map[string]llm.Property{
					"agent": {Type: "string", Description: "Target agent id", Enum: workerIDs},
					"what":  {Type: "string", Description: "What to read", Enum: []string{"summary", "recent_outputs"}},
					"count": {Type: "integer", Description: "Number of recent outputs, default 3"},
				},
				Required: []string{"agent"},
			},
		},
	}
}

// Execute 执行协调者的工具调用。任何底层失败都转换为结果字符串，
// 协调者自己的循环绝不因 worker 失败而中断。
func (c *Coordinator) Execute(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, 0, len(calls))
	for _, call := range calls {
		var result llm.ToolResult
		switch call.Name {
		case NameDelegateTask:
			result = c.delegate(ctx, call)
		case NameReadMemory:
			result = c.readMemory(ctx, call)
		default:
			result = llm.ToolResult{
				ToolUseID: call.ID,
				Content:   fmt.Sprintf("tool not found: %s", call.Name),
				IsError:   true,
			}
		}
		results = append(results, result)
	}
	return results
}

func (c *Coordinator) delegate(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	agent, _ := call.Input["agent"].(string)
	task, _ := call.Input["task"].(string)
	extraContext, _ := call.Input["extra_context"].(string)
	tier, _ := call.Input["model"].(string)

	var includeSummaries []string
	if raw, ok := call.Input["context_from_agents"].([]any); ok {
		for _, item := range raw {
			if id, ok := item.(string); ok {
				includeSummaries = append(includeSummaries, id)
			}
		}
	}

	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	if decision := c.budget.Check(); !decision.Allowed {
		logger.Audit().Info("委派因预算被拒绝", "agent", agent, "reason", decision.Reason)
		return llm.ToolResult{
			ToolUseID: call.ID,
			Content:   fmt.Sprintf("Delegation refused: %s. Work with what you already have or wait for the next day.", decision.Reason),
		}
	}

	result, err := c.runner.Run(ctx, runner.Request{
		WorkerID:         agent,
		Task:             task,
		ExtraContext:     extraContext,
		IncludeSummaries: includeSummaries,
		ModelOverride:    roster.Tier(tier),
	})
	if err != nil {
		logger.L().Error("委派执行失败", "agent", agent, "error", err)
		return llm.ToolResult{
			ToolUseID: call.ID,
			Content:   fmt.Sprintf("Delegation to %s failed: %v", agent, err),
			IsError:   true,
		}
	}

	c.budget.Record(result.InputTokens + result.OutputTokens)
	tokens, dispatches := c.budget.Snapshot()
	logger.Audit().Info("委派完成",
		"agent", agent,
		"tokens", result.InputTokens+result.OutputTokens,
		"daily_tokens", tokens,
		"daily_dispatches", dispatches,
	)
	return llm.ToolResult{ToolUseID: call.ID, Content: result.Text}
}

func (c *Coordinator) readMemory(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	agent, _ := call.Input["agent"].(string)
	what, _ := call.Input["what"].(string)
	count := 3
	if v, ok := call.Input["count"].(float64); ok && int(v) > 0 {
		count = int(v)
	}

	if _, ok := c.roster.Get(agent); !ok {
		return llm.ToolResult{
			ToolUseID: call.ID,
			Content:   fmt.Sprintf("unknown agent: %s", agent),
			IsError:   true,
		}
	}

	switch what {
	case "", "summary":
		summary, err := c.store.GetSummary(ctx, agent)
		if err != nil {
			return llm.ToolResult{ToolUseID: call.ID, Content: fmt.Sprintf("memory read failed: %v", err), IsError: true}
		}
		if summary == "" {
			summary = "(no summary yet)"
		}
		return llm.ToolResult{ToolUseID: call.ID, Content: summary}
	case "recent_outputs":
		records, err := c.store.RecentOutputs(ctx, agent, count)
		if err != nil {
			return llm.ToolResult{ToolUseID: call.ID, Content: fmt.Sprintf("memory read failed: %v", err), IsError: true}
		}
		if len(records) == 0 {
			return llm.ToolResult{ToolUseID: call.ID, Content: "(no outputs yet)"}
		}
		var sb strings.Builder
		for _, record := range records {
			fmt.Fprintf(&sb, "[%s] task: %s\n%s\n\n", record.Timestamp.Format("2006-01-02 15:04"), record.Task, record.Output)
		}
		return llm.ToolResult{ToolUseID: call.ID, Content: strings.TrimSpace(sb.String())}
	default:
		return llm.ToolResult{
			ToolUseID: call.ID,
			Content:   fmt.Sprintf("unknown read target: %s", what),
			IsError:   true,
		}
	}
}

// RunThread 在调用方提供的消息线程上驱动协调者自己的工具循环。
// 交互式调用与定时简报都走这里。
func (c *Coordinator) RunThread(ctx context.Context, messages []llm.Message) (*runner.LoopResult, error) {
	worker, ok := c.roster.Get(roster.CoordinatorID)
	if !ok {
		return nil, fmt.Errorf("花名册中没有协调者")
	}

	contextText, err := c.assembler.Assemble(ctx, worker, nil, "")
	if err != nil {
		return nil, err
	}
	system := worker.Instructions
	if contextText != "" {
		system += runner.SectionSeparator + contextText
	}

	model := worker.Model
	modelID, _ := c.roster.ModelFor(model)
	base := llm.Request{
		System:   system,
		Messages: messages,
		Tools:    c.Tools(),
		Model:    modelID,
	}
	return runner.RunToolLoop(ctx, c.client, base, c.Execute, c.maxIterations)
}

// RunInteractive 在协调者的会话线程中执行一轮交互。
func (c *Coordinator) RunInteractive(ctx context.Context, conversationID, userText string) (string, error) {
	turns, err := c.store.Conversation(ctx, roster.CoordinatorID, conversationID)
	if err != nil {
		return "", err
	}
	const readCap = 20
	if len(turns) > readCap {
		turns = turns[len(turns)-readCap:]
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

	loop, err := c.RunThread(ctx, messages)
	if err != nil {
		return "", err
	}

	if err := c.store.AppendTurn(ctx, roster.CoordinatorID, conversationID, memory.RoleRequester, userText); err != nil {
		return "", err
	}
	if err := c.store.AppendTurn(ctx, roster.CoordinatorID, conversationID, memory.RoleWorker, loop.Text); err != nil {
		return "", err
	}
	return loop.Text, nil
}

// Briefing 执行一次简报任务：跨 worker 综合并按需继续委派，
// 产出持久化为协调者的一条输出。
func (c *Coordinator) Briefing(ctx context.Context, task string) (*runner.Result, error) {
	loop, err := c.RunThread(ctx, []llm.Message{{Role: llm.RoleUser, Text: task}})
	if err != nil {
		return nil, err
	}

	worker, _ := c.roster.Get(roster.CoordinatorID)
	modelID, _ := c.roster.ModelFor(worker.Model)
	ref, err := c.store.SaveOutput(ctx, roster.CoordinatorID, loop.Text, task, memory.OutputMetadata{
		Model:        modelID,
		InputTokens:  loop.InputTokens,
		OutputTokens: loop.OutputTokens,
	})
	if err != nil {
		return nil, err
	}
	return &runner.Result{
		Text:         loop.Text,
		InputTokens:  loop.InputTokens,
		OutputTokens: loop.OutputTokens,
		OutputRef:    ref,
	}, nil
}

// Budget 返回协调者的预算对象。
func (c *Coordinator) Budget() *Budget {
	return c.budget
}
