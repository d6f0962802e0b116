package runner

import (
	"context"

	"github.com/mrg275/proof2pay-agents/internal/llm"
	"github.com/mrg275/proof2pay-agents/pkg/logger"
)

// DefaultMaxToolIterations 是单次任务中补全调用次数的上限。
const DefaultMaxToolIterations = 8

// ToolExecutor 执行一批工具调用并返回逐条匹配请求标识的结果。
type ToolExecutor func(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult

// LoopResult 汇总一次工具循环的最终文本与全部调用的 token 用量。
type LoopResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Calls        int
	CapReached   bool
}

// RunToolLoop 驱动有界的多轮工具循环：补全 → 执行工具 → 回填结果 →
// 再补全，直到模型不再请求工具或达到迭代上限。达到上限不是错误，
// 最后一次补全的文本（可能为空）作为最终结果返回。
func RunToolLoop(ctx context.Context, client llm.Client, base llm.Request, exec ToolExecutor, maxIterations int) (*LoopResult, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxToolIterations
	}

	thread := append([]llm.Message(nil), base.Messages...)
	loop := &LoopResult{}

	for {
		req := base
		req.Messages = thread
		result, err := client.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		loop.Calls++
		loop.InputTokens += result.InputTokens
		loop.OutputTokens += result.OutputTokens
		loop.Text = result.Text

		if len(result.ToolCalls) == 0 {
			return loop, nil
		}
		if loop.Calls >= maxIterations {
			loop.CapReached = true
			logger.L().Warn("工具循环达到迭代上限",
				"calls", loop.Calls,
				"pending_tools", len(result.ToolCalls),
			)
			return loop, nil
		}

		thread = append(thread, llm.Message{
			Role:      llm.RoleAssistant,
			Text:      result.Text,
			ToolCalls: result.ToolCalls,
		})
		results := exec(ctx, result.ToolCalls)
		thread = append(thread, llm.Message{
			Role:        llm.RoleUser,
			ToolResults: results,
		})
	}
}
