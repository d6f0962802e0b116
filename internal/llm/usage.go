package llm

import (
	"context"
	"sync"
)

// UsageStats 汇总累计的调用次数与 token 用量。
type UsageStats struct {
	Calls        int
	InputTokens  int
	OutputTokens int
}

// EstimatedCostUSD 按 Sonnet 档位的近似单价估算花费，仅供参考。
func (s UsageStats) EstimatedCostUSD() float64 {
	inputCost := float64(s.InputTokens) / 1_000_000 * 3.0
	outputCost := float64(s.OutputTokens) / 1_000_000 * 15.0
	return inputCost + outputCost
}

// UsageTracker 包装客户端并累计 token 用量。
type UsageTracker struct {
	mu    sync.Mutex
	inner Client
	stats UsageStats
}

// NewUsageTracker 创建用量追踪包装器。
func NewUsageTracker(inner Client) *UsageTracker {
	return &UsageTracker{inner: inner}
}

// Complete 实现 Client 接口，成功时累计用量。
func (t *UsageTracker) Complete(ctx context.Context, req Request) (*Result, error) {
	result, err := t.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.stats.Calls++
	t.stats.InputTokens += result.InputTokens
	t.stats.OutputTokens += result.OutputTokens
	t.mu.Unlock()
	return result, nil
}

// Stats 返回当前累计用量的快照。
func (t *UsageTracker) Stats() UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

var _ Client = (*UsageTracker)(nil)
