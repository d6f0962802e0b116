package dispatch

import (
	"fmt"
	"sync"
	"time"
)

// 每日预算的默认值，可按部署调整。
const (
	DefaultTokenLimit    = 150_000
	DefaultDispatchLimit = 8
)

// Decision 是一次预算检查的结果。拒绝不是错误，而是一等结果，
// 协调者必须把它纳入自己的下一步推理。
type Decision struct {
	Allowed bool
	Reason  string
}

// Budget 是协调者的每日 token/调度预算。单一持有者、互斥保护，
// 日期推进时计数归零。只有成功的委派才会记账。
type Budget struct {
	mu            sync.Mutex
	tokenLimit    int
	dispatchLimit int
	tokens        int
	dispatches    int
	resetDate     string

	now func() time.Time
}

// NewBudget 创建预算。非正的上限回落到默认值。
func NewBudget(tokenLimit, dispatchLimit int) *Budget {
	if tokenLimit <= 0 {
		tokenLimit = DefaultTokenLimit
	}
	if dispatchLimit <= 0 {
		dispatchLimit = DefaultDispatchLimit
	}
	return &Budget{
		tokenLimit:    tokenLimit,
		dispatchLimit: dispatchLimit,
		now:           time.Now,
	}
}

// rollover 在日期推进时清零计数。调用方必须持有锁。
func (b *Budget) rollover() {
	today := b.now().Format("2006-01-02")
	if today != b.resetDate {
		b.resetDate = today
		b.tokens = 0
		b.dispatches = 0
	}
}

// Check 检查是否还允许一次委派。拒绝时不改变任何计数。
func (b *Budget) Check() Decision {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()

	if b.dispatches >= b.dispatchLimit {
		return Decision{Reason: fmt.Sprintf(
			"daily dispatch limit reached (%d/%d)", b.dispatches, b.dispatchLimit)}
	}
	if b.tokens >= b.tokenLimit {
		return Decision{Reason: fmt.Sprintf(
			"daily token budget exhausted (%d/%d)", b.tokens, b.tokenLimit)}
	}
	return Decision{Allowed: true}
}

// Record 在一次委派成功后记账。
func (b *Budget) Record(tokens int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	b.tokens += tokens
	b.dispatches++
}

// Snapshot 返回当前计数，用于日志与 CLI 展示。
func (b *Budget) Snapshot() (tokens, dispatches int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.tokens, b.dispatches
}
