package memory

import (
	"context"
	"time"
)

// 会话轮次的存储上限。写入时裁剪到最近 50 轮，读取方再按需截断。
const ConversationWriteCap = 50

// 会话角色。
const (
	RoleRequester = "requester"
	RoleWorker    = "worker"
)

// OutputMetadata 描述一次产出的来源信息。
type OutputMetadata struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// OutputRecord 是产出历史中的一条记录。
type OutputRecord struct {
	Ref       string         `json:"ref"`
	Timestamp time.Time      `json:"timestamp"`
	Task      string         `json:"task"`
	Output    string         `json:"output"`
	Metadata  OutputMetadata `json:"metadata"`
}

// Turn 是会话线程中的一轮。
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Store 定义三层记忆模型的统一存储接口。所有操作按 worker id 分区，
// 对没有任何历史的 worker 调用任何读操作都返回空值而非错误。
type Store interface {
	// GetSummary 读取运行摘要，不存在时返回空串。
	GetSummary(ctx context.Context, workerID string) (string, error)
	// UpdateSummary 整体覆盖运行摘要。
	UpdateSummary(ctx context.Context, workerID, summary string) error
	// AllSummaries 返回全部非空摘要，按 worker id 索引。
	AllSummaries(ctx context.Context) (map[string]string, error)
	// SaveOutput 追加一条产出记录并返回其引用。
	SaveOutput(ctx context.Context, workerID, output, task string, meta OutputMetadata) (string, error)
	// RecentOutputs 按时间倒序返回最近 n 条产出。
	RecentOutputs(ctx context.Context, workerID string, n int) ([]OutputRecord, error)
	// Conversation 按原始顺序返回会话线程，至多 ConversationWriteCap 轮。
	Conversation(ctx context.Context, workerID, conversationID string) ([]Turn, error)
	// AppendTurn 向会话线程追加一轮，超出写入上限时丢弃最旧的轮次。
	AppendTurn(ctx context.Context, workerID, conversationID, role, text string) error
	// Close 释放底层资源。
	Close() error
}
