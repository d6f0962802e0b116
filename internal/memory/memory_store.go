package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore 把三层记忆全部放在进程内，用于测试与无持久化部署。
type InMemoryStore struct {
	mu            sync.RWMutex
	summaries     map[string]string
	outputs       map[string][]OutputRecord
	conversations map[string]map[string][]Turn
}

// NewInMemoryStore 创建空的内存存储。
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		summaries:     make(map[string]string),
		outputs:       make(map[string][]OutputRecord),
		conversations: make(map[string]map[string][]Turn),
	}
}

// GetSummary 读取运行摘要。
func (s *InMemoryStore) GetSummary(_ context.Context, workerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaries[workerID], nil
}

// UpdateSummary 整体覆盖运行摘要。
func (s *InMemoryStore) UpdateSummary(_ context.Context, workerID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[workerID] = summary
	return nil
}

// AllSummaries 返回全部非空摘要。
func (s *InMemoryStore) AllSummaries(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make(map[string]string, len(s.summaries))
	for id, summary := range s.summaries {
		if summary != "" {
			all[id] = summary
		}
	}
	return all, nil
}

// SaveOutput 追加一条产出记录。
func (s *InMemoryStore) SaveOutput(_ context.Context, workerID, output, task string, meta OutputMetadata) (string, error) {
	record := OutputRecord{
		Ref:       uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Task:      task,
		Output:    output,
		Metadata:  meta,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[workerID] = append(s.outputs[workerID], record)
	return record.Ref, nil
}

// RecentOutputs 按时间倒序返回最近 n 条产出。
func (s *InMemoryStore) RecentOutputs(_ context.Context, workerID string, n int) ([]OutputRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.outputs[workerID]
	if n <= 0 || n > len(history) {
		n = len(history)
	}
	records := make([]OutputRecord, 0, n)
	for i := len(history) - 1; i >= len(history)-n; i-- {
		records = append(records, history[i])
	}
	return records, nil
}

// Conversation 按原始顺序返回会话线程。
func (s *InMemoryStore) Conversation(_ context.Context, workerID, conversationID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.conversations[workerID][conversationID]
	return append([]Turn(nil), turns...), nil
}

// AppendTurn 追加一轮会话并裁剪到写入上限。
func (s *InMemoryStore) AppendTurn(_ context.Context, workerID, conversationID, role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	threads, ok := s.conversations[workerID]
	if !ok {
		threads = make(map[string][]Turn)
		s.conversations[workerID] = threads
	}
	turns := append(threads[conversationID], Turn{
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	if len(turns) > ConversationWriteCap {
		turns = append([]Turn(nil), turns[len(turns)-ConversationWriteCap:]...)
	}
	threads[conversationID] = turns
	return nil
}

// Close 实现 Store 接口，无资源可释放。
func (s *InMemoryStore) Close() error {
	return nil
}

var _ Store = (*InMemoryStore)(nil)
