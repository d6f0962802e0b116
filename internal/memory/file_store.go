package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "github.com/mrg275/proof2pay-agents/internal/errors"
)

// 文件后端的目录布局：
//
//	<root>/<worker>/summary.md
//	<root>/<worker>/outputs/<ts>.md 与 <ts>_meta.json
//	<root>/<worker>/conversations/<id>.json
const (
	summaryFileName  = "summary.md"
	outputsDirName   = "outputs"
	convDirName      = "conversations"
	outputTimeLayout = "2006-01-02_150405"
)

// FileStore 把每个 worker 的记忆放在独立目录下的纯文本与 JSON 文件里，
// 便于人工查看与外部同步。
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore 创建文件存储，根目录不存在时自动创建。
func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "记忆目录不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建记忆目录失败")
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) workerDir(workerID string) string {
	return filepath.Join(s.root, workerID)
}

// GetSummary 读取运行摘要，文件不存在时返回空串。
func (s *FileStore) GetSummary(_ context.Context, workerID string) (string, error) {
	content, err := os.ReadFile(filepath.Join(s.workerDir(workerID), summaryFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取摘要失败")
	}
	return string(content), nil
}

// UpdateSummary 整体覆盖运行摘要。
func (s *FileStore) UpdateSummary(_ context.Context, workerID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := s.workerDir(workerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 worker 目录失败")
	}
	if err := os.WriteFile(filepath.Join(dir, summaryFileName), []byte(summary), 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入摘要失败")
	}
	return nil
}

// AllSummaries 扫描全部 worker 目录并返回非空摘要。
func (s *FileStore) AllSummaries(ctx context.Context) (map[string]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描记忆目录失败")
	}
	all := make(map[string]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		summary, err := s.GetSummary(ctx, entry.Name())
		if err != nil {
			return nil, err
		}
		if summary != "" {
			all[entry.Name()] = summary
		}
	}
	return all, nil
}

// SaveOutput 以时间戳命名写入产出正文与元数据两份文件。
func (s *FileStore) SaveOutput(_ context.Context, workerID, output, task string, meta OutputMetadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.workerDir(workerID), outputsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建产出目录失败")
	}

	now := time.Now().UTC()
	ref := now.Format(outputTimeLayout)
	// 同一秒内的多次写入用序号区分。
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(dir, ref+".md")); os.IsNotExist(err) {
			break
		}
		ref = fmt.Sprintf("%s_%d", now.Format(outputTimeLayout), i)
	}

	if err := os.WriteFile(filepath.Join(dir, ref+".md"), []byte(output), 0o644); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入产出正文失败")
	}

	record := OutputRecord{
		Ref:       ref,
		Timestamp: now,
		Task:      task,
		Metadata:  meta,
	}
	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码产出元数据失败")
	}
	if err := os.WriteFile(filepath.Join(dir, ref+"_meta.json"), encoded, 0o644); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入产出元数据失败")
	}
	return ref, nil
}

// RecentOutputs 按时间倒序返回最近 n 条产出。
func (s *FileStore) RecentOutputs(_ context.Context, workerID string, n int) ([]OutputRecord, error) {
	dir := filepath.Join(s.workerDir(workerID), outputsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描产出目录失败")
	}

	var refs []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, "_meta.json") {
			refs = append(refs, strings.TrimSuffix(name, "_meta.json"))
		}
	}
	// 时间戳命名保证字典序即时间序。
	sort.Sort(sort.Reverse(sort.StringSlice(refs)))
	if n > 0 && n < len(refs) {
		refs = refs[:n]
	}

	records := make([]OutputRecord, 0, len(refs))
	for _, ref := range refs {
		encoded, err := os.ReadFile(filepath.Join(dir, ref+"_meta.json"))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取产出元数据失败")
		}
		var record OutputRecord
		if err := json.Unmarshal(encoded, &record); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析产出元数据失败")
		}
		body, err := os.ReadFile(filepath.Join(dir, ref+".md"))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取产出正文失败")
		}
		record.Output = string(body)
		records = append(records, record)
	}
	return records, nil
}

func (s *FileStore) conversationPath(workerID, conversationID string) string {
	return filepath.Join(s.workerDir(workerID), convDirName, conversationID+".json")
}

// Conversation 按原始顺序返回会话线程。
func (s *FileStore) Conversation(_ context.Context, workerID, conversationID string) ([]Turn, error) {
	encoded, err := os.ReadFile(s.conversationPath(workerID, conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话失败")
	}
	var turns []Turn
	if err := json.Unmarshal(encoded, &turns); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话失败")
	}
	return turns, nil
}

// AppendTurn 读改写整个会话文件，超出上限时丢弃最旧轮次。
func (s *FileStore) AppendTurn(ctx context.Context, workerID, conversationID, role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns, err := s.Conversation(ctx, workerID, conversationID)
	if err != nil {
		return err
	}
	turns = append(turns, Turn{Role: role, Text: text, Timestamp: time.Now().UTC()})
	if len(turns) > ConversationWriteCap {
		turns = turns[len(turns)-ConversationWriteCap:]
	}

	dir := filepath.Join(s.workerDir(workerID), convDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建会话目录失败")
	}
	encoded, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码会话失败")
	}
	if err := os.WriteFile(s.conversationPath(workerID, conversationID), encoded, 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话失败")
	}
	return nil
}

// Close 实现 Store 接口，无资源可释放。
func (s *FileStore) Close() error {
	return nil
}

var _ Store = (*FileStore)(nil)
