package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerrors "github.com/mrg275/proof2pay-agents/internal/errors"
)

// Redis 键布局：摘要集中放在一个 hash 里，产出与会话各自是 list。
const (
	redisSummariesKey  = "agent:summaries"
	redisOutputsPrefix = "agent:outputs:"
	redisConvPrefix    = "agent:conversations:"
)

// RedisStore 使用 Redis 持久化三层记忆。会话写入上限由 LTRIM 保证。
type RedisStore struct {
	client *redis.Client
}

// RedisOptions 描述连接参数。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore 创建 Redis 存储并验证连通性。
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 Redis")
	}
	return &RedisStore{client: client}, nil
}

// GetSummary 读取运行摘要。
func (s *RedisStore) GetSummary(ctx context.Context, workerID string) (string, error) {
	summary, err := s.client.HGet(ctx, redisSummariesKey, workerID).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取摘要失败")
	}
	return summary, nil
}

// UpdateSummary 整体覆盖运行摘要。
func (s *RedisStore) UpdateSummary(ctx context.Context, workerID, summary string) error {
	if err := s.client.HSet(ctx, redisSummariesKey, workerID, summary).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入摘要失败")
	}
	return nil
}

// AllSummaries 返回全部非空摘要。
func (s *RedisStore) AllSummaries(ctx context.Context) (map[string]string, error) {
	raw, err := s.client.HGetAll(ctx, redisSummariesKey).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取全部摘要失败")
	}
	all := make(map[string]string, len(raw))
	for id, summary := range raw {
		if summary != "" {
			all[id] = summary
		}
	}
	return all, nil
}

// SaveOutput 把产出记录编码后追加到 list 尾部。
func (s *RedisStore) SaveOutput(ctx context.Context, workerID, output, task string, meta OutputMetadata) (string, error) {
	record := OutputRecord{
		Ref:       uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Task:      task,
		Output:    output,
		Metadata:  meta,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码产出记录失败")
	}
	if err := s.client.RPush(ctx, redisOutputsPrefix+workerID, encoded).Err(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入产出记录失败")
	}
	return record.Ref, nil
}

// RecentOutputs 按时间倒序返回最近 n 条产出。
func (s *RedisStore) RecentOutputs(ctx context.Context, workerID string, n int) ([]OutputRecord, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	raw, err := s.client.LRange(ctx, redisOutputsPrefix+workerID, start, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取产出记录失败")
	}
	records := make([]OutputRecord, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var record OutputRecord
		if err := json.Unmarshal([]byte(raw[i]), &record); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析产出记录失败")
		}
		records = append(records, record)
	}
	return records, nil
}

// Conversation 按原始顺序返回会话线程。
func (s *RedisStore) Conversation(ctx context.Context, workerID, conversationID string) ([]Turn, error) {
	raw, err := s.client.LRange(ctx, redisConvPrefix+workerID+":"+conversationID, 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话失败")
	}
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话轮次失败")
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// AppendTurn 追加一轮会话并用 LTRIM 保持写入上限。
func (s *RedisStore) AppendTurn(ctx context.Context, workerID, conversationID, role, text string) error {
	encoded, err := json.Marshal(Turn{Role: role, Text: text, Timestamp: time.Now().UTC()})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码会话轮次失败")
	}
	key := redisConvPrefix + workerID + ":" + conversationID
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, encoded)
	pipe.LTrim(ctx, key, -ConversationWriteCap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话轮次失败")
	}
	return nil
}

// Close 关闭底层连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
