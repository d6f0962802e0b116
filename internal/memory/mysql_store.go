package memory

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	xerrors "github.com/mrg275/proof2pay-agents/internal/errors"
)

// MySQLStore 使用 MySQL 持久化三层记忆。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建 MySQL 存储并初始化表结构。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS worker_summaries (
        worker_id VARCHAR(64) PRIMARY KEY,
        summary MEDIUMTEXT NOT NULL,
        updated_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS worker_outputs (
        ref VARCHAR(64) PRIMARY KEY,
        worker_id VARCHAR(64) NOT NULL,
        task TEXT NOT NULL,
        output MEDIUMTEXT NOT NULL,
        model VARCHAR(128) DEFAULT '',
        input_tokens INT NOT NULL DEFAULT 0,
        output_tokens INT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        INDEX idx_output_worker (worker_id, created_at)
)`,
		`CREATE TABLE IF NOT EXISTS worker_conversations (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        worker_id VARCHAR(64) NOT NULL,
        conversation_id VARCHAR(128) NOT NULL,
        role VARCHAR(16) NOT NULL,
        text MEDIUMTEXT NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_conv_thread (worker_id, conversation_id, id)
)`,
	}
	for _, schema := range schemas {
		if _, err := s.db.Exec(schema); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化记忆表失败")
		}
	}
	return nil
}

// GetSummary 读取运行摘要。
func (s *MySQLStore) GetSummary(ctx context.Context, workerID string) (string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary FROM worker_summaries WHERE worker_id = ?`, workerID).Scan(&summary)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取摘要失败")
	}
	return summary, nil
}

// UpdateSummary 整体覆盖运行摘要。
func (s *MySQLStore) UpdateSummary(ctx context.Context, workerID, summary string) error {
	const stmt = `INSERT INTO worker_summaries (worker_id, summary, updated_at)
        VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE summary = VALUES(summary), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, stmt, workerID, summary, time.Now().Unix()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入摘要失败")
	}
	return nil
}

// AllSummaries 返回全部非空摘要。
func (s *MySQLStore) AllSummaries(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT worker_id, summary FROM worker_summaries WHERE summary <> ''`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取全部摘要失败")
	}
	defer rows.Close()

	all := make(map[string]string)
	for rows.Next() {
		var id, summary string
		if err := rows.Scan(&id, &summary); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析摘要记录失败")
		}
		all[id] = summary
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历摘要失败")
	}
	return all, nil
}

// SaveOutput 插入一条产出记录。
func (s *MySQLStore) SaveOutput(ctx context.Context, workerID, output, task string, meta OutputMetadata) (string, error) {
	ref := uuid.NewString()
	const stmt = `INSERT INTO worker_outputs
        (ref, worker_id, task, output, model, input_tokens, output_tokens, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		ref, workerID, task, output, meta.Model, meta.InputTokens, meta.OutputTokens, time.Now().UnixNano())
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入产出记录失败")
	}
	return ref, nil
}

// RecentOutputs 按时间倒序返回最近 n 条产出。
func (s *MySQLStore) RecentOutputs(ctx context.Context, workerID string, n int) ([]OutputRecord, error) {
	if n <= 0 {
		n = 20
	}
	const stmt = `SELECT ref, task, output, model, input_tokens, output_tokens, created_at
        FROM worker_outputs WHERE worker_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, stmt, workerID, n)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询产出记录失败")
	}
	defer rows.Close()

	var records []OutputRecord
	for rows.Next() {
		var record OutputRecord
		var createdAt int64
		if err := rows.Scan(&record.Ref, &record.Task, &record.Output,
			&record.Metadata.Model, &record.Metadata.InputTokens, &record.Metadata.OutputTokens, &createdAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析产出记录失败")
		}
		record.Timestamp = time.Unix(0, createdAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历产出记录失败")
	}
	return records, nil
}

// Conversation 按原始顺序返回会话线程的最近 ConversationWriteCap 轮。
func (s *MySQLStore) Conversation(ctx context.Context, workerID, conversationID string) ([]Turn, error) {
	const stmt = `SELECT role, text, created_at FROM (
        SELECT role, text, created_at, id FROM worker_conversations
        WHERE worker_id = ? AND conversation_id = ? ORDER BY id DESC LIMIT ?
) t ORDER BY t.id ASC`
	rows, err := s.db.QueryContext(ctx, stmt, workerID, conversationID, ConversationWriteCap)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var createdAt int64
		if err := rows.Scan(&turn.Role, &turn.Text, &createdAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话轮次失败")
		}
		turn.Timestamp = time.Unix(0, createdAt).UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话失败")
	}
	return turns, nil
}

// AppendTurn 追加一轮会话并删除超出写入上限的最旧轮次。
func (s *MySQLStore) AppendTurn(ctx context.Context, workerID, conversationID, role, text string) error {
	const insertStmt = `INSERT INTO worker_conversations
        (worker_id, conversation_id, role, text, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, insertStmt,
		workerID, conversationID, role, text, time.Now().UnixNano()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入会话轮次失败")
	}

	const trimStmt = `DELETE FROM worker_conversations
        WHERE worker_id = ? AND conversation_id = ? AND id NOT IN (
            SELECT id FROM (
                SELECT id FROM worker_conversations
                WHERE worker_id = ? AND conversation_id = ? ORDER BY id DESC LIMIT ?
            ) keep
)`
	if _, err := s.db.ExecContext(ctx, trimStmt,
		workerID, conversationID, workerID, conversationID, ConversationWriteCap); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "裁剪会话失败")
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
