// Package docstore 实现文档库协作方：尽力而为的文件上传、列举与读取。
// 任何失败都不应中断调用方的主流程。
package docstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mrg275/proof2pay-agents/pkg/logger"
)

// FileInfo 是文档库中一个文件的元信息。
type FileInfo struct {
	ID       string
	Name     string
	Modified time.Time
}

// Client 定义文档库协作方接口。实现必须保持尽力而为语义：
// 失败返回错误由调用方降级处理，而不是中断主操作。
type Client interface {
	UploadFile(ctx context.Context, filename, content, folder, mimeType string) (string, error)
	ListFiles(ctx context.Context, folder string) ([]FileInfo, error)
	ReadFile(ctx context.Context, fileID string) (string, error)
}

// 知识索引文档的固定文件名与所在目录。
const (
	knowledgeIndexName   = "KNOWLEDGE_INDEX.md"
	knowledgeIndexFolder = "knowledge"
)

// LocalClient 把文档库落在本地目录上。部署时该目录由外部同步工具
// （如挂载的网盘客户端）镜像到真正的文档库。
type LocalClient struct {
	root string
}

// NewLocalClient 创建目录文档库。
func NewLocalClient(root string) (*LocalClient, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalClient{root: root}, nil
}

// UploadFile 写入文件并返回其相对路径作为文件标识。
func (c *LocalClient) UploadFile(_ context.Context, filename, content, folder, _ string) (string, error) {
	dir := filepath.Join(c.root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	rel, err := filepath.Rel(c.root, path)
	if err != nil {
		return "", err
	}
	return rel, nil
}

// ListFiles 列举目录下的文件。
func (c *LocalClient) ListFiles(_ context.Context, folder string) ([]FileInfo, error) {
	dir := filepath.Join(c.root, folder)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			ID:       filepath.Join(folder, entry.Name()),
			Name:     entry.Name(),
			Modified: info.ModTime(),
		})
	}
	return files, nil
}

// ReadFile 按文件标识读取内容。
func (c *LocalClient) ReadFile(_ context.Context, fileID string) (string, error) {
	// 文件标识是相对路径，禁止越出根目录。
	clean := filepath.Clean(fileID)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", os.ErrNotExist
	}
	content, err := os.ReadFile(filepath.Join(c.root, clean))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// UpdateKnowledgeIndex 覆盖写入跨 worker 知识索引文档，失败只记日志。
func UpdateKnowledgeIndex(ctx context.Context, client Client, content string) {
	if client == nil {
		return
	}
	if _, err := client.UploadFile(ctx, knowledgeIndexName, content, knowledgeIndexFolder, "text/markdown"); err != nil {
		logger.L().Warn("更新知识索引失败", "error", err)
	}
}

var _ Client = (*LocalClient)(nil)
