// Package docs 提供共享文档（产品文档、优先级、系统状态）的只读访问。
package docs

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// 共享文档的约定文件名。产品文档是目录下除保留名外的全部 markdown。
const (
	prioritiesFileName  = "PRIORITIES.md"
	systemStateFileName = "SYSTEM_STATE.md"
)

// Provider 从一个目录读取共享文档，文件缺失时返回空串。
type Provider struct {
	dir string
}

// NewProvider 创建目录文档提供者。目录不存在不视为错误，读取时返回空。
func NewProvider(dir string) *Provider {
	return &Provider{dir: dir}
}

// ProductDocs 拼接目录下全部产品文档，按文件名排序。
func (p *Provider) ProductDocs() string {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		if name == prioritiesFileName || name == systemStateFileName {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(p.dir, name))
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(string(content)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Priorities 返回当前优先级文档。
func (p *Provider) Priorities() string {
	return p.read(prioritiesFileName)
}

// SystemState 返回系统状态文档。
func (p *Provider) SystemState() string {
	return p.read(systemStateFileName)
}

func (p *Provider) read(name string) string {
	content, err := os.ReadFile(filepath.Join(p.dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(content))
}
