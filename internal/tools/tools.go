// Package tools 执行补全结果中携带的工具调用请求。
// 所有失败都被转换为结果字符串，绝不越过处理器边界抛出。
package tools

import (
	"context"
	"fmt"

	"github.com/mrg275/proof2pay-agents/internal/integrations/brave"
	"github.com/mrg275/proof2pay-agents/internal/integrations/github"
	"github.com/mrg275/proof2pay-agents/internal/llm"
	"github.com/mrg275/proof2pay-agents/pkg/logger"
)

// 对外暴露的工具名。
const (
	NameRepoListFiles     = "github_list_files"
	NameRepoReadFile      = "github_read_file"
	NameRepoRecentCommits = "github_recent_commits"
	NameRepoCommitDiff    = "github_commit_diff"
	NameRepoOpenPRs       = "github_open_prs"
	NameWebSearch         = "web_search"
	NameNewsSearch        = "news_search"
)

// Kind 是封闭的工具种类枚举。
type Kind int

const (
	KindUnknown Kind = iota
	KindRepoListFiles
	KindRepoReadFile
	KindRepoRecentCommits
	KindRepoCommitDiff
	KindRepoOpenPRs
	KindWebSearch
	KindNewsSearch
)

// Invocation 是解析后的带类型工具调用。Kind 决定哪些字段有效。
type Invocation struct {
	ID   string
	Kind Kind
	Name string

	Path   string
	Branch string
	SHA    string
	Count  int
	Query  string
}

// Parse 把模型发来的工具调用解析为封闭变体。未知名字得到 KindUnknown。
func Parse(call llm.ToolCall) Invocation {
	inv := Invocation{ID: call.ID, Name: call.Name}
	str := func(key string) string {
		v, _ := call.Input[key].(string)
		return v
	}
	num := func(key string) int {
		// JSON 解码后数字是 float64。
		if v, ok := call.Input[key].(float64); ok {
			return int(v)
		}
		return 0
	}

	switch call.Name {
	case NameRepoListFiles:
		inv.Kind = KindRepoListFiles
		inv.Path = str("path")
		inv.Branch = str("branch")
	case NameRepoReadFile:
		inv.Kind = KindRepoReadFile
		inv.Path = str("path")
		inv.Branch = str("branch")
	case NameRepoRecentCommits:
		inv.Kind = KindRepoRecentCommits
		inv.Count = num("count")
		inv.Branch = str("branch")
	case NameRepoCommitDiff:
		inv.Kind = KindRepoCommitDiff
		inv.SHA = str("sha")
	case NameRepoOpenPRs:
		inv.Kind = KindRepoOpenPRs
	case NameWebSearch:
		inv.Kind = KindWebSearch
		inv.Query = str("query")
		inv.Count = num("count")
	case NameNewsSearch:
		inv.Kind = KindNewsSearch
		inv.Query = str("query")
		inv.Count = num("count")
	default:
		inv.Kind = KindUnknown
	}
	return inv
}

// Handler 持有外部协作方客户端并执行工具调用。客户端可以为 nil，
// 此时对应工具返回“未配置”结果。
type Handler struct {
	repo   *github.Client
	search *brave.Client
}

// NewHandler 创建工具处理器。
func NewHandler(repo *github.Client, search *brave.Client) *Handler {
	return &Handler{repo: repo, search: search}
}

// Invoke 执行单个工具调用并返回带请求标识的结果。
func (h *Handler) Invoke(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	inv := Parse(call)
	content, ok := h.execute(ctx, inv)
	if !ok {
		logger.L().Warn("工具调用失败", "tool", inv.Name, "result", content)
	}
	return llm.ToolResult{ToolUseID: inv.ID, Content: content, IsError: !ok}
}

// InvokeAll 顺序执行一批工具调用。结果顺序与请求顺序一致，
// 每个结果都带有其请求标识。
func (h *Handler) InvokeAll(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, h.Invoke(ctx, call))
	}
	return results
}

func (h *Handler) execute(ctx context.Context, inv Invocation) (string, bool) {
	switch inv.Kind {
	case KindRepoListFiles, KindRepoReadFile, KindRepoRecentCommits, KindRepoCommitDiff, KindRepoOpenPRs:
		if h.repo == nil {
			return "GitHub integration not configured", false
		}
		return h.executeRepo(ctx, inv)
	case KindWebSearch, KindNewsSearch:
		if h.search == nil {
			return "Search integration not configured", false
		}
		return h.executeSearch(ctx, inv)
	default:
		return fmt.Sprintf("tool not found: %s", inv.Name), false
	}
}

func (h *Handler) executeRepo(ctx context.Context, inv Invocation) (string, bool) {
	var (
		content string
		err     error
	)
	switch inv.Kind {
	case KindRepoListFiles:
		content, err = h.repo.ListFiles(ctx, inv.Path, inv.Branch)
	case KindRepoReadFile:
		content, err = h.repo.ReadFile(ctx, inv.Path, inv.Branch)
	case KindRepoRecentCommits:
		content, err = h.repo.RecentCommits(ctx, inv.Count, inv.Branch)
	case KindRepoCommitDiff:
		content, err = h.repo.CommitDiff(ctx, inv.SHA)
	case KindRepoOpenPRs:
		content, err = h.repo.OpenPullRequests(ctx)
	}
	if err != nil {
		return fmt.Sprintf("repository lookup failed: %v", err), false
	}
	return content, true
}

func (h *Handler) executeSearch(ctx context.Context, inv Invocation) (string, bool) {
	var (
		results []brave.Result
		err     error
	)
	switch inv.Kind {
	case KindWebSearch:
		results, err = h.search.Search(ctx, inv.Query, inv.Count)
	case KindNewsSearch:
		results, err = h.search.NewsSearch(ctx, inv.Query, inv.Count)
	}
	if err != nil {
		return fmt.Sprintf("search failed: %v", err), false
	}
	return brave.FormatResults(results), true
}
