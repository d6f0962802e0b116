// Package github 实现仓库巡检协作方：只读访问 GitHub REST API。
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "github.com/mrg275/proof2pay-agents/internal/errors"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultTimeout = 30 * time.Second

	// 超过上限的文件内容与提交 diff 会被截断并附上显式标记。
	readFileLimit   = 15_000
	commitDiffLimit = 10_000
)

// Config 描述访问仓库所需的信息。
type Config struct {
	Token   string
	Owner   string
	Repo    string
	BaseURL string
	Timeout time.Duration
}

// Client 对单个仓库做只读巡检。
type Client struct {
	token      string
	owner      string
	repo       string
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建 GitHub 客户端。
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("未提供 GitHub token")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("未提供仓库 owner/repo")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		token:      cfg.Token,
		owner:      cfg.Owner,
		repo:       cfg.Repo,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) get(ctx context.Context, path string, accept string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeIntegrationUnavailable, err, "构建 GitHub 请求失败")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if accept == "" {
		accept = "application/vnd.github+json"
	}
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeIntegrationUnavailable, err, "请求 GitHub 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return xerrors.New(xerrors.CodeIntegrationUnavailable,
			fmt.Sprintf("GitHub 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if raw, ok := out.(*string); ok {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeIntegrationUnavailable, err, "读取 GitHub 响应失败")
		}
		*raw = string(body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeIntegrationUnavailable, err, "解析 GitHub 响应失败")
	}
	return nil
}

// ListFiles 列举指定路径与分支下的条目，返回人类可读的清单文本。
func (c *Client) ListFiles(ctx context.Context, path, branch string) (string, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/contents/%s", c.owner, c.repo, strings.TrimPrefix(path, "/"))
	if branch != "" {
		endpoint += "?ref=" + branch
	}
	var entries []struct {
		Name string `json:"name"`
		Type string `json:"type"`
		Size int    `json:"size"`
	}
	if err := c.get(ctx, endpoint, "", &entries); err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "(empty directory)", nil
	}
	var sb strings.Builder
	for _, entry := range entries {
		if entry.Type == "dir" {
			fmt.Fprintf(&sb, "%s/\n", entry.Name)
		} else {
			fmt.Fprintf(&sb, "%s (%d bytes)\n", entry.Name, entry.Size)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// ReadFile 读取文件内容，超过上限时截断并附标记。
func (c *Client) ReadFile(ctx context.Context, path, branch string) (string, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/contents/%s", c.owner, c.repo, strings.TrimPrefix(path, "/"))
	if branch != "" {
		endpoint += "?ref=" + branch
	}
	var content string
	if err := c.get(ctx, endpoint, "application/vnd.github.raw+json", &content); err != nil {
		return "", err
	}
	if len(content) > readFileLimit {
		content = content[:readFileLimit] + "\n\n... [truncated, file exceeds 15000 characters]"
	}
	return content, nil
}

// RecentCommits 返回最近 n 条提交的摘要。
func (c *Client) RecentCommits(ctx context.Context, n int, branch string) (string, error) {
	if n <= 0 || n > 30 {
		n = 10
	}
	endpoint := fmt.Sprintf("/repos/%s/%s/commits?per_page=%d", c.owner, c.repo, n)
	if branch != "" {
		endpoint += "&sha=" + branch
	}
	var commits []struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name string `json:"name"`
				Date string `json:"date"`
			} `json:"author"`
		} `json:"commit"`
	}
	if err := c.get(ctx, endpoint, "", &commits); err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "(no commits)", nil
	}
	var sb strings.Builder
	for _, commit := range commits {
		title := commit.Commit.Message
		if idx := strings.IndexByte(title, '\n'); idx >= 0 {
			title = title[:idx]
		}
		sha := commit.SHA
		if len(sha) > 8 {
			sha = sha[:8]
		}
		fmt.Fprintf(&sb, "%s %s (%s, %s)\n", sha, title, commit.Commit.Author.Name, commit.Commit.Author.Date)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// CommitDiff 返回指定提交的 diff，超过上限时截断并附标记。
func (c *Client) CommitDiff(ctx context.Context, sha string) (string, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/commits/%s", c.owner, c.repo, sha)
	var diff string
	if err := c.get(ctx, endpoint, "application/vnd.github.diff", &diff); err != nil {
		return "", err
	}
	if len(diff) > commitDiffLimit {
		diff = diff[:commitDiffLimit] + "\n\n... [truncated, diff exceeds 10000 characters]"
	}
	return diff, nil
}

// OpenPullRequests 返回当前打开的 PR 清单。
func (c *Client) OpenPullRequests(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/pulls?state=open", c.owner, c.repo)
	var prs []struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		User   struct {
			Login string `json:"login"`
		} `json:"user"`
		CreatedAt string `json:"created_at"`
	}
	if err := c.get(ctx, endpoint, "", &prs); err != nil {
		return "", err
	}
	if len(prs) == 0 {
		return "(no open pull requests)", nil
	}
	var sb strings.Builder
	for _, pr := range prs {
		fmt.Fprintf(&sb, "#%d %s (by %s, opened %s)\n", pr.Number, pr.Title, pr.User.Login, pr.CreatedAt)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
