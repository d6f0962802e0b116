// Package brave 实现 Web 搜索协作方（Brave Search API）。
package brave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "github.com/mrg275/proof2pay-agents/internal/errors"
)

const (
	defaultBaseURL = "https://api.search.brave.com"
	defaultTimeout = 15 * time.Second
	maxResults     = 10
)

// Result 是一条搜索结果。
type Result struct {
	Title   string
	URL     string
	Snippet string
	Age     string
	Source  string
}

// Config 描述搜索协作方的凭据。
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client 调用 Brave Search 的 web 与 news 端点。
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建搜索客户端。
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("未提供搜索 API Key")
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
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) get(ctx context.Context, path, query string, count int, out any) error {
	if count <= 0 || count > maxResults {
		count = maxResults
	}
	endpoint := fmt.Sprintf("%s%s?q=%s&count=%s", c.baseURL, path,
		url.QueryEscape(query), strconv.Itoa(count))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeIntegrationUnavailable, err, "构建搜索请求失败")
	}
	req.Header.Set("X-Subscription-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeIntegrationUnavailable, err, "请求搜索服务失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return xerrors.New(xerrors.CodeIntegrationUnavailable,
			fmt.Sprintf("搜索服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeIntegrationUnavailable, err, "解析搜索响应失败")
	}
	return nil
}

// Search 执行普通 Web 搜索，最多返回 10 条结果。
func (c *Client) Search(ctx context.Context, query string, count int) ([]Result, error) {
	var decoded struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := c.get(ctx, "/res/v1/web/search", query, count, &decoded); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return results, nil
}

// NewsSearch 执行新闻搜索，结果带时效与来源。
func (c *Client) NewsSearch(ctx context.Context, query string, count int) ([]Result, error) {
	var decoded struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
			Meta        struct {
				Hostname string `json:"hostname"`
			} `json:"meta_url"`
		} `json:"results"`
	}
	if err := c.get(ctx, "/res/v1/news/search", query, count, &decoded); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Description,
			Age:     r.Age,
			Source:  r.Meta.Hostname,
		})
	}
	return results, nil
}

// FormatResults 把结果渲染成回传给模型的文本。
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "(no results)"
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
		if r.Age != "" || r.Source != "" {
			fmt.Fprintf(&sb, "   (%s %s)\n", r.Source, r.Age)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
