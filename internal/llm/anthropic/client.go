package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "github.com/mrg275/proof2pay-agents/internal/errors"
	"github.com/mrg275/proof2pay-agents/internal/llm"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModelName = "claude-sonnet-4-5-20250514"
	defaultMaxTokens = 8192
	defaultTimeout   = 120 * time.Second
	apiVersion       = "2023-06-01"
)

// Config 描述了调用 Anthropic Messages API 所需的信息。
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client 通过 HTTP 调用 Anthropic 提供的补全能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewClient 根据配置创建 Anthropic 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Anthropic API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:    apiKey,
		baseURL:   baseURL,
		model:     model,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type wireContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Complete 实现 llm.Client 接口。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Result, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCompletionFailure, err, "构建 Anthropic 请求失败", xerrors.WithRetryable(false))
	}

	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCompletionFailure, err, "请求 Anthropic 失败", xerrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		message := fmt.Sprintf("Anthropic 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return nil, xerrors.New(xerrors.CodeCompletionFailure, message,
			xerrors.WithRetryable(isRetryableStatus(resp.StatusCode)),
			xerrors.WithMetadata("status", fmt.Sprintf("%d", resp.StatusCode)),
		)
	}

	var decoded struct {
		Content []struct {
			Type  string         `json:"type"`
			Text  string         `json:"text"`
			ID    string         `json:"id"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCompletionFailure, err, "解析 Anthropic 响应失败", xerrors.WithRetryable(false))
	}

	result := &llm.Result{
		InputTokens:  decoded.Usage.InputTokens,
		OutputTokens: decoded.Usage.OutputTokens,
		StopReason:   decoded.StopReason,
	}
	var text strings.Builder
	for _, block := range decoded.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
		// thinking 块不进入结果文本。
	}
	result.Text = text.String()
	return result, nil
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}

	messages := make([]wireMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, encodeMessage(msg))
	}

	body := map[string]any{
		"model":       model,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"messages":    messages,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 Anthropic 请求失败")
	}
	return encoded, nil
}

// encodeMessage 将领域消息转换为 Messages API 的内容块格式。
// 纯文本消息直接用字符串内容，避免不必要的嵌套。
func encodeMessage(msg llm.Message) wireMessage {
	if len(msg.ToolCalls) == 0 && len(msg.ToolResults) == 0 {
		return wireMessage{Role: msg.Role, Content: msg.Text}
	}

	blocks := make([]wireContentBlock, 0, 1+len(msg.ToolCalls)+len(msg.ToolResults))
	if msg.Text != "" {
		blocks = append(blocks, wireContentBlock{Type: "text", Text: msg.Text})
	}
	for _, call := range msg.ToolCalls {
		blocks = append(blocks, wireContentBlock{
			Type:  "tool_use",
			ID:    call.ID,
			Name:  call.Name,
			Input: call.Input,
		})
	}
	for _, result := range msg.ToolResults {
		blocks = append(blocks, wireContentBlock{
			Type:      "tool_result",
			ToolUseID: result.ToolUseID,
			Content:   result.Content,
			IsError:   result.IsError,
		})
	}
	return wireMessage{Role: msg.Role, Content: blocks}
}

func isRetryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

var _ llm.Client = (*Client)(nil)
