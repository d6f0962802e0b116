package llm

import "context"

// 消息角色。补全服务只接受 user 与 assistant 两种角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 表示会话中的一条消息。一条消息可以同时携带文本、
// 工具调用请求（assistant 侧）或工具调用结果（user 侧）。
type Message struct {
	Role        string
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Tool 描述一个暴露给补全服务的工具。
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"input_schema"`
}

// Schema 是工具入参的结构化描述。
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required"`
}

// Property 描述入参中的单个字段。
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// ToolCall 是补全结果中携带的一次工具调用请求。
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult 是回传给补全服务的工具调用结果，必须带上请求标识。
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// Request 描述一次补全调用。
type Request struct {
	System      string
	Messages    []Message
	Tools       []Tool
	Model       string
	MaxTokens   int
	Temperature float64
}

// Result 是补全服务返回的结构化输出。
type Result struct {
	Text         string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// Client 定义了调用补全服务的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}
