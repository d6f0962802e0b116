// Package bus 实现消息总线协作方：向频道投递文本并消费入站消息。
package bus

import (
	"context"
	"strings"
)

// 单条出站消息的字符上限。超长文本按段落边界切分后逐条投递。
const MessageCharLimit = 3900

// InboundMessage 是入站消息信封。
type InboundMessage struct {
	Channel string `json:"channel"`
	Thread  string `json:"thread,omitempty"`
	User    string `json:"user,omitempty"`
	Text    string `json:"text"`
}

// Handler 处理一条入站消息。返回错误只用于记录，消息仍会被确认。
type Handler func(ctx context.Context, msg InboundMessage) error

// Bus 定义消息总线协作方接口。
type Bus interface {
	// PostMessage 向频道投递文本，超长文本自动分片。
	PostMessage(ctx context.Context, channel, text, threadID string) error
	// Listen 阻塞消费入站消息直到 ctx 取消。
	Listen(ctx context.Context, handler Handler) error
	// Close 释放底层连接。
	Close() error
}

// SplitMessage 把长文本按段落边界切成不超过 limit 的片段，保持段落顺序。
// 单个段落超过 limit 时按行切分，仍超限则硬切。
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MessageCharLimit
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, paragraph := range strings.Split(text, "\n\n") {
		if len(paragraph) > limit {
			flush()
			chunks = append(chunks, splitLong(paragraph, limit)...)
			continue
		}
		extra := len(paragraph)
		if current.Len() > 0 {
			extra += 2
		}
		if current.Len()+extra > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(paragraph)
	}
	flush()
	return chunks
}

func splitLong(paragraph string, limit int) []string {
	var chunks []string
	var current strings.Builder
	for _, line := range strings.Split(paragraph, "\n") {
		for len(line) > limit {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, line[:limit])
			line = line[limit:]
		}
		extra := len(line)
		if current.Len() > 0 {
			extra++
		}
		if current.Len()+extra > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
