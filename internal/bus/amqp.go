package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "github.com/mrg275/proof2pay-agents/internal/errors"
	"github.com/mrg275/proof2pay-agents/pkg/logger"
)

// AMQPConfig 描述 AMQP 总线的连接与队列参数。
type AMQPConfig struct {
	URL           string
	OutboundQueue string
	InboundQueue  string
}

// outboundEnvelope 是出站消息的线上格式。
type outboundEnvelope struct {
	Channel string `json:"channel"`
	Thread  string `json:"thread,omitempty"`
	Text    string `json:"text"`
}

// AMQPBus 通过 RabbitMQ 收发频道消息。出站消息由外部网关消费并转发
// 到真正的聊天平台，入站消息由网关写入入站队列。
type AMQPBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	outbound string
	inbound  string
}

// NewAMQPBus 建立连接并声明两个队列。
func NewAMQPBus(cfg AMQPConfig) (*AMQPBus, error) {
	if cfg.URL == "" {
		return nil, errors.New("AMQP URL 不能为空")
	}
	outbound := cfg.OutboundQueue
	if outbound == "" {
		outbound = "agents.outbound"
	}
	inbound := cfg.InboundQueue
	if inbound == "" {
		inbound = "agents.inbound"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBusFailure, err, "连接 AMQP 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeBusFailure, err, "创建 AMQP channel 失败")
	}
	for _, queue := range []string{outbound, inbound} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, xerrors.Wrap(xerrors.CodeBusFailure, err, fmt.Sprintf("声明队列 %s 失败", queue))
		}
	}
	return &AMQPBus{conn: conn, ch: ch, outbound: outbound, inbound: inbound}, nil
}

// PostMessage 把文本按段落切片后逐条投递，保持顺序。
func (b *AMQPBus) PostMessage(ctx context.Context, channel, text, threadID string) error {
	if b == nil || b.ch == nil {
		return xerrors.New(xerrors.CodeBusFailure, "AMQP 总线未初始化")
	}
	for _, chunk := range SplitMessage(text, MessageCharLimit) {
		body, err := json.Marshal(outboundEnvelope{Channel: channel, Thread: threadID, Text: chunk})
		if err != nil {
			return xerrors.Wrap(xerrors.CodeBusFailure, err, "编码出站消息失败")
		}
		err = b.ch.PublishWithContext(ctx, "", b.outbound, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
		if err != nil {
			return xerrors.Wrap(xerrors.CodeBusFailure, err, "投递出站消息失败")
		}
	}
	return nil
}

// Listen 消费入站队列直到 ctx 取消。处理失败只记录日志，消息仍被确认，
// 避免坏消息无限重投。
func (b *AMQPBus) Listen(ctx context.Context, handler Handler) error {
	if b == nil || b.ch == nil {
		return xerrors.New(xerrors.CodeBusFailure, "AMQP 总线未初始化")
	}
	msgs, err := b.ch.Consume(b.inbound, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeBusFailure, err, "订阅入站队列失败")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return xerrors.New(xerrors.CodeBusFailure, "入站队列已关闭")
			}
			var inbound InboundMessage
			if err := json.Unmarshal(msg.Body, &inbound); err != nil {
				logger.L().Warn("入站消息格式非法", "error", err)
				_ = msg.Ack(false)
				continue
			}
			if err := handler(ctx, inbound); err != nil {
				logger.L().Error("处理入站消息失败",
					"channel", inbound.Channel,
					"error", err,
				)
			}
			_ = msg.Ack(false)
		}
	}
}

// Close 关闭底层连接。
func (b *AMQPBus) Close() error {
	if b == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

var _ Bus = (*AMQPBus)(nil)
