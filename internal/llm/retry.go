package llm

import (
	"context"
	"time"

	xerrors "github.com/mrg275/proof2pay-agents/internal/errors"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBase     = time.Second
)

// retryClient 在瞬时失败时按指数退避重试补全调用。
type retryClient struct {
	inner    Client
	attempts int
	base     time.Duration
}

// WithRetry 包装客户端，为瞬时失败提供指数退避重试。
// 不可重试的错误（如参数非法、认证失败）直接透传。
func WithRetry(inner Client, attempts int, base time.Duration) Client {
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	if base <= 0 {
		base = defaultRetryBase
	}
	return &retryClient{inner: inner, attempts: attempts, base: base}
}

// Complete 实现 Client 接口。
func (c *retryClient) Complete(ctx context.Context, req Request) (*Result, error) {
	var lastErr error
	delay := c.base
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待重试时上下文被取消")
			case <-time.After(delay):
			}
			delay *= 2
		}

		result, err := c.inner.Complete(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !xerrors.RetryableError(err) {
			return nil, err
		}
	}
	return nil, xerrors.Wrap(xerrors.CodeCompletionFailure, lastErr, "补全调用重试次数耗尽")
}
