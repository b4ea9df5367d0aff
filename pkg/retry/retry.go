package retry

import (
	"context"
	"time"

	"mailtriage/pkg/util"
)

// Policy 重试策略
type Policy struct {
	// 最大尝试次数（含第一次）
	MaxAttempts int
	// 首次重试前的等待时间
	InitialDelay time.Duration
	// 等待时间上限
	MaxDelay time.Duration
	// 退避倍数
	BackoffMultiplier float64
	// ShouldRetry 判断某次失败是否重试，attempt 从 1 开始
	ShouldRetry func(err error, attempt int) bool
	// OnRetry 每次重试前的回调（可选，用于观测）
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultPolicy 返回默认策略：3 次尝试，500ms 起步，2 倍退避，10s 封顶
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		ShouldRetry:       DefaultShouldRetry,
	}
}

// DefaultShouldRetry 使用统一的错误分类判断是否重试
func DefaultShouldRetry(err error, attempt int) bool {
	retryable, _ := util.IsRetryableError(err, attempt)
	return retryable
}

// Do executes fn up to p.MaxAttempts times with exponential backoff.
// The last error is returned as-is once attempts are exhausted or the
// predicate declines, so callers can still classify it.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = 2
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}

	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// 最后一次尝试或判定不可重试：立即失败，不再等待
		if attempt == p.MaxAttempts || !shouldRetry(err, attempt) {
			return zero, lastErr
		}

		if p.OnRetry != nil {
			p.OnRetry(err, attempt, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * p.BackoffMultiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return zero, lastErr
}
