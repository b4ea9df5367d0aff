package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// HTTPError carries the status code of a failed call to the agent service so
// the retry predicate can classify it without string matching.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("agent service returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("agent service returned %d", e.StatusCode)
}

// IsRetryableError determines if an error is retryable on the given attempt.
// attempt is 1-based.
// Returns: (isRetryable, errorType)
func IsRetryableError(err error, attempt int) (bool, string) {
	if err == nil {
		return false, ""
	}

	errStr := strings.ToLower(err.Error())

	// HTTP 状态码：429/502/503/504 总是可重试，500 只在前两次尝试重试，
	// 其余 4xx 不可重试
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 429, 502, 503, 504:
			return true, fmt.Sprintf("http_%d", httpErr.StatusCode)
		case 500:
			return attempt <= 2, "http_500"
		}
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			return false, "http_client_error"
		}
		return false, fmt.Sprintf("http_%d", httpErr.StatusCode)
	}

	// Context timeout - 可重试；主动取消不重试
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	// DNS errors - 可重试
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true, "dns_error"
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	// URL errors - 可重试
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	// 连接级错误，只有字符串可查
	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe") {
		return true, "connection_error"
	}

	// 限流/配额类错误消息 - 可重试
	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "quota") {
		return true, "rate_limited"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}
