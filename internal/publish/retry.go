package publish

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"alertrelay/internal/permanent"
)

// Error codes reported in PublishResult.ErrorCode.
const (
	CodeTimeout         = "timeout"
	CodeConnectionError = "connection_error"
	CodeServerError     = "server_error"
	CodeRateLimited     = "rate_limited"
	CodeClientError     = "client_error"
	CodeFormatError     = "format_error"
	CodeCanceled        = "canceled"
	CodeUnsupportedType = "unsupported_type"
)

// RetryPolicy is the bounded retry schedule for one delivery.
// Params: retry count after the first attempt, backoff schedule, and retryable predicate.
// Returns: policy used by the explicit attempt loop in Deliver.
type RetryPolicy struct {
	MaxRetries int
	Backoff    []time.Duration
	Retryable  func(code string) bool
}

// DefaultRetryPolicy returns 3 retries at 100ms, 500ms, 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff:    []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second},
		Retryable:  IsRetryableCode,
	}
}

// Delay returns wait before retry number n (0-based); last step repeats.
func (p RetryPolicy) Delay(n int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if n >= len(p.Backoff) {
		n = len(p.Backoff) - 1
	}
	return p.Backoff[n]
}

// ShouldRetry reports whether failure with code may be retried after attempt number n (1-based).
func (p RetryPolicy) ShouldRetry(code string, attempt int) bool {
	if attempt > p.MaxRetries {
		return false
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryableCode
	}
	return retryable(code)
}

// IsRetryableCode reports transient failure codes.
func IsRetryableCode(code string) bool {
	switch code {
	case CodeTimeout, CodeConnectionError, CodeServerError, CodeRateLimited:
		return true
	default:
		return false
	}
}

// ClassifyError maps one attempt outcome onto an error code.
// Params: parent ctx, attempt error, and status code.
// Returns: error code; empty when err is nil.
func ClassifyError(parent context.Context, err error, status int) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrUnsupportedType) {
		return CodeUnsupportedType
	}
	if parent.Err() != nil {
		return CodeCanceled
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		status = statusErr.Code
	}
	switch {
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status >= 500:
		return CodeServerError
	case status >= 400:
		return CodeClientError
	}
	if reason := permanent.ReasonOf(err); reason != "" {
		return reason
	}
	if permanent.Is(err) {
		return CodeFormatError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	return CodeConnectionError
}

// wait sleeps for delay unless ctx ends first.
func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
