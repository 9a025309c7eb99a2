// Package retry implements the exponential-backoff retry policy that
// backs the HTTP client abstraction (total attempts, backoff factor,
// status-code forcelist, Retry-After honoring) and the inspectors'
// retry_attempts loop.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Classification tells the retryer whether an error should be retried
// and, when the failure carried an HTTP response, what status and
// Retry-After hint accompanied it.
type Classification struct {
	Retryable  bool
	StatusCode int
	RetryAfter time.Duration
}

// Classifier inspects an error returned by the wrapped function and
// reports whether it should be retried. The HTTP client supplies one
// based on HTTP status codes; validation and authentication failures
// must always classify as non-retryable.
type Classifier func(err error) Classification

// Policy configures exponential backoff retrying. Total is the
// maximum number of attempts, so 1 means a single attempt with no
// retry.
type Policy struct {
	Total             int
	BackoffFactor     float64
	MaxDelay          time.Duration
	Jitter            bool
	StatusForcelist   []int
	RespectRetryAfter bool
	Classify          Classifier
}

// DefaultStatusForcelist is the default set of HTTP status codes that
// trigger a retry.
var DefaultStatusForcelist = []int{429, 500, 502, 503, 504}

// DefaultPolicy returns the standard retrying policy. Callers that
// want single-attempt behavior pass Total: 1 explicitly.
func DefaultPolicy() *Policy {
	return &Policy{
		Total:             3,
		BackoffFactor:     0.5,
		MaxDelay:          30 * time.Second,
		Jitter:            true,
		StatusForcelist:   append([]int(nil), DefaultStatusForcelist...),
		RespectRetryAfter: true,
	}
}

func (p *Policy) statusInForcelist(status int) bool {
	for _, s := range p.StatusForcelist {
		if s == status {
			return true
		}
	}
	return false
}

// Do runs fn, retrying per the policy. logger may be nil (a no-op
// logger is used). ctx cancellation interrupts a pending backoff wait.
func Do(ctx context.Context, policy *Policy, logger *zap.Logger, fn func() error) error {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if policy.Total < 1 {
		policy.Total = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt < policy.Total; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(policy, attempt)
			logger.Debug("retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		class := Classification{Retryable: true}
		if policy.Classify != nil {
			class = policy.Classify(lastErr)
		}
		if !class.Retryable {
			return lastErr
		}
		if class.StatusCode != 0 && !policy.statusInForcelist(class.StatusCode) {
			return lastErr
		}
		if policy.RespectRetryAfter && class.RetryAfter > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry canceled: %w", ctx.Err())
			case <-time.After(class.RetryAfter):
			}
		}
	}

	logger.Warn("retries exhausted", zap.Int("attempts", policy.Total), zap.Error(lastErr))
	return lastErr
}

func backoffDelay(policy *Policy, attempt int) time.Duration {
	delay := policy.BackoffFactor * math.Pow(2, float64(attempt-1)) * float64(time.Second)
	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
