package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chain-indexer/internal/logging"
)

// BackoffType selects how the delay grows between attempts
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff describes the wait between consecutive attempts
type Backoff struct {
	Type     BackoffType
	Delay    time.Duration // Base delay
	MaxDelay time.Duration // Cap for exponential growth, zero means uncapped
}

// Fixed returns a constant backoff
func Fixed(delay time.Duration) Backoff {
	return Backoff{Type: BackoffFixed, Delay: delay}
}

// Exponential returns a doubling backoff capped at maxDelay
func Exponential(delay, maxDelay time.Duration) Backoff {
	return Backoff{Type: BackoffExponential, Delay: delay, MaxDelay: maxDelay}
}

// Next returns the wait before retry number attempt (1-based)
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Type != BackoffExponential {
		return b.Delay
	}

	delay := b.Delay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.MaxDelay > 0 && delay >= b.MaxDelay {
			return b.MaxDelay
		}
		// overflow guard
		if delay <= 0 {
			return b.MaxDelay
		}
	}
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		return b.MaxDelay
	}
	return delay
}

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts int // Total attempts including the first one
	Backoff     Backoff
}

// DefaultRetryConfig returns a default retry configuration
// Pattern: 1s, 2s, 4s, 8s, 16s, max 60s
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 5,
		Backoff:     Exponential(time.Second, 60*time.Second),
	}
}

// FixedRetryConfig returns a configuration that waits the same delay between attempts
func FixedRetryConfig(attempts int, delay time.Duration) *RetryConfig {
	return &RetryConfig{
		MaxAttempts: attempts,
		Backoff:     Fixed(delay),
	}
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"lastError,omitempty"`
}

// RetryFunc is a function that can be retried
type RetryFunc func(ctx context.Context, attempt int) error

// Do executes fn until it succeeds, the attempts are exhausted or ctx is done
func Do(ctx context.Context, config *RetryConfig, fn RetryFunc) *RetryResult {
	logger := logging.FromContext(ctx)
	startTime := time.Now()

	result := &RetryResult{}
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(startTime)
			if attempt > 1 {
				logger.Debug("operation succeeded after retry",
					zap.Int("attempts", attempt),
					zap.Duration("totalDuration", result.TotalDuration))
			}
			return result
		}
		result.LastError = err

		if attempt >= maxAttempts {
			break
		}
		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		delay := config.Backoff.Next(attempt)
		logger.Debug("operation failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := Sleep(ctx, delay); err != nil {
			result.LastError = err
			break
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// WithRetry is a simpler retry function that uses default configuration
func WithRetry(ctx context.Context, fn RetryFunc) error {
	result := Do(ctx, DefaultRetryConfig(), fn)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
