package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	JitterFactor     float64       // 0.0-1.0, +/- fraction applied to each delay
	AttemptTimeout   time.Duration // Per-attempt deadline; 0 disables
	MaxSameErrorType int           // After N consecutive same-type errors, treat as permanent (0 disables)
}

// DefaultConfig returns the policy used for idempotent storage reads:
// 3 retries with 100ms initial delay, capped at 5s, doubling each time,
// 10% jitter, 10s per attempt.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		AttemptTimeout:   10 * time.Second,
		MaxSameErrorType: 5,
	}
}

// applyJitter adds random jitter to a delay.
// Jitter is calculated as: delay +/- (delay * jitterFactor * random(-1 to +1))
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// attemptContext derives the context for a single attempt.
func attemptContext(ctx context.Context, cfg *Config) (context.Context, context.CancelFunc) {
	if cfg.AttemptTimeout > 0 {
		return context.WithTimeout(ctx, cfg.AttemptTimeout)
	}
	return context.WithCancel(ctx)
}

// Do executes fn with exponential backoff retry logic regardless of the error.
// Returns nil on success, or last error after all retries exhausted.
// Respects context cancellation during wait periods.
func Do(ctx context.Context, cfg *Config, fn func(ctx context.Context) error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		actx, cancel := attemptContext(ctx, cfg)
		err := fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < cfg.MaxRetries {
			if werr := wait(ctx, cfg, &delay); werr != nil {
				return werr
			}
		}
	}

	return lastErr
}

// DoWithResult executes fn and returns both result and error.
// Only transient failures (see IsRetryable) are retried.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := DoIfRetryable(ctx, cfg, func(actx context.Context) error {
		r, err := fn(actx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func wait(ctx context.Context, cfg *Config, delay *time.Duration) error {
	select {
	case <-time.After(applyJitter(*delay, cfg.JitterFactor)):
		*delay = time.Duration(float64(*delay) * cfg.Multiplier)
		if *delay > cfg.MaxDelay {
			*delay = cfg.MaxDelay
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryableError is an interface for errors that explicitly declare their retryability.
// apperrors.Error implements it for the transient_storage kind.
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable determines if an error is transient and worth retrying.
//
// The function checks errors in this order:
// 1. If any error in the chain implements RetryableError, use its IsRetryable() method
// 2. A per-attempt deadline is retryable; a cancelled parent context is not
// 3. Otherwise, pattern-match against known transient transport messages
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"timed out",
		"temporary failure",
		"too many connections",
		"deadlock",
		"i/o timeout",
		"network is unreachable",
		"unexpected eof",
		"loading redis is loading the dataset",
		"tryagain",
		"serialization failure",
		"could not serialize access",
		"429",
		"502",
		"503",
		"504",
		"rate limit",
		"service unavailable",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// classifyErrorType extracts a category from error for comparison.
// Used to detect repeated failures of the same kind.
func classifyErrorType(err error) string {
	if err == nil {
		return "nil"
	}

	errStr := strings.ToLower(err.Error())

	for _, code := range []string{"503", "502", "504", "429"} {
		if strings.Contains(errStr, code) {
			return code
		}
	}

	switch {
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "connection reset"):
		return "connection"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "timed out"),
		errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case strings.Contains(errStr, "broken pipe"):
		return "broken_pipe"
	case strings.Contains(errStr, "deadlock"), strings.Contains(errStr, "serialize"):
		return "contention"
	}

	return "unknown"
}

// DoIfRetryable only retries if the error is transient.
// For permanent errors (constraint violations, bad SQL, not found) it returns immediately.
// After N consecutive failures of the same error type, escalates to permanent failure.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func(ctx context.Context) error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay
	sameErrorCount := 0
	var lastErrorType string

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		actx, cancel := attemptContext(ctx, cfg)
		err := fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil {
			return err
		}

		currentErrorType := classifyErrorType(err)
		if currentErrorType == lastErrorType {
			sameErrorCount++
			if cfg.MaxSameErrorType > 0 && sameErrorCount >= cfg.MaxSameErrorType {
				return fmt.Errorf("repeated error (%d times, type=%s): %w", sameErrorCount, currentErrorType, err)
			}
		} else {
			sameErrorCount = 1
			lastErrorType = currentErrorType
		}

		if attempt < cfg.MaxRetries {
			if werr := wait(ctx, cfg, &delay); werr != nil {
				return werr
			}
		}
	}

	return lastErr
}
