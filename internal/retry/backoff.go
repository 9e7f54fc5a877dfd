package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffConfig contains configuration for exponential backoff
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxAttempts  int           `json:"max_attempts"`
	Jitter       bool          `json:"jitter"`
}

// DefaultBackoffConfig returns a sensible default configuration
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// Backoff implements exponential backoff with optional jitter
type Backoff struct {
	config BackoffConfig
}

// NewBackoff creates a new exponential backoff instance
func NewBackoff(config BackoffConfig) *Backoff {
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &Backoff{config: config}
}

// Retry executes the operation until it succeeds or MaxAttempts is reached.
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate is Retry, but stops at the first error isRetryable rejects.
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func() error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) || attempt == b.config.MaxAttempts {
			return lastErr
		}

		if err := b.Wait(ctx, attempt); err != nil {
			return err
		}
	}

	return lastErr
}

// Wait sleeps for the delay of the given attempt, returning early with the
// context's error if it is cancelled. A zero delay returns immediately.
func (b *Backoff) Wait(ctx context.Context, attempt int) error {
	delay := b.calculateDelay(attempt)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GetNextDelay returns the delay that would be used for the given attempt
func (b *Backoff) GetNextDelay(attempt int) time.Duration {
	return b.calculateDelay(attempt)
}

func (b *Backoff) calculateDelay(attempt int) time.Duration {
	if b.config.InitialDelay <= 0 {
		return 0
	}

	delay := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(attempt-1))
	if delay > float64(b.config.MaxDelay) {
		delay = float64(b.config.MaxDelay)
	}

	// ±25% jitter, clamped to [InitialDelay, MaxDelay]
	if b.config.Jitter {
		jitter := delay * 0.25
		delay += (secureFloat64() - 0.5) * 2 * jitter
		if delay < float64(b.config.InitialDelay) {
			delay = float64(b.config.InitialDelay)
		}
		if delay > float64(b.config.MaxDelay) {
			delay = float64(b.config.MaxDelay)
		}
	}

	return time.Duration(delay)
}

// secureFloat64 generates a cryptographically secure float64 in [0, 1)
func secureFloat64() float64 {
	max := big.NewInt(0).SetUint64(math.MaxUint64)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return float64(time.Now().UnixNano()%1000000) / 1000000.0
	}
	return float64(n.Uint64()) / float64(math.MaxUint64)
}
