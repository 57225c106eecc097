package fetch

import (
	"context"
	"math/rand"
	"time"
)

// Backoff spaces out retries against the upstream API. The delay grows
// by a factor of four per attempt: 1s, 4s, 16s, 64s with the defaults.
type Backoff struct {
	BaseDelay  time.Duration
	MaxRetries int
	Jitter     bool

	retryCount int
}

// NewBackoff returns a backoff with the production defaults.
func NewBackoff() *Backoff {
	return &Backoff{BaseDelay: time.Second, MaxRetries: 4, Jitter: true}
}

// Delay returns the wait for the current attempt, or zero when the
// retry budget is spent.
func (b *Backoff) Delay() time.Duration {
	if b.retryCount >= b.MaxRetries {
		return 0
	}

	delay := b.BaseDelay * time.Duration(1<<(2*uint(b.retryCount)))
	if b.Jitter {
		// Up to 10% extra to avoid thundering herd
		delay += time.Duration(rand.Int63n(int64(delay)/10 + 1))
	}
	return delay
}

// ShouldRetry reports whether another attempt makes sense. Transport
// errors, 429, server errors, and auth rejections (401/403) are
// retryable; the caller rotates auth providers on the latter.
func (b *Backoff) ShouldRetry(statusCode int, err error) bool {
	if b.retryCount >= b.MaxRetries {
		return false
	}
	if err != nil {
		return true
	}
	switch {
	case statusCode == 429:
		return true
	case statusCode >= 500:
		return true
	case statusCode == 401 || statusCode == 403:
		return true
	}
	return false
}

// WaitAndIncrement sleeps for the current delay and consumes one
// retry. Returns the delay slept, and the context error if the wait
// was interrupted.
func (b *Backoff) WaitAndIncrement(ctx context.Context) (time.Duration, error) {
	delay := b.Delay()
	if delay <= 0 {
		return 0, nil
	}
	b.retryCount++

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return delay, ctx.Err()
	case <-timer.C:
		return delay, nil
	}
}

// Reset zeroes the retry counter for a fresh request.
func (b *Backoff) Reset() {
	b.retryCount = 0
}

// RetryCount reports attempts consumed so far.
func (b *Backoff) RetryCount() int {
	return b.retryCount
}
