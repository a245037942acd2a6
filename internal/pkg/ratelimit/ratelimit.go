package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the shared-counter abstraction behind the limiter. A
// multi-instance deployment backs it with any store that can atomically
// increment a key scoped to a fixed window; the in-process store is the
// single-node default.
type CounterStore interface {
	// Incr increments the counter for key within the window that contains
	// now and returns the post-increment count plus the window's reset time.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// Result reports a single rate limit decision.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Limiter bounds the frequency of sensitive operations per identity key
// using fixed windows. Windows expire lazily: a key whose window has elapsed
// restarts as unseen.
type Limiter struct {
	store CounterStore
}

func New(store CounterStore) *Limiter {
	return &Limiter{store: store}
}

// CheckAndConsume increments the counter for key and decides whether the
// call is still within limit for the current window.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string, limit int64, window time.Duration) (Result, error) {
	count, resetAt, err := l.store.Incr(ctx, key, window)
	if err != nil {
		return Result{}, err
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
