// Package ratelimit implements fixed-window request counting per client key.
//
// A window opens on the first request for a key and lasts for the configured
// duration. Once the count reaches the limit further requests are rejected,
// without being counted, until the window ends. The first request after that
// opens a new window.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Decision is the outcome of counting one request.
type Decision struct {
	Exceeded bool
	Count    int
	ResetAt  time.Time
}

// Store counts hits per key. Implementations must make the check and the
// increment a single atomic step.
type Store interface {
	Hit(ctx context.Context, key string, max int, window time.Duration) (Decision, error)
}

// Limiter applies one limit to a namespace of keys in a Store.
type Limiter struct {
	store  Store
	prefix string
	max    int
	window time.Duration
}

func New(store Store, prefix string, max int, window time.Duration) *Limiter {
	return &Limiter{store: store, prefix: prefix, max: max, window: window}
}

// Allow counts a request for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	return l.store.Hit(ctx, l.prefix+key, l.max, l.window)
}

func (l *Limiter) Max() int { return l.max }

func (l *Limiter) Window() time.Duration { return l.window }

// RetryAfterSeconds is the hint sent to rejected clients: the full window,
// rounded up to whole seconds.
func (l *Limiter) RetryAfterSeconds() int {
	return int(math.Ceil(l.window.Seconds()))
}
