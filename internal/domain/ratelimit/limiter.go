// Package ratelimit implements the per-operator sliding-window limiter applied
// to websocket frames.
//
// Buckets are process-local. An operator whose connections are spread over N
// processes can send up to N times the configured limit.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window counter keyed by operator.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	max     int
	window  time.Duration
	now     func() time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter allowing max actions per window.
func New(max int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		buckets: make(map[string][]time.Time),
		max:     max,
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records an action for key and reports whether it fits in the window.
// Rejected actions are not recorded.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket := l.pruneLocked(key, now)
	if len(bucket) >= l.max {
		return false
	}
	l.buckets[key] = append(bucket, now)
	return true
}

// Remaining reports how many actions key may still perform in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.pruneLocked(key, l.now())
	remaining := l.max - len(bucket)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears key's bucket.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// CleanupStale drops buckets whose newest entry is older than maxAge and
// returns how many were removed.
func (l *Limiter) CleanupStale(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	removed := 0
	for key, bucket := range l.buckets {
		if len(bucket) == 0 || bucket[len(bucket)-1].Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// pruneLocked drops entries at or before now-window. Caller holds l.mu.
func (l *Limiter) pruneLocked(key string, now time.Time) []time.Time {
	bucket := l.buckets[key]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(bucket) && !bucket[i].After(cutoff) {
		i++
	}
	if i > 0 {
		bucket = append(bucket[:0], bucket[i:]...)
		if len(bucket) == 0 {
			delete(l.buckets, key)
			return nil
		}
		l.buckets[key] = bucket
	}
	return bucket
}
