// Package ratelimit provides the per-connection token bucket used to bound
// inbound traffic on realtime connections and outbound calls to paid APIs.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited indicates the bucket has no tokens in the current window.
var ErrRateLimited = errors.New("rate limited")

// Bucket is a token bucket with window refill semantics: it holds a fixed
// capacity and refills to full only once an entire window has elapsed since
// the last refill, rather than trickling tokens continuously.
//
// A Bucket is scoped to a single connection (or worker) and is simply
// dropped when that connection goes away.
type Bucket struct {
	mu           sync.Mutex
	capacity     int
	tokens       int
	window       time.Duration
	lastRefillAt time.Time

	now func() time.Time
}

// NewBucket creates a full bucket with the given capacity and refill window.
func NewBucket(capacity int, window time.Duration) *Bucket {
	return &Bucket{
		capacity:     capacity,
		tokens:       capacity,
		window:       window,
		lastRefillAt: time.Now().UTC(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the bucket's time source. Test use only.
func (b *Bucket) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Take consumes one token. It returns ErrRateLimited when the bucket is
// empty and the refill window has not yet elapsed.
func (b *Bucket) Take() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now.Sub(b.lastRefillAt) >= b.window {
		b.tokens = b.capacity
		b.lastRefillAt = now
	}

	if b.tokens <= 0 {
		return ErrRateLimited
	}

	b.tokens--
	return nil
}

// Remaining returns the number of tokens left in the current window.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}
