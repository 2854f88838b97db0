package autoreply

import "time"

// RateLimiter is a coarse per-conversation leaky-window limiter: the window
// resets on expiry rather than sliding. It exists to stop automation feedback
// loops, not to guarantee fairness.
type RateLimiter struct {
	window time.Duration
	burst  int
	store  *Store
	now    func() time.Time
}

// NewRateLimiter creates a limiter admitting at most burst messages per
// rolling window for each conversation key.
func NewRateLimiter(window time.Duration, burst int, store *Store) *RateLimiter {
	return &RateLimiter{
		window: window,
		burst:  burst,
		store:  store,
		now:    time.Now,
	}
}

// Allow counts one message against key's window and reports whether it is
// admitted. Once the window elapses the counter restarts at 1.
func (r *RateLimiter) Allow(key string) bool {
	c := r.store.get(key)
	now := r.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.windowStart.IsZero() || now.Sub(c.windowStart) > r.window {
		c.windowStart = now
		c.windowCount = 1
		return true
	}

	c.windowCount++
	return c.windowCount <= r.burst
}
