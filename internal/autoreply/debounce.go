package autoreply

import (
	"log/slog"
	"strings"
	"time"
)

// fragmentSeparator joins buffered fragments on flush, preserving arrival order.
const fragmentSeparator = " \n "

// Debouncer coalesces consecutive inbound fragments for a conversation into
// one batch, firing exactly once after a quiet period. Every new fragment
// replaces the pending timer, so the flush is deferred for as long as the
// sender keeps typing; runaway deferral is bounded upstream by the rate
// limiter, not here.
type Debouncer struct {
	wait    time.Duration
	store   *Store
	flushFn func(key, combined string)
}

// NewDebouncer creates a debouncer over the given store. flushFn receives the
// conversation key and the joined fragment text once the quiet period elapses.
func NewDebouncer(wait time.Duration, store *Store, flushFn func(key, combined string)) *Debouncer {
	return &Debouncer{wait: wait, store: store, flushFn: flushFn}
}

// Append buffers a fragment for key and re-arms the flush timer. Arming
// invalidates any previously scheduled fire via a generation counter, so a
// cancelled timer that already started firing becomes a no-op instead of
// racing the new one.
func (d *Debouncer) Append(key, text string) {
	c := d.store.get(key)

	c.mu.Lock()
	c.pending = append(c.pending, text)
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceGen++
	gen := c.debounceGen
	c.debounceTimer = time.AfterFunc(d.wait, func() {
		d.fire(key, gen)
	})
	buffered := len(c.pending)
	c.mu.Unlock()

	slog.Debug("debounce: fragment buffered", "chat", key, "buffered", buffered, "wait", d.wait)
}

// fire flushes key if the scheduled generation is still current.
func (d *Debouncer) fire(key string, gen uint64) {
	c := d.store.peek(key)
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.debounceGen != gen {
		// Superseded by a newer fragment; that arming owns the next flush.
		c.mu.Unlock()
		return
	}
	combined, ok := c.claimPendingLocked()
	c.mu.Unlock()
	if !ok {
		return
	}
	d.flushFn(key, combined)
}

// Flush immediately flushes any buffered fragments for key, regardless of the
// pending timer. Used on shutdown.
func (d *Debouncer) Flush(key string) {
	c := d.store.peek(key)
	if c == nil {
		return
	}
	c.mu.Lock()
	c.debounceGen++ // invalidate any in-flight fire
	combined, ok := c.claimPendingLocked()
	c.mu.Unlock()
	if !ok {
		return
	}
	d.flushFn(key, combined)
}

// Stop flushes all pending buffers immediately (graceful shutdown).
func (d *Debouncer) Stop() {
	d.store.mu.Lock()
	keys := make([]string, 0, len(d.store.conns))
	for k := range d.store.conns {
		keys = append(keys, k)
	}
	d.store.mu.Unlock()

	for _, key := range keys {
		d.Flush(key)
	}
}

// claimPendingLocked atomically takes ownership of the buffered fragments and
// stops the timer. Caller must hold c.mu. Returns ok=false when the buffer is
// empty (already claimed by a concurrent flush).
func (c *conversation) claimPendingLocked() (string, bool) {
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	if len(c.pending) == 0 {
		return "", false
	}
	frags := c.pending
	c.pending = nil
	return strings.Join(frags, fragmentSeparator), true
}
