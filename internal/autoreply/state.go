// Package autoreply implements the coordination core for automated replies on
// a chat channel shared with human operators: inbound aggregation (debounce),
// per-conversation rate limiting, human-intervention detection, and paced
// multi-part dispatch. Text generation and the chat transport are external
// collaborators.
package autoreply

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/replygate/internal/bus"
)

// Speaker identifies who authored a recorded conversation turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one recorded exchange unit in a conversation history.
type Turn struct {
	Speaker Speaker
	Text    string
}

// conversation is the per-key mutable record. All fields are guarded by mu
// except runMu, which serializes the flush→generate→dispatch phase so a new
// debounce cycle can never interleave with an in-flight dispatch.
type conversation struct {
	mu  sync.Mutex
	key string

	// Debounce aggregation.
	pending       []string
	debounceTimer *time.Timer
	debounceGen   uint64 // arming increments; a fire with a stale gen is a no-op

	// Rolling rate window.
	windowStart time.Time
	windowCount int

	// Reply history and its inactivity TTL. The timer is armed exactly once,
	// when the history is created, and never extended per message.
	history      []Turn
	historyTimer *time.Timer

	// Human intervention flag and its expiry.
	intervened        bool
	interventionTimer *time.Timer

	// Merged "sent from me" window cached across dispatch parts.
	observed []bus.SentMessage

	runMu sync.Mutex
}

// Store holds all active conversation records, keyed by conversation key.
// Records are created lazily on first use and evicted once fully idle.
type Store struct {
	mu    sync.Mutex
	conns map[string]*conversation
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{conns: make(map[string]*conversation)}
}

// get returns the record for key, creating it if needed.
func (s *Store) get(key string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[key]
	if !ok {
		c = &conversation{key: key}
		s.conns[key] = c
	}
	return c
}

// peek returns the record for key without creating it.
func (s *Store) peek(key string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[key]
}

// InterventionActive reports whether automation is suppressed for key.
func (s *Store) InterventionActive(key string) bool {
	c := s.peek(key)
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intervened
}

// MarkIntervention suppresses automation for key until the cooldown elapses.
// Re-marking replaces the previous expiry timer.
func (s *Store) MarkIntervention(key string, cooldown time.Duration) {
	c := s.get(key)
	c.mu.Lock()
	c.intervened = true
	if c.interventionTimer != nil {
		c.interventionTimer.Stop()
	}
	c.interventionTimer = time.AfterFunc(cooldown, func() {
		s.clearIntervention(key)
	})
	c.mu.Unlock()

	slog.Info("automation suspended for conversation", "chat", key, "cooldown", cooldown)
}

// clearIntervention lifts the suppression flag. Idempotent: the flag may
// already have been cleared by other means when the timer fires.
func (s *Store) clearIntervention(key string) {
	c := s.peek(key)
	if c == nil {
		return
	}
	c.mu.Lock()
	wasActive := c.intervened
	c.intervened = false
	if c.interventionTimer != nil {
		c.interventionTimer.Stop()
		c.interventionTimer = nil
	}
	c.mu.Unlock()

	if wasActive {
		slog.Info("automation resumed for conversation", "chat", key)
	}
	s.evictIfIdle(key)
}

// History returns a copy of the recorded turns for key.
func (s *Store) History(key string) []Turn {
	c := s.peek(key)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return nil
	}
	out := make([]Turn, len(c.history))
	copy(out, c.history)
	return out
}

// AppendReplyTurn records one successfully sent reply part. The inbound user
// turn is attached exactly once, with the final part, so the history
// alternates user/assistant turns without duplication. Creating the history
// arms its inactivity TTL; later appends leave the timer untouched, so a
// session expires a fixed time after the first automated reply, not the last.
func (s *Store) AppendReplyTurn(key, sentText, inboundText string, lastPart bool, ttl time.Duration) {
	c := s.get(key)
	c.mu.Lock()
	created := len(c.history) == 0 && c.historyTimer == nil
	if lastPart {
		c.history = append(c.history, Turn{Speaker: SpeakerUser, Text: inboundText})
	}
	c.history = append(c.history, Turn{Speaker: SpeakerAssistant, Text: sentText})
	if created {
		c.historyTimer = time.AfterFunc(ttl, func() {
			s.expireHistory(key)
		})
	}
	c.mu.Unlock()
}

// expireHistory drops the recorded history once its TTL elapses, ending the
// active session. A later inbound message starts a fresh, empty history.
func (s *Store) expireHistory(key string) {
	c := s.peek(key)
	if c == nil {
		return
	}
	c.mu.Lock()
	had := len(c.history) > 0
	c.history = nil
	c.observed = nil
	if c.historyTimer != nil {
		c.historyTimer.Stop()
		c.historyTimer = nil
	}
	c.mu.Unlock()

	if had {
		slog.Info("conversation history expired", "chat", key)
	}
	s.evictIfIdle(key)
}

// evictIfIdle garbage-collects a record whose buffer is empty and whose
// timers have all run out.
func (s *Store) evictIfIdle(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[key]
	if !ok {
		return
	}
	c.mu.Lock()
	idle := len(c.pending) == 0 &&
		c.debounceTimer == nil &&
		len(c.history) == 0 &&
		c.historyTimer == nil &&
		!c.intervened
	c.mu.Unlock()
	if idle {
		delete(s.conns, key)
	}
}

// mergeObservedLocked folds freshly fetched sent-message entries into the
// cached window for the conversation. Caller must hold c.mu.
func (c *conversation) mergeObservedLocked(fetched []bus.SentMessage) []bus.SentMessage {
	c.observed = MergeObserved(c.observed, fetched)
	out := make([]bus.SentMessage, len(c.observed))
	copy(out, c.observed)
	return out
}
