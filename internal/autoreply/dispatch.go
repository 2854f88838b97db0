package autoreply

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/replygate/internal/channels"
)

const (
	// defaultInterPartDelay separates consecutive reply parts.
	defaultInterPartDelay = time.Second
	// defaultPerCharDelay simulates typing speed: delay per character of a part.
	defaultPerCharDelay = 100 * time.Millisecond
	// dispatchFetchCount is how many recent from-me messages to fetch before
	// each part.
	dispatchFetchCount = 5
)

// Dispatcher sends a multi-part reply with human-like pacing, rechecking for
// operator takeover between parts and aborting mid-send when detected.
type Dispatcher struct {
	store     *Store
	transport channels.Transport
	cooldown  time.Duration // intervention suppression and history TTL

	// Pacing knobs, overridable for tests.
	interPartDelay time.Duration
	perCharDelay   time.Duration
}

// NewDispatcher creates a dispatcher over the given transport. cooldown is
// used both as the intervention suppression TTL and the history inactivity TTL.
func NewDispatcher(store *Store, transport channels.Transport, cooldown time.Duration) *Dispatcher {
	return &Dispatcher{
		store:          store,
		transport:      transport,
		cooldown:       cooldown,
		interPartDelay: defaultInterPartDelay,
		perCharDelay:   defaultPerCharDelay,
	}
}

// Dispatch splits replyText into sentence-like parts and sends them in order
// to target. Before each part it refreshes the observed sent-message window
// and runs intervention detection; a positive result marks the conversation
// suppressed and aborts the remaining parts. A failed send of one part is
// logged and does not abort the rest.
//
// inboundText is the aggregated user input that produced the reply; it is
// recorded as the user turn alongside the final sent part.
func (d *Dispatcher) Dispatch(ctx context.Context, key, target, replyText, inboundText string) error {
	parts := Split(replyText)
	if len(parts) == 0 {
		return nil
	}

	slog.Debug("dispatching reply", "chat", key, "parts", len(parts))

	for i, part := range parts {
		if err := sleepCtx(ctx, d.interPartDelay); err != nil {
			return err
		}

		if d.takeoverDetected(ctx, key, target) {
			d.store.MarkIntervention(key, d.cooldown)
			slog.Info("human operator detected mid-dispatch, aborting remaining parts",
				"chat", key, "parts_sent", i, "parts_total", len(parts))
			return nil
		}

		text := strings.TrimSpace(part)
		if text == "" {
			continue
		}

		if err := d.transport.StartTyping(ctx, target); err != nil {
			slog.Debug("typing indicator failed", "chat", key, "error", err)
		}
		if err := sleepCtx(ctx, time.Duration(len(text))*d.perCharDelay); err != nil {
			return err
		}

		echoed, err := d.transport.Send(ctx, target, text)
		if stopErr := d.transport.StopTyping(ctx, target); stopErr != nil {
			slog.Debug("typing indicator failed", "chat", key, "error", stopErr)
		}
		if err != nil {
			// Best effort: the remaining parts still go out.
			slog.Warn("failed to send reply part", "chat", key, "part", i, "error", err)
			continue
		}
		if echoed == "" {
			echoed = text
		}

		d.store.AppendReplyTurn(key, echoed, inboundText, i == len(parts)-1, d.cooldown)
		slog.Debug("reply part sent", "chat", key, "part", i, "chars", len(text))
	}

	return nil
}

// takeoverDetected refreshes the merged observed window for key and runs the
// intervention detector against it. Fetch failures are treated as "no
// evidence": detection favors availability.
func (d *Dispatcher) takeoverDetected(ctx context.Context, key, target string) bool {
	fetched, err := d.transport.RecentFromMe(ctx, target, dispatchFetchCount)
	if err != nil {
		slog.Warn("could not fetch sent-message window", "chat", key, "error", err)
		return false
	}

	c := d.store.get(key)
	c.mu.Lock()
	observed := c.mergeObservedLocked(fetched)
	history := make([]Turn, len(c.history))
	copy(history, c.history)
	c.mu.Unlock()

	return Detect(history, observed)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
