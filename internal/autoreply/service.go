package autoreply

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/replygate/internal/bus"
	"github.com/nextlevelbuilder/replygate/internal/channels"
	"github.com/nextlevelbuilder/replygate/internal/chatkey"
)

// maxGenerateAttempts bounds reply-generation retries. Retries are immediate;
// after the last failure the turn is surfaced as lost, never replayed.
const maxGenerateAttempts = 3

// admissionFetchCount is how many recent from-me messages the admission-time
// intervention check examines.
const admissionFetchCount = 20

// ReplyGenerator is the external collaborator that produces reply text for an
// aggregated inbound message. It may fail and is retried by the service.
type ReplyGenerator interface {
	Generate(ctx context.Context, key, text string, history []Turn) (string, error)
}

// CannedReplies are fixed responses for non-text content types.
type CannedReplies struct {
	Image    string
	Audio    string
	Document string // also covers location and other unsupported attachments
}

// Options configures the auto-reply service. Zero values fall back to the
// documented defaults.
type Options struct {
	// Debounce is the quiet period before buffered fragments are flushed.
	Debounce time.Duration
	// RateWindow / RateBurst bound messages admitted per conversation.
	RateWindow time.Duration
	RateBurst  int
	// Cooldown suppresses automation after detected intervention, and doubles
	// as the history inactivity TTL.
	Cooldown time.Duration
	// GroupTrigger is the keyword required in group messages ("" disables
	// group handling entirely).
	GroupTrigger string
	// AllowFrom / DenyFrom are normalized conversation keys. A non-empty
	// allow list admits only listed keys; the deny list always wins.
	AllowFrom []string
	DenyFrom  []string
	Canned    CannedReplies
}

func (o *Options) withDefaults() {
	if o.Debounce <= 0 {
		o.Debounce = 10 * time.Second
	}
	if o.RateWindow <= 0 {
		o.RateWindow = 10 * time.Second
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 20
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 8 * time.Hour
	}
}

// Service wires the admission pipeline, debounce aggregation, rate limiting,
// intervention detection, reply generation, and dispatch for one transport.
//
// Per conversation key the flush→generate→dispatch phase is strictly
// sequential; fragments arriving mid-dispatch buffer for the next cycle.
// Distinct conversations run fully concurrently.
type Service struct {
	opts       Options
	store      *Store
	debouncer  *Debouncer
	limiter    *RateLimiter
	dispatcher *Dispatcher
	transport  channels.Transport
	generator  ReplyGenerator

	allow map[string]bool
	deny  map[string]bool
}

// NewService creates the auto-reply service.
func NewService(opts Options, transport channels.Transport, generator ReplyGenerator) *Service {
	opts.withDefaults()

	store := NewStore()
	s := &Service{
		opts:       opts,
		store:      store,
		limiter:    NewRateLimiter(opts.RateWindow, opts.RateBurst, store),
		dispatcher: NewDispatcher(store, transport, opts.Cooldown),
		transport:  transport,
		generator:  generator,
		allow:      keySet(opts.AllowFrom),
		deny:       keySet(opts.DenyFrom),
	}
	s.debouncer = NewDebouncer(opts.Debounce, store, s.flush)
	return s
}

func keySet(keys []string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// Run consumes inbound messages from the bus until ctx is cancelled, then
// flushes any pending buffers.
func (s *Service) Run(ctx context.Context, router bus.MessageRouter) {
	slog.Info("auto-reply service started",
		"debounce", s.opts.Debounce,
		"rate_window", s.opts.RateWindow,
		"rate_burst", s.opts.RateBurst,
		"cooldown", s.opts.Cooldown)

	for {
		msg, ok := router.ConsumeInbound(ctx)
		if !ok {
			s.debouncer.Stop()
			slog.Info("auto-reply service stopped")
			return
		}
		s.HandleInbound(ctx, msg)
	}
}

// HandleInbound runs one inbound message through the admission pipeline:
// broadcast/group gating, intervention flag, deny/allow lists, takeover
// detection, media shortcuts, rate limiting, and finally debounce buffering.
// Group and direct messages share this single path, parameterized only by the
// trigger-keyword requirement.
func (s *Service) HandleInbound(ctx context.Context, msg bus.InboundMessage) {
	key := chatkey.Normalize(msg.ChatID)

	if chatkey.IsBroadcast(key) {
		return
	}
	if msg.IsGroup && (s.opts.GroupTrigger == "" || !strings.Contains(msg.Content, s.opts.GroupTrigger)) {
		return
	}

	if s.store.InterventionActive(key) {
		return
	}

	if s.deny[key] {
		slog.Debug("conversation on deny list, ignoring", "chat", key)
		return
	}
	if len(s.allow) > 0 && !s.allow[key] {
		slog.Debug("conversation not on allow list, ignoring", "chat", key)
		return
	}

	// Takeover check against the transport's own sent log. Only meaningful
	// once automation has recorded replies to compare against.
	if history := s.store.History(key); len(history) > 0 {
		observed, err := s.transport.RecentFromMe(ctx, key, admissionFetchCount)
		if err != nil {
			slog.Warn("could not fetch sent-message window", "chat", key, "error", err)
		} else if Detect(history, observed) {
			s.store.MarkIntervention(key, s.opts.Cooldown)
			slog.Info("human operator active in conversation, standing down", "chat", key)
			return
		}
	}

	switch msg.ContentType {
	case bus.ContentText, "":
		// Falls through to aggregation.
	case bus.ContentImage:
		s.sendCanned(ctx, key, s.opts.Canned.Image)
		return
	case bus.ContentAudio, bus.ContentVoice:
		s.sendCanned(ctx, key, s.opts.Canned.Audio)
		return
	case bus.ContentDocument, bus.ContentLocation:
		s.sendCanned(ctx, key, s.opts.Canned.Document)
		return
	default:
		return
	}

	if !s.limiter.Allow(key) {
		slog.Debug("rate limit exceeded, ignoring message", "chat", key)
		return
	}

	slog.Debug("message admitted, waiting for more fragments",
		"chat", key, "preview", channels.Truncate(msg.Content, 50))
	s.debouncer.Append(key, msg.Content)
}

// flush is invoked by the debouncer once a conversation's quiet period
// elapses. The buffer has already been claimed; a generation failure here
// loses the turn rather than replaying stale input on the next message.
func (s *Service) flush(key, combined string) {
	c := s.store.get(key)
	c.runMu.Lock()
	defer c.runMu.Unlock()

	ctx := context.Background()

	if s.store.InterventionActive(key) {
		slog.Debug("flush skipped, automation suspended", "chat", key)
		return
	}

	reply, err := s.generateWithRetry(ctx, key, combined)
	if err != nil {
		slog.Error("reply generation failed, turn lost", "chat", key, "error", err)
		s.store.evictIfIdle(key)
		return
	}

	if err := s.dispatcher.Dispatch(ctx, key, key, reply, combined); err != nil {
		slog.Warn("dispatch interrupted", "chat", key, "error", err)
	}
	s.store.evictIfIdle(key)
}

// generateWithRetry calls the reply generator up to maxGenerateAttempts
// times, immediately, and returns the last error if all attempts fail.
func (s *Service) generateWithRetry(ctx context.Context, key, text string) (string, error) {
	history := s.store.History(key)

	var lastErr error
	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		reply, err := s.generator.Generate(ctx, key, text, history)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		slog.Warn("reply generation attempt failed",
			"chat", key, "attempt", attempt, "max_attempts", maxGenerateAttempts, "error", err)
	}
	return "", lastErr
}

// sendCanned delivers a fixed response for unsupported content types,
// bypassing aggregation and history entirely.
func (s *Service) sendCanned(ctx context.Context, key, text string) {
	if text == "" {
		return
	}
	if _, err := s.transport.Send(ctx, key, text); err != nil {
		slog.Warn("failed to send canned reply", "chat", key, "error", err)
	}
}
