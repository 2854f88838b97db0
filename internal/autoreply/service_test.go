package autoreply

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/replygate/internal/bus"
)

const testKey = "553188887777@c.us"

// fakeGenerator scripts reply-generation outcomes.
type fakeGenerator struct {
	mu       sync.Mutex
	calls    []string // aggregated texts received
	failures int      // fail this many leading calls
	reply    string
}

func (g *fakeGenerator) Generate(_ context.Context, key, text string, _ []Turn) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, text)
	if g.failures > 0 {
		g.failures--
		return "", fmt.Errorf("model overloaded")
	}
	return g.reply, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGenerator) lastCall() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return ""
	}
	return g.calls[len(g.calls)-1]
}

func newTestService(opts Options, transport *fakeTransport, gen ReplyGenerator) *Service {
	if opts.Debounce == 0 {
		opts.Debounce = 20 * time.Millisecond
	}
	s := NewService(opts, transport, gen)
	s.dispatcher.interPartDelay = 0
	s.dispatcher.perCharDelay = 0
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func textMsg(chatID, content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:     "whatsapp",
		SenderID:    chatID,
		ChatID:      chatID,
		Content:     content,
		ContentType: bus.ContentText,
	}
}

func TestServiceEndToEnd(t *testing.T) {
	transport := newFakeTransport()
	gen := &fakeGenerator{reply: "Hi there."}
	s := newTestService(Options{}, transport, gen)
	ctx := context.Background()

	s.HandleInbound(ctx, textMsg(testKey, "hello"))
	s.HandleInbound(ctx, textMsg(testKey, "are you there?"))

	waitFor(t, time.Second, func() bool { return len(transport.sentMessages()) == 1 })

	if got := gen.callCount(); got != 1 {
		t.Fatalf("expected one generation for the coalesced turn, got %d", got)
	}
	want := "hello \n are you there?"
	if got := gen.lastCall(); got != want {
		t.Errorf("aggregated text = %q, want %q", got, want)
	}
	if sent := transport.sentMessages(); sent[0] != "Hi there." {
		t.Errorf("sent = %q, want %q", sent[0], "Hi there.")
	}
}

func TestServiceGroupRequiresTrigger(t *testing.T) {
	transport := newFakeTransport()
	gen := &fakeGenerator{reply: "ok."}
	s := newTestService(Options{GroupTrigger: "/bot"}, transport, gen)
	ctx := context.Background()

	groupKey := "1203630@g.us"
	msg := textMsg(groupKey, "hello everyone")
	msg.IsGroup = true
	s.HandleInbound(ctx, msg)

	time.Sleep(60 * time.Millisecond)
	if gen.callCount() != 0 {
		t.Fatal("group message without trigger reached the generator")
	}

	msg.Content = "/bot hello"
	s.HandleInbound(ctx, msg)
	waitFor(t, time.Second, func() bool { return gen.callCount() == 1 })
}

func TestServiceBroadcastIgnored(t *testing.T) {
	transport := newFakeTransport()
	gen := &fakeGenerator{reply: "ok."}
	s := newTestService(Options{}, transport, gen)

	s.HandleInbound(context.Background(), textMsg("status@broadcast", "story"))

	time.Sleep(60 * time.Millisecond)
	if gen.callCount() != 0 {
		t.Fatal("broadcast message reached the generator")
	}
}

func TestServiceDenyList(t *testing.T) {
	transport := newFakeTransport()
	gen := &fakeGenerator{reply: "ok."}
	s := newTestService(Options{DenyFrom: []string{testKey}}, transport, gen)

	s.HandleInbound(context.Background(), textMsg(testKey, "hi"))

	time.Sleep(60 * time.Millisecond)
	if gen.callCount() != 0 {
		t.Fatal("denied conversation reached the generator")
	}
}

func TestServiceAllowList(t *testing.T) {
	transport := newFakeTransport()
	gen := &fakeGenerator{reply: "ok."}
	s := newTestService(Options{AllowFrom: []string{"553199990000@c.us"}}, transport, gen)
	ctx := context.Background()

	s.HandleInbound(ctx, textMsg(testKey, "hi"))
	time.Sleep(60 * time.Millisecond)
	if gen.callCount() != 0 {
		t.Fatal("unlisted conversation reached the generator")
	}

	s.HandleInbound(ctx, textMsg("553199990000@c.us", "hi"))
	waitFor(t, time.Second, func() bool { return gen.callCount() == 1 })
}

func TestServiceCannedMediaReplies(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{bus.ContentImage, "no images please"},
		{bus.ContentAudio, "text only"},
		{bus.ContentVoice, "text only"},
		{bus.ContentDocument, "cannot open that"},
		{bus.ContentLocation, "cannot open that"},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			transport := newFakeTransport()
			gen := &fakeGenerator{reply: "ok."}
			s := newTestService(Options{
				Canned: CannedReplies{
					Image:    "no images please",
					Audio:    "text only",
					Document: "cannot open that",
				},
			}, transport, gen)

			msg := textMsg(testKey, "")
			msg.ContentType = tt.contentType
			s.HandleInbound(context.Background(), msg)

			sent := transport.sentMessages()
			if len(sent) != 1 || sent[0] != tt.want {
				t.Fatalf("canned reply = %q, want %q", sent, tt.want)
			}
			if gen.callCount() != 0 {
				t.Error("media message must not reach the generator")
			}
		})
	}
}

func TestServiceUnknownContentTypeDropped(t *testing.T) {
	transport := newFakeTransport()
	gen := &fakeGenerator{reply: "ok."}
	s := newTestService(Options{}, transport, gen)

	msg := textMsg(testKey, "")
	msg.ContentType = "sticker"
	s.HandleInbound(context.Background(), msg)

	if len(transport.sentMessages()) != 0 || gen.callCount() != 0 {
		t.Fatal("unknown content type must be dropped silently")
	}
}

func TestServiceRateLimitDropsExcess(t *testing.T) {
	transport := newFakeTransport()
	gen := &fakeGenerator{reply: "ok."}
	s := newTestService(Options{RateBurst: 2, RateWindow: time.Hour}, transport, gen)
	ctx := context.Background()

	s.HandleInbound(ctx, textMsg(testKey, "one"))
	s.HandleInbound(ctx, textMsg(testKey, "two"))
	s.HandleInbound(ctx, textMsg(testKey, "three")) // over burst

	waitFor(t, time.Second, func() bool { return gen.callCount() == 1 })
	want := "one \n two"
	if got := gen.lastCall(); got != want {
		t.Errorf("aggregated text = %q, want %q (over-burst fragment must be dropped)", got, want)
	}
}

func TestServiceGenerationRetriesThenSucceeds(t *testing.T) {
	transport := newFakeTransport()
	gen := &fakeGenerator{reply: "finally.", failures: 2}
	s := newTestService(Options{}, transport, gen)

	s.HandleInbound(context.Background(), textMsg(testKey, "hi"))

	waitFor(t, time.Second, func() bool { return len(transport.sentMessages()) == 1 })
	if got := gen.callCount(); got != 3 {
		t.Errorf("expected 3 attempts (2 failures + success), got %d", got)
	}
}

func TestServiceGenerationExhaustionLosesTurn(t *testing.T) {
	transport := newFakeTransport()
	gen := &fakeGenerator{reply: "never.", failures: 3}
	s := newTestService(Options{}, transport, gen)
	ctx := context.Background()

	s.HandleInbound(ctx, textMsg(testKey, "first"))
	waitFor(t, time.Second, func() bool { return gen.callCount() == 3 })

	time.Sleep(30 * time.Millisecond)
	if len(transport.sentMessages()) != 0 {
		t.Fatal("exhausted generation must not send anything")
	}

	// The buffer was claimed before generation: the next message starts a
	// fresh cycle and must not replay the lost turn.
	s.HandleInbound(ctx, textMsg(testKey, "second"))
	waitFor(t, time.Second, func() bool { return gen.callCount() == 4 })
	if got := gen.lastCall(); got != "second" {
		t.Errorf("stale input replayed: %q", got)
	}
}

func TestServiceInterventionFlagBlocksConversation(t *testing.T) {
	transport := newFakeTransport()
	gen := &fakeGenerator{reply: "ok."}
	s := newTestService(Options{}, transport, gen)

	s.store.MarkIntervention(testKey, time.Hour)
	s.HandleInbound(context.Background(), textMsg(testKey, "hi"))

	time.Sleep(60 * time.Millisecond)
	if gen.callCount() != 0 {
		t.Fatal("suppressed conversation reached the generator")
	}
}

func TestServiceAdmissionDetectorStandsDown(t *testing.T) {
	transport := newFakeTransport()
	gen := &fakeGenerator{reply: "ok."}
	s := newTestService(Options{}, transport, gen)
	ctx := context.Background()

	// Simulate a prior automated reply, then a human message in the
	// transport's sent log.
	s.store.AppendReplyTurn(testKey, "auto reply", "question", true, time.Hour)
	transport.windows = [][]bus.SentMessage{{
		fromMe("1", "auto reply", 1),
		fromMe("2", "hi, human agent here", 2),
	}}

	s.HandleInbound(ctx, textMsg(testKey, "hello again"))

	if !s.store.InterventionActive(testKey) {
		t.Fatal("detector did not stand down on human takeover")
	}
	time.Sleep(60 * time.Millisecond)
	if gen.callCount() != 0 {
		t.Fatal("message processed despite detected takeover")
	}
}

func TestServiceInterventionExpiryResumes(t *testing.T) {
	transport := newFakeTransport()
	gen := &fakeGenerator{reply: "ok."}
	s := newTestService(Options{}, transport, gen)
	ctx := context.Background()

	s.store.MarkIntervention(testKey, 30*time.Millisecond)
	waitFor(t, time.Second, func() bool { return !s.store.InterventionActive(testKey) })

	s.HandleInbound(ctx, textMsg(testKey, "hello"))
	waitFor(t, time.Second, func() bool { return gen.callCount() == 1 })
}

func TestServiceHistoryExpiryStartsFresh(t *testing.T) {
	transport := newFakeTransport()
	gen := &fakeGenerator{reply: "Sure."}
	s := newTestService(Options{Cooldown: 50 * time.Millisecond}, transport, gen)
	ctx := context.Background()

	s.HandleInbound(ctx, textMsg(testKey, "hi"))
	waitFor(t, time.Second, func() bool { return len(s.store.History(testKey)) > 0 })

	waitFor(t, time.Second, func() bool { return len(s.store.History(testKey)) == 0 })

	// After expiry a new message runs against a fresh, empty history: the
	// admission detector has nothing to compare and must not fetch windows
	// that would stand automation down.
	transport.windows = [][]bus.SentMessage{{
		fromMe("9", "some human text", 9),
	}}
	s.HandleInbound(ctx, textMsg(testKey, "hello again"))
	waitFor(t, time.Second, func() bool { return gen.callCount() == 2 })
	if s.store.InterventionActive(testKey) {
		t.Error("fresh history must not trigger intervention")
	}
}
