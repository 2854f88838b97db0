// Package whatsapp connects to a WhatsApp bridge over WebSocket. The bridge
// (e.g. wppconnect / whatsapp-web.js based) owns the actual WhatsApp protocol
// and QR login; this channel exchanges JSON frames with it and exposes the
// transport surface the auto-reply core needs, including the "sent from me"
// message log used for intervention detection.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/replygate/internal/bus"
	"github.com/nextlevelbuilder/replygate/internal/channels"
	"github.com/nextlevelbuilder/replygate/internal/chatkey"
	"github.com/nextlevelbuilder/replygate/internal/config"
)

const (
	queryTimeout     = 10 * time.Second
	maxReconnectWait = 30 * time.Second
)

// frame is the JSON envelope exchanged with the bridge in both directions.
type frame struct {
	Type    string            `json:"type"`
	ID      string            `json:"id,omitempty"`      // request correlation
	To      string            `json:"to,omitempty"`      // outbound target chat
	From    string            `json:"from,omitempty"`    // inbound sender
	Chat    string            `json:"chat,omitempty"`    // inbound chat
	Content string            `json:"content,omitempty"` // message text
	Kind    string            `json:"kind,omitempty"`    // inbound content type
	State   string            `json:"state,omitempty"`   // typing: "start"/"stop"
	Count   int               `json:"count,omitempty"`   // get_messages request
	FromMe  bool              `json:"from_me,omitempty"` // get_messages request
	QR      string            `json:"qr,omitempty"`      // login QR (ascii)
	Status  string            `json:"status,omitempty"`  // session status events
	Msgs    []bus.SentMessage `json:"messages,omitempty"`
}

// Channel connects to a WhatsApp bridge via WebSocket and implements both
// channels.Channel and channels.Transport.
type Channel struct {
	*channels.BaseChannel
	cfg config.BridgeConfig

	mu   sync.Mutex
	conn *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan []bus.SentMessage

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the bridge channel from config.
func New(cfg config.BridgeConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("whatsapp bridge url is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", msgBus),
		cfg:         cfg,
		pending:     make(map[string]chan []bus.SentMessage),
	}, nil
}

// Start connects to the bridge WebSocket and begins listening.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting whatsapp channel", "bridge_url", c.cfg.URL)

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		// Don't fail hard — the reconnect loop will keep trying.
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop()

	c.SetRunning(true)
	return nil
}

// Stop gracefully shuts down the channel.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping whatsapp channel")

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.SetRunning(false)
	return nil
}

// Send delivers text to a chat. The bridge echoes nothing synchronously, so
// the sent text itself is returned as the echoed form.
func (c *Channel) Send(_ context.Context, chatID, text string) (string, error) {
	if err := c.write(frame{Type: "message", To: chatID, Content: text}); err != nil {
		return "", fmt.Errorf("send whatsapp message: %w", err)
	}
	return text, nil
}

// RecentFromMe queries the bridge for the last count messages sent from this
// account in a chat, oldest first. The response is correlated by request ID.
func (c *Channel) RecentFromMe(ctx context.Context, chatID string, count int) ([]bus.SentMessage, error) {
	id := uuid.NewString()

	ch := make(chan []bus.SentMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := frame{Type: "get_messages", ID: id, Chat: chatID, Count: count, FromMe: true}
	if err := c.write(req); err != nil {
		return nil, fmt.Errorf("query sent messages: %w", err)
	}

	timer := time.NewTimer(queryTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("query sent messages: bridge did not answer within %s", queryTimeout)
	case msgs := <-ch:
		return msgs, nil
	}
}

// StartTyping turns the typing indicator on for a chat.
func (c *Channel) StartTyping(_ context.Context, chatID string) error {
	return c.write(frame{Type: "typing", To: chatID, State: "start"})
}

// StopTyping turns the typing indicator off for a chat.
func (c *Channel) StopTyping(_ context.Context, chatID string) error {
	return c.write(frame{Type: "typing", To: chatID, State: "stop"})
}

// write marshals and sends one frame under the connection lock.
func (c *Channel) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal bridge frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// connect establishes the WebSocket connection to the bridge.
func (c *Channel) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("whatsapp bridge connected", "url", c.cfg.URL)
	return nil
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (c *Channel) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("attempting whatsapp bridge reconnect", "backoff", backoff)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, maxReconnectWait)
				continue
			}
			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp read error, will reconnect", "error", err)

			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("invalid whatsapp bridge frame", "error", err)
			continue
		}

		c.handleFrame(f)
	}
}

// handleFrame routes one inbound bridge frame.
func (c *Channel) handleFrame(f frame) {
	switch f.Type {
	case "message":
		if msg, ok := parseInbound(f); ok {
			slog.Debug("whatsapp message received",
				"chat_id", msg.ChatID,
				"content_type", msg.ContentType,
				"preview", channels.Truncate(msg.Content, 50))
			c.HandleMessage(msg.SenderID, msg.ChatID, msg.Content, msg.ContentType, msg.IsGroup, msg.Metadata)
		}
	case "messages":
		c.pendingMu.Lock()
		ch, ok := c.pending[f.ID]
		c.pendingMu.Unlock()
		if ok {
			ch <- f.Msgs
		}
	case "qr":
		// The bridge owns the login flow; surface the code for the operator.
		slog.Info("scan QR code to log in to WhatsApp")
		fmt.Println(f.QR)
	case "status":
		slog.Info("whatsapp session status", "status", f.Status)
	}
}

// parseInbound maps a bridge message frame to a bus.InboundMessage.
func parseInbound(f frame) (bus.InboundMessage, bool) {
	if f.From == "" {
		return bus.InboundMessage{}, false
	}
	chatID := f.Chat
	if chatID == "" {
		chatID = f.From
	}

	contentType := f.Kind
	if contentType == "" {
		contentType = bus.ContentText
	}

	return bus.InboundMessage{
		Channel:     "whatsapp",
		SenderID:    f.From,
		ChatID:      chatID,
		Content:     f.Content,
		ContentType: contentType,
		IsGroup:     chatkey.IsGroup(chatID),
		Metadata:    map[string]string{"message_id": f.ID},
	}, true
}
