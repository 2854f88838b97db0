// Package channels provides the transport abstraction between the chat
// network and the auto-reply runtime. Transports connect an external platform
// (a WhatsApp bridge, a test fake) to the message bus; the coordination logic
// never touches the wire protocol itself.
package channels

import (
	"context"

	"github.com/nextlevelbuilder/replygate/internal/bus"
)

// Channel defines the lifecycle interface all transport implementations satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g. "whatsapp").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool
}

// Transport is the operational surface the auto-reply runtime needs from a
// chat network: send text, read back the account's own sent-message log, and
// drive the typing indicator.
type Transport interface {
	// Send delivers text to a chat and returns the echoed text of the message
	// as the transport recorded it.
	Send(ctx context.Context, chatID, text string) (string, error)

	// RecentFromMe returns the last count messages sent "from me" in a chat,
	// ordered oldest first.
	RecentFromMe(ctx context.Context, chatID string, count int) ([]bus.SentMessage, error)

	// StartTyping and StopTyping toggle the typing indicator for a chat.
	StartTyping(ctx context.Context, chatID string) error
	StopTyping(ctx context.Context, chatID string) error
}

// BaseChannel provides shared state for channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	running bool
}

// NewBaseChannel creates a BaseChannel publishing to the given bus.
func NewBaseChannel(name string, msgBus *bus.MessageBus) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// HandleMessage creates an InboundMessage and publishes it to the bus.
// This is the standard way for channels to forward received messages.
// Admission (allow/deny lists, group gating) is owned by the auto-reply
// pipeline, not the transport.
func (c *BaseChannel) HandleMessage(senderID, chatID, content, contentType string, isGroup bool, metadata map[string]string) {
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:     c.name,
		SenderID:    senderID,
		ChatID:      chatID,
		Content:     content,
		ContentType: contentType,
		IsGroup:     isGroup,
		Metadata:    metadata,
	})
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
