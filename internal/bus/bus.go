package bus

import (
	"context"
	"log/slog"
)

const inboundQueueSize = 256

// MessageBus routes inbound messages from transports to the auto-reply
// consumer. Buffered so a slow consumer does not block transport read loops.
type MessageBus struct {
	inbound chan InboundMessage
}

// New creates a message bus.
func New() *MessageBus {
	return &MessageBus{
		inbound: make(chan InboundMessage, inboundQueueSize),
	}
}

// PublishInbound enqueues an inbound message. Drops the message if the queue
// is full rather than blocking the transport.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound queue full, dropping message",
			"channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
// The second return value is false when ctx was cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}
