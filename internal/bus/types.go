package bus

import "context"

// ContentType values reported by transports for inbound messages.
const (
	ContentText     = "chat"
	ContentImage    = "image"
	ContentAudio    = "audio"
	ContentVoice    = "ptt"
	ContentDocument = "document"
	ContentLocation = "location"
)

// InboundMessage represents a message received from a chat transport.
type InboundMessage struct {
	Channel     string            `json:"channel"`
	SenderID    string            `json:"sender_id"`
	ChatID      string            `json:"chat_id"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type"` // Content* constants; empty means text
	IsGroup     bool              `json:"is_group,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to be sent to a chat transport.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// SentMessage is one entry of the transport's "sent from me" log for a chat.
// It is the ground truth of what actually left the account, automation- and
// human-authored alike.
type SentMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds, transport clock
	FromMe    bool   `json:"from_me"`
}

// MessageRouter abstracts inbound message routing between transports and the
// auto-reply runtime.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
}
