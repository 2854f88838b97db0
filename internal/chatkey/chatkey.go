// Package chatkey — canonical conversation key normalization.
//
// Conversation keys follow the WhatsApp JID convention:
//
//	Direct:    {digits}@c.us
//	Group:     {digits}@g.us
//	Broadcast: status@broadcast
//
// Raw phone numbers from config (allow/deny lists) are normalized into the
// direct form so they compare equal to the chat IDs the transport reports.
package chatkey

import "strings"

const (
	// UserSuffix is the JID domain for direct conversations.
	UserSuffix = "@c.us"
	// GroupSuffix is the JID domain for group conversations.
	GroupSuffix = "@g.us"
	// Broadcast is the status broadcast pseudo-chat, never auto-replied to.
	Broadcast = "status@broadcast"
)

// Normalize canonicalizes a raw phone identifier into a conversation key.
// Already-canonical keys (containing "@") pass through unchanged, so the
// function is idempotent.
//
// Brazilian mobile numbers stored with the extra ninth digit (13 digits,
// country code 55) are collapsed to the 12-digit form WhatsApp reports.
func Normalize(raw string) string {
	if strings.ContainsRune(raw, '@') {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) == 13 && strings.HasPrefix(digits, "55") {
		digits = digits[:4] + digits[5:]
	}

	return digits + UserSuffix
}

// NormalizeAll normalizes every entry of a raw phone list.
func NormalizeAll(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, len(raw))
	for i, r := range raw {
		out[i] = Normalize(r)
	}
	return out
}

// IsGroup reports whether key identifies a group conversation.
func IsGroup(key string) bool {
	return strings.HasSuffix(key, GroupSuffix)
}

// IsBroadcast reports whether key is the status broadcast pseudo-chat.
func IsBroadcast(key string) bool {
	return key == Broadcast
}
