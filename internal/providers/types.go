// Package providers contains reply-generation collaborators: thin HTTP
// adapters over LLM chat-completion APIs. The coordination core only depends
// on the Provider interface; everything here is replaceable.
package providers

import "context"

// Message is one turn of LLM context.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Provider generates a reply from conversation context plus the new user text.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "gemini", "anthropic").
	Name() string

	// Generate returns reply text for userText given the prior turns.
	// system may be empty. No streaming.
	Generate(ctx context.Context, system string, history []Message, userText string) (string, error)
}
