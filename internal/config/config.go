// Package config loads replygate configuration from a JSON5 file with
// environment-variable overlays. Secrets (API keys) are env-only and never
// written to the config file.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Bridge    BridgeConfig    `json:"bridge"`
	AutoReply AutoReplyConfig `json:"auto_reply"`
	Providers ProvidersConfig `json:"providers"`
}

// BridgeConfig configures the WhatsApp bridge transport.
type BridgeConfig struct {
	// URL is the bridge WebSocket endpoint (e.g. "ws://localhost:8788/ws").
	URL string `json:"url"`
}

// CannedConfig holds fixed replies for non-text content types.
type CannedConfig struct {
	Image    string `json:"image,omitempty"`
	Audio    string `json:"audio,omitempty"`
	Document string `json:"document,omitempty"` // also used for locations
}

// AutoReplyConfig controls the coordination core.
type AutoReplyConfig struct {
	// AllowFrom/DenyFrom are raw phone numbers; normalized at load time.
	AllowFrom []string `json:"allow_from,omitempty"`
	DenyFrom  []string `json:"deny_from,omitempty"`

	DebounceSeconds   int `json:"debounce_seconds"`
	RateWindowSeconds int `json:"rate_window_seconds"`
	RateMaxBurst      int `json:"rate_max_burst"`
	CooldownHours     int `json:"intervention_cooldown_hours"`

	// GroupTrigger is the keyword required for group messages to be handled.
	GroupTrigger string `json:"group_trigger,omitempty"`

	Canned       CannedConfig `json:"canned,omitempty"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
}

// Debounce returns the debounce quiet period as a duration.
func (a AutoReplyConfig) Debounce() time.Duration {
	return time.Duration(a.DebounceSeconds) * time.Second
}

// RateWindow returns the rolling rate window as a duration.
func (a AutoReplyConfig) RateWindow() time.Duration {
	return time.Duration(a.RateWindowSeconds) * time.Second
}

// Cooldown returns the intervention cooldown as a duration.
func (a AutoReplyConfig) Cooldown() time.Duration {
	return time.Duration(a.CooldownHours) * time.Hour
}

// ProviderConfig configures one LLM backend. APIKey comes from env only.
type ProviderConfig struct {
	APIKey  string `json:"-"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ProvidersConfig selects and configures the reply generator.
type ProvidersConfig struct {
	// Selected names the active provider: "openai", "gemini" or "anthropic".
	Selected string `json:"selected"`

	OpenAI    ProviderConfig `json:"openai,omitempty"`
	Gemini    ProviderConfig `json:"gemini,omitempty"`
	Anthropic ProviderConfig `json:"anthropic,omitempty"`

	// RequestsPerMinute paces LLM API calls globally (0 = unpaced).
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
}
