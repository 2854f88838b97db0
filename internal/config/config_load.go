package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/replygate/internal/chatkey"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			URL: "ws://localhost:8788/ws",
		},
		AutoReply: AutoReplyConfig{
			DebounceSeconds:   10,
			RateWindowSeconds: 10,
			RateMaxBurst:      20,
			CooldownHours:     8,
		},
		Providers: ProvidersConfig{
			Selected: "gemini",
			OpenAI: ProviderConfig{
				Model: "gpt-4o-mini",
			},
			Gemini: ProviderConfig{
				APIBase: "https://generativelanguage.googleapis.com/v1beta/openai",
				Model:   "gemini-2.0-flash",
			},
			Anthropic: ProviderConfig{
				Model: "claude-3-5-haiku-20241022",
			},
			RequestsPerMinute: 20,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: env-only configuration is supported. A .env file in
// the working directory is loaded first, if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()

	// Allow/deny lists compare against transport chat IDs, so canonicalize
	// them once here.
	cfg.AutoReply.AllowFrom = chatkey.NormalizeAll(cfg.AutoReply.AllowFrom)
	cfg.AutoReply.DenyFrom = chatkey.NormalizeAll(cfg.AutoReply.DenyFrom)

	return cfg, nil
}

// applyEnv overlays environment variables onto the config. Env wins over file.
func (c *Config) applyEnv() {
	setString(&c.Bridge.URL, "REPLYGATE_BRIDGE_URL")

	setList(&c.AutoReply.AllowFrom, "REPLYGATE_ALLOW_FROM")
	setList(&c.AutoReply.DenyFrom, "REPLYGATE_DENY_FROM")
	setInt(&c.AutoReply.DebounceSeconds, "REPLYGATE_DEBOUNCE_SECONDS")
	setInt(&c.AutoReply.RateWindowSeconds, "REPLYGATE_RATE_WINDOW_SECONDS")
	setInt(&c.AutoReply.RateMaxBurst, "REPLYGATE_RATE_MAX_BURST")
	setInt(&c.AutoReply.CooldownHours, "REPLYGATE_COOLDOWN_HOURS")
	setString(&c.AutoReply.GroupTrigger, "REPLYGATE_GROUP_TRIGGER")
	setString(&c.AutoReply.Canned.Image, "REPLYGATE_CANNED_IMAGE")
	setString(&c.AutoReply.Canned.Audio, "REPLYGATE_CANNED_AUDIO")
	setString(&c.AutoReply.Canned.Document, "REPLYGATE_CANNED_DOCUMENT")
	setString(&c.AutoReply.SystemPrompt, "REPLYGATE_SYSTEM_PROMPT")

	setString(&c.Providers.Selected, "REPLYGATE_AI")
	setInt(&c.Providers.RequestsPerMinute, "REPLYGATE_LLM_RPM")

	// Secrets: env only, never persisted.
	setString(&c.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.Providers.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&c.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")

	setString(&c.Providers.OpenAI.Model, "REPLYGATE_OPENAI_MODEL")
	setString(&c.Providers.Gemini.Model, "REPLYGATE_GEMINI_MODEL")
	setString(&c.Providers.Anthropic.Model, "REPLYGATE_ANTHROPIC_MODEL")
}

// Validate checks cross-field requirements before startup.
func (c *Config) Validate() error {
	if c.Bridge.URL == "" {
		return fmt.Errorf("bridge url is required")
	}

	switch c.Providers.Selected {
	case "openai":
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when provider %q is selected", c.Providers.Selected)
		}
	case "gemini":
		if c.Providers.Gemini.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when provider %q is selected", c.Providers.Selected)
		}
	case "anthropic":
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when provider %q is selected", c.Providers.Selected)
		}
	default:
		return fmt.Errorf("unknown provider %q (want openai, gemini or anthropic)", c.Providers.Selected)
	}

	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setList(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
