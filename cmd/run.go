package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/replygate/internal/autoreply"
	"github.com/nextlevelbuilder/replygate/internal/bus"
	"github.com/nextlevelbuilder/replygate/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/replygate/internal/config"
	"github.com/nextlevelbuilder/replygate/internal/providers"
)

func runService() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	registry := providers.NewRegistry()
	registerProviders(registry, cfg)

	provider, err := registry.Get(cfg.Providers.Selected)
	if err != nil {
		slog.Error("provider not available", "error", err)
		os.Exit(1)
	}
	slog.Info("reply generator selected", "provider", provider.Name())

	msgBus := bus.New()

	channel, err := whatsapp.New(cfg.Bridge, msgBus)
	if err != nil {
		slog.Error("failed to create whatsapp channel", "error", err)
		os.Exit(1)
	}

	service := autoreply.NewService(autoreply.Options{
		Debounce:     cfg.AutoReply.Debounce(),
		RateWindow:   cfg.AutoReply.RateWindow(),
		RateBurst:    cfg.AutoReply.RateMaxBurst,
		Cooldown:     cfg.AutoReply.Cooldown(),
		GroupTrigger: cfg.AutoReply.GroupTrigger,
		AllowFrom:    cfg.AutoReply.AllowFrom,
		DenyFrom:     cfg.AutoReply.DenyFrom,
		Canned: autoreply.CannedReplies{
			Image:    cfg.AutoReply.Canned.Image,
			Audio:    cfg.AutoReply.Canned.Audio,
			Document: cfg.AutoReply.Canned.Document,
		},
	}, channel, &replyGenerator{provider: provider, system: cfg.AutoReply.SystemPrompt})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := channel.Start(ctx); err != nil {
		slog.Error("failed to start whatsapp channel", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		service.Run(gctx, msgBus)
		return nil
	})

	<-gctx.Done()
	slog.Info("shutting down")
	_ = channel.Stop(context.Background())
	_ = g.Wait()
}

// registerProviders builds provider adapters for every backend with an API key.
func registerProviders(registry *providers.Registry, cfg *config.Config) {
	rpm := cfg.Providers.RequestsPerMinute

	if cfg.Providers.OpenAI.APIKey != "" {
		registry.Register(providers.NewOpenAIProvider(
			"openai",
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.APIBase,
			cfg.Providers.OpenAI.Model,
			rpm,
		))
	}
	if cfg.Providers.Gemini.APIKey != "" {
		registry.Register(providers.NewOpenAIProvider(
			"gemini",
			cfg.Providers.Gemini.APIKey,
			cfg.Providers.Gemini.APIBase,
			cfg.Providers.Gemini.Model,
			rpm,
		))
	}
	if cfg.Providers.Anthropic.APIKey != "" {
		registry.Register(providers.NewAnthropicProvider(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			rpm,
		))
	}
}

// replyGenerator adapts a providers.Provider to the auto-reply collaborator
// contract, mapping recorded turns to LLM chat roles.
type replyGenerator struct {
	provider providers.Provider
	system   string
}

func (g *replyGenerator) Generate(ctx context.Context, key, text string, history []autoreply.Turn) (string, error) {
	msgs := make([]providers.Message, 0, len(history))
	for _, t := range history {
		role := "user"
		if t.Speaker == autoreply.SpeakerAssistant {
			role = "assistant"
		}
		msgs = append(msgs, providers.Message{Role: role, Content: t.Text})
	}
	return g.provider.Generate(ctx, g.system, msgs, text)
}
