package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// OpenAIProvider implements Provider for OpenAI-compatible chat-completion
// APIs (OpenAI, Gemini's OpenAI endpoint, Groq, OpenRouter, etc.)
type OpenAIProvider struct {
	name    string
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewOpenAIProvider creates an adapter for an OpenAI-compatible API.
// rpm > 0 paces requests globally across all conversations; a runaway
// feedback loop should never hammer the upstream API.
func NewOpenAIProvider(name, apiKey, apiBase, model string, rpm int) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	var limiter *rate.Limiter
	if rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
	}

	return &OpenAIProvider{
		name:    name,
		apiKey:  apiKey,
		apiBase: apiBase,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
		limiter: limiter,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

type openAIRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate sends a non-streaming chat completion request.
func (p *OpenAIProvider) Generate(ctx context.Context, system string, history []Message, userText string) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%s rate wait: %w", p.name, err)
		}
	}

	msgs := make([]Message, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: "user", Content: userText})

	body, err := json.Marshal(openAIRequest{Model: p.model, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("marshal %s request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request: %w", p.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", p.name, err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parse %s response (status %d): %w", p.name, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("%s API error (status %d): %s", p.name, resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("%s API error: status %d", p.name, resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s API returned no choices", p.name)
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
