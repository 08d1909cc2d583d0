// Package ai calls an OpenAI-compatible chat completions endpoint (OpenRouter
// by default) to turn free-form report text into structured fields.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("ai: api key not configured")

// Config mirrors the "ai" config section.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// DefaultConfig returns the OpenRouter defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:    "https://openrouter.ai/api/v1/chat/completions",
		Model:       "anthropic/claude-3.5-sonnet",
		Timeout:     30 * time.Second,
		MaxTokens:   4000,
		Temperature: 0.7,
	}
}

// HTTPError is a non-200 reply from the completions endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallOptions overrides per-call generation parameters. Zero fields keep
// the configured values.
type CallOptions struct {
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Client talks to the completions endpoint. Safe for concurrent use.
type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// Chat sends messages and returns the first choice's content.
func (c *Client) Chat(ctx context.Context, msgs []Message, opts CallOptions) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	model := c.cfg.Model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := c.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := c.cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	body := map[string]interface{}{
		"model":       model,
		"messages":    msgs,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"stream":      false,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("ai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("ai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("HTTP-Referer", "https://whatsapp-api.local")
	req.Header.Set("X-Title", "WhatsApp API AI Assistant")

	slog.Info("calling completions api", "model", model, "messages", len(msgs), "max_tokens", maxTokens)
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("ai: response has no choices")
	}
	content := out.Choices[0].Message.Content
	tokens := 0
	if out.Usage != nil {
		tokens = out.Usage.TotalTokens
	}
	slog.Info("completions api responded", "length", len(content), "tokens", tokens)
	return content, nil
}
