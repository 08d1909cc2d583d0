package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

const (
	assistantPrompt = "Anda adalah asisten AI yang membantu menghasilkan respons yang sesuai dan profesional dalam bahasa Indonesia. Berikan respons yang jelas, informatif, dan sesuai konteks."
	jsonPrompt      = "Anda adalah asisten AI yang menghasilkan respons dalam format JSON yang valid. Pastikan output Anda selalu berupa JSON yang dapat di-parse."
)

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// Report is a structured rendition of a free-form report.
type Report struct {
	Title          string   `json:"title"`
	Category       string   `json:"category"`
	Priority       string   `json:"priority,omitempty"`
	Description    string   `json:"description,omitempty"`
	Location       string   `json:"location,omitempty"`
	Timestamp      string   `json:"timestamp,omitempty"`
	ActionRequired string   `json:"action_required,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// GenerateResponse asks for a plain-text answer to prompt.
func (c *Client) GenerateResponse(ctx context.Context, prompt string, opts CallOptions) (string, error) {
	return c.Chat(ctx, []Message{
		{Role: "system", Content: assistantPrompt},
		{Role: "user", Content: prompt},
	}, opts)
}

// GenerateJSON asks for a JSON answer and decodes it into v. When the model
// wraps the object in prose, the outermost {...} span is decoded instead.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, v interface{}, opts CallOptions) error {
	reply, err := c.Chat(ctx, []Message{
		{Role: "system", Content: jsonPrompt},
		{Role: "user", Content: prompt},
	}, opts)
	if err != nil {
		return err
	}
	return decodeJSON(reply, v)
}

func decodeJSON(reply string, v interface{}) error {
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), v); err == nil {
		return nil
	}
	slog.Warn("ai reply is not bare json, extracting object")
	span := jsonObject.FindString(reply)
	if span == "" {
		return fmt.Errorf("ai: no json object in reply")
	}
	if err := json.Unmarshal([]byte(span), v); err != nil {
		return fmt.Errorf("ai: reply is not valid json: %w", err)
	}
	return nil
}

// StructuredReport converts free-form report text into a Report.
func (c *Client) StructuredReport(ctx context.Context, text string) (*Report, error) {
	prompt := fmt.Sprintf(`Ubah teks laporan berikut menjadi format terstruktur dalam JSON:

Teks: %q

Format JSON yang diharapkan:
{
  "title": "Judul laporan",
  "category": "Kategori masalah",
  "priority": "high/medium/low",
  "description": "Deskripsi detail",
  "location": "Lokasi kejadian (jika ada)",
  "timestamp": "Waktu kejadian (jika disebutkan)",
  "action_required": "Tindakan yang diperlukan",
  "tags": ["tag1", "tag2", "tag3"]
}`, text)

	var r Report
	if err := c.GenerateJSON(ctx, prompt, &r, CallOptions{}); err != nil {
		return nil, err
	}
	return &r, nil
}

// Healthy makes a minimal call and reports whether it produced text.
func (c *Client) Healthy(ctx context.Context) bool {
	if !c.Configured() {
		slog.Warn("ai api key not configured")
		return false
	}
	reply, err := c.GenerateResponse(ctx, "Test", CallOptions{MaxTokens: 10})
	if err != nil {
		slog.Error("ai health check failed", "error", err)
		return false
	}
	return reply != ""
}
