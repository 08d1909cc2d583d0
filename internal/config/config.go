package config

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/triggers"
)

// Config is the root configuration for the wagate gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Session   SessionConfig   `json:"session"`
	Webhook   WebhookConfig   `json:"webhook"`
	Upload    UploadConfig    `json:"upload,omitempty"`
	AI        AIConfig        `json:"ai,omitempty"`
	Triggers  TriggersConfig  `json:"triggers"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// GatewayConfig controls the HTTP listener.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token,omitempty"`           // bearer token for /api routes; empty disables auth
	APIPrefix      string   `json:"api_prefix,omitempty"`      // default "/api"
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // WebSocket origins; empty allows all
}

// WhatsAppConfig configures the bridge connection and inbound handling.
type WhatsAppConfig struct {
	BridgeURL           string `json:"bridge_url"`
	BridgeToken         string `json:"bridge_token,omitempty"`
	MessageAgeThreshold string `json:"message_age_threshold,omitempty"` // Go duration, default "60s"
	BufferCapacity      int    `json:"buffer_capacity,omitempty"`       // recent messages kept in memory, default 10
	MarkOnlineOnConnect bool   `json:"mark_online_on_connect,omitempty"`
	PrintQR             bool   `json:"print_qr"`
	SendRatePerMinute   int    `json:"send_rate_per_minute,omitempty"` // default 20
}

// SessionConfig selects where auth files live.
type SessionConfig struct {
	Driver          string `json:"driver"`                     // "file" (default), "sqlite" or "postgres"
	Path            string `json:"path"`                       // auth dir for file, database file for sqlite
	CleanupSchedule string `json:"cleanup_schedule,omitempty"` // cron expression; empty disables the janitor
	CleanupMaxAge   string `json:"cleanup_max_age,omitempty"`  // Go duration, default "168h"
	PostgresDSN     string `json:"-"`                          // from env WAGATE_POSTGRES_DSN only
}

// WebhookConfig configures outbound report notifications.
type WebhookConfig struct {
	Endpoint string `json:"endpoint"`
	Timeout  string `json:"timeout,omitempty"` // Go duration, default "10s"
	Retries  int    `json:"retries,omitempty"` // default 3
	Enabled  bool   `json:"enabled"`
}

// UploadConfig configures the media upload collaborator.
type UploadConfig struct {
	Endpoint          string `json:"endpoint,omitempty"`
	Timeout           string `json:"timeout,omitempty"`       // Go duration, default "30s"
	MaxFileSize       int64  `json:"max_file_size,omitempty"` // bytes, default 10 MiB
	MaxImageDimension int    `json:"max_image_dimension,omitempty"`
	APIKey            string `json:"-"` // from env UPLOAD_API_KEY / WAGATE_UPLOAD_API_KEY only
}

// AIConfig configures the OpenRouter chat completion client.
type AIConfig struct {
	APIKey      string  `json:"-"` // from env OPENROUTER_API_KEY / WAGATE_OPENROUTER_API_KEY only
	Endpoint    string  `json:"endpoint,omitempty"`
	Model       string  `json:"model,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// TriggersConfig overrides the built-in trigger table.
type TriggersConfig struct {
	Enabled bool                  `json:"enabled"`
	List    []triggers.Definition `json:"list,omitempty"` // empty keeps the built-in table
}

// TelemetryConfig configures OpenTelemetry OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // e.g. "localhost:4317"
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"` // default "wagate"
}

// parseDuration returns fallback for empty, invalid or non-positive values.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// AgeThreshold returns the staleness threshold for inbound messages.
func (w WhatsAppConfig) AgeThreshold() time.Duration {
	return parseDuration(w.MessageAgeThreshold, 60*time.Second)
}

func (s SessionConfig) MaxAge() time.Duration {
	return parseDuration(s.CleanupMaxAge, 7*24*time.Hour)
}

func (w WebhookConfig) TimeoutDuration() time.Duration {
	return parseDuration(w.Timeout, 10*time.Second)
}

func (u UploadConfig) TimeoutDuration() time.Duration {
	return parseDuration(u.Timeout, 30*time.Second)
}

func (a AIConfig) TimeoutDuration() time.Duration {
	return parseDuration(a.Timeout, 30*time.Second)
}

// Definitions returns the configured trigger table, or the built-in one.
func (t TriggersConfig) Definitions() []triggers.Definition {
	if len(t.List) == 0 {
		return triggers.DefaultDefinitions()
	}
	return t.List
}
