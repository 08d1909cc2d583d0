package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/wagate/internal/triggers"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:      "0.0.0.0",
			Port:      5000,
			APIPrefix: "/api",
		},
		WhatsApp: WhatsAppConfig{
			BridgeURL:           "ws://127.0.0.1:8765/bridge",
			MessageAgeThreshold: "60s",
			BufferCapacity:      10,
			PrintQR:             true,
			SendRatePerMinute:   20,
		},
		Session: SessionConfig{
			Driver:        "file",
			Path:          "./auth_info_baileys",
			CleanupMaxAge: "168h",
		},
		Webhook: WebhookConfig{
			Timeout: "10s",
			Retries: 3,
			Enabled: true,
		},
		Upload: UploadConfig{
			Endpoint:    "http://localhost:4500/api/media/upload",
			Timeout:     "30s",
			MaxFileSize: 10 * 1024 * 1024,
		},
		AI: AIConfig{
			Endpoint:    "https://openrouter.ai/api/v1/chat/completions",
			Model:       "anthropic/claude-3.5-sonnet",
			Timeout:     "30s",
			MaxTokens:   4000,
			Temperature: 0.7,
		},
		Triggers: TriggersConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "wagate",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the gateway cannot start with.
func (c *Config) Validate() error {
	switch c.Session.Driver {
	case "file", "sqlite":
		if c.Session.Path == "" {
			return fmt.Errorf("config: session.path is required")
		}
	case "postgres":
		if c.Session.PostgresDSN == "" {
			return fmt.Errorf("config: session.driver \"postgres\" needs WAGATE_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: session.driver must be \"file\", \"sqlite\" or \"postgres\", got %q", c.Session.Driver)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("config: gateway.port out of range: %d", c.Gateway.Port)
	}
	if _, err := triggers.NewTable(c.Triggers.Definitions()); err != nil {
		return fmt.Errorf("config: triggers: %w", err)
	}
	return nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values. The unprefixed names are kept
// for older deployments.
func (c *Config) applyEnvOverrides() {
	envStr := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}
	envInt := func(dst *int, keys ...string) {
		var s string
		envStr(&s, keys...)
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			*dst = n
		}
	}
	envBool := func(dst *bool, keys ...string) {
		var s string
		envStr(&s, keys...)
		if s != "" {
			*dst = s == "true" || s == "1"
		}
	}
	// envMillis reads a millisecond count and stores it as a Go duration.
	envMillis := func(dst *string, keys ...string) {
		var s string
		envStr(&s, keys...)
		if ms, err := strconv.Atoi(s); err == nil && ms > 0 {
			*dst = (time.Duration(ms) * time.Millisecond).String()
		}
	}

	// Gateway
	envStr(&c.Gateway.Host, "WAGATE_HOST")
	envInt(&c.Gateway.Port, "WAGATE_PORT", "PORT")
	envStr(&c.Gateway.Token, "WAGATE_GATEWAY_TOKEN")
	envStr(&c.Gateway.APIPrefix, "WAGATE_API_PREFIX", "API_PREFIX")
	if v := os.Getenv("WAGATE_ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = strings.Split(v, ",")
	}

	// WhatsApp
	envStr(&c.WhatsApp.BridgeURL, "WAGATE_BRIDGE_URL")
	envStr(&c.WhatsApp.BridgeToken, "WAGATE_BRIDGE_TOKEN")
	var ageSec int
	envInt(&ageSec, "WAGATE_MESSAGE_AGE_THRESHOLD", "MESSAGE_AGE_THRESHOLD")
	if ageSec > 0 {
		c.WhatsApp.MessageAgeThreshold = (time.Duration(ageSec) * time.Second).String()
	}
	envInt(&c.WhatsApp.BufferCapacity, "WAGATE_BUFFER_CAPACITY")
	envInt(&c.WhatsApp.SendRatePerMinute, "WAGATE_SEND_RATE_PER_MINUTE")
	envBool(&c.WhatsApp.PrintQR, "WAGATE_PRINT_QR")

	// Session
	envStr(&c.Session.Driver, "WAGATE_SESSION_DRIVER")
	envStr(&c.Session.Path, "WAGATE_SESSION_PATH", "SESSION_PATH")
	envStr(&c.Session.CleanupSchedule, "WAGATE_SESSION_CLEANUP_SCHEDULE")
	envStr(&c.Session.PostgresDSN, "WAGATE_POSTGRES_DSN")

	// Webhook
	envStr(&c.Webhook.Endpoint, "WAGATE_WEBHOOK_ENDPOINT", "WEBHOOK_ENDPOINT", "WEBHOOK_URL")
	envMillis(&c.Webhook.Timeout, "WAGATE_WEBHOOK_TIMEOUT_MS", "WEBHOOK_TIMEOUT")
	envInt(&c.Webhook.Retries, "WAGATE_WEBHOOK_RETRIES", "WEBHOOK_RETRIES")
	envBool(&c.Webhook.Enabled, "WAGATE_WEBHOOK_ENABLED", "WEBHOOK_ENABLED")

	// Upload
	envStr(&c.Upload.Endpoint, "WAGATE_UPLOAD_ENDPOINT", "UPLOAD_ENDPOINT")
	envStr(&c.Upload.APIKey, "WAGATE_UPLOAD_API_KEY", "UPLOAD_API_KEY")
	envMillis(&c.Upload.Timeout, "WAGATE_UPLOAD_TIMEOUT_MS", "UPLOAD_TIMEOUT")
	var maxSize int
	envInt(&maxSize, "WAGATE_MAX_FILE_SIZE", "MAX_FILE_SIZE")
	if maxSize > 0 {
		c.Upload.MaxFileSize = int64(maxSize)
	}

	// AI
	envStr(&c.AI.APIKey, "WAGATE_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	envStr(&c.AI.Endpoint, "WAGATE_OPENROUTER_ENDPOINT", "OPENROUTER_ENDPOINT")
	envStr(&c.AI.Model, "WAGATE_OPENROUTER_MODEL", "OPENROUTER_MODEL")
	envMillis(&c.AI.Timeout, "WAGATE_OPENROUTER_TIMEOUT_MS", "OPENROUTER_TIMEOUT")
	envInt(&c.AI.MaxTokens, "WAGATE_OPENROUTER_MAX_TOKENS", "OPENROUTER_MAX_TOKENS")
	var temp string
	envStr(&temp, "WAGATE_OPENROUTER_TEMPERATURE", "OPENROUTER_TEMPERATURE")
	if t, err := strconv.ParseFloat(temp, 64); err == nil && t >= 0 {
		c.AI.Temperature = t
	}

	// Triggers
	envBool(&c.Triggers.Enabled, "WAGATE_TRIGGERS_ENABLED")

	// Telemetry
	envBool(&c.Telemetry.Enabled, "WAGATE_TELEMETRY_ENABLED")
	envStr(&c.Telemetry.Endpoint, "WAGATE_TELEMETRY_ENDPOINT")
	envStr(&c.Telemetry.Protocol, "WAGATE_TELEMETRY_PROTOCOL")
	envStr(&c.Telemetry.ServiceName, "WAGATE_TELEMETRY_SERVICE_NAME")
	envBool(&c.Telemetry.Insecure, "WAGATE_TELEMETRY_INSECURE")
}

// Save writes the config to a JSON file. Secrets are never written.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	cp := cfg.snapshotLocked()
	cp.Gateway.Token = ""
	cp.WhatsApp.BridgeToken = ""

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 of the config, used to detect real changes on reload.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c.snapshotLocked())
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// snapshotLocked copies every section. Caller holds c.mu.
func (c *Config) snapshotLocked() *Config {
	return &Config{
		Gateway:   c.Gateway,
		WhatsApp:  c.WhatsApp,
		Session:   c.Session,
		Webhook:   c.Webhook,
		Upload:    c.Upload,
		AI:        c.AI,
		Triggers:  c.Triggers,
		Telemetry: c.Telemetry,
	}
}

const secretMask = "***"

// MaskedCopy returns a copy of the config with secret fields masked, for
// display by CLI commands.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	cp := c.snapshotLocked()
	c.mu.RUnlock()

	maskNonEmpty(&cp.Gateway.Token)
	maskNonEmpty(&cp.WhatsApp.BridgeToken)
	maskNonEmpty(&cp.Upload.APIKey)
	maskNonEmpty(&cp.AI.APIKey)
	maskNonEmpty(&cp.Session.PostgresDSN)
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
