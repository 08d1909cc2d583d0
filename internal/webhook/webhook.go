// Package webhook delivers JSON notifications to the report-tracking endpoint
// with bounded exponential-backoff retry.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/wagate/internal/metrics"
	"github.com/nextlevelbuilder/wagate/internal/timing"
	"github.com/nextlevelbuilder/wagate/internal/tracing"
)

const userAgent = "WhatsApp-API-Webhook/1.0"

// Skip reasons for outcomes that never reached the network.
const (
	ReasonDisabled   = "disabled"
	ReasonNoEndpoint = "no_endpoint"
)

// AttemptResult classifies a single delivery attempt.
type AttemptResult string

const (
	AttemptSuccess   AttemptResult = "success"
	AttemptRetryable AttemptResult = "retryable"
	AttemptTerminal  AttemptResult = "terminal"
)

// Attempt records one delivery attempt.
type Attempt struct {
	Number     int           `json:"attemptNumber"`
	Result     AttemptResult `json:"outcome"`
	HTTPStatus int           `json:"httpStatus,omitempty"`
}

// Outcome is the result of a delivery. For retried deliveries the top-level
// fields describe the last attempt.
type Outcome struct {
	Success  bool            `json:"success"`
	Status   int             `json:"status,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Error    string          `json:"error,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Attempts []Attempt       `json:"attempts"`

	elapsedMS int
}

// Terminal reports whether the outcome must not be retried.
func (o Outcome) Terminal() bool {
	return o.Reason == ReasonDisabled || o.Reason == ReasonNoEndpoint
}

// Settings configures delivery. Safe to swap at runtime via Update.
type Settings struct {
	Endpoint string
	Timeout  time.Duration
	Retries  int
	Enabled  bool
}

// Dispatcher posts payloads to the configured endpoint.
type Dispatcher struct {
	mu       sync.RWMutex
	settings Settings
	client   *http.Client
	sleep    timing.SleepFunc
}

// New creates a Dispatcher. Retries below 1 default to 3.
func New(s Settings) *Dispatcher {
	return &Dispatcher{
		settings: normalize(s),
		client:   &http.Client{},
		sleep:    timing.Sleep,
	}
}

func normalize(s Settings) Settings {
	if s.Retries < 1 {
		s.Retries = 3
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	return s
}

// Update replaces the delivery settings.
func (d *Dispatcher) Update(s Settings) {
	s = normalize(s)
	d.mu.Lock()
	d.settings = s
	d.mu.Unlock()
	slog.Info("webhook settings updated", "endpoint", s.Endpoint, "enabled", s.Enabled, "retries", s.Retries)
}

// Settings returns the current delivery settings.
func (d *Dispatcher) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

// Deliver makes a single delivery attempt.
func (d *Dispatcher) Deliver(ctx context.Context, payload interface{}) Outcome {
	out := d.attempt(ctx, d.Settings(), payload)
	out.Attempts = []Attempt{attemptOf(1, out)}
	return out
}

// DeliverWithRetry attempts delivery up to maxAttempts times (0 means the
// configured retries), sleeping 2^(n-1)s between attempt n and n+1. It stops
// early on success or on a disabled/no-endpoint outcome, and returns the
// last attempt's outcome with the full attempt log.
func (d *Dispatcher) DeliverWithRetry(ctx context.Context, payload interface{}, maxAttempts int) Outcome {
	s := d.Settings()
	if maxAttempts <= 0 {
		maxAttempts = s.Retries
	}

	ctx, span := tracing.Tracer().Start(ctx, "webhook.deliver")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.endpoint", s.Endpoint), attribute.Int("webhook.max_attempts", maxAttempts))

	var (
		last Outcome
		log  []Attempt
	)
	for n := 1; n <= maxAttempts; n++ {
		slog.Info("webhook attempt", "attempt", n, "max", maxAttempts)
		last = d.attempt(ctx, s, payload)
		log = append(log, attemptOf(n, last))

		if last.Success || last.Terminal() {
			break
		}
		if n < maxAttempts {
			delay := time.Duration(1<<(n-1)) * time.Second
			slog.Info("webhook retry scheduled", "delay", delay)
			if err := d.sleep(ctx, delay); err != nil {
				slog.Warn("webhook retry aborted", "error", err)
				break
			}
		}
	}
	last.Attempts = log

	span.SetAttributes(attribute.Int("webhook.attempts", len(log)))
	if !last.Success {
		span.SetStatus(codes.Error, last.Error+last.Reason)
		if !last.Terminal() {
			slog.Error("all webhook attempts failed", "attempts", len(log), "status", last.Status, "error", last.Error)
		}
	}
	return last
}

func attemptOf(n int, o Outcome) Attempt {
	a := Attempt{Number: n, HTTPStatus: o.Status}
	switch {
	case o.Success:
		a.Result = AttemptSuccess
	case o.Terminal():
		a.Result = AttemptTerminal
	default:
		a.Result = AttemptRetryable
	}
	metrics.RecordWebhookAttempt(string(a.Result), o.elapsedMS)
	return a
}

func (d *Dispatcher) attempt(ctx context.Context, s Settings, payload interface{}) Outcome {
	if !s.Enabled {
		slog.Debug("webhook disabled, skipping")
		return Outcome{Reason: ReasonDisabled}
	}
	if s.Endpoint == "" {
		slog.Warn("webhook endpoint not configured")
		return Outcome{Reason: ReasonNoEndpoint}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{Error: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := int(time.Since(start).Milliseconds())
	if err != nil {
		slog.Warn("webhook request failed", "endpoint", s.Endpoint, "error", err)
		return Outcome{Error: err.Error(), elapsedMS: elapsed}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("webhook rejected", "endpoint", s.Endpoint, "status", resp.StatusCode)
		return Outcome{Status: resp.StatusCode, Error: fmt.Sprintf("webhook status %d", resp.StatusCode), elapsedMS: elapsed}
	}

	slog.Info("webhook sent", "endpoint", s.Endpoint, "status", resp.StatusCode, "duration_ms", elapsed)
	out := Outcome{Success: true, Status: resp.StatusCode, elapsedMS: elapsed}
	if json.Valid(data) {
		out.Data = data
	}
	return out
}
