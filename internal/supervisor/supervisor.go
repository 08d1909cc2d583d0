// Package supervisor tracks WhatsApp connection liveness and decides when to
// reconnect and when to throw the session away.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/metrics"
	"github.com/nextlevelbuilder/wagate/internal/transport"
)

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Policy bounds reconnection.
type Policy struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	AttemptIncrement time.Duration
	MaxDelay         time.Duration
}

// DefaultPolicy is 6 attempts, 3s + 2s per attempt, capped at 20s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      6,
		BaseDelay:        3 * time.Second,
		AttemptIncrement: 2 * time.Second,
		MaxDelay:         20 * time.Second,
	}
}

// Delay returns the reconnect delay after the given number of attempts.
func (p Policy) Delay(attempts int) time.Duration {
	return min(p.BaseDelay+time.Duration(attempts)*p.AttemptIncrement, p.MaxDelay)
}

// SignalKind is a supervisor decision the orchestrator must act on.
type SignalKind int

const (
	SignalReconnect SignalKind = iota
	SignalResetSession
)

func (k SignalKind) String() string {
	if k == SignalResetSession {
		return "reset_session"
	}
	return "reconnect"
}

// Signal asks the orchestrator to reconnect or reset the session.
type Signal struct {
	Kind    SignalKind
	Reason  DisconnectReason
	Attempt int
}

// Status is the externally visible connection status.
type Status struct {
	IsConnected       bool   `json:"isConnected"`
	HasPendingPairing bool   `json:"hasQR"`
	PairingPayload    string `json:"qr,omitempty"`
	State             string `json:"state"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
}

// Timer is the handle of a scheduled reconnect.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Options configures a Supervisor.
type Options struct {
	Policy Policy
	Dial   transport.Dialer
	// Signal receives reconnect and reset decisions. It must not block.
	Signal func(Signal)
	// OnUpdate observes every status change. It must not block.
	OnUpdate  func(Status)
	AfterFunc AfterFunc
}

// Supervisor is the connection state machine. Safe for concurrent use.
type Supervisor struct {
	policy    Policy
	dial      transport.Dialer
	signal    func(Signal)
	onUpdate  func(Status)
	afterFunc AfterFunc

	mu       sync.Mutex
	state    State
	attempts int
	qr       string
	timer    Timer
	timerSeq uint64
	stopped  bool
}

// New creates a Supervisor in the Idle state.
func New(opts Options) *Supervisor {
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = DefaultPolicy()
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.Signal == nil {
		opts.Signal = func(Signal) {}
	}
	if opts.OnUpdate == nil {
		opts.OnUpdate = func(Status) {}
	}
	metrics.SetConnectionState(StateIdle.String())
	return &Supervisor{
		policy:    opts.Policy,
		dial:      opts.Dial,
		signal:    opts.Signal,
		onUpdate:  opts.OnUpdate,
		afterFunc: opts.AfterFunc,
	}
}

// Open moves to Connecting and dials the transport. Dial failures return
// the supervisor to Idle without touching the reconnect counter.
func (s *Supervisor) Open(ctx context.Context, auth transport.AuthState) (transport.Client, error) {
	if s.dial == nil {
		return nil, fmt.Errorf("supervisor: no dialer configured")
	}
	s.transition(StateConnecting)
	slog.Info("whatsapp connecting", "auth_files", len(auth.Files))

	client, err := s.dial(ctx, auth)
	if err != nil {
		s.transition(StateIdle)
		return nil, fmt.Errorf("supervisor: open: %w", err)
	}
	return client, nil
}

// HandleConnectionUpdate applies a transport connection update.
func (s *Supervisor) HandleConnectionUpdate(u transport.ConnectionUpdate) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if u.QR != "" {
		s.qr = u.QR
		slog.Info("whatsapp pairing qr received")
	}

	var sig *Signal
	switch u.Connection {
	case transport.ConnConnecting:
		s.setState(StateConnecting)
	case transport.ConnOpen:
		s.setState(StateOpen)
		s.attempts = 0
		s.qr = ""
		s.cancelTimer()
		slog.Info("whatsapp connection opened", "new_login", u.IsNewLogin)
	case transport.ConnClose:
		sig = s.onClose(ClassifyDisconnect(u.StatusCode, u.Reason), u.StatusCode)
	}
	st := s.statusLocked()
	s.mu.Unlock()

	s.onUpdate(st)
	if sig != nil {
		s.signal(*sig)
	}
}

// onClose applies the disconnect policy. Caller holds s.mu.
func (s *Supervisor) onClose(reason DisconnectReason, code int) *Signal {
	s.setState(StateClosed)
	metrics.RecordDisconnect(reason.String())

	if reason == ReasonLoggedOut {
		s.attempts = 0
		s.cancelTimer()
		slog.Warn("whatsapp logged out, not reconnecting", "status_code", code)
		return nil
	}

	s.attempts++
	if reason.RequiresSessionReset() {
		s.attempts = 0
		s.cancelTimer()
		metrics.RecordSessionReset("reason")
		slog.Warn("whatsapp session invalid, requesting reset", "reason", reason, "status_code", code)
		return &Signal{Kind: SignalResetSession, Reason: reason}
	}

	if s.attempts >= s.policy.MaxAttempts {
		attempt := s.attempts
		s.attempts = 0
		s.cancelTimer()
		metrics.RecordSessionReset("max_attempts")
		slog.Warn("whatsapp reconnect attempts exhausted, requesting reset",
			"reason", reason, "attempts", attempt)
		return &Signal{Kind: SignalResetSession, Reason: reason, Attempt: attempt}
	}

	delay := s.policy.Delay(s.attempts)
	s.schedule(delay, Signal{Kind: SignalReconnect, Reason: reason, Attempt: s.attempts})
	slog.Info("whatsapp connection closed, reconnect scheduled",
		"reason", reason, "status_code", code, "attempt", s.attempts, "max_attempts", s.policy.MaxAttempts, "delay", delay)
	return nil
}

// schedule replaces any pending reconnect timer. Caller holds s.mu.
func (s *Supervisor) schedule(d time.Duration, sig Signal) {
	s.cancelTimer()
	s.timerSeq++
	seq := s.timerSeq
	metrics.RecordReconnectScheduled()
	s.timer = s.afterFunc(d, func() {
		s.mu.Lock()
		live := !s.stopped && s.timerSeq == seq && s.timer != nil
		if live {
			s.timer = nil
		}
		s.mu.Unlock()
		if live {
			s.signal(sig)
		}
	})
}

// cancelTimer stops the pending reconnect, if any. Caller holds s.mu.
func (s *Supervisor) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
}

// Status returns a snapshot of the connection status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Supervisor) statusLocked() Status {
	return Status{
		IsConnected:       s.state == StateOpen,
		HasPendingPairing: s.qr != "",
		PairingPayload:    s.qr,
		State:             s.state.String(),
		ReconnectAttempts: s.attempts,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PendingReconnect reports whether a reconnect timer is armed.
func (s *Supervisor) PendingReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Reset clears counters, the pending timer and any cached QR, and returns to Idle.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	s.cancelTimer()
	s.attempts = 0
	s.qr = ""
	s.setState(StateIdle)
	st := s.statusLocked()
	s.mu.Unlock()
	slog.Info("whatsapp connection state reset")
	s.onUpdate(st)
}

// Stop cancels the pending timer and suppresses further signals.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTimer()
	s.stopped = true
}

func (s *Supervisor) transition(st State) {
	s.mu.Lock()
	s.setState(st)
	status := s.statusLocked()
	s.mu.Unlock()
	s.onUpdate(status)
}

// setState records st. Caller holds s.mu.
func (s *Supervisor) setState(st State) {
	if s.state != st {
		slog.Debug("whatsapp connection state", "from", s.state, "to", st)
	}
	s.state = st
	metrics.SetConnectionState(st.String())
}
