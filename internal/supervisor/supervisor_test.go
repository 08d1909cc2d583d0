package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/transport"
)

// fakeClock records scheduled reconnects instead of waiting for them.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

type recorder struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *recorder) record(s Signal) {
	r.mu.Lock()
	r.signals = append(r.signals, s)
	r.mu.Unlock()
}

func (r *recorder) count(kind SignalKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.signals {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func newTestSupervisor() (*Supervisor, *fakeClock, *recorder) {
	clock := &fakeClock{}
	rec := &recorder{}
	s := New(Options{
		Policy:    DefaultPolicy(),
		Signal:    rec.record,
		AfterFunc: clock.AfterFunc,
	})
	return s, clock, rec
}

func closeWith(code int) transport.ConnectionUpdate {
	return transport.ConnectionUpdate{Connection: transport.ConnClose, StatusCode: code}
}

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()
	prev := time.Duration(0)
	for n := 1; n <= 6; n++ {
		d := p.Delay(n)
		want := min(3*time.Second+time.Duration(n)*2*time.Second, 20*time.Second)
		if d != want {
			t.Errorf("Delay(%d) = %v, want %v", n, d, want)
		}
		if d < prev {
			t.Errorf("Delay(%d) = %v decreased from %v", n, d, prev)
		}
		if d > 20*time.Second {
			t.Errorf("Delay(%d) = %v exceeds cap", n, d)
		}
		prev = d
	}
	if got := p.Delay(100); got != 20*time.Second {
		t.Errorf("Delay(100) = %v, want 20s cap", got)
	}
}

func TestClassifyDisconnect(t *testing.T) {
	tests := []struct {
		code  int
		name  string
		want  DisconnectReason
		reset bool
	}{
		{500, "", ReasonBadSession, true},
		{428, "", ReasonConnectionClosed, false},
		{408, "", ReasonConnectionLost, false},
		{408, "timedOut", ReasonTimedOut, false},
		{440, "", ReasonConnectionReplaced, true},
		{401, "", ReasonLoggedOut, true},
		{515, "", ReasonRestartRequired, false},
		{999, "", ReasonUnknown, false},
		{0, "badSession", ReasonBadSession, true},
	}
	for _, tt := range tests {
		got := ClassifyDisconnect(tt.code, tt.name)
		if got != tt.want {
			t.Errorf("ClassifyDisconnect(%d, %q) = %v, want %v", tt.code, tt.name, got, tt.want)
		}
		if got.RequiresSessionReset() != tt.reset {
			t.Errorf("%v.RequiresSessionReset() = %v, want %v", got, got.RequiresSessionReset(), tt.reset)
		}
	}
}

func TestOpenTransitionsAndDialError(t *testing.T) {
	dialErr := errors.New("refused")
	s := New(Options{Dial: func(context.Context, transport.AuthState) (transport.Client, error) {
		return nil, dialErr
	}})
	if _, err := s.Open(context.Background(), transport.AuthState{}); !errors.Is(err, dialErr) {
		t.Fatalf("Open err = %v, want wrapped dial error", err)
	}
	if s.State() != StateIdle {
		t.Errorf("state after dial error = %v, want idle", s.State())
	}
	if s.Status().ReconnectAttempts != 0 {
		t.Error("dial error must not count as a reconnect attempt")
	}
}

func TestOpenResetsAttemptsAndCancelsTimer(t *testing.T) {
	s, clock, _ := newTestSupervisor()
	s.HandleConnectionUpdate(transport.ConnectionUpdate{QR: "2@abc"})
	if st := s.Status(); !st.HasPendingPairing || st.PairingPayload != "2@abc" {
		t.Fatalf("status = %+v, want cached QR", st)
	}

	s.HandleConnectionUpdate(closeWith(428))
	timer := clock.last()
	if timer == nil || timer.d != 5*time.Second {
		t.Fatalf("expected reconnect scheduled after 5s, got %+v", timer)
	}

	s.HandleConnectionUpdate(transport.ConnectionUpdate{Connection: transport.ConnOpen})
	st := s.Status()
	if !st.IsConnected || st.ReconnectAttempts != 0 || st.HasPendingPairing {
		t.Errorf("status after open = %+v", st)
	}
	if !timer.stopped {
		t.Error("pending reconnect timer not cancelled on open")
	}
	if s.PendingReconnect() {
		t.Error("PendingReconnect() = true after open")
	}
}

func TestSixDisconnectsEmitExactlyOneReset(t *testing.T) {
	s, clock, rec := newTestSupervisor()

	for i := 1; i <= 6; i++ {
		s.HandleConnectionUpdate(closeWith(408))
		if i < 6 {
			timer := clock.last()
			if want := DefaultPolicy().Delay(i); timer.d != want {
				t.Errorf("disconnect %d delay = %v, want %v", i, timer.d, want)
			}
		}
	}

	if got := rec.count(SignalResetSession); got != 1 {
		t.Errorf("reset signals = %d, want 1", got)
	}
	if got := s.Status().ReconnectAttempts; got != 0 {
		t.Errorf("attempts after reset = %d, want 0", got)
	}
	if s.PendingReconnect() {
		t.Error("reconnect still pending after reset escalation")
	}
}

func TestResetReasonBypassesBackoff(t *testing.T) {
	for _, code := range []int{500, 440} {
		s, clock, rec := newTestSupervisor()
		s.HandleConnectionUpdate(closeWith(428))
		s.HandleConnectionUpdate(closeWith(code))

		if got := rec.count(SignalResetSession); got != 1 {
			t.Errorf("code %d: reset signals = %d, want 1", code, got)
		}
		if s.Status().ReconnectAttempts != 0 {
			t.Errorf("code %d: attempts not zeroed", code)
		}
		if len(clock.timers) != 1 || !clock.timers[0].stopped {
			t.Errorf("code %d: earlier reconnect not cancelled", code)
		}
	}
}

func TestLoggedOutStopsReconnecting(t *testing.T) {
	s, clock, rec := newTestSupervisor()
	s.HandleConnectionUpdate(closeWith(428))
	s.HandleConnectionUpdate(closeWith(401))

	if len(rec.signals) != 0 {
		t.Errorf("signals after logout = %+v, want none", rec.signals)
	}
	if s.Status().ReconnectAttempts != 0 {
		t.Error("attempts not reset on logout")
	}
	if !clock.timers[0].stopped {
		t.Error("pending reconnect survived logout")
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
}

func TestTimerFiresReconnectSignal(t *testing.T) {
	s, clock, rec := newTestSupervisor()
	s.HandleConnectionUpdate(closeWith(515))
	clock.last().f()

	if got := rec.count(SignalReconnect); got != 1 {
		t.Fatalf("reconnect signals = %d, want 1", got)
	}
	if rec.signals[0].Reason != ReasonRestartRequired || rec.signals[0].Attempt != 1 {
		t.Errorf("signal = %+v", rec.signals[0])
	}
}

func TestSingleSlotTimer(t *testing.T) {
	s, clock, rec := newTestSupervisor()
	s.HandleConnectionUpdate(closeWith(428))
	first := clock.last()
	s.HandleConnectionUpdate(closeWith(428))
	second := clock.last()

	if !first.stopped {
		t.Error("first timer not cancelled by second schedule")
	}
	// A superseded timer that fires anyway must not signal.
	first.f()
	if got := rec.count(SignalReconnect); got != 0 {
		t.Errorf("superseded timer emitted %d signals", got)
	}
	second.f()
	if got := rec.count(SignalReconnect); got != 1 {
		t.Errorf("live timer emitted %d signals, want 1", got)
	}
}

func TestResetAndStop(t *testing.T) {
	s, clock, rec := newTestSupervisor()
	s.HandleConnectionUpdate(transport.ConnectionUpdate{QR: "qr"})
	s.HandleConnectionUpdate(closeWith(428))
	s.Reset()

	st := s.Status()
	if st.State != "idle" || st.ReconnectAttempts != 0 || st.HasPendingPairing {
		t.Errorf("status after Reset = %+v", st)
	}

	s.HandleConnectionUpdate(closeWith(428))
	s.Stop()
	clock.last().f()
	if len(rec.signals) != 0 {
		t.Errorf("signals after Stop = %+v", rec.signals)
	}
}
