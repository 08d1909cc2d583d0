// Package gateway owns the WhatsApp session lifecycle: it wires the
// connection supervisor, the ingest pipeline and the trigger engine to one
// transport client at a time and exposes the outward API used by HTTP.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/humanize"
	"github.com/nextlevelbuilder/wagate/internal/ingest"
	"github.com/nextlevelbuilder/wagate/internal/metrics"
	"github.com/nextlevelbuilder/wagate/internal/store"
	"github.com/nextlevelbuilder/wagate/internal/supervisor"
	"github.com/nextlevelbuilder/wagate/internal/transport"
	"github.com/nextlevelbuilder/wagate/internal/triggers"
	"github.com/nextlevelbuilder/wagate/internal/webhook"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

var (
	ErrNotConnected = protocol.ErrNotConnected
	ErrValidation   = protocol.ErrValidation
	ErrNotRunning   = errors.New("gateway: service not running")
)

const (
	connectRetryDelay = 5 * time.Second
	resetDelay        = 2 * time.Second
	resetRetryDelay   = 5 * time.Second
)

// Options configures a Service. Dial and Store are required.
type Options struct {
	Dial      transport.Dialer
	Store     store.SessionStore
	Engine    *triggers.Engine
	Sender    *humanize.Sender
	Webhook   *webhook.Dispatcher
	Publisher bus.EventPublisher

	Policy              supervisor.Policy
	Threshold           time.Duration
	BufferCapacity      int
	MarkOnlineOnConnect bool
	// QRWriter receives a terminal rendering of pairing QR codes. nil disables it.
	QRWriter io.Writer

	// CleanupSchedule is a cron expression for the session janitor. Empty disables it.
	CleanupSchedule string
	CleanupMaxAge   time.Duration

	AfterFunc supervisor.AfterFunc
	Now       func() time.Time
}

type eventKind int

const (
	evTransport eventKind = iota
	evLinkClosed
	evSignal
	evConnect
	evReset
	evRestart
)

// controlEvent is the single tagged message type consumed by the control loop.
type controlEvent struct {
	kind  eventKind
	gen   uint64 // client generation, for evTransport and evLinkClosed
	seq   uint64 // connect ticket, for evConnect
	event transport.Event
	sig   supervisor.Signal
	done  chan error
}

// Service is the orchestrator. Outward API methods are safe for concurrent use.
type Service struct {
	store    store.SessionStore
	sup      *supervisor.Supervisor
	pipeline *ingest.Pipeline
	engine   *triggers.Engine
	sender   *humanize.Sender
	webhook  *webhook.Dispatcher
	pub      bus.EventPublisher
	janitor  *janitor

	qrOut      io.Writer
	markOnline bool
	after      supervisor.AfterFunc
	now        func() time.Time

	events  chan controlEvent
	queue   *ingestQueue
	done    chan struct{}
	running atomic.Bool

	// connectSeq invalidates scheduled connects. Control loop only.
	connectSeq uint64

	mu          sync.RWMutex
	client      transport.Client
	gen         uint64
	initialized bool
	startedAt   time.Time
}

// New builds a Service. It does not connect until Run.
func New(opts Options) (*Service, error) {
	if opts.Dial == nil {
		return nil, fmt.Errorf("gateway: dialer is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("gateway: session store is required")
	}
	if opts.Publisher == nil {
		opts.Publisher = bus.New()
	}
	if opts.Sender == nil {
		opts.Sender = humanize.New(humanize.Options{})
	}
	if opts.Engine == nil {
		opts.Engine = triggers.NewEngine(triggers.DefaultTable(), nil, opts.Sender)
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) supervisor.Timer { return time.AfterFunc(d, f) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Service{
		store:      opts.Store,
		engine:     opts.Engine,
		sender:     opts.Sender,
		webhook:    opts.Webhook,
		pub:        opts.Publisher,
		qrOut:      opts.QRWriter,
		markOnline: opts.MarkOnlineOnConnect,
		after:      opts.AfterFunc,
		now:        opts.Now,
		events:     make(chan controlEvent, 64),
		queue:      newIngestQueue(),
		done:       make(chan struct{}),
	}

	if opts.CleanupSchedule != "" {
		j, err := newJanitor(opts.CleanupSchedule, opts.CleanupMaxAge, opts.Store)
		if err != nil {
			return nil, err
		}
		s.janitor = j
	}

	s.pipeline = ingest.New(ingest.Options{
		Threshold:  opts.Threshold,
		Buffer:     ingest.NewBuffer(opts.BufferCapacity),
		Dispatcher: &firingDispatcher{engine: opts.Engine, pub: opts.Publisher},
		Reader:     opts.Sender,
		Now:        opts.Now,
	})
	s.sup = supervisor.New(supervisor.Options{
		Policy:    opts.Policy,
		Dial:      opts.Dial,
		Signal:    s.onSignal,
		OnUpdate:  s.onStatus,
		AfterFunc: opts.AfterFunc,
	})
	return s, nil
}

// Run connects and processes events until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("gateway: already running")
	}
	defer close(s.done)

	s.mu.Lock()
	s.startedAt = s.now()
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.ingestLoop(ctx)
	}()
	if s.janitor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.janitor.run(ctx)
		}()
	}

	slog.Info("whatsapp service starting")
	s.connect(ctx)
	s.setInitialized(true)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			wg.Wait()
			return nil
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

func (s *Service) handle(ctx context.Context, ev controlEvent) {
	switch ev.kind {
	case evTransport:
		s.handleTransport(ctx, ev.gen, ev.event)
	case evLinkClosed:
		s.handleLinkClosed(ev.gen)
	case evSignal:
		switch ev.sig.Kind {
		case supervisor.SignalReconnect:
			slog.Info("whatsapp reconnecting", "reason", ev.sig.Reason, "attempt", ev.sig.Attempt)
			s.connect(ctx)
		case supervisor.SignalResetSession:
			_ = s.resetSession(ctx, ev.sig.Reason.String())
		}
	case evConnect:
		if ev.seq != s.connectSeq {
			slog.Debug("dropping superseded connect", "seq", ev.seq, "current", s.connectSeq)
			return
		}
		s.connect(ctx)
	case evReset:
		metrics.RecordSessionReset("api")
		ev.done <- s.resetSession(ctx, "api")
	case evRestart:
		ev.done <- s.restart(ctx)
	}
}

// post enqueues ev for the control loop, giving up once Run has returned.
func (s *Service) post(ev controlEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// onSignal runs on supervisor goroutines, including the control loop itself.
func (s *Service) onSignal(sig supervisor.Signal) {
	go s.post(controlEvent{kind: evSignal, sig: sig})
}

func (s *Service) onStatus(st supervisor.Status) {
	s.pub.Broadcast(bus.Event{Name: protocol.EventConnectionStatus, Payload: st})
}

// connect loads the session and opens a new client. Failures are retried
// after connectRetryDelay; an unreadable session escalates to a reset.
func (s *Service) connect(ctx context.Context) {
	s.connectSeq++
	s.dropClient()

	auth, err := s.store.Load(ctx)
	if err != nil {
		slog.Error("load whatsapp session failed", "error", err)
		metrics.RecordSessionReset("load_failed")
		_ = s.resetSession(ctx, "load_failed")
		return
	}

	client, err := s.sup.Open(ctx, auth)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("whatsapp connect failed", "error", err, "retry_in", connectRetryDelay)
		s.scheduleConnect(connectRetryDelay)
		return
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.client = client
	s.mu.Unlock()

	slog.Info("whatsapp connection process started", "generation", gen)
	go s.pump(gen, client)
}

// pump forwards client events to the control loop tagged with gen.
func (s *Service) pump(gen uint64, client transport.Client) {
	for ev := range client.Events() {
		s.post(controlEvent{kind: evTransport, gen: gen, event: ev})
	}
	s.post(controlEvent{kind: evLinkClosed, gen: gen})
}

func (s *Service) scheduleConnect(d time.Duration) {
	s.connectSeq++
	seq := s.connectSeq
	s.after(d, func() { s.post(controlEvent{kind: evConnect, seq: seq}) })
}

// dropClient detaches and closes the current client. Events still in
// flight from it become stale.
func (s *Service) dropClient() {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.gen++
	s.mu.Unlock()
	if c != nil {
		if err := c.Close(); err != nil {
			slog.Debug("close whatsapp client", "error", err)
		}
	}
}

// resetSession wipes the persisted session and schedules a fresh connect.
func (s *Service) resetSession(ctx context.Context, cause string) error {
	slog.Warn("handling whatsapp session reset", "cause", cause)
	s.dropClient()
	s.sup.Reset()

	err := s.store.Reset(ctx)
	payload := protocol.SessionResetPayload{Cause: cause, OK: err == nil}
	if err != nil {
		payload.Error = err.Error()
		slog.Error("whatsapp session reset failed, reconnecting anyway", "error", err, "retry_in", resetRetryDelay)
		s.scheduleConnect(resetRetryDelay)
	} else {
		slog.Info("whatsapp session reset complete", "reconnect_in", resetDelay)
		s.scheduleConnect(resetDelay)
	}
	s.pub.Broadcast(bus.Event{Name: protocol.EventSessionReset, Payload: payload})
	if err != nil {
		return fmt.Errorf("gateway: reset session: %w", err)
	}
	return nil
}

// restart reconnects with the persisted session kept.
func (s *Service) restart(ctx context.Context) error {
	slog.Info("restarting whatsapp service")
	s.setInitialized(false)
	s.dropClient()
	s.sup.Reset()
	s.connect(ctx)
	s.setInitialized(true)
	slog.Info("whatsapp service restarted")
	return nil
}

func (s *Service) shutdown() {
	slog.Info("whatsapp service stopping")
	s.sup.Stop()
	s.dropClient()
	s.pub.Broadcast(bus.Event{Name: protocol.EventShutdown})
}

func (s *Service) setInitialized(v bool) {
	s.mu.Lock()
	s.initialized = v
	s.mu.Unlock()
}

func (s *Service) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

func (s *Service) currentClient() transport.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// request hands an API call to the control loop and waits for its result.
func (s *Service) request(ctx context.Context, kind eventKind) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	done := make(chan error, 1)
	select {
	case s.events <- controlEvent{kind: kind, done: done}:
	case <-s.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-s.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}
