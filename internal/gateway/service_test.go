package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/humanize"
	"github.com/nextlevelbuilder/wagate/internal/store/file"
	"github.com/nextlevelbuilder/wagate/internal/supervisor"
	"github.com/nextlevelbuilder/wagate/internal/transport"
	"github.com/nextlevelbuilder/wagate/internal/transport/transporttest"
	"github.com/nextlevelbuilder/wagate/internal/webhook"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeTimer fires only when the test says so.
type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) supervisor.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return &fakeHandle{clock: c, t: t}
}

type fakeHandle struct {
	clock *fakeClock
	t     *fakeTimer
}

func (h *fakeHandle) Stop() bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	live := !h.t.stopped && !h.t.fired
	h.t.stopped = true
	return live
}

// pending counts armed timers with delay d.
func (c *fakeClock) pending(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fire runs the oldest armed timer with delay d.
func (c *fakeClock) fire(d time.Duration) bool {
	c.mu.Lock()
	var hit *fakeTimer
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			hit = t
			break
		}
	}
	if hit != nil {
		hit.fired = true
	}
	c.mu.Unlock()
	if hit == nil {
		return false
	}
	hit.f()
	return true
}

type fakeDialer struct {
	mu       sync.Mutex
	err      error
	attempts int
	clients  []*transporttest.Client
}

func (d *fakeDialer) dial(_ context.Context, _ transport.AuthState) (transport.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.err != nil {
		return nil, d.err
	}
	c := transporttest.NewClient()
	d.clients = append(d.clients, c)
	return c, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *fakeDialer) tries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *fakeDialer) last() *transporttest.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) handle(e bus.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) find(name string) (bus.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Name == name {
			return e, true
		}
	}
	return bus.Event{}, false
}

func (r *recorder) has(name string) bool {
	_, ok := r.find(name)
	return ok
}

type harness struct {
	svc    *Service
	dial   *fakeDialer
	clock  *fakeClock
	events *recorder
	store  *file.FileSessionStore
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		dial:   &fakeDialer{},
		clock:  &fakeClock{},
		events: &recorder{},
		store:  file.NewFileSessionStore(t.TempDir()),
	}
	b := bus.New()
	b.Subscribe("test", h.events.handle)

	opts := Options{
		Dial:      h.dial.dial,
		Store:     h.store,
		Publisher: b,
		Webhook:   webhook.New(webhook.Settings{}),
		Sender: humanize.New(humanize.Options{
			SendsPerMinute: 6000,
			Sleep:          func(context.Context, time.Duration) error { return nil },
		}),
		AfterFunc: h.clock.AfterFunc,
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := New(opts)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.svc.Run(ctx) }()
	t.Cleanup(h.stop)
	require.Eventually(t, func() bool { return h.dial.tries() >= 1 }, waitFor, tick)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel = nil
}

// open starts the service and reports the first client as open.
func (h *harness) open(t *testing.T) *transporttest.Client {
	t.Helper()
	h.start(t)
	c := h.dial.last()
	require.NotNil(t, c)
	c.Emit(transport.ConnectionUpdate{Connection: transport.ConnOpen})
	require.Eventually(t, func() bool { return h.svc.ConnectionStatus().IsConnected }, waitFor, tick)
	return c
}

func textMessage(id, text string) transport.RawMessage {
	return transport.RawMessage{
		Key:       transport.MessageKey{RemoteJID: "628111@s.whatsapp.net", ID: id},
		Timestamp: time.Now().Unix(),
		PushName:  "Budi",
		Content:   transport.TextContent{Text: text},
	}
}

func TestNewRequiresDialerAndStore(t *testing.T) {
	_, err := New(Options{Store: file.NewFileSessionStore(t.TempDir())})
	assert.Error(t, err)

	_, err = New(Options{Dial: (&fakeDialer{}).dial})
	assert.Error(t, err)

	_, err = New(Options{
		Dial:            (&fakeDialer{}).dial,
		Store:           file.NewFileSessionStore(t.TempDir()),
		CleanupSchedule: "every tuesday",
	})
	assert.Error(t, err)
}

func TestConnectionOpensAndReportsStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t)

	st := h.svc.ServiceStatus(context.Background())
	assert.True(t, st.Initialized)
	assert.True(t, st.Connection.IsConnected)
	assert.Equal(t, "open", st.Connection.State)
	assert.True(t, st.TriggersEnabled)
	assert.False(t, st.WebhookEnabled)
	assert.Equal(t, "active", st.Services["session"])
	assert.NotEmpty(t, st.Uptime)
	assert.True(t, h.events.has(protocol.EventConnectionStatus))
}

func TestRunTwiceFails(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	assert.Error(t, h.svc.Run(context.Background()))
}

func TestCredentialsArePersisted(t *testing.T) {
	h := newHarness(t, nil)
	c := h.open(t)

	c.Emit(transport.CredentialsUpdate{Files: map[string]json.RawMessage{
		"creds.json": json.RawMessage(`{"me":{"id":"628999@s.whatsapp.net"}}`),
	}})
	assert.Eventually(t, func() bool {
		ok, err := h.store.Exists(context.Background())
		return err == nil && ok
	}, waitFor, tick)
}

func TestPairingQRIsPublishedAndPrinted(t *testing.T) {
	var qr bytes.Buffer
	h := newHarness(t, func(o *Options) { o.QRWriter = &qr })
	h.start(t)

	h.dial.last().Emit(transport.ConnectionUpdate{QR: "2@pairing-payload"})
	require.Eventually(t, func() bool { return h.events.has(protocol.EventPairingQR) }, waitFor, tick)
	require.Eventually(t, func() bool { return h.svc.ConnectionStatus().HasPendingPairing }, waitFor, tick)

	assert.Equal(t, "2@pairing-payload", h.svc.ConnectionStatus().PairingPayload)
	assert.Contains(t, qr.String(), "Scan this QR code")
}

func TestFreshTriggerMessageIsBufferedAndAnswered(t *testing.T) {
	h := newHarness(t, nil)
	c := h.open(t)

	c.Emit(transport.MessagesUpsert{Type: "notify", Messages: []transport.RawMessage{textMessage("M1", ".help")}})
	require.Eventually(t, func() bool { return h.events.has(protocol.EventMessageReceived) }, waitFor, tick)

	msgs := h.svc.ReceivedMessages(0)
	require.Len(t, msgs, 1)
	assert.Equal(t, "M1", msgs[0].ID)
	assert.Equal(t, 2, c.Count("read"), "inbound read plus reply seen")
	assert.Equal(t, 1, c.Count("send"))

	ev, ok := h.events.find(protocol.EventTriggerFired)
	require.True(t, ok)
	fired := ev.Payload.(protocol.TriggerFiredPayload)
	assert.Equal(t, ".help", fired.Prefix)
	assert.Equal(t, "M1", fired.MessageID)
	assert.False(t, fired.Silent)
}

func TestDisabledTriggersStillBufferMessages(t *testing.T) {
	h := newHarness(t, nil)
	c := h.open(t)

	h.svc.SetTriggersEnabled(false)
	assert.False(t, h.svc.TriggersEnabled())
	ev, ok := h.events.find(protocol.EventTriggersToggled)
	require.True(t, ok)
	assert.Equal(t, map[string]bool{"enabled": false}, ev.Payload)

	c.Emit(transport.MessagesUpsert{Type: "notify", Messages: []transport.RawMessage{textMessage("M2", ".ping")}})
	require.Eventually(t, func() bool { return h.events.has(protocol.EventMessageReceived) }, waitFor, tick)

	assert.Len(t, h.svc.ReceivedMessages(10), 1)
	assert.Zero(t, c.Count("send"))
	assert.False(t, h.events.has(protocol.EventTriggerFired))
	assert.Equal(t, 1, h.svc.MessageStats().TotalMessages)

	h.svc.ClearReceivedMessages()
	assert.Empty(t, h.svc.ReceivedMessages(10))
}

func TestStaleGenerationEventsAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t)

	h.svc.handleTransport(context.Background(), h.svc.generation()-1,
		transport.ConnectionUpdate{Connection: transport.ConnClose, StatusCode: 401})

	assert.True(t, h.svc.ConnectionStatus().IsConnected)
}

func TestDialFailureRetriesAfterDelay(t *testing.T) {
	h := newHarness(t, nil)
	h.dial.setErr(errors.New("bridge down"))
	h.start(t)

	require.Eventually(t, func() bool { return h.clock.pending(connectRetryDelay) == 1 }, waitFor, tick)
	assert.Zero(t, h.dial.dialed())

	h.dial.setErr(nil)
	require.True(t, h.clock.fire(connectRetryDelay))
	assert.Eventually(t, func() bool { return h.dial.dialed() == 1 }, waitFor, tick)
	assert.Equal(t, 2, h.dial.tries())
}

func TestLinkDropWithoutCloseSchedulesReconnect(t *testing.T) {
	h := newHarness(t, nil)
	c := h.open(t)

	require.NoError(t, c.Close())
	delay := supervisor.DefaultPolicy().Delay(1)
	require.Eventually(t, func() bool { return h.clock.pending(delay) == 1 }, waitFor, tick)
	assert.False(t, h.svc.ConnectionStatus().IsConnected)

	require.True(t, h.clock.fire(delay))
	assert.Eventually(t, func() bool { return h.dial.dialed() == 2 }, waitFor, tick)
}

func TestRepeatedClosesEscalateToSessionReset(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.Persist(context.Background(), map[string]json.RawMessage{
		"creds.json": json.RawMessage(`{}`),
	}))
	h.start(t)

	policy := supervisor.DefaultPolicy()
	for i := 1; i <= policy.MaxAttempts; i++ {
		h.dial.last().Emit(transport.ConnectionUpdate{Connection: transport.ConnClose, StatusCode: 428})
		if i == policy.MaxAttempts {
			break
		}
		delay := policy.Delay(i)
		require.Eventually(t, func() bool { return h.clock.pending(delay) == 1 }, waitFor, tick, "attempt %d", i)
		require.True(t, h.clock.fire(delay))
		want := i + 1
		require.Eventually(t, func() bool { return h.dial.dialed() == want }, waitFor, tick, "attempt %d", i)
	}

	require.Eventually(t, func() bool { return h.events.has(protocol.EventSessionReset) }, waitFor, tick)
	ev, _ := h.events.find(protocol.EventSessionReset)
	payload := ev.Payload.(protocol.SessionResetPayload)
	assert.Equal(t, "connectionClosed", payload.Cause)
	assert.True(t, payload.OK)

	ok, err := h.store.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return h.clock.pending(resetDelay) == 1 }, waitFor, tick)
}

func TestLoggedOutStopsReconnecting(t *testing.T) {
	h := newHarness(t, nil)
	c := h.open(t)

	c.Emit(transport.ConnectionUpdate{Connection: transport.ConnClose, StatusCode: 401})
	require.Eventually(t, func() bool { return !h.svc.ConnectionStatus().IsConnected }, waitFor, tick)
	assert.Eventually(t, c.Closed, waitFor, tick)
	assert.False(t, h.svc.sup.PendingReconnect())
}

func TestResetSessionWipesAndReconnects(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.Persist(context.Background(), map[string]json.RawMessage{
		"creds.json": json.RawMessage(`{}`),
	}))
	c := h.open(t)

	require.NoError(t, h.svc.ResetSession(context.Background()))

	ok, err := h.store.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, c.Closed())
	assert.False(t, h.svc.ConnectionStatus().IsConnected)

	ev, found := h.events.find(protocol.EventSessionReset)
	require.True(t, found)
	assert.Equal(t, "api", ev.Payload.(protocol.SessionResetPayload).Cause)

	require.Equal(t, 1, h.clock.pending(resetDelay))
	require.True(t, h.clock.fire(resetDelay))
	assert.Eventually(t, func() bool { return h.dial.dialed() == 2 }, waitFor, tick)
}

func TestResetSessionRequiresRunningService(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.svc.ResetSession(context.Background()), ErrNotRunning)
}

func TestRestartKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.Persist(context.Background(), map[string]json.RawMessage{
		"creds.json": json.RawMessage(`{}`),
	}))
	c := h.open(t)

	require.NoError(t, h.svc.Restart(context.Background()))

	assert.True(t, c.Closed())
	assert.Equal(t, 2, h.dial.dialed())
	ok, err := h.store.Exists(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSendMessage(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	ctx := context.Background()

	_, err := h.svc.SendMessage(ctx, "", "halo")
	assert.ErrorIs(t, err, ErrValidation)
	assert.EqualError(t, err, "Missing required fields: to and message")

	_, err = h.svc.SendMessage(ctx, "628123", "halo")
	assert.ErrorIs(t, err, ErrNotConnected)

	h.dial.last().Emit(transport.ConnectionUpdate{Connection: transport.ConnOpen})
	require.Eventually(t, func() bool { return h.svc.ConnectionStatus().IsConnected }, waitFor, tick)

	d, err := h.svc.SendMessage(ctx, "628123", "halo")
	require.NoError(t, err)
	assert.True(t, d.Success)
	assert.Equal(t, "628123@s.whatsapp.net", d.To)
	assert.Equal(t, "halo", d.Message)
	assert.NotEmpty(t, d.MessageID)
	assert.Equal(t, 1, h.dial.last().Count("send"))
}

func TestSendGroupMessageAppendsSuffix(t *testing.T) {
	h := newHarness(t, nil)
	c := h.open(t)

	_, err := h.svc.SendGroupMessage(context.Background(), "120363", "")
	assert.ErrorIs(t, err, ErrValidation)

	d, err := h.svc.SendGroupMessage(context.Background(), "120363", "rapat jam 3")
	require.NoError(t, err)
	assert.Equal(t, "120363@g.us", d.To)
	assert.Equal(t, []string{"send"}, c.Ops(), "group sends skip presence simulation")
}

func TestSendReaction(t *testing.T) {
	h := newHarness(t, nil)
	c := h.open(t)
	key := transport.MessageKey{RemoteJID: "628111@s.whatsapp.net", ID: "M9"}

	_, err := h.svc.SendReaction(context.Background(), key, "")
	assert.ErrorIs(t, err, ErrValidation)

	d, err := h.svc.SendReaction(context.Background(), key, "👍")
	require.NoError(t, err)
	assert.Equal(t, "👍", d.Reaction)
	assert.Equal(t, "M9", d.TargetMessage)
	assert.Equal(t, 1, c.Count("react"))
}

func TestGroups(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Groups(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)

	c := h.open(t)
	c.GroupList = []transport.Group{{ID: "120363@g.us", Subject: "Tim"}}
	groups, err := h.svc.Groups(context.Background())
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

func TestReconfigureUpdatesWebhookAndThreshold(t *testing.T) {
	h := newHarness(t, nil)

	h.svc.Reconfigure(webhook.Settings{Endpoint: "http://hooks.local/report", Enabled: true}, 2*time.Minute)

	assert.Equal(t, 2*time.Minute, h.svc.pipeline.Threshold())
	ws := h.svc.webhook.Settings()
	assert.Equal(t, "http://hooks.local/report", ws.Endpoint)
	assert.True(t, ws.Enabled)
	assert.True(t, h.svc.ServiceStatus(context.Background()).WebhookEnabled)
}

func TestShutdownStopsClient(t *testing.T) {
	h := newHarness(t, nil)
	c := h.open(t)

	h.stop()

	assert.True(t, c.Closed())
	assert.True(t, h.events.has(protocol.EventShutdown))
}

func TestIngestQueueIsFIFO(t *testing.T) {
	q := newIngestQueue()
	_, ok := q.pop()
	assert.False(t, ok)

	q.push(ingestJob{upsert: transport.MessagesUpsert{Type: "a"}})
	q.push(ingestJob{upsert: transport.MessagesUpsert{Type: "b"}})
	assert.Len(t, q.ready, 1)

	j, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "a", j.upsert.Type)
	j, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, "b", j.upsert.Type)
	_, ok = q.pop()
	assert.False(t, ok)
}
