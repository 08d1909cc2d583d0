package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mdp/qrterminal/v3"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/message"
	"github.com/nextlevelbuilder/wagate/internal/transport"
	"github.com/nextlevelbuilder/wagate/internal/triggers"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

func (s *Service) handleTransport(ctx context.Context, gen uint64, ev transport.Event) {
	if gen != s.generation() {
		slog.Debug("ignoring event from stale connection", "generation", gen, "event", fmt.Sprintf("%T", ev))
		return
	}

	switch e := ev.(type) {
	case transport.ConnectionUpdate:
		s.onConnectionUpdate(ctx, e)
	case transport.CredentialsUpdate:
		if err := s.store.Persist(ctx, e.Files); err != nil {
			slog.Error("persist whatsapp credentials failed", "files", len(e.Files), "error", err)
		}
	case transport.MessagesUpsert:
		s.queue.push(ingestJob{client: s.currentClient(), upsert: e})
	case transport.ReceiptUpdate:
		slog.Debug("message receipt update", "receipts", len(e.Keys), "status", e.Status)
		s.pub.Broadcast(bus.Event{Name: protocol.EventReceipt, Payload: e})
	case transport.CallEvent:
		slog.Info("incoming call", "from", transport.PhoneFromJID(e.From), "status", e.Status)
		s.pub.Broadcast(bus.Event{Name: protocol.EventCall, Payload: e})
	case transport.StreamError:
		slog.Warn("whatsapp stream error", "error", e.Message)
	default:
		slog.Debug("unhandled transport event", "event", fmt.Sprintf("%T", ev))
	}
}

func (s *Service) onConnectionUpdate(ctx context.Context, u transport.ConnectionUpdate) {
	if u.QR != "" {
		s.showQR(u.QR)
		s.pub.Broadcast(bus.Event{Name: protocol.EventPairingQR, Payload: map[string]string{"qr": u.QR}})
	}
	if u.IsNewLogin {
		slog.Info("new login detected, session will be saved")
	}

	s.sup.HandleConnectionUpdate(u)

	switch u.Connection {
	case transport.ConnOpen:
		slog.Info("whatsapp connected")
		if s.markOnline {
			if c := s.currentClient(); c != nil {
				go func() {
					if err := c.SendPresence(ctx, transport.PresenceAvailable, ""); err != nil {
						slog.Debug("mark online failed", "error", err)
					}
				}()
			}
		}
	case transport.ConnClose:
		s.dropClient()
	}
}

// handleLinkClosed treats an event stream that ended without a close
// update as a lost connection.
func (s *Service) handleLinkClosed(gen uint64) {
	if gen != s.generation() {
		return
	}
	slog.Warn("whatsapp link dropped without close update", "generation", gen)
	s.dropClient()
	s.sup.HandleConnectionUpdate(transport.ConnectionUpdate{
		Connection: transport.ConnClose,
		Reason:     "connectionLost",
	})
}

func (s *Service) showQR(qr string) {
	slog.Info("scan the qr code to authenticate")
	if s.qrOut == nil {
		return
	}
	fmt.Fprintln(s.qrOut, "Scan this QR code with WhatsApp (Linked devices):")
	qrterminal.GenerateHalfBlock(qr, qrterminal.L, s.qrOut)
}

type ingestJob struct {
	client transport.Client
	upsert transport.MessagesUpsert
}

// ingestQueue is an unbounded FIFO so the control loop never blocks on a
// slow batch.
type ingestQueue struct {
	mu    sync.Mutex
	jobs  []ingestJob
	ready chan struct{}
}

func newIngestQueue() *ingestQueue {
	return &ingestQueue{ready: make(chan struct{}, 1)}
}

func (q *ingestQueue) push(j ingestJob) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *ingestQueue) pop() (ingestJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return ingestJob{}, false
	}
	j := q.jobs[0]
	q.jobs[0] = ingestJob{}
	q.jobs = q.jobs[1:]
	return j, true
}

// ingestLoop processes upserts one batch at a time, in arrival order.
func (s *Service) ingestLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.queue.ready:
		}
		for {
			j, ok := s.queue.pop()
			if !ok {
				break
			}
			for _, msg := range s.pipeline.ProcessBatch(ctx, j.client, j.upsert) {
				s.pub.Broadcast(bus.Event{Name: protocol.EventMessageReceived, Payload: msg})
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// firingDispatcher publishes trigger.fired for every matched dispatch.
type firingDispatcher struct {
	engine *triggers.Engine
	pub    bus.EventPublisher
}

func (d *firingDispatcher) Dispatch(ctx context.Context, client transport.Client, msg message.Message, raw *transport.RawMessage) triggers.Result {
	res := d.engine.Dispatch(ctx, client, msg, raw)
	if res.Matched {
		d.pub.Broadcast(bus.Event{
			Name: protocol.EventTriggerFired,
			Payload: protocol.TriggerFiredPayload{
				Prefix:    res.Trigger.Prefix,
				MessageID: msg.ID,
				Silent:    res.Silent,
			},
		})
	}
	return res
}
