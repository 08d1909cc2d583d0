package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/config"
	httpapi "github.com/nextlevelbuilder/wagate/internal/http"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

// Version is reported by the root endpoint.
var Version = "dev"

// Server exposes the REST API, the /ws event stream, /health and /metrics.
type Server struct {
	cfg      *config.Config
	eventPub bus.EventPublisher
	svc      *Service

	upgrader websocket.Upgrader
	clients  map[string]*Client
	mu       sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(cfg *config.Config, eventPub bus.EventPublisher, svc *Service) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		svc:      svc,
		clients:  make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin allows all origins when none are configured. Requests
// without an Origin header (non-browser clients) are always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

func (s *Server) apiPrefix() string {
	p := strings.TrimRight(s.cfg.Gateway.APIPrefix, "/")
	if p == "" {
		return protocol.DefaultAPIPrefix
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc(protocol.RouteEvents, s.handleWebSocket)
	mux.HandleFunc(protocol.RouteHealth, s.handleHealth)
	mux.Handle(protocol.RouteMetrics, promhttp.Handler())
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("/", s.handleNotFound)

	prefix, token := s.apiPrefix(), s.cfg.Gateway.Token
	httpapi.NewMessagesHandler(s.svc, token, prefix).RegisterRoutes(mux)
	httpapi.NewTriggersHandler(s.svc, token, prefix).RegisterRoutes(mux)

	s.mux = mux
	return mux
}

// Handler returns the mux wrapped with CORS headers.
func (s *Server) Handler() http.Handler {
	return s.withCORS(s.BuildMux())
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", addr, "api_prefix", s.apiPrefix())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("gateway shutdown", "error", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// withCORS answers preflight requests and tags responses for allowed origins.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.checkOrigin(r) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorizedStream(r *http.Request) bool {
	token := s.cfg.Gateway.Token
	if token == "" {
		return true
	}
	if r.URL.Query().Get("token") == token {
		return true
	}
	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && bearer == token
}

// handleWebSocket upgrades to the event stream and forwards bus events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedStream(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	// Every subscriber starts from the current connection state.
	client.SendEvent(*protocol.NewEvent(protocol.EventConnectionStatus, s.svc.ConnectionStatus()))
	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d,"success":true,"message":"WhatsApp API is running","timestamp":%q}`,
		protocol.ProtocolVersion, time.Now().UTC().Format(time.RFC3339Nano))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	p := s.apiPrefix()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "WhatsApp API Server",
		"version": Version,
		"endpoints": map[string]string{
			"health":           "GET /health",
			"events":           "GET " + protocol.PathEvents,
			"sendMessage":      "POST " + p + protocol.PathSendMessage,
			"sendGroupMessage": "POST " + p + protocol.PathSendGroup,
			"getMessages":      "GET " + p + protocol.PathReceived,
			"clearMessages":    "DELETE " + p + protocol.PathReceived,
			"getStatus":        "GET " + p + protocol.PathStatus,
			"getGroups":        "GET " + p + protocol.PathGroups,
			"resetSession":     "POST " + p + protocol.PathResetSession,
			"getTriggers":      "GET " + p + protocol.PathTriggers,
			"setTriggerStatus": "POST " + p + protocol.PathTriggerStatus,
		},
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "Endpoint not found"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("write json response", "error", err)
	}
}

// BroadcastEvent sends an event to all connected clients.
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(event)
	}
}

// Clients returns the number of connected event-stream clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		c.SendEvent(*protocol.NewEvent(event.Name, event.Payload))
	})
	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.eventPub.Unsubscribe(c.id)
	slog.Info("client disconnected", "id", c.id)
}

// StartTestServer listens on a random loopback port and returns the
// address and a blocking serve function. Used for integration tests.
func StartTestServer(ctx context.Context, s *Server) (addr string, start func(), err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("listen: %w", err)
	}

	s.httpServer = &http.Server{Handler: s.Handler()}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.httpServer.Shutdown(shutdownCtx)
		}()
		_ = s.httpServer.Serve(ln)
	}
	return addr, start, nil
}
