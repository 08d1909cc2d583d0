// Package http serves the outward REST API of the gateway.
package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/wagate/internal/ingest"
	"github.com/nextlevelbuilder/wagate/internal/message"
	"github.com/nextlevelbuilder/wagate/internal/status"
	"github.com/nextlevelbuilder/wagate/internal/store"
	"github.com/nextlevelbuilder/wagate/internal/supervisor"
	"github.com/nextlevelbuilder/wagate/internal/transport"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

// MessageService is the gateway surface behind the message routes.
type MessageService interface {
	SendMessage(ctx context.Context, to, text string) (*message.Delivery, error)
	SendGroupMessage(ctx context.Context, groupID, text string) (*message.Delivery, error)
	SendReaction(ctx context.Context, key transport.MessageKey, emoji string) (*message.Delivery, error)
	Groups(ctx context.Context) ([]transport.Group, error)
	ReceivedMessages(limit int) []message.Message
	ClearReceivedMessages()
	MessageStats() ingest.Stats
	SearchMessages(query string, opts ingest.SearchOptions) []message.Message
	ConnectionStatus() supervisor.Status
	ServiceStatus(ctx context.Context) status.Report
	ResetSession(ctx context.Context) error
	Restart(ctx context.Context) error
	SessionInfo(ctx context.Context) (*store.SessionInfo, error)
	BackupSession(ctx context.Context) (*store.BackupResult, error)
}

// MessagesHandler serves the /message routes.
type MessagesHandler struct {
	svc    MessageService
	token  string
	prefix string
}

// NewMessagesHandler creates a handler mounted under prefix (e.g. "/api").
func NewMessagesHandler(svc MessageService, token, prefix string) *MessagesHandler {
	return &MessagesHandler{svc: svc, token: token, prefix: prefix}
}

func (h *MessagesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+h.prefix+protocol.PathSendMessage, h.auth(h.handleSend))
	mux.HandleFunc("POST "+h.prefix+protocol.PathSendGroup, h.auth(h.handleSendGroup))
	mux.HandleFunc("POST "+h.prefix+protocol.PathSendReaction, h.auth(h.handleReaction))
	mux.HandleFunc("GET "+h.prefix+protocol.PathReceived, h.auth(h.handleReceived))
	mux.HandleFunc("DELETE "+h.prefix+protocol.PathReceived, h.auth(h.handleClear))
	mux.HandleFunc("GET "+h.prefix+protocol.PathStats, h.auth(h.handleStats))
	mux.HandleFunc("GET "+h.prefix+protocol.PathSearch, h.auth(h.handleSearch))
	mux.HandleFunc("GET "+h.prefix+protocol.PathStatus, h.auth(h.handleStatus))
	mux.HandleFunc("GET "+h.prefix+protocol.PathServiceStatus, h.auth(h.handleServiceStatus))
	mux.HandleFunc("POST "+h.prefix+protocol.PathResetSession, h.auth(h.handleResetSession))
	mux.HandleFunc("POST "+h.prefix+protocol.PathRestart, h.auth(h.handleRestart))
	mux.HandleFunc("GET "+h.prefix+protocol.PathGroups, h.auth(h.handleGroups))
	mux.HandleFunc("GET "+h.prefix+protocol.PathSessionInfo, h.auth(h.handleSessionInfo))
	mux.HandleFunc("POST "+h.prefix+protocol.PathSessionBackup, h.auth(h.handleSessionBackup))
}

func (h *MessagesHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return requireToken(h.token, next)
}

func (h *MessagesHandler) hasQR() bool {
	return h.svc.ConnectionStatus().HasPendingPairing
}

func (h *MessagesHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	d, err := h.svc.SendMessage(r.Context(), body.To, body.Message)
	if err != nil {
		writeFailure(w, err, "Failed to send message", h.hasQR)
		return
	}
	writeSuccess(w, d, "Message sent successfully")
}

func (h *MessagesHandler) handleSendGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GroupID string `json:"groupId"`
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	d, err := h.svc.SendGroupMessage(r.Context(), body.GroupID, body.Message)
	if err != nil {
		writeFailure(w, err, "Failed to send group message", h.hasQR)
		return
	}
	writeSuccess(w, d, "Group message sent successfully")
}

func (h *MessagesHandler) handleReaction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MessageKey transport.MessageKey `json:"messageKey"`
		Emoji      string               `json:"emoji"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	d, err := h.svc.SendReaction(r.Context(), body.MessageKey, body.Emoji)
	if err != nil {
		writeFailure(w, err, "Failed to send reaction", h.hasQR)
		return
	}
	writeSuccess(w, d, "Reaction sent successfully")
}

// queryInt returns the positive integer value of key, or 0.
func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func orEmpty(msgs []message.Message) []message.Message {
	if msgs == nil {
		return []message.Message{}
	}
	return msgs
}

func (h *MessagesHandler) handleReceived(w http.ResponseWriter, r *http.Request) {
	msgs := orEmpty(h.svc.ReceivedMessages(queryInt(r, "limit")))
	writeSuccess(w, map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
	}, "Messages retrieved successfully")
}

func (h *MessagesHandler) handleClear(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearReceivedMessages()
	writeSuccess(w, map[string]interface{}{"success": true, "message": "Messages cleared"}, "Messages cleared successfully")
}

func (h *MessagesHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.svc.MessageStats(), "Message statistics retrieved successfully")
}

func (h *MessagesHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := ingest.SearchOptions{
		Limit:      queryInt(r, "limit"),
		Type:       message.ContentType(q.Get("type")),
		FromSender: q.Get("from"),
		From:       int64(queryInt(r, "since")),
		To:         int64(queryInt(r, "until")),
	}
	if v := q.Get("isGroup"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeValidation(w, "Query 'isGroup' must be true or false")
			return
		}
		opts.IsGroup = &b
	}
	query := q.Get("q")
	msgs := orEmpty(h.svc.SearchMessages(query, opts))
	writeSuccess(w, map[string]interface{}{
		"query":    query,
		"messages": msgs,
		"count":    len(msgs),
	}, "Search completed successfully")
}

func (h *MessagesHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.svc.ConnectionStatus(), "Status retrieved successfully")
}

func (h *MessagesHandler) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.svc.ServiceStatus(r.Context()), "Service status retrieved successfully")
}

func (h *MessagesHandler) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetSession(r.Context()); err != nil {
		writeFailure(w, err, "Failed to reset session", h.hasQR)
		return
	}
	writeSuccess(w, nil, "WhatsApp session reset initiated. Please wait for reconnection.")
}

func (h *MessagesHandler) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Restart(r.Context()); err != nil {
		writeFailure(w, err, "Failed to restart service", h.hasQR)
		return
	}
	writeSuccess(w, map[string]interface{}{"success": true, "message": "Service restarted successfully"}, "Service restarted successfully")
}

func (h *MessagesHandler) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.Groups(r.Context())
	if err != nil {
		writeFailure(w, err, "Failed to get group list", h.hasQR)
		return
	}
	if groups == nil {
		groups = []transport.Group{}
	}
	writeSuccess(w, map[string]interface{}{
		"success": true,
		"count":   len(groups),
		"groups":  groups,
	}, "Groups retrieved successfully")
}

func (h *MessagesHandler) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.SessionInfo(r.Context())
	if err != nil {
		writeFailure(w, err, "Failed to get session info", h.hasQR)
		return
	}
	writeSuccess(w, info, "Session info retrieved successfully")
}

func (h *MessagesHandler) handleSessionBackup(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.BackupSession(r.Context())
	if err != nil {
		writeFailure(w, err, "Failed to back up session", h.hasQR)
		return
	}
	writeSuccess(w, res, "Session backed up successfully")
}
