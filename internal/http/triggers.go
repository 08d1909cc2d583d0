package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nextlevelbuilder/wagate/internal/triggers"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

// TriggerService is the gateway surface behind the trigger routes.
type TriggerService interface {
	TriggersEnabled() bool
	SetTriggersEnabled(enabled bool)
	Triggers() triggers.Snapshot
}

// TriggersHandler serves the read-only trigger table and the global switch.
type TriggersHandler struct {
	svc    TriggerService
	token  string
	prefix string
}

func NewTriggersHandler(svc TriggerService, token, prefix string) *TriggersHandler {
	return &TriggersHandler{svc: svc, token: token, prefix: prefix}
}

func (h *TriggersHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+h.prefix+protocol.PathTriggers, requireToken(h.token, h.handleList))
	mux.HandleFunc("GET "+h.prefix+protocol.PathTriggerStatus, requireToken(h.token, h.handleStatus))
	mux.HandleFunc("POST "+h.prefix+protocol.PathTriggerStatus, requireToken(h.token, h.handleSetStatus))
}

func (h *TriggersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.svc.Triggers(), "Trigger configuration retrieved successfully")
}

func (h *TriggersHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]bool{"enabled": h.svc.TriggersEnabled()}, "Trigger status retrieved successfully")
}

func (h *TriggersHandler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	const invalid = "Field 'enabled' must be a boolean value"
	var body map[string]json.RawMessage
	if !decodeBody(w, r, &body) {
		return
	}
	var enabled bool
	raw, ok := body["enabled"]
	if !ok || string(raw) == "null" || json.Unmarshal(raw, &enabled) != nil {
		writeValidation(w, invalid)
		return
	}

	h.svc.SetTriggersEnabled(enabled)
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	msg := fmt.Sprintf("Triggers %s successfully", state)
	writeSuccess(w, map[string]interface{}{
		"success": true,
		"enabled": h.svc.TriggersEnabled(),
		"message": msg,
	}, msg)
}
