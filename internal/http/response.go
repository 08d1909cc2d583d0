package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("write json response", "error", err)
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// requireToken rejects requests without the configured bearer token.
// An empty token disables the check.
func requireToken(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" && extractBearerToken(r) != token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

type envelope struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	HasQR     *bool       `json:"hasQR,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func writeSuccess(w http.ResponseWriter, data interface{}, msg string) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: msg, Data: data, Timestamp: now()})
}

func writeValidation(w http.ResponseWriter, msg string) {
	slog.Warn("request rejected", "reason", msg)
	writeJSON(w, http.StatusBadRequest, envelope{Message: msg, Timestamp: now()})
}

func writeNotConnected(w http.ResponseWriter, hasQR bool) {
	slog.Warn("request needs a live whatsapp session", "has_qr", hasQR)
	writeJSON(w, http.StatusServiceUnavailable, envelope{
		Message:   protocol.ErrNotConnected.Error(),
		HasQR:     &hasQR,
		Timestamp: now(),
	})
}

// writeFailure maps err onto the response envelope. fallback is shown for
// internal errors.
func writeFailure(w http.ResponseWriter, err error, fallback string, hasQR func() bool) {
	var ve *protocol.ValidationError
	switch {
	case errors.As(err, &ve):
		writeValidation(w, ve.Msg)
	case errors.Is(err, protocol.ErrNotConnected):
		writeNotConnected(w, hasQR())
	default:
		slog.Error(strings.ToLower(fallback), "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Message: fallback, Error: err.Error(), Timestamp: now()})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeValidation(w, "Invalid JSON body")
		return false
	}
	return true
}
