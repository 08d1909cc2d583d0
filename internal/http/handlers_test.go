package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/wagate/internal/ingest"
	"github.com/nextlevelbuilder/wagate/internal/message"
	"github.com/nextlevelbuilder/wagate/internal/status"
	"github.com/nextlevelbuilder/wagate/internal/store"
	"github.com/nextlevelbuilder/wagate/internal/supervisor"
	"github.com/nextlevelbuilder/wagate/internal/transport"
	"github.com/nextlevelbuilder/wagate/internal/triggers"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

type fakeService struct {
	connected bool
	qr        bool
	sendErr   error
	resetErr  error
	msgs      []message.Message
	lastQuery string
	lastOpts  ingest.SearchOptions
	cleared   bool
	table     *triggers.Table
}

func (f *fakeService) check(to, text, msg string) error {
	if to == "" || text == "" {
		return protocol.Invalid(msg)
	}
	if !f.connected {
		return protocol.ErrNotConnected
	}
	return f.sendErr
}

func (f *fakeService) SendMessage(_ context.Context, to, text string) (*message.Delivery, error) {
	if err := f.check(to, text, "Missing required fields: to and message"); err != nil {
		return nil, err
	}
	return &message.Delivery{Success: true, MessageID: "SENT001", To: transport.UserJID(to), Message: text}, nil
}

func (f *fakeService) SendGroupMessage(_ context.Context, groupID, text string) (*message.Delivery, error) {
	if err := f.check(groupID, text, "Missing required fields: groupId and message"); err != nil {
		return nil, err
	}
	return &message.Delivery{Success: true, To: groupID + transport.GroupSuffix, Message: text}, nil
}

func (f *fakeService) SendReaction(_ context.Context, key transport.MessageKey, emoji string) (*message.Delivery, error) {
	if err := f.check(key.ID, emoji, "Missing required fields: messageKey and emoji"); err != nil {
		return nil, err
	}
	return &message.Delivery{Success: true, Reaction: emoji, TargetMessage: key.ID}, nil
}

func (f *fakeService) Groups(context.Context) ([]transport.Group, error) {
	if !f.connected {
		return nil, protocol.ErrNotConnected
	}
	return []transport.Group{{ID: "120363@g.us", Subject: "Tim"}}, nil
}

func (f *fakeService) ReceivedMessages(limit int) []message.Message {
	if limit > 0 && limit < len(f.msgs) {
		return f.msgs[:limit]
	}
	return f.msgs
}

func (f *fakeService) ClearReceivedMessages() { f.cleared = true }

func (f *fakeService) MessageStats() ingest.Stats {
	return ingest.Stats{TotalMessages: len(f.msgs)}
}

func (f *fakeService) SearchMessages(query string, opts ingest.SearchOptions) []message.Message {
	f.lastQuery, f.lastOpts = query, opts
	return nil
}

func (f *fakeService) ConnectionStatus() supervisor.Status {
	return supervisor.Status{IsConnected: f.connected, HasPendingPairing: f.qr}
}

func (f *fakeService) ServiceStatus(context.Context) status.Report {
	return status.Report{Initialized: true, Connection: f.ConnectionStatus()}
}

func (f *fakeService) ResetSession(context.Context) error { return f.resetErr }
func (f *fakeService) Restart(context.Context) error { return nil }

func (f *fakeService) SessionInfo(context.Context) (*store.SessionInfo, error) {
	return &store.SessionInfo{Exists: true, TotalFiles: 1}, nil
}

func (f *fakeService) BackupSession(context.Context) (*store.BackupResult, error) {
	return &store.BackupResult{Location: "/tmp/backup", Files: 1}, nil
}

func (f *fakeService) TriggersEnabled() bool { return f.table.Enabled() }
func (f *fakeService) SetTriggersEnabled(v bool) { f.table.SetEnabled(v) }
func (f *fakeService) Triggers() triggers.Snapshot { return f.table.Snapshot() }

func newTestMux(svc *fakeService, token string) *http.ServeMux {
	mux := http.NewServeMux()
	NewMessagesHandler(svc, token, protocol.DefaultAPIPrefix).RegisterRoutes(mux)
	NewTriggersHandler(svc, token, protocol.DefaultAPIPrefix).RegisterRoutes(mux)
	return mux
}

type response struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	HasQR     *bool           `json:"hasQR"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Timestamp string          `json:"timestamp"`
}

func do(t *testing.T, mux http.Handler, method, path, body string) (int, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestSendMessageEnvelope(t *testing.T) {
	svc := &fakeService{connected: true, table: triggers.DefaultTable()}
	mux := newTestMux(svc, "")

	code, resp := do(t, mux, http.MethodPost, "/api/message/send", `{"to":"628123","message":"halo"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, "Message sent successfully", resp.Message)
	assert.NotEmpty(t, resp.Timestamp)

	var d message.Delivery
	require.NoError(t, json.Unmarshal(resp.Data, &d))
	assert.Equal(t, "628123@s.whatsapp.net", d.To)
}

func TestSendMessageErrors(t *testing.T) {
	tests := []struct {
		name      string
		svc       *fakeService
		body      string
		wantCode  int
		wantMsg   string
		wantHasQR bool
	}{
		{
			name:     "missing fields",
			svc:      &fakeService{connected: true},
			body:     `{"to":"628123"}`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "Missing required fields: to and message",
		},
		{
			name:     "bad json",
			svc:      &fakeService{connected: true},
			body:     `{"to":`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "Invalid JSON body",
		},
		{
			name:      "not connected with pending qr",
			svc:       &fakeService{qr: true},
			body:      `{"to":"628123","message":"halo"}`,
			wantCode:  http.StatusServiceUnavailable,
			wantMsg:   "WhatsApp is not connected",
			wantHasQR: true,
		},
		{
			name:     "transport failure",
			svc:      &fakeService{connected: true, sendErr: errors.New("socket closed")},
			body:     `{"to":"628123","message":"halo"}`,
			wantCode: http.StatusInternalServerError,
			wantMsg:  "Failed to send message",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.svc.table = triggers.DefaultTable()
			code, resp := do(t, newTestMux(tt.svc, ""), http.MethodPost, "/api/message/send", tt.body)
			assert.Equal(t, tt.wantCode, code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantMsg, resp.Message)
			if tt.wantCode == http.StatusServiceUnavailable {
				require.NotNil(t, resp.HasQR)
				assert.Equal(t, tt.wantHasQR, *resp.HasQR)
			} else {
				assert.Nil(t, resp.HasQR)
			}
		})
	}
}

func TestTokenIsRequiredWhenConfigured(t *testing.T) {
	svc := &fakeService{connected: true, table: triggers.DefaultTable()}
	mux := newTestMux(svc, "s3cret")

	req := httptest.NewRequest(http.MethodGet, "/api/message/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/message/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReceivedMessagesAndClear(t *testing.T) {
	svc := &fakeService{
		table: triggers.DefaultTable(),
		msgs:  []message.Message{{ID: "B"}, {ID: "A"}},
	}
	mux := newTestMux(svc, "")

	code, resp := do(t, mux, http.MethodGet, "/api/message/received?limit=1", "")
	assert.Equal(t, http.StatusOK, code)
	var data struct {
		Messages []message.Message `json:"messages"`
		Count    int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, 1, data.Count)
	assert.Equal(t, "B", data.Messages[0].ID)

	code, resp = do(t, mux, http.MethodDelete, "/api/message/received", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Messages cleared successfully", resp.Message)
	assert.True(t, svc.cleared)
}

func TestSearchParsesFilters(t *testing.T) {
	svc := &fakeService{table: triggers.DefaultTable()}
	mux := newTestMux(svc, "")

	code, resp := do(t, mux, http.MethodGet, "/api/message/search?q=banjir&type=text&isGroup=true&limit=5&since=100", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "banjir", svc.lastQuery)
	assert.Equal(t, 5, svc.lastOpts.Limit)
	assert.Equal(t, message.TypeText, svc.lastOpts.Type)
	assert.Equal(t, int64(100), svc.lastOpts.From)
	require.NotNil(t, svc.lastOpts.IsGroup)
	assert.True(t, *svc.lastOpts.IsGroup)
	assert.JSONEq(t, `{"query":"banjir","messages":[],"count":0}`, string(resp.Data))

	code, _ = do(t, mux, http.MethodGet, "/api/message/search?isGroup=maybe", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGroupsRequireConnection(t *testing.T) {
	svc := &fakeService{table: triggers.DefaultTable()}
	mux := newTestMux(svc, "")

	code, resp := do(t, mux, http.MethodGet, "/api/message/groups", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	require.NotNil(t, resp.HasQR)
	assert.False(t, *resp.HasQR)

	svc.connected = true
	code, resp = do(t, mux, http.MethodGet, "/api/message/groups", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"count":1`)
}

func TestResetSession(t *testing.T) {
	svc := &fakeService{table: triggers.DefaultTable()}
	mux := newTestMux(svc, "")

	code, resp := do(t, mux, http.MethodPost, "/api/message/reset-session", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "WhatsApp session reset initiated. Please wait for reconnection.", resp.Message)
	assert.Empty(t, resp.Data)

	svc.resetErr = errors.New("permission denied")
	code, resp = do(t, mux, http.MethodPost, "/api/message/reset-session", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Failed to reset session", resp.Message)
	assert.Equal(t, "permission denied", resp.Error)
}

func TestTriggerStatusToggle(t *testing.T) {
	svc := &fakeService{table: triggers.DefaultTable()}
	mux := newTestMux(svc, "")

	for _, body := range []string{`{}`, `{"enabled":"false"}`, `{"enabled":null}`, `{"enabled":0}`} {
		code, resp := do(t, mux, http.MethodPost, "/api/trigger/status", body)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Equal(t, "Field 'enabled' must be a boolean value", resp.Message)
	}
	assert.True(t, svc.TriggersEnabled())

	code, resp := do(t, mux, http.MethodPost, "/api/trigger/status", `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Triggers disabled successfully", resp.Message)
	assert.JSONEq(t, `{"success":true,"enabled":false,"message":"Triggers disabled successfully"}`, string(resp.Data))
	assert.False(t, svc.TriggersEnabled())

	code, resp = do(t, mux, http.MethodGet, "/api/trigger", "")
	assert.Equal(t, http.StatusOK, code)
	var snap triggers.Snapshot
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	assert.False(t, snap.Enabled)
	assert.Len(t, snap.Triggers, len(triggers.DefaultDefinitions()))
}

func TestCustomPrefix(t *testing.T) {
	svc := &fakeService{table: triggers.DefaultTable()}
	mux := http.NewServeMux()
	NewMessagesHandler(svc, "", "/wa/v1").RegisterRoutes(mux)

	code, _ := do(t, mux, http.MethodGet, "/wa/v1/message/status", "")
	assert.Equal(t, http.StatusOK, code)
}
