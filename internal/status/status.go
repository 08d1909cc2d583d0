// Package status holds the aggregate health report shared by the gateway
// service and its HTTP surface.
package status

import (
	"github.com/nextlevelbuilder/wagate/internal/ingest"
	"github.com/nextlevelbuilder/wagate/internal/store"
	"github.com/nextlevelbuilder/wagate/internal/supervisor"
)

// Report aggregates connection, session and message state.
type Report struct {
	Initialized     bool               `json:"initialized"`
	Connection      supervisor.Status  `json:"connection"`
	Session         *store.SessionInfo `json:"session,omitempty"`
	Messages        ingest.Stats       `json:"messages"`
	TriggersEnabled bool               `json:"triggersEnabled"`
	WebhookEnabled  bool               `json:"webhookEnabled"`
	Uptime          string             `json:"uptime"`
	Services        map[string]string  `json:"services"`
}
