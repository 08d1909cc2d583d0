// Package triggers matches inbound messages against an ordered prefix table
// and runs the bound auto-response.
package triggers

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
)

// Kind says how a trigger produces its response.
type Kind string

const (
	KindStatic  Kind = "static"
	KindHandler Kind = "function"
)

// HandlerID names a registered handler. The set is closed; names that do not
// resolve decode to HandlerUnknown and answer with HandlerNotFound.
type HandlerID int

const (
	HandlerUnknown HandlerID = iota
	HandlerA1Report
)

var handlerNames = map[HandlerID]string{
	HandlerA1Report: "handleA1Report",
}

// HandlerNotFound is the response of a trigger bound to an unknown handler.
const HandlerNotFound = "Handler function not found"

func (h HandlerID) String() string {
	if name, ok := handlerNames[h]; ok {
		return name
	}
	return "unknown"
}

// ParseHandlerID resolves a handler name. Unknown names yield HandlerUnknown.
func ParseHandlerID(name string) HandlerID {
	for id, n := range handlerNames {
		if n == name {
			return id
		}
	}
	return HandlerUnknown
}

func (h HandlerID) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *HandlerID) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("handler id: %w", err)
	}
	*h = ParseHandlerID(name)
	return nil
}

// Definition is one row of the trigger table.
type Definition struct {
	Prefix       string    `json:"prefix"`
	Kind         Kind      `json:"type"`
	Response     string    `json:"response,omitempty"`
	Handler      HandlerID `json:"handler,omitempty"`
	Enabled      bool      `json:"enabled"`
	ReplyEnabled bool      `json:"reply"`
}

// Validate rejects rows that could never match or respond.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Prefix) == "" {
		return fmt.Errorf("trigger: empty prefix")
	}
	switch d.Kind {
	case KindStatic:
		if d.Response == "" {
			return fmt.Errorf("trigger %q: static trigger without response", d.Prefix)
		}
	case KindHandler:
	default:
		return fmt.Errorf("trigger %q: unknown type %q", d.Prefix, d.Kind)
	}
	return nil
}

// HelpText is the response of the default .help trigger.
const HelpText = "📋 AVAILABLE COMMANDS:\n\n.a1 <pesan> - Buat laporan dengan format khusus\n  Contoh: .a1 laporan ada kerusakan plafond\n\n.help - Show this help\n.ping - Pong! 🏓"

// DefaultDefinitions is the built-in trigger list.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Prefix: ".a1", Kind: KindHandler, Handler: HandlerA1Report, Enabled: true, ReplyEnabled: false},
		{Prefix: ".help", Kind: KindStatic, Response: HelpText, Enabled: true, ReplyEnabled: true},
		{Prefix: ".ping", Kind: KindStatic, Response: "Pong! 🏓", Enabled: true, ReplyEnabled: false},
	}
}

// Table is an ordered, immutable trigger list plus the global on/off switch.
type Table struct {
	defs    []Definition
	enabled atomic.Bool
}

// NewTable validates defs and returns a table with triggers globally enabled.
func NewTable(defs []Definition) (*Table, error) {
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	t := &Table{defs: append([]Definition(nil), defs...)}
	t.enabled.Store(true)
	return t, nil
}

// DefaultTable returns the built-in table.
func DefaultTable() *Table {
	t, _ := NewTable(DefaultDefinitions())
	return t
}

func (t *Table) Enabled() bool { return t.enabled.Load() }

func (t *Table) SetEnabled(v bool) { t.enabled.Store(v) }

// Definitions returns a copy of the rows in table order.
func (t *Table) Definitions() []Definition {
	return append([]Definition(nil), t.defs...)
}

// Snapshot is the outward view of the table.
type Snapshot struct {
	Enabled  bool         `json:"enabled"`
	Triggers []Definition `json:"triggers"`
}

func (t *Table) Snapshot() Snapshot {
	return Snapshot{Enabled: t.Enabled(), Triggers: t.Definitions()}
}

// Match returns the first enabled row whose prefix starts text, compared
// case-insensitively after trimming. Table order wins over prefix length.
func (t *Table) Match(text string) (Definition, bool) {
	if !t.Enabled() {
		return Definition{}, false
	}
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, d := range t.defs {
		if d.Enabled && strings.HasPrefix(lower, strings.ToLower(d.Prefix)) {
			return d, true
		}
	}
	return Definition{}, false
}
