package supervisor

// DisconnectReason classifies why the link closed.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonBadSession
	ReasonConnectionClosed
	ReasonConnectionLost
	ReasonConnectionReplaced
	ReasonLoggedOut
	ReasonRestartRequired
	ReasonTimedOut
)

var reasonNames = map[DisconnectReason]string{
	ReasonUnknown:            "unknown",
	ReasonBadSession:         "badSession",
	ReasonConnectionClosed:   "connectionClosed",
	ReasonConnectionLost:     "connectionLost",
	ReasonConnectionReplaced: "connectionReplaced",
	ReasonLoggedOut:          "loggedOut",
	ReasonRestartRequired:    "restartRequired",
	ReasonTimedOut:           "timedOut",
}

func (r DisconnectReason) String() string {
	if n, ok := reasonNames[r]; ok {
		return n
	}
	return "unknown"
}

// RequiresSessionReset reports whether the persisted credentials are no
// longer usable after this disconnect.
func (r DisconnectReason) RequiresSessionReset() bool {
	switch r {
	case ReasonBadSession, ReasonConnectionReplaced, ReasonLoggedOut:
		return true
	}
	return false
}

// Bridge status codes. 408 is shared by connectionLost and timedOut; the
// reason name disambiguates when present.
var statusReasons = map[int]DisconnectReason{
	500: ReasonBadSession,
	428: ReasonConnectionClosed,
	408: ReasonConnectionLost,
	440: ReasonConnectionReplaced,
	401: ReasonLoggedOut,
	515: ReasonRestartRequired,
}

// ClassifyDisconnect maps a bridge close report to a DisconnectReason.
// A known reason name wins over the status code.
func ClassifyDisconnect(statusCode int, name string) DisconnectReason {
	if name != "" {
		for r, n := range reasonNames {
			if n == name && r != ReasonUnknown {
				return r
			}
		}
	}
	if r, ok := statusReasons[statusCode]; ok {
		return r
	}
	return ReasonUnknown
}
