package protocol

// Unprefixed routes.
const (
	RouteHealth  = "GET /health"
	RouteMetrics = "GET /metrics"
	RouteEvents  = "GET /ws"
	PathEvents   = "/ws"
)

// API paths, relative to the configured API prefix (default "/api").
const (
	PathSendMessage   = "/message/send"
	PathSendGroup     = "/message/send-group"
	PathSendReaction  = "/message/reaction"
	PathReceived      = "/message/received"
	PathStats         = "/message/stats"
	PathSearch        = "/message/search"
	PathStatus        = "/message/status"
	PathServiceStatus = "/message/service-status"
	PathResetSession  = "/message/reset-session"
	PathRestart       = "/message/restart"
	PathGroups        = "/message/groups"
	PathSessionInfo   = "/message/session"
	PathSessionBackup = "/message/session/backup"
	PathTriggers      = "/trigger"
	PathTriggerStatus = "/trigger/status"
	DefaultAPIPrefix  = "/api"
)
