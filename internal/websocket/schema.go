package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSignal Action = "signal"
	ActionPing   Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// SignalRequest is sent by the client to report one proctoring signal
// (blur, visibility change, devtools heuristic, ...).
type SignalRequest struct {
	Action Action `json:"action"`
	Kind   string `json:"kind"`
}

// PingRequest doubles as the liveness heartbeat for the attempt.
type PingRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError      Event = "error"
	EventWarning    Event = "warning"
	EventTerminated Event = "terminated"
	EventPong       Event = "pong"
)

// WarningResponse surfaces a user-visible proctoring notice.
type WarningResponse struct {
	Event     Event  `json:"event"`
	Kind      string `json:"kind"`
	Count     int    `json:"count"`
	Remaining int    `json:"remaining"`
}

// TerminatedResponse tells the client its attempt was force-ended.
type TerminatedResponse struct {
	Event  Event  `json:"event"`
	Reason string `json:"reason"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
	Alive bool  `json:"alive"`
}
