package protocol

// Event names pushed to status stream subscribers.
const (
	EventSessionStatus   = "session.status"
	EventMessageReceived = "message.received"
	EventShutdown        = "shutdown"
)

// Status values reported by GET /status.
const (
	StatusConnected       = "connected"
	StatusAwaitingPairing = "awaiting-pairing"
	StatusInitializing    = "initializing"
	StatusReconnecting    = "reconnecting"
	StatusTerminated      = "terminated"
	StatusDisconnected    = "disconnected"
)
