// Package session drives the lifecycle of the single account connection:
// pairing, credential persistence, reconnects and state exposure.
//
// Transport events are folded into State by Reduce, a pure function that
// also returns the side effects to run. Manager owns the only State and
// applies events serially on one goroutine.
package session

// Status is the coarse connection state.
type Status int

const (
	Disconnected Status = iota
	AwaitingPairing
	Connected
	Reconnecting
	Terminated
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case AwaitingPairing:
		return "awaiting-pairing"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// State is the full session state. PairingPayload is only set while
// AwaitingPairing.
type State struct {
	Status         Status
	PairingPayload string
	// Attempt counts consecutive reconnect attempts; reset on Connected.
	Attempt int
	// GaveUp is set when the reconnect breaker tripped.
	GaveUp bool
	// LastCloseCode is the code of the most recent connection close.
	LastCloseCode int
}

// Live reports whether sends may be dispatched.
func (s State) Live() bool {
	return s.Status == Connected
}
