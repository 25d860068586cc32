// Package transport defines the contract between the session core and the
// messaging network connection. The wire protocol itself lives behind this
// boundary; see the whatsapp sub-package for the whatsmeow-backed adapter.
package transport

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/compose"
)

// Close codes reported with ConnectionClosed. They mirror the status codes
// the network uses for stream/connect failures.
const (
	CodeLoggedOut          = 401
	CodeTemporaryBan       = 402
	CodeClientOutdated     = 405
	CodeTimedOut           = 408
	CodeConnectionClosed   = 428
	CodeConnectionReplaced = 440
	CodeBadSession         = 500
	CodeRestartRequired    = 515
	// CodeOpenFailed is local: the transport could not be opened at all.
	CodeOpenFailed = 599
)

// Event is one item of the transport's event stream. The set is closed:
// only the types in this package implement it.
type Event interface {
	isEvent()
}

// PairingCode carries a fresh pairing payload (QR content).
type PairingCode struct {
	Payload string
}

// ConnectionOpening marks the start of a connection attempt. Attempt is 0
// for an operator-initiated start and counts up for automatic reconnects.
type ConnectionOpening struct {
	Attempt int
}

// ConnectionOpened is emitted once the account is logged in and online.
type ConnectionOpened struct{}

// ConnectionClosed reports the connection ending. Code CodeLoggedOut means
// the credentials were revoked.
type ConnectionClosed struct {
	Code int
	Err  error
}

// CredentialsUpdated carries new credential material to persist.
type CredentialsUpdated struct {
	Blob []byte
}

// MessageReceived is an inbound message.
type MessageReceived struct {
	ID        string
	From      string
	Chat      string
	Text      string
	FromMe    bool
	Timestamp time.Time
}

func (PairingCode) isEvent()        {}
func (ConnectionOpening) isEvent()  {}
func (ConnectionOpened) isEvent()   {}
func (ConnectionClosed) isEvent()   {}
func (CredentialsUpdated) isEvent() {}
func (MessageReceived) isEvent()    {}

// Sink receives transport events. Implementations must not block for long.
type Sink func(Event)

// Receipt is the transport's acknowledgement of one send.
type Receipt struct {
	MessageID string
	Timestamp time.Time
}

// Conn is one live connection handle.
type Conn interface {
	// Send delivers composed content to target. It is not safe for
	// overlapping calls; callers serialize.
	Send(ctx context.Context, target string, msg compose.Composed) (Receipt, error)
	// Close tears the connection down. Idempotent.
	Close() error
}

// Transport opens connections.
type Transport interface {
	// Open starts a connection using creds (nil on first run) and streams
	// events to sink until the connection is closed.
	Open(ctx context.Context, creds []byte, sink Sink) (Conn, error)
}

// IsLoggedOut reports whether a close code means the credentials are dead.
func IsLoggedOut(code int) bool {
	return code == CodeLoggedOut
}
