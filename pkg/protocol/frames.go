// Package protocol defines the wire format of the wagate HTTP and websocket
// surface. It is importable by clients.
package protocol

import (
	"encoding/json"
	"time"
)

// Frame types
const (
	FrameTypeEvent = "event"
)

// EventFrame is pushed from server to client over the status stream.
type EventFrame struct {
	Type    string      `json:"type"`              // always "event"
	Event   string      `json:"event"`             // event name
	Payload interface{} `json:"payload,omitempty"` // event data
	Seq     int64       `json:"seq,omitempty"`     // ordering sequence number
}

// NewEvent creates an event frame.
func NewEvent(event string, payload interface{}) *EventFrame {
	return &EventFrame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: payload,
	}
}

// StatusPayload is the body of GET /status and of session.status events.
type StatusPayload struct {
	Status    string `json:"status"`
	QR        string `json:"qr,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	CloseCode int    `json:"closeCode,omitempty"`
}

// MessagePayload is the body of message.received events.
type MessagePayload struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Chat      string    `json:"chat"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SendRequest is the body of POST /send. The short field names of the
// original panel (number, type, message, mediaUrl) are accepted as aliases.
type SendRequest struct {
	Target   string  `json:"target,omitempty"`
	Number   string  `json:"number,omitempty"`
	Kind     string  `json:"kind,omitempty"`
	Type     string  `json:"type,omitempty"`
	Body     *string `json:"body,omitempty"`
	Message  *string `json:"message,omitempty"`
	MediaRef *string `json:"mediaRef,omitempty"`
	MediaURL *string `json:"mediaUrl,omitempty"`
	QuotedID string  `json:"quotedId,omitempty"`
	DryRun   bool    `json:"dryRun,omitempty"`
}

// SendResponse is the body returned by POST /send.
type SendResponse struct {
	Success bool            `json:"success,omitempty"`
	ID      string          `json:"id,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}
