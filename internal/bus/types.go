package bus

// Event is a named notification fanned out to subscribers.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler receives broadcast events. Handlers run on the publisher's
// goroutine and must not block.
type EventHandler func(Event)
