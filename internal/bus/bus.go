// Package bus fans session events out to in-process subscribers (status
// page, websocket clients, CLI watchers).
package bus

import (
	"sync"
)

// MessageBus broadcasts events to registered subscribers.
type MessageBus struct {
	// Event subscribers (subscriber ID → handler)
	subscribers map[string]EventHandler
	subMu       sync.RWMutex
}

func New() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]EventHandler),
	}
}

// Subscribe registers an event subscriber under id. A second Subscribe with
// the same id replaces the first.
func (mb *MessageBus) Subscribe(id string, handler EventHandler) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	mb.subscribers[id] = handler
}

// Unsubscribe removes an event subscriber.
func (mb *MessageBus) Unsubscribe(id string) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	delete(mb.subscribers, id)
}

// Broadcast sends an event to all subscribers.
func (mb *MessageBus) Broadcast(event Event) {
	mb.subMu.RLock()
	handlers := make([]EventHandler, 0, len(mb.subscribers))
	for _, handler := range mb.subscribers {
		handlers = append(handlers, handler)
	}
	mb.subMu.RUnlock()

	// Handlers may unsubscribe themselves, so they run outside the lock.
	for _, handler := range handlers {
		handler(event)
	}
}

// Len returns the number of subscribers.
func (mb *MessageBus) Len() int {
	mb.subMu.RLock()
	defer mb.subMu.RUnlock()
	return len(mb.subscribers)
}
