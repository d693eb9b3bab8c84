// Package relay implements the per-session publish/subscribe channel that
// pushes entity lifecycle events to connected subscribers. Events are
// ephemeral: there is no replay, and subscribers reconcile missed events
// against authoritative reads after reconnecting.
package relay

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// defaultBufferSize is the per-subscriber event buffer. A subscriber that
// falls this far behind starts losing events, which the reconciliation
// layer already has to tolerate.
const defaultBufferSize = 32

// Hub routes events to subscribers keyed by session id. Membership is
// established by an explicit Join; events are never broadcast globally.
type Hub struct {
	mu         sync.RWMutex
	sessions   map[uuid.UUID]map[*Subscriber]struct{}
	bufferSize int
	logger     *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions:   make(map[uuid.UUID]map[*Subscriber]struct{}),
		bufferSize: defaultBufferSize,
		logger:     logger.With("component", "relay_hub"),
	}
}

// Join subscribes to the channel for the given session and immediately
// delivers the connected signal. The caller must Leave when done.
func (h *Hub) Join(sessionID uuid.UUID) *Subscriber {
	sub := &Subscriber{
		sessionID: sessionID,
		events:    make(chan Event, h.bufferSize),
		hub:       h,
	}

	h.mu.Lock()
	subs, ok := h.sessions[sessionID]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.sessions[sessionID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("subscriber joined session channel",
		"session_id", sessionID,
		"subscriber_count", len(subs))

	connected, err := NewEvent(EventConnected, sessionID, nil)
	if err == nil {
		sub.events <- connected
	}

	return sub
}

// Leave removes a subscriber and closes its event channel. Idempotent.
func (h *Hub) Leave(sub *Subscriber) {
	h.mu.Lock()
	subs, ok := h.sessions[sub.sessionID]
	if ok {
		if _, member := subs[sub]; member {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.sessions, sub.sessionID)
			}
			sub.closeOnce.Do(func() { close(sub.events) })
		}
	}
	h.mu.Unlock()
}

// Publish delivers an event to every subscriber of the event's session.
// Delivery is non-blocking: a subscriber with a full buffer loses the
// event, which is logged and otherwise ignored. Sends happen under the
// read lock; Leave closes the channel under the write lock, so a send can
// never race the close.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.sessions[event.SessionID] {
		select {
		case sub.events <- event:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				"event_type", event.Type,
				"session_id", event.SessionID)
		}
	}
}

// SubscriberCount returns the number of subscribers on a session channel.
func (h *Hub) SubscriberCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Subscriber is a single membership on a session channel.
type Subscriber struct {
	sessionID uuid.UUID
	events    chan Event
	hub       *Hub
	closeOnce sync.Once
}

// Events returns the subscriber's event stream. The channel is closed
// when the subscriber leaves the hub.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// SessionID returns the session this subscriber is joined to.
func (s *Subscriber) SessionID() uuid.UUID {
	return s.sessionID
}
