// ABOUTME: In-memory fan-out hub for chat session subscribers
// ABOUTME: Broadcasts frames to every connection watching a session

package chat

import (
	"log/slog"
	"sync"
)

// Subscriber receives frames for a session. Send must be safe to call from
// the hub's broadcasting goroutine; a returned error drops the subscriber.
type Subscriber interface {
	Send(Frame) error
}

// Hub fans frames out to every subscriber of a chat session. Membership is
// idempotent and broadcast failures only affect the failing subscriber.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[Subscriber]struct{}
	logger   *slog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]map[Subscriber]struct{}),
		logger:   slog.Default().With("component", "hub"),
	}
}

// Subscribe registers a subscriber for a session. Subscribing the same
// subscriber twice is a no-op.
func (h *Hub) Subscribe(sessionID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[sessionID]; !ok {
		h.sessions[sessionID] = make(map[Subscriber]struct{})
	}
	h.sessions[sessionID][sub] = struct{}{}

	h.logger.Debug("subscriber added", "session_id", sessionID, "total", len(h.sessions[sessionID]))
}

// Unsubscribe removes a subscriber from a session. Unknown subscribers are
// ignored.
func (h *Hub) Unsubscribe(sessionID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.sessions, sessionID)
	}

	h.logger.Debug("subscriber removed", "session_id", sessionID)
}

// SubscriberCount returns the number of subscribers for a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Broadcast sends a frame to all subscribers of a session. A subscriber
// whose Send fails is dropped; the others still receive the frame.
func (h *Hub) Broadcast(sessionID string, frame Frame) {
	h.mu.RLock()
	subs, ok := h.sessions[sessionID]
	if !ok || len(subs) == 0 {
		h.mu.RUnlock()
		return
	}
	// Copy under read lock so sends happen without holding it.
	targets := make([]Subscriber, 0, len(subs))
	for sub := range subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	var failed []Subscriber
	for _, sub := range targets {
		if err := sub.Send(frame); err != nil {
			h.logger.Warn("dropping subscriber after failed send",
				"session_id", sessionID,
				"frame_type", frame.Type,
				"error", err)
			failed = append(failed, sub)
		}
	}

	for _, sub := range failed {
		h.Unsubscribe(sessionID, sub)
	}
}
