package telemetry

import (
	"context"
	"log/slog"
	"sync"
)

const subscriberBuffer = 16

// Subscription is one watcher of a session's funnel events.
type Subscription struct {
	C <-chan FunnelEvent

	ch        chan FunnelEvent
	sessionID string
	hub       *ProgressHub
	once      sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unregister(s) })
}

// ProgressHub fans funnel events out to the watchers of each session.
// Slow watchers miss events rather than stalling publishers.
type ProgressHub struct {
	mu     sync.RWMutex
	active map[string]map[*Subscription]struct{}
}

// NewProgressHub creates an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{active: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a watcher for sessionID.
func (h *ProgressHub) Subscribe(sessionID string) *Subscription {
	ch := make(chan FunnelEvent, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, sessionID: sessionID, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.active[sessionID]; !ok {
		h.active[sessionID] = make(map[*Subscription]struct{})
	}
	h.active[sessionID][sub] = struct{}{}
	slog.Debug("progress watcher registered", "session_id", sessionID)
	return sub
}

func (h *ProgressHub) unregister(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.active[sub.sessionID]; ok {
		if _, exists := subs[sub]; exists {
			delete(subs, sub)
			close(sub.ch)
			if len(subs) == 0 {
				delete(h.active, sub.sessionID)
			}
			slog.Debug("progress watcher unregistered", "session_id", sub.sessionID)
		}
	}
}

// CloseSession detaches every watcher of sessionID.
func (h *ProgressHub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.active[sessionID] {
		close(sub.ch)
	}
	delete(h.active, sessionID)
}

// Watchers returns the number of watchers attached to sessionID.
func (h *ProgressHub) Watchers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[sessionID])
}

// Funnel publishes ev to the session's watchers.
func (h *ProgressHub) Funnel(_ context.Context, ev FunnelEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.active[ev.SessionID] {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("progress watcher lagging, event dropped",
				"session_id", ev.SessionID,
				"event", string(ev.Name))
		}
	}
}

// ProviderCall is ignored; watchers only see funnel progress.
func (h *ProgressHub) ProviderCall(context.Context, ProviderCall) {}
