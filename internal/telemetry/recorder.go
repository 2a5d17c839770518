package telemetry

import (
	"context"
	"sync"
)

// Recorder keeps every record in memory.
type Recorder struct {
	mu     sync.Mutex
	events []FunnelEvent
	calls  []ProviderCall
}

// Funnel records ev.
func (r *Recorder) Funnel(_ context.Context, ev FunnelEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// ProviderCall records call.
func (r *Recorder) ProviderCall(_ context.Context, call ProviderCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

// Events returns a copy of the recorded funnel events.
func (r *Recorder) Events() []FunnelEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FunnelEvent(nil), r.events...)
}

// EventNames returns the recorded event names in order.
func (r *Recorder) EventNames() []EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]EventName, len(r.events))
	for i, ev := range r.events {
		names[i] = ev.Name
	}
	return names
}

// Calls returns a copy of the recorded provider calls.
func (r *Recorder) Calls() []ProviderCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProviderCall(nil), r.calls...)
}
