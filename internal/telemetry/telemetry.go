// Package telemetry records funnel events and provider call outcomes.
//
// Producers talk to a Sink. Sinks must return quickly; slow consumers are put
// behind an Async sink so the generation pipeline never waits on them.
package telemetry

import (
	"context"
	"time"
)

// EventName identifies a product funnel step.
type EventName string

const (
	EventSessionStarted      EventName = "session_started"
	EventRefinementAnswered  EventName = "refinement_answered"
	EventRefinementCompleted EventName = "refinement_completed"
	EventSynthesisRequested  EventName = "synthesis_requested"
	EventSynthesisSucceeded  EventName = "synthesis_succeeded"
	EventGenerationRequested EventName = "generation_requested"
	EventImageSucceeded      EventName = "image_succeeded"
	EventImageFailed         EventName = "image_failed"
)

// FunnelEvent is one step of a session's progress through the product.
type FunnelEvent struct {
	Name      EventName      `json:"event"`
	SessionID string         `json:"sessionId"`
	RequestID string         `json:"requestId,omitempty"`
	Props     map[string]any `json:"props,omitempty"`
	At        time.Time      `json:"at"`
}

// Provider names an upstream dependency.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderNanoBanana Provider = "nanobanana"
)

// CallStatus is the outcome class of one provider attempt.
type CallStatus string

const (
	CallSuccess CallStatus = "success"
	CallError   CallStatus = "error"
	CallTimeout CallStatus = "timeout"
)

// ProviderCall describes a single attempt against a provider.
type ProviderCall struct {
	Provider  Provider      `json:"provider"`
	Operation string        `json:"operation"`
	RequestID string        `json:"requestId,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	Latency   time.Duration `json:"latency"`
	Status    CallStatus    `json:"providerStatus"`
	Attempt   int           `json:"attempt"`
	ErrorCode string        `json:"errorCode,omitempty"`
	At        time.Time     `json:"at"`
}

// Sink receives telemetry. Implementations must be safe for concurrent use.
type Sink interface {
	Funnel(ctx context.Context, ev FunnelEvent)
	ProviderCall(ctx context.Context, call ProviderCall)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Funnel(context.Context, FunnelEvent)        {}
func (Nop) ProviderCall(context.Context, ProviderCall) {}

// Multi forwards every record to each sink in order.
type Multi []Sink

// Funnel forwards ev.
func (m Multi) Funnel(ctx context.Context, ev FunnelEvent) {
	for _, s := range m {
		s.Funnel(ctx, ev)
	}
}

// ProviderCall forwards call.
func (m Multi) ProviderCall(ctx context.Context, call ProviderCall) {
	for _, s := range m {
		s.ProviderCall(ctx, call)
	}
}

// NewEvent stamps an event with the current time.
func NewEvent(name EventName, sessionID, requestID string, props map[string]any) FunnelEvent {
	return FunnelEvent{
		Name:      name,
		SessionID: sessionID,
		RequestID: requestID,
		Props:     props,
		At:        time.Now().UTC(),
	}
}
