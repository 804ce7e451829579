package eventsink

import (
	"context"
	"time"
)

// Kind classifies telemetry events.
type Kind string

const (
	KindDecision  Kind = "decision"
	KindPosition  Kind = "position"
	KindReasoning Kind = "reasoning"
)

// Event is one telemetry record emitted by the risk core. Payload is opaque
// to the sink; downstream consumers own its schema.
type Event struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	BotID     string         `json:"bot_id,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives telemetry events. Implementations must tolerate bursts; the
// order path never blocks on a sink (see Queue).
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards all events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
