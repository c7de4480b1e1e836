// Package stream implements the ordered event protocol relaying partial and
// terminal exchange state to the client.
package stream

import (
	"time"
)

// EventType identifies one message kind on the exchange event channel.
type EventType string

const (
	EventRequestIssued         EventType = "request-issued"
	EventContentDelta          EventType = "content-delta"
	EventToolCallDelta         EventType = "tool-call-delta"
	EventIterationComplete     EventType = "iteration-complete"
	EventToolExecutionStarted  EventType = "tool-execution-started"
	EventToolExecutionFinished EventType = "tool-execution-finished"
	EventExchangeComplete      EventType = "exchange-complete"
	EventExchangeFailed        EventType = "exchange-failed"
)

// Event is one message on the per-exchange channel. Events for iteration n
// are fully emitted before any event for iteration n+1.
type Event struct {
	Type      EventType `json:"type"`
	Iteration int       `json:"iteration"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Terminal reports whether the event ends the stream. Exactly one terminal
// event is delivered per exchange.
func (e Event) Terminal() bool {
	return e.Type == EventExchangeComplete || e.Type == EventExchangeFailed
}

// ContentDeltaPayload carries one content fragment.
type ContentDeltaPayload struct {
	Text string `json:"text"`
}

// ToolCallDeltaPayload carries one tool-call fragment.
type ToolCallDeltaPayload struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolExecutionPayload describes one tool invocation's lifecycle.
type ToolExecutionPayload struct {
	CallID     string `json:"call_id"`
	Tool       string `json:"tool"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// ErrorPayload carries a failure in wire form.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
