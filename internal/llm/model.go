package llm

import "context"

// StreamEventType identifies the kind of a low-level model stream event.
type StreamEventType string

const (
	// EventTextDelta carries an incremental text chunk.
	EventTextDelta StreamEventType = "text-delta"
	// EventReasoningDelta carries an incremental reasoning/thinking chunk.
	EventReasoningDelta StreamEventType = "reasoning-delta"
)

// StreamEvent is one incremental event from a streaming model call.
type StreamEvent struct {
	Type    StreamEventType
	Content string
}

// Model abstracts one concrete LLM backend bound to a provider, model name,
// and HTTP client. Implementations must be safe for concurrent use.
type Model interface {
	// Name returns the model name (e.g. "deepseek-chat").
	Name() string
	// Provider returns the provider name (e.g. "deepseek").
	Provider() string
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req Request) (Response, error)
	// Stream sends a request, emits delta events into ch, and returns the
	// accumulated response. The channel is closed when streaming ends.
	Stream(ctx context.Context, req Request, ch chan<- StreamEvent) (Response, error)
}
