package agent

import "github.com/nevindra/mcbridge/internal/llm"

// EventType classifies stream events emitted during an agent run.
type EventType string

const (
	EventContent       EventType = "content"
	EventReasoning     EventType = "reasoning"
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventError         EventType = "error"
	EventThinkingStart EventType = "thinking_start"
	EventThinkingEnd   EventType = "thinking_end"
)

// ToolEvent records one tool invocation for the completion metadata.
type ToolEvent struct {
	Name   string `json:"name"`
	Args   string `json:"args"`
	Result string `json:"result"`
}

// Completion is attached to the terminal content event of a run.
type Completion struct {
	Usage       llm.Usage
	AllMessages []llm.ModelMessage
	ToolEvents  []ToolEvent
}

// Event is one item of the agent's output stream. The run always ends
// with exactly one terminal event: either an empty content event
// carrying Completion, or a single error event.
type Event struct {
	Type     EventType
	Content  string
	Sequence int

	// Set on tool_call / tool_result events.
	ToolName string
	ToolArgs string

	// Set on the terminal content event.
	Completion *Completion
}
