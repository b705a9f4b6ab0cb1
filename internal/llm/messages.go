package llm

import "encoding/json"

// PartKind identifies the kind of a message part.
type PartKind string

const (
	PartSystemPrompt PartKind = "system-prompt"
	PartUserPrompt   PartKind = "user-prompt"
	PartText         PartKind = "text"
	PartThinking     PartKind = "thinking"
	PartToolCall     PartKind = "tool-call"
	PartToolReturn   PartKind = "tool-return"
)

// Part is one piece of a ModelMessage. Which fields are set depends on Kind:
// text-like parts carry Content, tool-call parts carry ToolName/ToolCallID/Args,
// tool-return parts carry ToolName/ToolCallID/Content.
type Part struct {
	Kind       PartKind        `json:"kind"`
	Content    string          `json:"content,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
}

// MessageKind distinguishes messages sent to the model from messages it produced.
type MessageKind string

const (
	// KindRequest groups parts sent to the model: system-prompt, user-prompt, tool-return.
	KindRequest MessageKind = "request"
	// KindResponse groups parts produced by the model: text, thinking, tool-call.
	KindResponse MessageKind = "response"
)

// ModelMessage is one entry in a conversation history. A tool-call part with
// id X must eventually be followed by a tool-return part with the same X.
type ModelMessage struct {
	Kind  MessageKind `json:"kind"`
	Parts []Part      `json:"parts"`
}

// --- constructors ---

func SystemMessage(text string) ModelMessage {
	return ModelMessage{Kind: KindRequest, Parts: []Part{{Kind: PartSystemPrompt, Content: text}}}
}

func UserMessage(text string) ModelMessage {
	return ModelMessage{Kind: KindRequest, Parts: []Part{{Kind: PartUserPrompt, Content: text}}}
}

func TextMessage(text string) ModelMessage {
	return ModelMessage{Kind: KindResponse, Parts: []Part{{Kind: PartText, Content: text}}}
}

func ToolReturnMessage(callID, toolName, content string) ModelMessage {
	return ModelMessage{Kind: KindRequest, Parts: []Part{{
		Kind:       PartToolReturn,
		ToolName:   toolName,
		ToolCallID: callID,
		Content:    content,
	}}}
}

// HasPart reports whether any part of m has the given kind.
func (m ModelMessage) HasPart(kind PartKind) bool {
	for _, p := range m.Parts {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

// ToolCallIDs returns the ids of all tool-call parts in m.
func (m ModelMessage) ToolCallIDs() []string {
	var ids []string
	for _, p := range m.Parts {
		if p.Kind == PartToolCall {
			ids = append(ids, p.ToolCallID)
		}
	}
	return ids
}

// CountTurns returns the number of user turns in history: one turn per
// user-prompt part, counting at most one per message.
func CountTurns(history []ModelMessage) int {
	turns := 0
	for _, m := range history {
		if m.HasPart(PartUserPrompt) {
			turns++
		}
	}
	return turns
}

// --- wire-level chat types shared by the drivers ---

// ToolCall is a single function call requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolDefinition describes one callable tool (JSON Schema parameters).
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Usage counts tokens consumed by one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
}

// Request is one model invocation: full message history plus tool definitions.
type Request struct {
	Messages []ModelMessage
	Tools    []ToolDefinition
}

// Response is the complete result of one model call.
type Response struct {
	Text      string
	Reasoning string
	ToolCalls []ToolCall
	Usage     Usage
}

// Message converts the response into a history entry. Thinking content is
// recorded as a thinking part so it can be redacted before the next turn.
func (r Response) Message() ModelMessage {
	var parts []Part
	if r.Reasoning != "" {
		parts = append(parts, Part{Kind: PartThinking, Content: r.Reasoning})
	}
	if r.Text != "" {
		parts = append(parts, Part{Kind: PartText, Content: r.Text})
	}
	for _, tc := range r.ToolCalls {
		parts = append(parts, Part{Kind: PartToolCall, ToolName: tc.Name, ToolCallID: tc.ID, Args: tc.Args})
	}
	return ModelMessage{Kind: KindResponse, Parts: parts}
}
