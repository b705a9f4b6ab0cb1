// Package agent runs the LLM tool loop: it streams model output,
// executes tool calls, and emits render-ready events.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/nevindra/mcbridge/internal/llm"
	"github.com/nevindra/mcbridge/internal/prompt"
)

const (
	// maxToolRounds bounds how many model/tool iterations one request
	// may take.
	maxToolRounds = 10
	// batchMaxChars is the chunk size for non-streaming delivery.
	batchMaxChars = 150
)

// Engine drives agent runs. One Engine is shared by all workers.
type Engine struct {
	prompts *prompt.Manager
	tools   *Registry
	logger  *slog.Logger

	// StreamSentences controls delivery: sentence-by-sentence while
	// streaming, or batched after each round completes.
	StreamSentences bool
	// BatchDelay paces batched delivery so the game chat stays readable.
	BatchDelay time.Duration
}

func NewEngine(prompts *prompt.Manager, tools *Registry, streamSentences bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		prompts:         prompts,
		tools:           tools,
		logger:          logger,
		StreamSentences: streamSentences,
		BatchDelay:      100 * time.Millisecond,
	}
}

// StreamChat runs one agent turn and closes events when done. The
// stream always ends with exactly one terminal event: an empty content
// event carrying Completion, or a single error event.
func (e *Engine) StreamChat(
	ctx context.Context,
	content string,
	history []llm.ModelMessage,
	deps Dependencies,
	model llm.Model,
	events chan<- Event,
) {
	defer close(events)

	seq := 0
	emit := func(ev Event) bool {
		ev.Sequence = seq
		seq++
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	messages := make([]llm.ModelMessage, 0, len(history)+2)
	messages = append(messages, history...)
	messages = append(messages, e.buildUserRequest(content, history, deps))

	var totalUsage llm.Usage
	var toolEvents []ToolEvent

	for round := 0; round < maxToolRounds; round++ {
		req := llm.Request{Messages: messages, Tools: e.tools.Definitions()}

		ch := make(chan llm.StreamEvent, 16)
		var resp llm.Response
		var streamErr error
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					streamErr = fmt.Errorf("%v", r)
					e.logger.Error("model stream panicked",
						"connection_id", deps.ConnectionID,
						"panic", r,
						"stack", string(debug.Stack()))
					closeEvents(ch)
				}
			}()
			resp, streamErr = model.Stream(ctx, req, ch)
		}()

		var batcher sentenceBatcher
		thinkingOpen := false
		for ev := range ch {
			switch ev.Type {
			case llm.EventReasoningDelta:
				if !thinkingOpen {
					thinkingOpen = true
					if !emit(Event{Type: EventThinkingStart}) {
						<-done
						return
					}
				}
				if !emit(Event{Type: EventReasoning, Content: ev.Content}) {
					<-done
					return
				}
			case llm.EventTextDelta:
				if thinkingOpen {
					thinkingOpen = false
					if !emit(Event{Type: EventThinkingEnd}) {
						<-done
						return
					}
				}
				if e.StreamSentences {
					for _, sentence := range batcher.feed(ev.Content) {
						if !emit(Event{Type: EventContent, Content: sentence}) {
							<-done
							return
						}
					}
				} else {
					batcher.buf += ev.Content
				}
			}
		}
		<-done

		if streamErr != nil {
			e.logger.Error("stream chat failed",
				"connection_id", deps.ConnectionID, "error", streamErr)
			emit(Event{Type: EventError, Content: fmt.Sprintf("聊天处理错误: %v", streamErr)})
			return
		}

		if thinkingOpen {
			if !emit(Event{Type: EventThinkingEnd}) {
				return
			}
		}

		// Deliver any remaining text for this round.
		if e.StreamSentences {
			if tail := batcher.flush(); tail != "" {
				if !emit(Event{Type: EventContent, Content: tail}) {
					return
				}
			}
		} else {
			batches := batchText(batcher.flush(), batchMaxChars)
			for i, batch := range batches {
				if !emit(Event{Type: EventContent, Content: batch}) {
					return
				}
				if i < len(batches)-1 && e.BatchDelay > 0 {
					time.Sleep(e.BatchDelay)
				}
			}
		}

		totalUsage.Add(resp.Usage)
		messages = append(messages, resp.Message())

		if len(resp.ToolCalls) == 0 {
			emit(Event{Type: EventContent, Completion: &Completion{
				Usage:       totalUsage,
				AllMessages: messages,
				ToolEvents:  toolEvents,
			}})
			return
		}

		for _, call := range resp.ToolCalls {
			args := string(call.Args)
			if !emit(Event{Type: EventToolCall, ToolName: call.Name, ToolArgs: args}) {
				return
			}
			result := e.tools.Execute(ctx, deps, call)
			toolEvents = append(toolEvents, ToolEvent{Name: call.Name, Args: args, Result: result})
			if !emit(Event{Type: EventToolResult, ToolName: call.Name, Content: result}) {
				return
			}
			messages = append(messages, llm.ToolReturnMessage(call.ID, call.Name, result))
		}
	}

	// Round limit reached; hand back what we have.
	emit(Event{Type: EventContent, Completion: &Completion{
		Usage:       totalUsage,
		AllMessages: messages,
		ToolEvents:  toolEvents,
	}})
}

// closeEvents closes ch, tolerating a model that already closed it
// before panicking.
func closeEvents(ch chan llm.StreamEvent) {
	defer func() { _ = recover() }()
	close(ch)
}

// buildUserRequest wraps the prompt in a request message, attaching the
// system prompt on fresh conversations.
func (e *Engine) buildUserRequest(content string, history []llm.ModelMessage, deps Dependencies) llm.ModelMessage {
	for _, msg := range history {
		if msg.HasPart(llm.PartSystemPrompt) {
			return llm.UserMessage(content)
		}
	}

	system := e.prompts.BuildSystemPrompt(prompt.BuildContext{
		ConnectionID:  deps.ConnectionID,
		PlayerName:    deps.PlayerName,
		Provider:      deps.Provider,
		Model:         deps.Model,
		ContextLength: deps.ContextLength,
	})
	return llm.ModelMessage{
		Kind: llm.KindRequest,
		Parts: []llm.Part{
			{Kind: llm.PartSystemPrompt, Content: system},
			{Kind: llm.PartUserPrompt, Content: content},
		},
	}
}
