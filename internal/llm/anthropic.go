package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// anthropicModel speaks the Anthropic messages API.
type anthropicModel struct {
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
}

func newAnthropicModel(cfg ProviderConfig, client *http.Client) *anthropicModel {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &anthropicModel{
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  client,
	}
}

func (m *anthropicModel) Name() string     { return m.model }
func (m *anthropicModel) Provider() string { return "anthropic" }

// --- wire types ---

type anthContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthMessage struct {
	Role    string             `json:"role"`
	Content []anthContentBlock `json:"content"`
}

type anthTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []anthMessage `json:"messages"`
	Tools     []anthTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream,omitempty"`
}

type anthUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthResponse struct {
	Content []anthContentBlock `json:"content"`
	Usage   anthUsage          `json:"usage"`
}

// buildAnthropicBody converts the part-structured history to the Anthropic
// wire form. System prompts become the top-level system string; thinking
// parts are dropped rather than replayed.
func buildAnthropicBody(model string, req Request) anthRequest {
	body := anthRequest{Model: model, MaxTokens: anthropicMaxTokens}

	for _, msg := range req.Messages {
		switch msg.Kind {
		case KindRequest:
			for _, p := range msg.Parts {
				switch p.Kind {
				case PartSystemPrompt:
					body.System = p.Content
				case PartUserPrompt:
					body.Messages = append(body.Messages, anthMessage{
						Role:    "user",
						Content: []anthContentBlock{{Type: "text", Text: p.Content}},
					})
				case PartToolReturn:
					body.Messages = append(body.Messages, anthMessage{
						Role:    "user",
						Content: []anthContentBlock{{Type: "tool_result", ToolUseID: p.ToolCallID, Content: p.Content}},
					})
				}
			}
		case KindResponse:
			var blocks []anthContentBlock
			for _, p := range msg.Parts {
				switch p.Kind {
				case PartText:
					blocks = append(blocks, anthContentBlock{Type: "text", Text: p.Content})
				case PartToolCall:
					input := p.Args
					if !json.Valid(input) {
						input = json.RawMessage(`{}`)
					}
					blocks = append(blocks, anthContentBlock{Type: "tool_use", ID: p.ToolCallID, Name: p.ToolName, Input: input})
				}
			}
			if len(blocks) > 0 {
				body.Messages = append(body.Messages, anthMessage{Role: "assistant", Content: blocks})
			}
		}
	}

	for _, t := range req.Tools {
		body.Tools = append(body.Tools, anthTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return body
}

func (m *anthropicModel) Complete(ctx context.Context, req Request) (Response, error) {
	body := buildAnthropicBody(m.model, req)
	resp, err := m.send(ctx, body)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, m.httpErr(resp)
	}

	var wire anthResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Response{}, &ErrLLM{Provider: "anthropic", Message: fmt.Sprintf("decode response: %v", err)}
	}

	var out Response
	out.Usage = Usage{InputTokens: wire.Usage.InputTokens, OutputTokens: wire.Usage.OutputTokens}
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "thinking":
			out.Reasoning += block.Thinking
		case "tool_use":
			args := block.Input
			if !json.Valid(args) {
				args = json.RawMessage(`{}`)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Args: args})
		}
	}
	return out, nil
}

// anthStreamEvent is the union of the SSE event payloads we care about.
type anthStreamEvent struct {
	Type         string            `json:"type"`
	ContentBlock *anthContentBlock `json:"content_block"`
	Delta        *anthDelta        `json:"delta"`
	Usage        *anthUsage        `json:"usage"`
	Message      *anthResponse     `json:"message"`
}

type anthDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	Thinking    string `json:"thinking"`
	PartialJSON string `json:"partial_json"`
}

func (m *anthropicModel) Stream(ctx context.Context, req Request, ch chan<- StreamEvent) (Response, error) {
	body := buildAnthropicBody(m.model, req)
	body.Stream = true

	resp, err := m.send(ctx, body)
	if err != nil {
		close(ch)
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return Response{}, m.httpErr(resp)
	}

	defer close(ch)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var text, reasoning strings.Builder
	var usage Usage

	// Pointers keep slice growth from copying live Builders.
	type partialToolCall struct {
		id   string
		name string
		args strings.Builder
	}
	var toolCalls []*partialToolCall

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event anthStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				toolCalls = append(toolCalls, &partialToolCall{id: event.ContentBlock.ID, name: event.ContentBlock.Name})
			}
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				text.WriteString(event.Delta.Text)
				select {
				case ch <- StreamEvent{Type: EventTextDelta, Content: event.Delta.Text}:
				case <-ctx.Done():
					return Response{}, ctx.Err()
				}
			case "thinking_delta":
				reasoning.WriteString(event.Delta.Thinking)
				select {
				case ch <- StreamEvent{Type: EventReasoningDelta, Content: event.Delta.Thinking}:
				case <-ctx.Done():
					return Response{}, ctx.Err()
				}
			case "input_json_delta":
				if len(toolCalls) > 0 {
					toolCalls[len(toolCalls)-1].args.WriteString(event.Delta.PartialJSON)
				}
			}
		case "message_delta":
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return Response{}, err
	}

	var calls []ToolCall
	for _, tc := range toolCalls {
		args := json.RawMessage(tc.args.String())
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, ToolCall{ID: tc.id, Name: tc.name, Args: args})
	}

	return Response{
		Text:      text.String(),
		Reasoning: reasoning.String(),
		ToolCalls: calls,
		Usage:     usage,
	}, nil
}

func (m *anthropicModel) send(ctx context.Context, body anthRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ErrLLM{Provider: "anthropic", Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := m.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &ErrLLM{Provider: "anthropic", Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", m.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	return m.client.Do(httpReq)
}

func (m *anthropicModel) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &ErrHTTP{Status: resp.StatusCode, Body: string(body)}
}
