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

// openaiCompatModel speaks the OpenAI chat completions API. It covers
// DeepSeek, OpenAI, and Ollama (and anything else wire-compatible).
// DeepSeek's reasoning_content extension is surfaced as reasoning deltas.
type openaiCompatModel struct {
	provider string
	model    string
	apiKey   string
	baseURL  string
	client   *http.Client
}

func newOpenAICompatModel(provider string, cfg ProviderConfig, client *http.Client) *openaiCompatModel {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	switch {
	case baseURL == "" && provider == "openai":
		baseURL = "https://api.openai.com/v1"
	case provider == "ollama" && !strings.HasSuffix(baseURL, "/v1"):
		baseURL += "/v1"
	}
	return &openaiCompatModel{
		provider: provider,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		baseURL:  baseURL,
		client:   client,
	}
}

func (m *openaiCompatModel) Name() string     { return m.model }
func (m *openaiCompatModel) Provider() string { return m.provider }

// --- wire types ---

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaToolCall struct {
	Index    int        `json:"index,omitempty"`
	ID       string     `json:"id,omitempty"`
	Type     string     `json:"type,omitempty"`
	Function oaFunction `json:"function"`
}

type oaFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type oaTool struct {
	Type     string           `json:"type"`
	Function oaToolDefinition `json:"function"`
}

type oaToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type oaRequest struct {
	Model         string           `json:"model"`
	Messages      []oaMessage      `json:"messages"`
	Tools         []oaTool         `json:"tools,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
	StreamOptions *oaStreamOptions `json:"stream_options,omitempty"`
}

type oaStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaResponse struct {
	Choices []oaChoice `json:"choices"`
	Usage   *oaUsage   `json:"usage"`
}

type oaChoice struct {
	Message *oaResponseMessage `json:"message"`
	Delta   *oaResponseMessage `json:"delta"`
}

type oaResponseMessage struct {
	Content          string       `json:"content"`
	ReasoningContent string       `json:"reasoning_content"`
	ToolCalls        []oaToolCall `json:"tool_calls"`
}

type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// buildWireMessages flattens the part-structured history into the OpenAI
// message list. Thinking parts are never sent back to the model.
func buildWireMessages(history []ModelMessage) []oaMessage {
	var out []oaMessage
	for _, msg := range history {
		switch msg.Kind {
		case KindRequest:
			for _, p := range msg.Parts {
				switch p.Kind {
				case PartSystemPrompt:
					out = append(out, oaMessage{Role: "system", Content: p.Content})
				case PartUserPrompt:
					out = append(out, oaMessage{Role: "user", Content: p.Content})
				case PartToolReturn:
					out = append(out, oaMessage{Role: "tool", Content: p.Content, ToolCallID: p.ToolCallID})
				}
			}
		case KindResponse:
			assistant := oaMessage{Role: "assistant"}
			hasContent := false
			for _, p := range msg.Parts {
				switch p.Kind {
				case PartText:
					assistant.Content = p.Content
					hasContent = true
				case PartToolCall:
					assistant.ToolCalls = append(assistant.ToolCalls, oaToolCall{
						ID:       p.ToolCallID,
						Type:     "function",
						Function: oaFunction{Name: p.ToolName, Arguments: string(p.Args)},
					})
					hasContent = true
				}
			}
			if hasContent {
				out = append(out, assistant)
			}
		}
	}
	return out
}

func buildWireTools(tools []ToolDefinition) []oaTool {
	var out []oaTool
	for _, t := range tools {
		out = append(out, oaTool{
			Type: "function",
			Function: oaToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func (m *openaiCompatModel) Complete(ctx context.Context, req Request) (Response, error) {
	body := oaRequest{
		Model:    m.model,
		Messages: buildWireMessages(req.Messages),
		Tools:    buildWireTools(req.Tools),
	}
	resp, err := m.send(ctx, body)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, m.httpErr(resp)
	}

	var wire oaResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Response{}, &ErrLLM{Provider: m.provider, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return parseWireResponse(wire), nil
}

func (m *openaiCompatModel) Stream(ctx context.Context, req Request, ch chan<- StreamEvent) (Response, error) {
	body := oaRequest{
		Model:         m.model,
		Messages:      buildWireMessages(req.Messages),
		Tools:         buildWireTools(req.Tools),
		Stream:        true,
		StreamOptions: &oaStreamOptions{IncludeUsage: true},
	}
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

	return streamSSE(ctx, resp.Body, ch)
}

func (m *openaiCompatModel) send(ctx context.Context, body oaRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ErrLLM{Provider: m.provider, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := m.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &ErrLLM{Provider: m.provider, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	return m.client.Do(httpReq)
}

func (m *openaiCompatModel) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &ErrHTTP{Status: resp.StatusCode, Body: string(body)}
}

func parseWireResponse(wire oaResponse) Response {
	var out Response
	if wire.Usage != nil {
		out.Usage = Usage{InputTokens: wire.Usage.PromptTokens, OutputTokens: wire.Usage.CompletionTokens}
	}
	if len(wire.Choices) == 0 || wire.Choices[0].Message == nil {
		return out
	}
	msg := wire.Choices[0].Message
	out.Text = msg.Content
	out.Reasoning = msg.ReasoningContent
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return out
}

// streamSSE reads an SSE stream, sends delta events to ch, and returns the
// fully accumulated response. The channel is closed when streaming ends.
//
// Tool calls stream incrementally: each chunk carries an index, and the
// arguments arrive as string fragments accumulated per index.
func streamSSE(ctx context.Context, body io.Reader, ch chan<- StreamEvent) (Response, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var text, reasoning strings.Builder
	var usage Usage

	// Pointers matter here: append growth must not copy a live
	// strings.Builder when a later index shows up mid-stream.
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
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk oaResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			usage = Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta == nil {
			continue
		}

		if delta.ReasoningContent != "" {
			reasoning.WriteString(delta.ReasoningContent)
			select {
			case ch <- StreamEvent{Type: EventReasoningDelta, Content: delta.ReasoningContent}:
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
		}

		if delta.Content != "" {
			text.WriteString(delta.Content)
			select {
			case ch <- StreamEvent{Type: EventTextDelta, Content: delta.Content}:
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, &partialToolCall{})
			}
			if tc.ID != "" {
				toolCalls[idx].id = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].args.WriteString(tc.Function.Arguments)
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
