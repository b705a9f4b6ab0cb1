// Package worker runs the LLM worker pool: it consumes queued chat
// requests, drives the agent engine, and feeds render-ready chunks to
// each connection's response queue.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/nevindra/mcbridge/internal/agent"
	"github.com/nevindra/mcbridge/internal/broker"
	"github.com/nevindra/mcbridge/internal/config"
	"github.com/nevindra/mcbridge/internal/conversation"
	"github.com/nevindra/mcbridge/internal/llm"
	"github.com/nevindra/mcbridge/internal/observer"
)

// commandWait bounds how long a tool waits for the game to answer a
// command before giving up.
const commandWait = 10 * time.Second

// Pool consumes the broker's request queue with a fixed set of
// workers.
type Pool struct {
	broker   *broker.Broker
	engine   *agent.Engine
	registry *llm.Registry
	cfg      config.Config
	logger   *slog.Logger
	client   *http.Client

	// Instruments is optional; when set the pool reports request,
	// token, and tool metrics.
	Instruments *observer.Instruments

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(b *broker.Broker, e *agent.Engine, r *llm.Registry, cfg config.Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		broker:   b,
		engine:   e,
		registry: r,
		cfg:      cfg,
		logger:   logger,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Start launches n workers.
func (p *Pool) Start(n int) {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Info("worker pool started", "workers", n)
}

// Stop drains the pool: the broker wakes blocked consumers, in-flight
// requests finish, then workers exit.
func (p *Pool) Stop() {
	p.broker.Close()
	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
	p.client.CloseIdleConnections()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		env, ok := p.broker.Consume()
		if !ok {
			p.logger.Debug("worker exiting", "worker_id", id)
			return
		}
		p.safeProcess(ctx, id, env)
	}
}

// safeProcess keeps one bad request from taking the worker down.
func (p *Pool) safeProcess(ctx context.Context, workerID int, env broker.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker recovered from panic",
				"worker_id", workerID,
				"connection_id", env.Request.ConnectionID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	p.process(ctx, workerID, env)
}

func (p *Pool) process(ctx context.Context, workerID int, env broker.Envelope) {
	req := env.Request

	// One agent run per connection at a time, admitted in arrival
	// order, keeps histories coherent and chunks in sequence.
	if !p.broker.Acquire(req.ConnectionID, env.Sequence) {
		p.logger.Debug("connection gone, dropping request", "connection_id", req.ConnectionID)
		return
	}
	defer p.broker.Release(req.ConnectionID)

	p.logger.Info("processing chat request",
		"worker_id", workerID,
		"connection_id", req.ConnectionID,
		"content_length", len(req.Content))

	responses := p.broker.Responses(req.ConnectionID)
	if responses == nil {
		return
	}

	var history []llm.ModelMessage
	if req.UseContext {
		history = conversation.StripReasoning(p.broker.History(req.ConnectionID))
	}

	providerCfg := p.cfg.ProviderConfigFor(req.Provider)
	model, err := p.registry.GetModel(providerCfg)
	if err != nil {
		p.logger.Error("provider unavailable", "provider", providerCfg.Name, "error", err)
		responses.Push(broker.StreamChunk{
			ConnectionID: req.ConnectionID,
			Type:         broker.ChunkError,
			Content:      err.Error(),
			Delivery:     req.Delivery,
		})
		return
	}

	deps := agent.Dependencies{
		ConnectionID:  req.ConnectionID,
		PlayerName:    req.PlayerName,
		Provider:      providerCfg.Name,
		Model:         providerCfg.Model,
		ContextLength: llm.CountTurns(history),
		HTTPClient:    p.client,
		Logger:        p.logger,
		SendToGame:    p.sendCallback(responses),
		RunCommand:    p.commandCallback(responses),
	}

	started := time.Now()
	events := make(chan agent.Event, 64)
	go func() {
		// StreamChat closes events during unwind, so the range below
		// still terminates after a panic.
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("agent run panicked",
					"connection_id", req.ConnectionID,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		p.engine.StreamChat(ctx, req.Content, history, deps, model, events)
	}()

	for ev := range events {
		if ev.Completion != nil {
			p.finishRun(req, ev.Completion)
			p.recordRun(ctx, providerCfg, ev.Completion, started)
			continue
		}
		if chunk, ok := p.renderEvent(req, ev); ok {
			responses.Push(chunk)
		}
	}
}

// recordRun reports per-turn metrics when observability is enabled.
func (p *Pool) recordRun(ctx context.Context, cfg llm.ProviderConfig, completion *agent.Completion, started time.Time) {
	if p.Instruments == nil {
		return
	}
	attrs := observer.ProviderAttrs(cfg.Name, cfg.Model)
	p.Instruments.ChatRequests.Add(ctx, 1, attrs)
	p.Instruments.ChatDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
	p.Instruments.TokenUsage.Add(ctx, int64(completion.Usage.InputTokens),
		observer.TokenAttrs(cfg.Name, cfg.Model, "input"))
	p.Instruments.TokenUsage.Add(ctx, int64(completion.Usage.OutputTokens),
		observer.TokenAttrs(cfg.Name, cfg.Model, "output"))
	for _, ev := range completion.ToolEvents {
		ok := !strings.HasPrefix(ev.Result, "命令执行失败") && !strings.HasPrefix(ev.Result, "未知工具")
		p.Instruments.ToolExecutions.Add(ctx, 1, observer.ToolAttrs(ev.Name, ok))
	}
}

// renderEvent maps an agent event to a response chunk. The second
// return is false for events that should not reach the game.
func (p *Pool) renderEvent(req broker.ChatRequest, ev agent.Event) (broker.StreamChunk, bool) {
	chunk := broker.StreamChunk{
		ConnectionID: req.ConnectionID,
		Sequence:     ev.Sequence,
		Delivery:     req.Delivery,
	}

	switch ev.Type {
	case agent.EventContent:
		if ev.Content == "" {
			return broker.StreamChunk{}, false
		}
		chunk.Type = broker.ChunkContent
		chunk.Content = ev.Content
	case agent.EventReasoning:
		chunk.Type = broker.ChunkReasoning
		chunk.Content = ev.Content
	case agent.EventThinkingStart:
		chunk.Type = broker.ChunkThinkingStart
	case agent.EventThinkingEnd:
		chunk.Type = broker.ChunkThinkingEnd
	case agent.EventToolCall:
		chunk.Type = broker.ChunkToolCall
		chunk.Content = formatToolCall(ev.ToolName, ev.ToolArgs)
		chunk.ToolName = ev.ToolName
		chunk.ToolArgs = ev.ToolArgs
	case agent.EventToolResult:
		if !p.cfg.ToolResponseVerbose {
			return broker.StreamChunk{}, false
		}
		chunk.Type = broker.ChunkToolResult
		chunk.Content = previewResult(ev.Content)
		chunk.ToolName = ev.ToolName
	case agent.EventError:
		chunk.Type = broker.ChunkError
		chunk.Content = ev.Content
	default:
		return broker.StreamChunk{}, false
	}
	return chunk, true
}

// finishRun persists the run's history when context is enabled,
// trimming and compressing as needed.
func (p *Pool) finishRun(req broker.ChatRequest, completion *agent.Completion) {
	if !req.UseContext {
		return
	}

	maxTurns := p.cfg.MaxHistoryTurns
	history := conversation.StripReasoning(conversation.Trim(completion.AllMessages, maxTurns))
	p.broker.SetHistory(req.ConnectionID, history)

	if compressed, didCompress, msg := conversation.CheckAndCompress(history, maxTurns); didCompress {
		p.broker.SetHistory(req.ConnectionID, compressed)
		p.logger.Info("history compressed", "connection_id", req.ConnectionID, "result", msg)
	}
}

func (p *Pool) sendCallback(responses *broker.ResponseQueue) func(string) error {
	return func(message string) error {
		if !responses.Push(broker.GameMessage{Content: message}) {
			return errors.New("连接已关闭")
		}
		return nil
	}
}

func (p *Pool) commandCallback(responses *broker.ResponseQueue) func(string) (string, error) {
	return func(command string) (string, error) {
		future := broker.NewCommandFuture()
		if !responses.Push(broker.CommandRequest{Command: command, Result: future}) {
			return "", errors.New("连接已关闭")
		}

		result, ok := future.Await(commandWait)
		if !ok {
			if p.Instruments != nil {
				p.Instruments.CommandTimeouts.Add(context.Background(), 1)
			}
			return "", errors.New("命令执行超时")
		}
		if rest, found := strings.CutPrefix(result, "命令执行失败: "); found {
			return "", errors.New(rest)
		}
		if rest, found := strings.CutPrefix(result, "命令执行失败"); found {
			return "", errors.New(strings.TrimPrefix(rest, ": "))
		}
		return result, nil
	}
}
