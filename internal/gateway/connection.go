package gateway

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nevindra/mcbridge/internal/broker"
	"github.com/nevindra/mcbridge/internal/logging"
	"github.com/nevindra/mcbridge/internal/protocol"
)

const (
	// senderPoll is the response-queue wait; short enough that the
	// sender notices unregistration promptly.
	senderPoll = 500 * time.Millisecond
	writeWait  = 10 * time.Second

	// rawTraceLimit caps payload bytes echoed to the frame tracer.
	rawTraceLimit = 512
)

// socket is the subset of *websocket.Conn the connection needs; tests
// substitute a fake.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// connection is one MCBE session: a read loop, a response sender, and
// the per-session command state.
type connection struct {
	server *Server
	ws     socket
	logger *slog.Logger
	raw    *slog.Logger

	id string

	// Session state, touched only by the read loop.
	playerName     string
	authenticated  bool
	contextEnabled bool
	provider       string

	// pending maps outbound commandRequest ids to tool futures.
	pendingMu sync.Mutex
	pending   map[string]*broker.CommandFuture

	writeMu sync.Mutex

	done     chan struct{}
	stopOnce sync.Once
}

func newConnection(s *Server, ws socket) *connection {
	id := uuid.NewString()
	return &connection{
		server:         s,
		ws:             ws,
		logger:         s.logger.With("connection_id", id),
		raw:            logging.RawFrames(s.logger).With("connection_id", id),
		id:             id,
		contextEnabled: true,
		provider:       s.cfg.DefaultProvider,
		pending:        make(map[string]*broker.CommandFuture),
		done:           make(chan struct{}),
	}
}

func (c *connection) run() {
	defer c.teardown()

	if err := c.writeRaw([]byte(protocol.ConnectResult)); err != nil {
		return
	}
	if err := c.writeRaw(protocol.NewSubscribePlayerMessages().Encode()); err != nil {
		return
	}

	providerCfg := c.server.cfg.ProviderConfigFor(c.provider)
	welcome := protocol.WelcomeMessage(c.id, providerCfg.Name, providerCfg.Model, c.contextEnabled)
	c.sendFrame(protocol.NewTellraw(welcome, "§b"))

	go c.senderLoop()
	go c.pingLoop()
	c.readLoop()
}

// shutdown force-closes the session from outside the read loop.
func (c *connection) shutdown() {
	c.teardown()
}

// teardown runs the unregister sequence exactly once: stop the sender,
// resolve every outstanding future, drop broker state, close the
// socket.
func (c *connection) teardown() {
	c.stopOnce.Do(func() {
		close(c.done)

		c.pendingMu.Lock()
		for id, future := range c.pending {
			future.Resolve("命令执行失败: 连接已关闭")
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		if removed := c.server.broker.RemoveConnection(c.id); removed != nil {
			for _, item := range removed.Drain() {
				if cr, ok := item.(broker.CommandRequest); ok && cr.Result != nil {
					cr.Result.Resolve("命令执行失败: 连接已关闭")
				}
			}
		}

		c.server.prompts.ClearConnection(c.id)
		c.server.unregister(c)
		_ = c.ws.Close()
	})
}

func (c *connection) readLoop() {
	wsCfg := c.server.cfg.WebSocket
	readWait := time.Duration(wsCfg.PingInterval+wsCfg.PingTimeout) * time.Second

	c.ws.SetReadLimit(int64(wsCfg.MaxSize))
	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debug("read loop closed", "error", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.traceFrame("recv", data)
		c.handleFrame(data)
	}
}

func (c *connection) handleFrame(data []byte) {
	if resp, ok := protocol.ParseCommandResponse(data); ok {
		c.resolvePending(resp)
		return
	}

	msg, ok := protocol.ParsePlayerMessage(data)
	if !ok {
		return
	}
	if msg.Sender == protocol.ExternalSender {
		if c.server.cfg.DedupExternalMessages {
			return
		}
	} else if msg.Sender != "" && c.playerName == "" {
		c.playerName = msg.Sender
	}

	cmdType, content := c.server.commands.Resolve(msg.Message)
	if cmdType == "" {
		return
	}
	c.handleCommand(cmdType, content)
}

func (c *connection) resolvePending(resp protocol.CommandResponse) {
	c.pendingMu.Lock()
	future, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.pendingMu.Unlock()
	if ok {
		future.Resolve(protocol.FormatCommandResult(resp))
	}
}

// senderLoop pumps the connection's response queue into the game.
func (c *connection) senderLoop() {
	queue := c.server.broker.Responses(c.id)
	if queue == nil {
		return
	}
	for {
		select {
		case <-c.done:
			return
		default:
		}
		item, ok := queue.Pop(senderPoll)
		if !ok {
			continue
		}
		c.dispatch(item)
	}
}

// dispatch forwards one queued item into the game. A panic here must
// not kill the sender; the loop moves on to the next item.
func (c *connection) dispatch(item broker.ResponseItem) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("sender dispatch panicked",
				"panic", r, "stack", string(debug.Stack()))
		}
	}()

	switch v := item.(type) {
	case broker.StreamChunk:
		c.renderChunk(v)
	case broker.GameMessage:
		color := v.Color
		if color == "" {
			color = "§a"
		}
		c.sendFrame(protocol.NewTellraw(v.Content, color))
	case broker.CommandRequest:
		c.sendCommand(v)
	}
}

// renderChunk applies the chunk-type rendering table.
func (c *connection) renderChunk(chunk broker.StreamChunk) {
	switch chunk.Type {
	case broker.ChunkContent:
		if chunk.Delivery == broker.DeliveryScript {
			c.sendFrame(protocol.NewScriptEvent(chunk.Content, protocol.DefaultScriptEventID))
		} else {
			c.sendFrame(protocol.NewTellraw(chunk.Content, "§a"))
		}
	case broker.ChunkReasoning:
		c.sendFrame(protocol.NewTellraw("✻ "+chunk.Content, "§7"))
	case broker.ChunkToolCall, broker.ChunkToolResult:
		c.sendFrame(protocol.NewTellraw(chunk.Content, "§e"))
	case broker.ChunkError:
		c.sendFrame(protocol.NewTellraw("✖ "+chunk.Content, "§c"))
	case broker.ChunkThinkingStart:
		c.sendFrame(protocol.NewTellraw("✻ 思考中...", "§7"))
	case broker.ChunkThinkingEnd:
		// Suppressed; the next content chunk speaks for itself.
	}
}

// sendCommand dispatches a tool-issued command, correlating the reply
// through the pending map.
func (c *connection) sendCommand(req broker.CommandRequest) {
	frame := protocol.NewRawCommand(req.Command)

	if req.Result != nil {
		c.pendingMu.Lock()
		c.pending[frame.Header.RequestID] = req.Result
		c.pendingMu.Unlock()
	}

	if err := c.writeRaw(frame.Encode()); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, frame.Header.RequestID)
		c.pendingMu.Unlock()
		if req.Result != nil {
			req.Result.Resolve("命令执行失败: 连接已关闭")
		}
	}
}

func (c *connection) pingLoop() {
	interval := time.Duration(c.server.cfg.WebSocket.PingInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *connection) writeRaw(data []byte) error {
	c.traceFrame("send", data)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// traceFrame echoes wire payloads at Debug, truncated to keep log
// files sane under scriptevent streaming.
func (c *connection) traceFrame(direction string, data []byte) {
	if !c.raw.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	payload := data
	if len(payload) > rawTraceLimit {
		payload = payload[:rawTraceLimit]
	}
	c.raw.Debug(direction, "bytes", len(data), "payload", string(payload))
}

func (c *connection) sendFrame(frame protocol.CommandFrame) {
	if err := c.writeRaw(frame.Encode()); err != nil {
		c.logger.Debug("frame send failed", "error", err)
	}
}

func (c *connection) sendError(message string) {
	c.sendFrame(protocol.ErrorMessage(message))
}

func (c *connection) sendInfo(message string) {
	c.sendFrame(protocol.InfoMessage(message))
}

func (c *connection) sendSuccess(message string) {
	c.sendFrame(protocol.SuccessMessage(message))
}
