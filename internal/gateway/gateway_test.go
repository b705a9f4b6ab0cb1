package gateway

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nevindra/mcbridge/internal/auth"
	"github.com/nevindra/mcbridge/internal/broker"
	"github.com/nevindra/mcbridge/internal/config"
	"github.com/nevindra/mcbridge/internal/conversation"
	"github.com/nevindra/mcbridge/internal/llm"
	"github.com/nevindra/mcbridge/internal/prompt"
	"github.com/nevindra/mcbridge/internal/protocol"
)

type fakeSocket struct {
	mu     sync.Mutex
	frames []string
	closed bool
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	return 0, nil, io.EOF
}

func (f *fakeSocket) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, string(data))
	return nil
}

func (f *fakeSocket) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeSocket) SetReadLimit(int64)                        {}
func (f *fakeSocket) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeSocket) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeSocket) SetPongHandler(func(string) error)         {}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeSocket) lastContaining(t *testing.T, substr string) string {
	t.Helper()
	for _, frame := range f.sent() {
		if strings.Contains(frame, substr) {
			return frame
		}
	}
	t.Fatalf("no frame contains %q; frames: %v", substr, f.sent())
	return ""
}

func (f *fakeSocket) anyContains(substr string) bool {
	for _, frame := range f.sent() {
		if strings.Contains(frame, substr) {
			return true
		}
	}
	return false
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	cfg.DataDir = t.TempDir()

	authHandler, err := auth.NewHandler(cfg.JWTSecret, 30*time.Minute, cfg.DefaultPassword, cfg.DataDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	sessions, err := conversation.NewManager(cfg.DataDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	b := broker.New(cfg.QueueMaxSize, nil)
	return NewServer(cfg, b, authHandler, prompt.NewManager(nil), sessions, nil)
}

func newTestConn(t *testing.T, cfg config.Config) (*connection, *fakeSocket) {
	t.Helper()
	s := newTestServer(t, cfg)
	ws := &fakeSocket{}
	c := newConnection(s, ws)
	s.register(c)
	return c, ws
}

func TestAuthGate(t *testing.T) {
	c, ws := newTestConn(t, config.Default())

	c.handleCommand(protocol.CmdChat, "你好")
	ws.lastContaining(t, "请先登录")

	if depth := c.server.broker.QueueDepth(); depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
}

func TestAuthGateDevModeBypass(t *testing.T) {
	cfg := config.Default()
	cfg.DevMode = true
	c, ws := newTestConn(t, cfg)

	c.handleCommand(protocol.CmdChat, "你好")
	if ws.anyContains("请先登录") {
		t.Error("dev mode should bypass the auth gate")
	}
	if depth := c.server.broker.QueueDepth(); depth != 1 {
		t.Errorf("queue depth = %d, want 1", depth)
	}
}

func TestLoginFlow(t *testing.T) {
	c, ws := newTestConn(t, config.Default())

	c.handleLogin("wrong")
	ws.lastContaining(t, "密码错误")
	if c.authenticated {
		t.Fatal("authenticated after wrong password")
	}

	c.handleLogin("123456")
	ws.lastContaining(t, "登录成功！")
	if !c.authenticated {
		t.Fatal("not authenticated after correct password")
	}
	if !c.server.auth.IsTokenValid(c.id) {
		t.Error("no stored token for connection")
	}

	c.handleLogin("123456")
	ws.lastContaining(t, "您已登录")
}

func TestChatEnqueue(t *testing.T) {
	c, _ := newTestConn(t, config.Default())
	c.authenticated = true
	c.playerName = "Steve"

	c.handleChat("  给我一颗钻石  ", broker.DeliveryChat)

	env, ok := c.server.broker.Consume()
	if !ok {
		t.Fatal("nothing queued")
	}
	req := env.Request
	if req.Content != "给我一颗钻石" || req.PlayerName != "Steve" || !req.UseContext {
		t.Errorf("request = %+v", req)
	}
	if req.Delivery != broker.DeliveryChat || req.Provider != "deepseek" {
		t.Errorf("request = %+v", req)
	}
}

func TestChatEmptyContent(t *testing.T) {
	c, ws := newTestConn(t, config.Default())
	c.authenticated = true

	c.handleChat("   ", broker.DeliveryChat)
	ws.lastContaining(t, "请输入聊天内容")
}

func TestChatQueueFull(t *testing.T) {
	cfg := config.Default()
	cfg.QueueMaxSize = 1
	c, ws := newTestConn(t, cfg)
	c.authenticated = true

	c.handleChat("第一条", broker.DeliveryChat)
	c.handleChat("第二条", broker.DeliveryChat)
	ws.lastContaining(t, "服务器繁忙，请稍后重试")
}

func TestContextSubcommands(t *testing.T) {
	c, ws := newTestConn(t, config.Default())
	c.authenticated = true

	c.handleContext("关闭")
	ws.lastContaining(t, "上下文已关闭")
	if c.contextEnabled {
		t.Error("context still enabled")
	}

	c.handleContext("启用")
	ws.lastContaining(t, "上下文已启用")
	if !c.contextEnabled {
		t.Error("context still disabled")
	}

	// Tellraw escaping turns ASCII colons into fullwidth ones.
	c.handleContext("状态")
	ws.lastContaining(t, "上下文状态： 启用")

	c.handleContext("不存在的选项")
	ws.lastContaining(t, "无效选项，请使用： 启用/关闭/状态")
}

func TestContextDisableClearsHistory(t *testing.T) {
	c, _ := newTestConn(t, config.Default())
	c.authenticated = true
	c.server.broker.SetHistory(c.id, []llm.ModelMessage{llm.UserMessage("问")})

	c.handleContext("关闭")
	if len(c.server.broker.History(c.id)) != 0 {
		t.Error("history survives context 关闭")
	}
}

func TestContextClear(t *testing.T) {
	c, ws := newTestConn(t, config.Default())
	c.authenticated = true
	c.server.broker.SetHistory(c.id, []llm.ModelMessage{llm.UserMessage("问")})

	c.handleContext("清除")
	ws.lastContaining(t, "上下文已清除")
	if len(c.server.broker.History(c.id)) != 0 {
		t.Error("history survives 清除")
	}
}

func TestSwitchModel(t *testing.T) {
	c, ws := newTestConn(t, config.Default())
	c.authenticated = true
	c.server.broker.SetHistory(c.id, []llm.ModelMessage{llm.UserMessage("问")})

	c.handleSwitchModel("nope")
	ws.lastContaining(t, "不可用的提供商。可用：")

	c.handleSwitchModel("ollama")
	ws.lastContaining(t, "已切换到 ollama/llama3")
	if c.provider != "ollama" {
		t.Errorf("provider = %q", c.provider)
	}
	if len(c.server.broker.History(c.id)) != 0 {
		t.Error("history survives provider switch")
	}
}

func TestSaveAndRestore(t *testing.T) {
	c, ws := newTestConn(t, config.Default())
	c.authenticated = true
	c.playerName = "Steve"
	c.server.broker.SetHistory(c.id, []llm.ModelMessage{
		llm.UserMessage("问题"),
		llm.TextMessage("回答"),
	})

	c.handleSave()
	frame := ws.lastContaining(t, "对话已保存")

	// Pull the session id back out of the confirmation.
	idx := strings.Index(frame, "对话已保存： ")
	if idx < 0 {
		t.Fatalf("unexpected frame %q", frame)
	}
	rest := frame[idx+len("对话已保存： "):]
	end := strings.IndexAny(rest, `\"`)
	if end < 0 {
		t.Fatalf("unterminated session id in %q", rest)
	}
	sessionID := rest[:end]

	c.server.broker.ClearHistory(c.id)
	c.handleContext("恢复 " + sessionID)
	ws.lastContaining(t, "共 2 条消息")
	if len(c.server.broker.History(c.id)) != 2 {
		t.Errorf("restored history = %d messages", len(c.server.broker.History(c.id)))
	}
}

func TestSaveEmptyHistory(t *testing.T) {
	c, ws := newTestConn(t, config.Default())
	c.authenticated = true

	c.handleSave()
	ws.lastContaining(t, "对话历史为空，无法保存")
}

func TestTemplateSwitch(t *testing.T) {
	c, ws := newTestConn(t, config.Default())
	c.authenticated = true

	c.handleTemplate("")
	ws.lastContaining(t, "可用模板：")

	c.handleTemplate("concise")
	ws.lastContaining(t, "已切换到模板： concise")
	if got := c.server.prompts.ActiveTemplate(c.id); got != "concise" {
		t.Errorf("active template = %q", got)
	}

	c.handleTemplate("nope")
	ws.lastContaining(t, "未知模板： nope")
}

func TestSettingVariables(t *testing.T) {
	c, ws := newTestConn(t, config.Default())
	c.authenticated = true

	c.handleSetting("变量 城市 雨城")
	ws.lastContaining(t, "已设置变量 城市")
	if got := c.server.prompts.Variables(c.id)["custom_城市"]; got != "雨城" {
		t.Errorf("variable = %q", got)
	}

	c.handleSetting("变量 风格=简洁")
	if got := c.server.prompts.Variables(c.id)["custom_风格"]; got != "简洁" {
		t.Errorf("variable = %q", got)
	}

	c.handleSetting("变量 删除 城市")
	ws.lastContaining(t, "已删除变量 城市")
	if _, ok := c.server.prompts.Variables(c.id)["custom_城市"]; ok {
		t.Error("variable survives deletion")
	}

	c.handleSetting("其他")
	ws.lastContaining(t, "无效选项，请使用： 变量 <名称> <值>")
}

func TestRenderChunkTable(t *testing.T) {
	c, ws := newTestConn(t, config.Default())

	c.renderChunk(broker.StreamChunk{Type: broker.ChunkContent, Content: "你好", Delivery: broker.DeliveryChat})
	ws.lastContaining(t, "§a你好")

	c.renderChunk(broker.StreamChunk{Type: broker.ChunkContent, Content: "payload", Delivery: broker.DeliveryScript})
	ws.lastContaining(t, "scriptevent server:data payload")

	c.renderChunk(broker.StreamChunk{Type: broker.ChunkReasoning, Content: "思路"})
	ws.lastContaining(t, "§7✻ 思路")

	c.renderChunk(broker.StreamChunk{Type: broker.ChunkError, Content: "出错"})
	ws.lastContaining(t, "§c✖ 出错")

	c.renderChunk(broker.StreamChunk{Type: broker.ChunkToolCall, Content: "● tool(x=1)"})
	ws.lastContaining(t, "§e● tool(x=1)")

	c.renderChunk(broker.StreamChunk{Type: broker.ChunkThinkingStart})
	ws.lastContaining(t, "✻ 思考中...")

	before := len(ws.sent())
	c.renderChunk(broker.StreamChunk{Type: broker.ChunkThinkingEnd})
	if len(ws.sent()) != before {
		t.Error("thinking_end should be suppressed")
	}
}

func TestCommandRequestCorrelation(t *testing.T) {
	c, ws := newTestConn(t, config.Default())

	future := broker.NewCommandFuture()
	c.dispatch(broker.CommandRequest{Command: "give @s diamond", Result: future})

	frame := ws.lastContaining(t, "give @s diamond")
	// Extract the requestId the frame carried.
	idx := strings.Index(frame, `"requestId":"`)
	if idx < 0 {
		t.Fatalf("no requestId in %q", frame)
	}
	rest := frame[idx+len(`"requestId":"`):]
	requestID := rest[:strings.Index(rest, `"`)]

	response := fmt.Sprintf(`{"header":{"requestId":"%s","messagePurpose":"commandResponse"},`+
		`"body":{"statusCode":0,"statusMessage":"Gave 1 Diamond to Tester"}}`, requestID)
	c.handleFrame([]byte(response))

	result, ok := future.Await(time.Second)
	if !ok || result != "Gave 1 Diamond to Tester" {
		t.Errorf("result = %q, ok = %v", result, ok)
	}
}

func TestTeardownResolvesFutures(t *testing.T) {
	c, _ := newTestConn(t, config.Default())

	pending := broker.NewCommandFuture()
	c.pendingMu.Lock()
	c.pending["r1"] = pending
	c.pendingMu.Unlock()

	queued := broker.NewCommandFuture()
	c.server.broker.Responses(c.id).Push(broker.CommandRequest{Command: "list", Result: queued})

	c.teardown()

	for _, f := range []*broker.CommandFuture{pending, queued} {
		result, ok := f.Await(time.Second)
		if !ok || result != "命令执行失败: 连接已关闭" {
			t.Errorf("result = %q, ok = %v", result, ok)
		}
	}
	if c.server.ConnectionCount() != 0 {
		t.Error("connection still registered after teardown")
	}
}

// panicSocket blows up on write to exercise sender isolation.
type panicSocket struct {
	fakeSocket
}

func (p *panicSocket) WriteMessage(int, []byte) error { panic("write boom") }

func TestDispatchRecoversFromPanic(t *testing.T) {
	s := newTestServer(t, config.Default())
	c := newConnection(s, &panicSocket{})
	s.register(c)

	// The bad item must not take the sender down with it.
	c.dispatch(broker.GameMessage{Content: "炸"})

	good := &fakeSocket{}
	c.ws = good
	c.dispatch(broker.GameMessage{Content: "还在"})
	good.lastContaining(t, "还在")
}

func TestLoginDropsStaleToken(t *testing.T) {
	c, ws := newTestConn(t, config.Default())
	c.server.auth.SaveToken(c.id, "not-a-real-token")

	c.handleLogin("wrong")
	ws.lastContaining(t, "密码错误")
	if _, ok := c.server.auth.StoredToken(c.id); ok {
		t.Error("invalid stored token should be removed on login attempt")
	}
}

func TestHandleFrameDedupExternal(t *testing.T) {
	cfg := config.Default()
	cfg.DevMode = true
	c, _ := newTestConn(t, cfg)

	external := `{"header":{"messagePurpose":"event","eventName":"PlayerMessage"},` +
		`"body":{"sender":"外部","message":"AGENT 聊天 hi","type":"chat"}}`
	c.handleFrame([]byte(external))
	if depth := c.server.broker.QueueDepth(); depth != 0 {
		t.Errorf("external message enqueued, depth = %d", depth)
	}

	player := `{"header":{"messagePurpose":"event","eventName":"PlayerMessage"},` +
		`"body":{"sender":"Steve","message":"AGENT 聊天 hi","type":"chat"}}`
	c.handleFrame([]byte(player))
	if c.playerName != "Steve" {
		t.Errorf("playerName = %q", c.playerName)
	}
	if depth := c.server.broker.QueueDepth(); depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}

func TestHandleFrameIgnoresPlainChat(t *testing.T) {
	cfg := config.Default()
	cfg.DevMode = true
	c, ws := newTestConn(t, cfg)

	plain := `{"header":{"messagePurpose":"event","eventName":"PlayerMessage"},` +
		`"body":{"sender":"Steve","message":"just chatting","type":"chat"}}`
	c.handleFrame([]byte(plain))
	if depth := c.server.broker.QueueDepth(); depth != 0 {
		t.Errorf("plain chat enqueued, depth = %d", depth)
	}
	if len(ws.sent()) != 0 {
		t.Errorf("plain chat produced frames: %v", ws.sent())
	}
}

func TestRunCommandNoWait(t *testing.T) {
	c, ws := newTestConn(t, config.Default())
	c.authenticated = true

	c.handleRunCommand("time set day")
	frame := ws.lastContaining(t, "time set day")
	if !strings.Contains(frame, `"commandRequest"`) {
		t.Errorf("frame = %q", frame)
	}

	c.pendingMu.Lock()
	n := len(c.pending)
	c.pendingMu.Unlock()
	if n != 0 {
		t.Errorf("run_command registered %d futures, want 0", n)
	}
}

func TestWelcomeSentOnRun(t *testing.T) {
	c, ws := newTestConn(t, config.Default())

	go c.run()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ws.anyContains("成功连接 MCBE AI Agent") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	sent := ws.sent()
	if len(sent) < 3 {
		t.Fatalf("frames = %v", sent)
	}
	if sent[0] != protocol.ConnectResult {
		t.Errorf("first frame = %q", sent[0])
	}
	if !strings.Contains(sent[1], `"subscribe"`) || !strings.Contains(sent[1], "PlayerMessage") {
		t.Errorf("second frame = %q", sent[1])
	}
	if !strings.Contains(sent[2], "成功连接 MCBE AI Agent") {
		t.Errorf("third frame = %q", sent[2])
	}

	c.teardown()
}
