package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEscapeTellraw(t *testing.T) {
	cases := []struct{ in, want string }{
		{`say "hi"`, `say \"hi\"`},
		{"time: now", "time： now"},
		{"100%", `100\%`},
		{"plain", "plain"},
	}
	for _, c := range cases {
		if got := EscapeTellraw(c.in); got != c.want {
			t.Errorf("EscapeTellraw(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNewTellrawFrame(t *testing.T) {
	frame := NewTellraw(`你好 "世界"`, "§a")

	if frame.Header.MessagePurpose != "commandRequest" {
		t.Errorf("purpose = %q", frame.Header.MessagePurpose)
	}
	if frame.Header.RequestID == "" {
		t.Error("request id missing")
	}
	if frame.Body.Origin.Type != "say" {
		t.Errorf("origin = %q, want say", frame.Body.Origin.Type)
	}
	if frame.Body.Version != 17039360 {
		t.Errorf("body version = %d", frame.Body.Version)
	}
	want := `tellraw @a {"rawtext":[{"text":"§a你好 \"世界\""}]}`
	if frame.Body.CommandLine != want {
		t.Errorf("commandLine = %q\nwant %q", frame.Body.CommandLine, want)
	}
}

func TestNewScriptEvent(t *testing.T) {
	frame := NewScriptEvent("hello", "")
	if frame.Body.CommandLine != "scriptevent server:data hello" {
		t.Errorf("commandLine = %q", frame.Body.CommandLine)
	}
	frame = NewScriptEvent("x", "my:chan")
	if frame.Body.CommandLine != "scriptevent my:chan x" {
		t.Errorf("commandLine = %q", frame.Body.CommandLine)
	}
	if frame.Body.Origin.Type != "player" {
		t.Errorf("origin = %q", frame.Body.Origin.Type)
	}
}

func TestSubscribeFrame(t *testing.T) {
	data := NewSubscribePlayerMessages().Encode()

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	header := decoded["header"].(map[string]any)
	if header["messagePurpose"] != "subscribe" || header["EventName"] != "commandRequest" {
		t.Errorf("header = %v", header)
	}
	body := decoded["body"].(map[string]any)
	if body["eventName"] != "PlayerMessage" {
		t.Errorf("body = %v", body)
	}
}

func TestParsePlayerMessage(t *testing.T) {
	raw := `{"header":{"messagePurpose":"event","eventName":"PlayerMessage"},` +
		`"body":{"sender":"Steve","message":"AGENT 聊天 你好","type":"chat"}}`

	msg, ok := ParsePlayerMessage([]byte(raw))
	if !ok {
		t.Fatal("parse failed")
	}
	if msg.Sender != "Steve" || msg.Message != "AGENT 聊天 你好" {
		t.Errorf("msg = %+v", msg)
	}

	if _, ok := ParsePlayerMessage([]byte(`{"header":{"eventName":"BlockBroken"},"body":{}}`)); ok {
		t.Error("non-PlayerMessage event should not parse")
	}
	if _, ok := ParsePlayerMessage([]byte("garbage")); ok {
		t.Error("garbage should not parse")
	}
}

func TestParseCommandResponse(t *testing.T) {
	raw := `{"header":{"requestId":"req-1","messagePurpose":"commandResponse"},` +
		`"body":{"statusCode":0,"statusMessage":"done"}}`

	resp, ok := ParseCommandResponse([]byte(raw))
	if !ok {
		t.Fatal("parse failed")
	}
	if resp.RequestID != "req-1" || resp.StatusCode != 0 || resp.StatusMessage != "done" {
		t.Errorf("resp = %+v", resp)
	}

	if _, ok := ParseCommandResponse([]byte(`{"header":{"messagePurpose":"event"},"body":{}}`)); ok {
		t.Error("event frame should not parse as command response")
	}
}

func TestFormatCommandResult(t *testing.T) {
	cases := []struct {
		resp CommandResponse
		want string
	}{
		{CommandResponse{StatusCode: 0, StatusMessage: "已传送"}, "已传送"},
		{CommandResponse{StatusCode: 0}, "命令执行成功"},
		{CommandResponse{StatusCode: -2147483648, StatusMessage: "语法错误"}, "命令执行失败(statusCode=-2147483648): 语法错误"},
	}
	for _, c := range cases {
		if got := FormatCommandResult(c.resp); got != c.want {
			t.Errorf("FormatCommandResult(%+v) = %q, want %q", c.resp, got, c.want)
		}
	}
}

func TestCommandRegistryResolve(t *testing.T) {
	r := NewCommandRegistry()

	cases := []struct {
		message string
		typ     CommandType
		content string
	}{
		{"#登录 123456", CmdLogin, "123456"},
		{"AGENT 聊天 你好世界", CmdChat, "你好世界"},
		{"AGENT 脚本 跑个脚本", CmdChatScript, "跑个脚本"},
		{"AGENT 保存", CmdSave, ""},
		{"AGENT 上下文 启用", CmdContext, "启用"},
		{"AGENT 模板 concise", CmdTemplate, "concise"},
		{"AGENT 设置 变量 mood 开心", CmdSetting, "变量 mood 开心"},
		{"运行命令 time set day", CmdRunCommand, "time set day"},
		{"切换模型 ollama", CmdSwitchModel, "ollama"},
		{"帮助", CmdHelp, ""},
	}
	for _, c := range cases {
		typ, content := r.Resolve(c.message)
		if typ != c.typ || content != c.content {
			t.Errorf("Resolve(%q) = %q %q, want %q %q", c.message, typ, content, c.typ, c.content)
		}
	}

	typ, content := r.Resolve("普通聊天消息")
	if typ != "" || content != "普通聊天消息" {
		t.Errorf("non-command = %q %q", typ, content)
	}
}

func TestCommandRegistryAliases(t *testing.T) {
	r := NewCommandRegistry()

	if !r.AddAlias("AGENT 聊天", "@ai") {
		t.Fatal("AddAlias failed")
	}
	if r.AddAlias("AGENT 聊天", "@ai") {
		t.Error("duplicate alias should fail")
	}
	if r.AddAlias("不存在", "@x") {
		t.Error("alias for unknown prefix should fail")
	}

	typ, content := r.Resolve("@ai 你好")
	if typ != CmdChat || content != "你好" {
		t.Errorf("alias resolve = %q %q", typ, content)
	}

	if !r.RemoveAlias("@ai") {
		t.Error("RemoveAlias failed")
	}
	if typ, _ := r.Resolve("@ai 你好"); typ != "" {
		t.Error("removed alias still resolves")
	}
	if r.RemoveAlias("@ai") {
		t.Error("second remove should fail")
	}
}

func TestWelcomeMessage(t *testing.T) {
	out := WelcomeMessage("abcdefgh1234", "deepseek", "deepseek-chat", true)
	if !strings.Contains(out, "成功连接 MCBE AI Agent v2.2.0") {
		t.Errorf("missing banner: %q", out)
	}
	if !strings.Contains(out, "连接 ID: abcdefgh...") {
		t.Errorf("missing short id: %q", out)
	}
	if !strings.Contains(out, "当前模型: deepseek/deepseek-chat") {
		t.Errorf("missing model: %q", out)
	}
	if !strings.Contains(out, "上下文: 启用") {
		t.Errorf("missing context state: %q", out)
	}

	out = WelcomeMessage("x", "ollama", "llama3", false)
	if !strings.Contains(out, "上下文: 关闭") {
		t.Errorf("missing disabled context: %q", out)
	}
}

func TestMessageBuilders(t *testing.T) {
	frame := ErrorMessage("出错了")
	if !strings.Contains(frame.Body.CommandLine, "§c❌ 错误： 出错了") {
		t.Errorf("error commandLine = %q", frame.Body.CommandLine)
	}
	frame = InfoMessage("提示")
	if !strings.Contains(frame.Body.CommandLine, "§bℹ️ 提示") {
		t.Errorf("info commandLine = %q", frame.Body.CommandLine)
	}
	frame = SuccessMessage("完成")
	if !strings.Contains(frame.Body.CommandLine, "§a✅ 完成") {
		t.Errorf("success commandLine = %q", frame.Body.CommandLine)
	}
}
