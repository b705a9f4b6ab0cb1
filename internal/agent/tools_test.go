package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nevindra/mcbridge/internal/llm"
)

func execTool(t *testing.T, deps Dependencies, name, args string) string {
	t.Helper()
	r := DefaultRegistry()
	return r.Execute(context.Background(), deps, llm.ToolCall{
		ID: "c1", Name: name, Args: json.RawMessage(args),
	})
}

func TestRunMinecraftCommandTool(t *testing.T) {
	var got string
	deps := testDeps()
	deps.RunCommand = func(cmd string) (string, error) {
		got = cmd
		return "ok", nil
	}

	result := execTool(t, deps, "run_minecraft_command", `{"command":"give @p diamond 64"}`)
	if result != "已执行命令: /give @p diamond 64" {
		t.Errorf("result = %q", result)
	}
	if got != "give @p diamond 64" {
		t.Errorf("command = %q", got)
	}

	deps.RunCommand = func(string) (string, error) { return "", errors.New("连接已关闭") }
	result = execTool(t, deps, "run_minecraft_command", `{"command":"list"}`)
	if result != "命令执行失败: 连接已关闭" {
		t.Errorf("failure result = %q", result)
	}
}

func TestSendGameMessageTool(t *testing.T) {
	var sent string
	deps := testDeps()
	deps.SendToGame = func(msg string) error {
		sent = msg
		return nil
	}

	result := execTool(t, deps, "send_game_message", `{"message":"大家好"}`)
	if result != "消息已发送到游戏" || sent != "大家好" {
		t.Errorf("result = %q, sent = %q", result, sent)
	}
}

func TestSendColoredMessageTool(t *testing.T) {
	var got string
	deps := testDeps()
	deps.RunCommand = func(cmd string) (string, error) {
		got = cmd
		return "ok", nil
	}

	result := execTool(t, deps, "send_colored_message", `{"message":"警告"}`)
	if result != "彩色消息已发送" {
		t.Errorf("result = %q", result)
	}
	// Default color applies.
	want := `tellraw @a {"rawtext":[{"text":"§a警告"}]}`
	if got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestSendTitleMessageTool(t *testing.T) {
	var commands []string
	deps := testDeps()
	deps.RunCommand = func(cmd string) (string, error) {
		commands = append(commands, cmd)
		return "ok", nil
	}

	result := execTool(t, deps, "send_title_message", `{"title":"欢迎","subtitle":"回来"}`)
	if result != "标题消息已发送" {
		t.Errorf("result = %q", result)
	}
	want := []string{
		`title @a title "欢迎"`,
		`title @a subtitle "回来"`,
		"title @a times 10 70 20",
	}
	if len(commands) != len(want) {
		t.Fatalf("commands = %v", commands)
	}
	for i := range want {
		if commands[i] != want[i] {
			t.Errorf("commands[%d] = %q, want %q", i, commands[i], want[i])
		}
	}
}

func TestSendActionbarMessageTool(t *testing.T) {
	var got string
	deps := testDeps()
	deps.RunCommand = func(cmd string) (string, error) {
		got = cmd
		return "ok", nil
	}

	result := execTool(t, deps, "send_actionbar_message", `{"message":"提示 \"引号\""}`)
	if result != "Actionbar 消息已发送" {
		t.Errorf("result = %q", result)
	}
	if got != `title @a actionbar "提示 \"引号\""` {
		t.Errorf("command = %q", got)
	}
}

func TestSendScriptEventTool(t *testing.T) {
	var got string
	deps := testDeps()
	deps.RunCommand = func(cmd string) (string, error) {
		got = cmd
		return "ok", nil
	}

	result := execTool(t, deps, "send_script_event", `{"content":"payload"}`)
	if result != "脚本事件已发送" || got != "scriptevent server:data payload" {
		t.Errorf("result = %q, command = %q", result, got)
	}

	execTool(t, deps, "send_script_event", `{"content":"x","message_id":"my:chan"}`)
	if got != "scriptevent my:chan x" {
		t.Errorf("command = %q", got)
	}
}

func TestUnknownTool(t *testing.T) {
	result := execTool(t, testDeps(), "no_such_tool", `{}`)
	if result != "未知工具: no_such_tool" {
		t.Errorf("result = %q", result)
	}
}

func TestEscapeCommandText(t *testing.T) {
	if got := escapeCommandText("a\\b\"c\nd"); got != `a\\b\"c\nd` {
		t.Errorf("got %q", got)
	}
}

func TestFetchURLTextSchemeCheck(t *testing.T) {
	deps := testDeps()
	deps.HTTPClient = http.DefaultClient
	result := execTool(t, deps, "fetch_url_text", `{"url":"ftp://example.com"}`)
	if result != "仅支持 http 或 https URL" {
		t.Errorf("result = %q", result)
	}
}

func TestFetchURLTextTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		for i := 0; i < 300; i++ {
			w.Write([]byte("0123456789"))
		}
	}))
	defer srv.Close()

	deps := testDeps()
	deps.HTTPClient = srv.Client()
	result := execTool(t, deps, "fetch_url_text", `{"url":"`+srv.URL+`"}`)
	if len([]rune(result)) != fetchMaxChars+3 {
		t.Errorf("len = %d, want %d", len([]rune(result)), fetchMaxChars+3)
	}
	if result[len(result)-3:] != "..." {
		t.Errorf("missing ellipsis: %q", result[len(result)-10:])
	}
}

func TestFetchURLTextHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	deps := testDeps()
	deps.HTTPClient = srv.Client()
	result := execTool(t, deps, "fetch_url_text", `{"url":"`+srv.URL+`"}`)
	if result != "请求失败: HTTP 404" {
		t.Errorf("result = %q", result)
	}
}

func TestNormalizeWikiLimit(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 10},
		{-5, 1},
		{1, 1},
		{25, 25},
		{100, 50},
	}
	for _, c := range cases {
		if got := normalizeWikiLimit(c.in); got != c.want {
			t.Errorf("normalizeWikiLimit(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestBuildWikiPageURL(t *testing.T) {
	got := buildWikiPageURL("https://mcwiki.rice-awa.top", "钻石")
	want := "https://mcwiki.rice-awa.top/api/page/%E9%92%BB%E7%9F%B3"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildWikiSearchURL(t *testing.T) {
	got := buildWikiSearchURL("https://mcwiki.rice-awa.top/", "红石", 5)
	if got != "https://mcwiki.rice-awa.top/api/search?limit=5&q=%E7%BA%A2%E7%9F%B3" {
		t.Errorf("got %q", got)
	}
}

func TestToolDefinitionsStable(t *testing.T) {
	r := DefaultRegistry()
	defs := r.Definitions()
	if len(defs) < 8 {
		t.Fatalf("got %d tools", len(defs))
	}
	if defs[0].Name != "run_minecraft_command" {
		t.Errorf("defs[0] = %q", defs[0].Name)
	}
	for _, d := range defs {
		if !json.Valid(d.Parameters) {
			t.Errorf("tool %s has invalid schema: %s", d.Name, d.Parameters)
		}
	}
}
