package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/mcbridge/internal/llm"
	"github.com/nevindra/mcbridge/internal/protocol"
)

// ToolFunc executes one tool call. Failures are reported in-band as
// the returned string so the model can react to them.
type ToolFunc func(ctx context.Context, deps Dependencies, args json.RawMessage) string

// Tool couples a wire-visible definition with its implementation.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Run         ToolFunc
}

// Registry holds the tools offered to the model, in a stable order.
type Registry struct {
	order []string
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Add(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Definitions returns the wire-form tool list.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Execute runs a tool call and returns its result text.
func (r *Registry) Execute(ctx context.Context, deps Dependencies, call llm.ToolCall) string {
	t, ok := r.tools[call.Name]
	if !ok {
		return fmt.Sprintf("未知工具: %s", call.Name)
	}
	deps.logger().Info("agent tool call", "tool", call.Name, "connection_id", deps.ConnectionID)
	return t.Run(ctx, deps, call.Args)
}

// DefaultRegistry returns the full tool set: game interaction, web
// fetch, and wiki lookup.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	registerGameTools(r)
	registerWebTools(r)
	registerWikiTools(r)
	return r
}

func objSchema(props string, required ...string) json.RawMessage {
	req, _ := json.Marshal(required)
	return json.RawMessage(`{"type":"object","properties":{` + props + `},"required":` + string(req) + `}`)
}

func registerGameTools(r *Registry) {
	r.Add(Tool{
		Name:        "run_minecraft_command",
		Description: "执行 Minecraft 命令（不包括前导斜杠）",
		Parameters:  objSchema(`"command":{"type":"string","description":"要执行的命令"}`, "command"),
		Run: func(ctx context.Context, deps Dependencies, args json.RawMessage) string {
			var p struct {
				Command string `json:"command"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return fmt.Sprintf("命令执行失败: %v", err)
			}
			if _, err := deps.RunCommand(p.Command); err != nil {
				return fmt.Sprintf("命令执行失败: %v", err)
			}
			return fmt.Sprintf("已执行命令: /%s", p.Command)
		},
	})

	r.Add(Tool{
		Name:        "send_game_message",
		Description: "向游戏发送消息",
		Parameters:  objSchema(`"message":{"type":"string","description":"要发送的消息"}`, "message"),
		Run: func(ctx context.Context, deps Dependencies, args json.RawMessage) string {
			var p struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return fmt.Sprintf("消息发送失败: %v", err)
			}
			if err := deps.SendToGame(p.Message); err != nil {
				return fmt.Sprintf("消息发送失败: %v", err)
			}
			return "消息已发送到游戏"
		},
	})

	r.Add(Tool{
		Name:        "send_colored_message",
		Description: "发送带颜色的聊天消息",
		Parameters: objSchema(`"message":{"type":"string"},`+
			`"color":{"type":"string","description":"Minecraft 颜色代码，例如 §a"}`, "message"),
		Run: func(ctx context.Context, deps Dependencies, args json.RawMessage) string {
			p := struct {
				Message string `json:"message"`
				Color   string `json:"color"`
			}{Color: "§a"}
			if err := json.Unmarshal(args, &p); err != nil {
				return fmt.Sprintf("彩色消息发送失败: %v", err)
			}
			if _, err := deps.RunCommand(buildTellrawCommand(p.Message, p.Color)); err != nil {
				return fmt.Sprintf("彩色消息发送失败: %v", err)
			}
			return "彩色消息已发送"
		},
	})

	r.Add(Tool{
		Name:        "send_title_message",
		Description: "发送标题消息",
		Parameters: objSchema(`"title":{"type":"string"},"subtitle":{"type":"string"},`+
			`"fade_in":{"type":"integer"},"stay":{"type":"integer"},"fade_out":{"type":"integer"}`, "title"),
		Run: func(ctx context.Context, deps Dependencies, args json.RawMessage) string {
			p := struct {
				Title    string `json:"title"`
				Subtitle string `json:"subtitle"`
				FadeIn   int    `json:"fade_in"`
				Stay     int    `json:"stay"`
				FadeOut  int    `json:"fade_out"`
			}{FadeIn: 10, Stay: 70, FadeOut: 20}
			if err := json.Unmarshal(args, &p); err != nil {
				return fmt.Sprintf("标题发送失败: %v", err)
			}
			for _, command := range buildTitleCommands(p.Title, p.Subtitle, p.FadeIn, p.Stay, p.FadeOut) {
				if _, err := deps.RunCommand(command); err != nil {
					return fmt.Sprintf("标题发送失败: %v", err)
				}
			}
			return "标题消息已发送"
		},
	})

	r.Add(Tool{
		Name:        "send_actionbar_message",
		Description: "发送 Actionbar 消息",
		Parameters:  objSchema(`"message":{"type":"string"}`, "message"),
		Run: func(ctx context.Context, deps Dependencies, args json.RawMessage) string {
			var p struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return fmt.Sprintf("Actionbar 发送失败: %v", err)
			}
			if _, err := deps.RunCommand(buildActionbarCommand(p.Message)); err != nil {
				return fmt.Sprintf("Actionbar 发送失败: %v", err)
			}
			return "Actionbar 消息已发送"
		},
	})

	r.Add(Tool{
		Name:        "send_script_event",
		Description: "发送脚本事件给 addon 脚本",
		Parameters: objSchema(`"content":{"type":"string"},`+
			`"message_id":{"type":"string","description":"事件 ID，默认 server:data"}`, "content"),
		Run: func(ctx context.Context, deps Dependencies, args json.RawMessage) string {
			p := struct {
				Content   string `json:"content"`
				MessageID string `json:"message_id"`
			}{MessageID: "server:data"}
			if err := json.Unmarshal(args, &p); err != nil {
				return fmt.Sprintf("脚本事件发送失败: %v", err)
			}
			if _, err := deps.RunCommand(fmt.Sprintf("scriptevent %s %s", p.MessageID, p.Content)); err != nil {
				return fmt.Sprintf("脚本事件发送失败: %v", err)
			}
			return "脚本事件已发送"
		},
	})
}

// escapeCommandText neutralizes characters that break quoted command
// arguments.
func escapeCommandText(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return r.Replace(text)
}

func buildTitleCommands(title, subtitle string, fadeIn, stay, fadeOut int) []string {
	commands := []string{fmt.Sprintf(`title @a title "%s"`, escapeCommandText(title))}
	if subtitle != "" {
		commands = append(commands, fmt.Sprintf(`title @a subtitle "%s"`, escapeCommandText(subtitle)))
	}
	commands = append(commands, fmt.Sprintf("title @a times %d %d %d", fadeIn, stay, fadeOut))
	return commands
}

func buildActionbarCommand(message string) string {
	return fmt.Sprintf(`title @a actionbar "%s"`, escapeCommandText(message))
}

func buildTellrawCommand(message, color string) string {
	return protocol.NewTellraw(message, color).Body.CommandLine
}
