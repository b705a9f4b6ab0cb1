// Package prompt manages system-prompt templates and per-connection
// customization.
package prompt

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const toolUsageGuide = `你可以使用工具与 Minecraft 交互。
- 当用户要求"执行命令/给物品/发送消息/发标题/查询 Wiki"等可操作任务时，优先调用对应工具执行，而不是只解释步骤。
- 不要在有对应工具时直接说"我做不到"；若执行失败，要返回失败原因与下一步建议。
- 对于纯问答类问题，可直接回答。`

// Template is a named system-prompt template with placeholder slots.
type Template struct {
	Name        string
	Description string
	Content     string
	Variables   map[string]string
}

func builtinTemplates() map[string]Template {
	return map[string]Template{
		"default": {
			Name:        "default",
			Description: "默认模板",
			Content: `请始终保持积极和专业的态度。回答尽量保持一段话不要太长，适当添加换行符，尽量不要使用markdown

{tool_usage}

当前玩家: {player_name}
模型: {provider}/{model}`,
		},
		"concise": {
			Name:        "concise",
			Description: "简洁模式 - 更短的回复",
			Content: `请用简洁的语言回答问题，保持 1-2 句话。

{tool_usage}

玩家: {player_name}`,
		},
		"detailed": {
			Name:        "detailed",
			Description: "详细模式 - 更全面的回答",
			Content: `请详细回答用户的问题，提供完整的解释和背景信息。
如有必要，可以适当使用 Markdown 格式。

{tool_usage}

当前玩家: {player_name}
模型: {provider}/{model}
服务器时间: {server_time}
会话长度: {context_length} 轮`,
		},
	}
}

// BuildContext carries the per-request values substituted into a
// template.
type BuildContext struct {
	ConnectionID  string
	PlayerName    string
	Provider      string
	Model         string
	ContextLength int
}

// Manager tracks the active template and custom variables per
// connection. Safe for concurrent use.
type Manager struct {
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	templates map[string]Template
	active    map[string]string            // connection_id -> template name
	variables map[string]map[string]string // connection_id -> custom vars
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:    logger,
		now:       time.Now,
		templates: builtinTemplates(),
		active:    make(map[string]string),
		variables: make(map[string]map[string]string),
	}
}

// Register adds a new template. Built-in names cannot be replaced.
func (m *Manager) Register(t Template) bool {
	if t.Name == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.templates[t.Name]; exists {
		m.logger.Warn("template already exists", "name", t.Name)
		return false
	}
	m.templates[t.Name] = t
	m.logger.Info("template registered", "name", t.Name)
	return true
}

// ListTemplates returns available template names, sorted.
func (m *Manager) ListTemplates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActiveTemplate returns the connection's current template name.
func (m *Manager) ActiveTemplate(connectionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.active[connectionID]; ok {
		return name
	}
	return "default"
}

// SetTemplate switches the connection's template. Unknown names fail.
func (m *Manager) SetTemplate(connectionID, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[name]
	if !ok {
		return false
	}
	m.active[connectionID] = name
	if _, ok := m.variables[connectionID]; !ok {
		m.variables[connectionID] = copyVars(t.Variables)
	}
	m.logger.Info("template changed", "connection_id", connectionID, "template", name)
	return true
}

// Variables returns a copy of the connection's custom variables.
func (m *Manager) Variables(connectionID string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if vars, ok := m.variables[connectionID]; ok {
		return copyVars(vars)
	}
	name := "default"
	if n, ok := m.active[connectionID]; ok {
		name = n
	}
	if t, ok := m.templates[name]; ok {
		return copyVars(t.Variables)
	}
	return map[string]string{}
}

// SetVariable stores a custom variable. Names get the custom_ prefix
// automatically.
func (m *Manager) SetVariable(connectionID, name, value string) {
	if !strings.HasPrefix(name, "custom_") {
		name = "custom_" + name
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.variables[connectionID]; !ok {
		m.variables[connectionID] = map[string]string{}
	}
	m.variables[connectionID][name] = value
}

// RemoveVariable deletes a custom variable, reporting whether it existed.
func (m *Manager) RemoveVariable(connectionID, name string) bool {
	if !strings.HasPrefix(name, "custom_") {
		name = "custom_" + name
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	vars, ok := m.variables[connectionID]
	if !ok {
		return false
	}
	if _, ok := vars[name]; !ok {
		return false
	}
	delete(vars, name)
	return true
}

// ClearConnection drops the connection's template and variable state.
func (m *Manager) ClearConnection(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, connectionID)
	delete(m.variables, connectionID)
}

// BuildSystemPrompt renders the connection's template. Custom variables
// override builtins; custom variables without a placeholder are
// appended as an addendum so the model still sees them.
func (m *Manager) BuildSystemPrompt(ctx BuildContext) string {
	m.mu.Lock()
	name := "default"
	if n, ok := m.active[ctx.ConnectionID]; ok {
		name = n
	}
	t, ok := m.templates[name]
	if !ok {
		t = m.templates["default"]
	}
	custom := copyVars(m.variables[ctx.ConnectionID])
	m.mu.Unlock()

	playerName := ctx.PlayerName
	if playerName == "" {
		playerName = "未知玩家"
	}
	provider := ctx.Provider
	if provider == "" {
		provider = "deepseek"
	}
	model := ctx.Model
	if model == "" {
		model = "deepseek-chat"
	}
	connID := ctx.ConnectionID
	if len(connID) > 8 {
		connID = connID[:8]
	}

	vars := map[string]string{
		"player_name":    playerName,
		"connection_id":  connID,
		"provider":       provider,
		"model":          model,
		"server_time":    m.now().Format("2006-01-02 15:04:05"),
		"context_length": fmt.Sprintf("%d", ctx.ContextLength),
		"tool_usage":     toolUsageGuide,
	}
	for k, v := range custom {
		vars[k] = v
	}

	content := t.Content
	var unused []string
	for key, value := range vars {
		placeholder := "{" + key + "}"
		if strings.Contains(content, placeholder) {
			content = strings.ReplaceAll(content, placeholder, value)
		} else if strings.HasPrefix(key, "custom_") {
			unused = append(unused, key)
		}
	}

	if len(unused) > 0 {
		sort.Strings(unused)
		var b strings.Builder
		b.WriteString(content)
		b.WriteString("\n\n--- 自定义变量 ---\n")
		for _, key := range unused {
			b.WriteString(strings.TrimPrefix(key, "custom_"))
			b.WriteString(": ")
			b.WriteString(vars[key])
			b.WriteString("\n")
		}
		content = b.String()
	}

	return content
}

func copyVars(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
