package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nevindra/mcbridge/internal/broker"
	"github.com/nevindra/mcbridge/internal/conversation"
	"github.com/nevindra/mcbridge/internal/llm"
	"github.com/nevindra/mcbridge/internal/protocol"
)

func (c *connection) handleCommand(cmdType protocol.CommandType, content string) {
	if cmdType == protocol.CmdLogin {
		c.handleLogin(content)
		return
	}
	if !c.authorized() {
		c.sendError("请先登录")
		return
	}

	switch cmdType {
	case protocol.CmdChat:
		c.handleChat(content, broker.DeliveryChat)
	case protocol.CmdChatScript:
		c.handleChat(content, broker.DeliveryScript)
	case protocol.CmdSave:
		c.handleSave()
	case protocol.CmdContext:
		c.handleContext(content)
	case protocol.CmdTemplate:
		c.handleTemplate(content)
	case protocol.CmdSetting:
		c.handleSetting(content)
	case protocol.CmdRunCommand:
		c.handleRunCommand(content)
	case protocol.CmdSwitchModel:
		c.handleSwitchModel(content)
	case protocol.CmdHelp:
		c.sendFrame(protocol.NewTellraw(protocol.HelpText(), "§b"))
	}
}

func (c *connection) authorized() bool {
	return c.authenticated || c.server.cfg.DevMode
}

func (c *connection) handleLogin(content string) {
	if c.authenticated {
		c.sendInfo("您已登录")
		return
	}
	// A stored token that no longer verifies is dead weight; drop it
	// before deciding whether to issue a new one.
	if _, stored := c.server.auth.StoredToken(c.id); stored && !c.server.auth.IsTokenValid(c.id) {
		c.server.auth.RemoveToken(c.id)
	}
	if !c.server.auth.VerifyPassword(strings.TrimSpace(content)) {
		c.sendError("密码错误")
		return
	}

	token, err := c.server.auth.GenerateToken()
	if err != nil {
		c.logger.Error("token generation failed", "error", err)
		c.sendError("登录失败，请稍后重试")
		return
	}
	c.server.auth.SaveToken(c.id, token)
	c.authenticated = true
	c.sendSuccess("登录成功！")
}

func (c *connection) handleChat(content string, delivery broker.DeliveryMode) {
	content = strings.TrimSpace(content)
	if content == "" {
		c.sendError("请输入聊天内容")
		return
	}

	err := c.server.broker.Publish(broker.PriorityNormal, broker.ChatRequest{
		ConnectionID: c.id,
		PlayerName:   c.playerName,
		Content:      content,
		Provider:     c.provider,
		UseContext:   c.contextEnabled,
		Delivery:     delivery,
	})
	if err != nil {
		if errors.Is(err, broker.ErrQueueFull) {
			c.sendError("服务器繁忙，请稍后重试")
			return
		}
		c.sendError(err.Error())
	}
}

// handleRunCommand fires the command at the game without waiting for a
// commandResponse.
func (c *connection) handleRunCommand(content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		c.sendError("请输入要执行的命令")
		return
	}
	frame := protocol.NewRawCommand(content)
	if err := c.writeRaw(frame.Encode()); err != nil {
		c.logger.Debug("raw command send failed", "error", err)
	}
}

func (c *connection) handleSwitchModel(content string) {
	name := strings.TrimSpace(content)
	available := c.server.cfg.AvailableProviders()

	valid := false
	for _, p := range available {
		if p == name {
			valid = true
			break
		}
	}
	if !valid {
		c.sendError(fmt.Sprintf("不可用的提供商。可用: %s", strings.Join(available, ", ")))
		return
	}

	c.provider = name
	c.server.broker.ClearHistory(c.id)
	providerCfg := c.server.cfg.ProviderConfigFor(name)
	c.sendSuccess(fmt.Sprintf("已切换到 %s/%s", name, providerCfg.Model))
}

func (c *connection) handleContext(content string) {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		c.sendError("无效选项，请使用: 启用/关闭/状态")
		return
	}

	maxTurns := c.server.cfg.MaxHistoryTurns
	switch fields[0] {
	case "启用":
		c.contextEnabled = true
		c.sendSuccess("上下文已启用")
	case "关闭":
		c.contextEnabled = false
		c.server.broker.ClearHistory(c.id)
		c.sendSuccess("上下文已关闭")
	case "状态":
		state := "关闭"
		if c.contextEnabled {
			state = "启用"
		}
		turns := llm.CountTurns(c.server.broker.History(c.id))
		c.sendInfo(fmt.Sprintf("上下文状态: %s\n当前 %d 轮 / 上限 %d 轮 (压缩阈值 %d 轮)",
			state, turns, maxTurns, conversation.CompressionThreshold(maxTurns)))
	case "压缩":
		history := c.server.broker.History(c.id)
		compressed, did, msg := conversation.Compress(history, maxTurns, true)
		if did {
			c.server.broker.SetHistory(c.id, compressed)
			c.sendSuccess(msg)
		} else {
			c.sendInfo(msg)
		}
	case "保存":
		c.handleSave()
	case "恢复":
		if len(fields) < 2 {
			c.sendError("请指定会话 ID")
			return
		}
		messages, err := c.server.sessions.Load(fields[1])
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.server.broker.SetHistory(c.id, messages)
		c.sendSuccess(fmt.Sprintf("已恢复会话 %s，共 %d 条消息", fields[1], len(messages)))
	case "列表":
		c.sendInfo(conversation.FormatList(c.server.sessions.List(), 10))
	case "删除":
		if len(fields) < 2 {
			c.sendError("请指定会话 ID")
			return
		}
		msg, err := c.server.sessions.Delete(fields[1])
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.sendSuccess(msg)
	case "清除":
		c.server.broker.ClearHistory(c.id)
		c.sendSuccess("上下文已清除")
	default:
		c.sendError("无效选项，请使用: 启用/关闭/状态")
	}
}

func (c *connection) handleSave() {
	providerCfg := c.server.cfg.ProviderConfigFor(c.provider)
	sessionID, err := c.server.sessions.Save(conversation.SaveOptions{
		ConnectionID:    c.id,
		PlayerName:      c.playerName,
		Provider:        c.provider,
		Model:           providerCfg.Model,
		Template:        c.server.prompts.ActiveTemplate(c.id),
		CustomVariables: c.server.prompts.Variables(c.id),
	}, c.server.broker.History(c.id))
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.sendSuccess(fmt.Sprintf("对话已保存: %s", sessionID))
}

func (c *connection) handleTemplate(content string) {
	name := strings.TrimSpace(content)
	if name == "" || name == "list" || name == "列表" {
		templates := c.server.prompts.ListTemplates()
		c.sendInfo(fmt.Sprintf("可用模板: %s\n当前模板: %s",
			strings.Join(templates, ", "), c.server.prompts.ActiveTemplate(c.id)))
		return
	}
	if !c.server.prompts.SetTemplate(c.id, name) {
		c.sendError(fmt.Sprintf("未知模板: %s", name))
		return
	}
	c.sendSuccess(fmt.Sprintf("已切换到模板: %s", name))
}

func (c *connection) handleSetting(content string) {
	fields := strings.Fields(content)
	if len(fields) == 0 || fields[0] != "变量" {
		c.sendError("无效选项，请使用: 变量 <名称> <值>")
		return
	}
	args := fields[1:]

	switch {
	case len(args) == 0:
		vars := c.server.prompts.Variables(c.id)
		if len(vars) == 0 {
			c.sendInfo("暂无自定义变量")
			return
		}
		names := make([]string, 0, len(vars))
		for name := range vars {
			names = append(names, name)
		}
		sort.Strings(names)
		var b strings.Builder
		b.WriteString("自定义变量:")
		for _, name := range names {
			fmt.Fprintf(&b, "\n%s = %s", name, vars[name])
		}
		c.sendInfo(b.String())
	case args[0] == "删除":
		if len(args) < 2 {
			c.sendError("请指定变量名称")
			return
		}
		if !c.server.prompts.RemoveVariable(c.id, args[1]) {
			c.sendError(fmt.Sprintf("变量不存在: %s", args[1]))
			return
		}
		c.sendSuccess(fmt.Sprintf("已删除变量 %s", args[1]))
	case len(args) == 1 && strings.Contains(args[0], "="):
		name, value, _ := strings.Cut(args[0], "=")
		if name == "" {
			c.sendError("无效选项，请使用: 变量 <名称> <值>")
			return
		}
		c.server.prompts.SetVariable(c.id, name, value)
		c.sendSuccess(fmt.Sprintf("已设置变量 %s", name))
	case len(args) >= 2:
		name := args[0]
		value := strings.Join(args[1:], " ")
		c.server.prompts.SetVariable(c.id, name, value)
		c.sendSuccess(fmt.Sprintf("已设置变量 %s", name))
	default:
		c.sendError("无效选项，请使用: 变量 <名称> <值>")
	}
}
