package protocol

import (
	"fmt"
	"strings"
)

// Version shown in the welcome banner.
const Version = "v2.2.0"

// WelcomeMessage builds the banner shown after a successful handshake.
func WelcomeMessage(connectionID, provider, model string, contextEnabled bool) string {
	shortID := connectionID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	ctx := "关闭"
	if contextEnabled {
		ctx = "启用"
	}
	return strings.TrimSpace(fmt.Sprintf(`-----------
成功连接 MCBE AI Agent %s
连接 ID: %s...
当前模型: %s/%s
上下文: %s
-----------
使用 "帮助" 查看可用命令`, Version, shortID, provider, model, ctx))
}

// HelpText lists every chat command.
func HelpText() string {
	return strings.TrimSpace(`
可用命令:
• AGENT 聊天 <内容> - 与 AI 对话
• AGENT 脚本 <内容> - 使用脚本事件发送
• AGENT 上下文 <启用/关闭/状态/压缩/保存/恢复/列表/删除/清除> - 管理上下文
• AGENT 模板 <名称> - 查看或切换提示词模板
• AGENT 设置 变量 <名称> <值> - 管理自定义变量
• 切换模型 <provider> - 切换 LLM (deepseek/openai/anthropic/ollama)
• AGENT 保存 - 保存对话历史
• 运行命令 <命令> - 执行游戏命令
• 帮助 - 显示此帮助`)
}

// ErrorMessage renders an error in red.
func ErrorMessage(err string) CommandFrame {
	return NewTellraw(fmt.Sprintf("❌ 错误: %s", err), "§c")
}

// InfoMessage renders an informational notice in blue.
func InfoMessage(info string) CommandFrame {
	return NewTellraw(fmt.Sprintf("ℹ️ %s", info), "§b")
}

// SuccessMessage renders a confirmation in green.
func SuccessMessage(message string) CommandFrame {
	return NewTellraw(fmt.Sprintf("✅ %s", message), "§a")
}
