package protocol

import "strings"

// CommandType classifies a parsed chat command.
type CommandType string

const (
	CmdLogin       CommandType = "login"
	CmdChat        CommandType = "chat"
	CmdChatScript  CommandType = "chat_script"
	CmdSave        CommandType = "save"
	CmdContext     CommandType = "context"
	CmdTemplate    CommandType = "template"
	CmdSetting     CommandType = "setting"
	CmdRunCommand  CommandType = "run_command"
	CmdSwitchModel CommandType = "switch_model"
	CmdHelp        CommandType = "help"
)

// commandSpec binds a chat prefix to a command type.
type commandSpec struct {
	Prefix  string
	Type    CommandType
	Aliases []string
}

// defaultCommands in match order. Longer prefixes that share a stem
// must come before shorter ones.
func defaultCommands() []commandSpec {
	return []commandSpec{
		{Prefix: "#登录", Type: CmdLogin},
		{Prefix: "AGENT 聊天", Type: CmdChat},
		{Prefix: "AGENT 脚本", Type: CmdChatScript},
		{Prefix: "AGENT 保存", Type: CmdSave},
		{Prefix: "AGENT 上下文", Type: CmdContext},
		{Prefix: "AGENT 模板", Type: CmdTemplate},
		{Prefix: "AGENT 设置", Type: CmdSetting},
		{Prefix: "运行命令", Type: CmdRunCommand},
		{Prefix: "切换模型", Type: CmdSwitchModel},
		{Prefix: "帮助", Type: CmdHelp},
	}
}

// CommandRegistry resolves chat messages to commands, with support for
// runtime aliases.
type CommandRegistry struct {
	commands []commandSpec
	aliases  map[string]int // alias -> index into commands
}

func NewCommandRegistry() *CommandRegistry {
	r := &CommandRegistry{
		commands: defaultCommands(),
		aliases:  make(map[string]int),
	}
	for i, cmd := range r.commands {
		for _, alias := range cmd.Aliases {
			r.aliases[alias] = i
		}
	}
	return r
}

// Resolve matches a message against prefixes, then aliases. The second
// return is the message with the prefix stripped. Unmatched messages
// come back with an empty type and the original text.
func (r *CommandRegistry) Resolve(message string) (CommandType, string) {
	for _, cmd := range r.commands {
		if strings.HasPrefix(message, cmd.Prefix) {
			return cmd.Type, strings.TrimSpace(message[len(cmd.Prefix):])
		}
	}
	for alias, idx := range r.aliases {
		if strings.HasPrefix(message, alias) {
			return r.commands[idx].Type, strings.TrimSpace(message[len(alias):])
		}
	}
	return "", message
}

// AddAlias registers an extra prefix for an existing command.
func (r *CommandRegistry) AddAlias(prefix, alias string) bool {
	if _, exists := r.aliases[alias]; exists {
		return false
	}
	for i, cmd := range r.commands {
		if cmd.Prefix == prefix {
			r.aliases[alias] = i
			r.commands[i].Aliases = append(r.commands[i].Aliases, alias)
			return true
		}
	}
	return false
}

// RemoveAlias drops a runtime alias.
func (r *CommandRegistry) RemoveAlias(alias string) bool {
	idx, exists := r.aliases[alias]
	if !exists {
		return false
	}
	delete(r.aliases, alias)
	kept := r.commands[idx].Aliases[:0]
	for _, a := range r.commands[idx].Aliases {
		if a != alias {
			kept = append(kept, a)
		}
	}
	r.commands[idx].Aliases = kept
	return true
}

// PrefixFor returns the primary prefix for a command type.
func (r *CommandRegistry) PrefixFor(cmdType CommandType) string {
	for _, cmd := range r.commands {
		if cmd.Type == cmdType {
			return cmd.Prefix
		}
	}
	return ""
}
