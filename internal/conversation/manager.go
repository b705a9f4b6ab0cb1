// Package conversation manages chat history: turn-based trimming,
// summary compression, reasoning redaction, and persistence under the
// data directory.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nevindra/mcbridge/internal/llm"
)

// ErrInvalidSessionID rejects ids that could escape the storage dir.
var ErrInvalidSessionID = errors.New("非法会话 ID")

// sessionIDRE pins saved session ids to <connection>_<date>_<time>.
// Anything else is rejected before it can touch the filesystem.
var sessionIDRE = regexp.MustCompile(`^[^/\\]+_\d{8}_\d{6}$`)

// Metadata describes how a saved conversation was produced.
type Metadata struct {
	Template        string            `json:"template"`
	CustomVariables map[string]string `json:"custom_variables"`
}

// SavedConversation is the on-disk representation of one session.
type SavedConversation struct {
	ConnectionID string             `json:"connection_id"`
	PlayerName   string             `json:"player_name"`
	Provider     string             `json:"provider"`
	Model        string             `json:"model"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	MessageCount int                `json:"message_count"`
	Messages     []llm.ModelMessage `json:"messages"`
	Metadata     Metadata           `json:"metadata"`
}

// Summary is one row of the saved-conversation listing.
type Summary struct {
	SessionID    string
	PlayerName   string
	Provider     string
	Model        string
	UpdatedAt    time.Time
	MessageCount int
}

// SaveOptions carries the per-connection context recorded alongside the
// messages.
type SaveOptions struct {
	ConnectionID    string
	PlayerName      string
	Provider        string
	Model           string
	Template        string
	CustomVariables map[string]string
}

// Manager persists conversations as JSON files under <dir>.
type Manager struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(dataDir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(dataDir, "conversations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	return &Manager{dir: dir, logger: logger, now: time.Now}, nil
}

// Save writes the history to disk and returns the new session id.
func (m *Manager) Save(opts SaveOptions, history []llm.ModelMessage) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("对话历史为空，无法保存")
	}

	now := m.now()
	sessionID := fmt.Sprintf("%s_%s", opts.ConnectionID, now.Format("20060102_150405"))

	vars := opts.CustomVariables
	if vars == nil {
		vars = map[string]string{}
	}
	template := opts.Template
	if template == "" {
		template = "default"
	}

	saved := SavedConversation{
		ConnectionID: opts.ConnectionID,
		PlayerName:   opts.PlayerName,
		Provider:     opts.Provider,
		Model:        opts.Model,
		CreatedAt:    now,
		UpdatedAt:    now,
		MessageCount: len(history),
		Messages:     history,
		Metadata:     Metadata{Template: template, CustomVariables: vars},
	}

	path, err := m.sessionPath(sessionID)
	if err != nil {
		return "", err
	}
	if err := m.writeAtomic(path, saved); err != nil {
		return "", fmt.Errorf("保存失败: %w", err)
	}

	m.logger.Info("conversation saved",
		"session_id", sessionID, "message_count", len(history))
	return sessionID, nil
}

// writeAtomic writes through a temp file and renames so a crash never
// leaves a half-written session on disk.
func (m *Manager) writeAtomic(path string, saved SavedConversation) error {
	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(m.dir, ".save-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Load reads a saved session's messages.
func (m *Manager) Load(sessionID string) ([]llm.ModelMessage, error) {
	path, err := m.sessionPath(sessionID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("会话不存在: %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("加载失败: %w", err)
	}

	var saved SavedConversation
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("加载失败: %w", err)
	}
	return saved.Messages, nil
}

// Delete removes a saved session and returns a player-facing message.
func (m *Manager) Delete(sessionID string) (string, error) {
	path, err := m.sessionPath(sessionID)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("会话不存在: %s", sessionID)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("删除失败: %w", err)
	}

	m.logger.Info("conversation deleted", "session_id", sessionID)
	return fmt.Sprintf("已删除会话: %s", sessionID), nil
}

// List returns all saved sessions, newest first. Unreadable files are
// skipped with a warning.
func (m *Manager) List() []Summary {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil
	}

	var out []Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			m.logger.Warn("skip unreadable conversation", "file", entry.Name(), "error", err)
			continue
		}
		var saved SavedConversation
		if err := json.Unmarshal(data, &saved); err != nil {
			m.logger.Warn("skip corrupt conversation", "file", entry.Name(), "error", err)
			continue
		}
		out = append(out, Summary{
			SessionID:    strings.TrimSuffix(entry.Name(), ".json"),
			PlayerName:   saved.PlayerName,
			Provider:     saved.Provider,
			Model:        saved.Model,
			UpdatedAt:    saved.UpdatedAt,
			MessageCount: saved.MessageCount,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// FormatList renders the saved-conversation listing for game chat.
func FormatList(conversations []Summary, limit int) string {
	if len(conversations) == 0 {
		return "暂无保存的对话"
	}

	lines := []string{"已保存的对话:"}
	shown := conversations
	if len(shown) > limit {
		shown = shown[:limit]
	}
	for i, conv := range shown {
		player := conv.PlayerName
		if player == "" {
			player = "未知玩家"
		}
		lines = append(lines, fmt.Sprintf("%d. [%s] %s | %s/%s | %d条消息 | %s",
			i+1, displayID(conv.SessionID), player, conv.Provider, conv.Model,
			conv.MessageCount, conv.UpdatedAt.Format("2006-01-02 15:04")))
	}
	if len(conversations) > limit {
		lines = append(lines, fmt.Sprintf("... 共 %d 个会话", len(conversations)))
	}
	return strings.Join(lines, "\n")
}

// displayID shortens a session id for chat: the date segment when
// present, otherwise a prefix.
func displayID(sessionID string) string {
	parts := strings.Split(sessionID, "_")
	if len(parts) > 1 {
		return parts[1]
	}
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}

// sessionPath validates the id and resolves it inside the storage dir.
func (m *Manager) sessionPath(sessionID string) (string, error) {
	if !sessionIDRE.MatchString(sessionID) {
		return "", fmt.Errorf("%w: %s", ErrInvalidSessionID, sessionID)
	}
	path := filepath.Join(m.dir, sessionID+".json")
	if filepath.Dir(path) != filepath.Clean(m.dir) {
		return "", fmt.Errorf("%w: %s", ErrInvalidSessionID, sessionID)
	}
	return path, nil
}
