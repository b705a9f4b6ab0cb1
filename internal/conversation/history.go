package conversation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nevindra/mcbridge/internal/llm"
)

// compressionRatio of the max turn limit at which auto-compression fires.
const compressionRatio = 0.8

const summaryEntryLimit = 10

// Trim keeps the most recent maxTurns turns of history. The cut always
// lands on a user-prompt boundary, then extends backward so that no
// kept tool-return is left without its tool-call, and the leading
// system prompt survives the cut.
func Trim(history []llm.ModelMessage, maxTurns int) []llm.ModelMessage {
	if maxTurns <= 0 {
		return nil
	}

	cut := cutIndexForTurns(history, maxTurns)
	if cut <= 0 {
		out := make([]llm.ModelMessage, len(history))
		copy(out, history)
		return out
	}

	// Extend backward until every kept tool-return has its call.
	for cut > 0 && hasUnmatchedToolReturn(history[cut:]) {
		cut--
	}

	kept := history[cut:]
	out := make([]llm.ModelMessage, 0, len(kept)+1)

	// The opening system prompt anchors the agent's behavior; re-attach
	// it when the cut dropped it.
	if cut > 0 && history[0].HasPart(llm.PartSystemPrompt) && !containsSystemPrompt(kept) {
		out = append(out, history[0])
	}
	out = append(out, kept...)
	return out
}

// cutIndexForTurns walks backward counting user prompts and returns the
// index of the message starting the maxTurns-th most recent turn.
// Returns 0 when history holds fewer turns than the limit.
func cutIndexForTurns(history []llm.ModelMessage, maxTurns int) int {
	turns := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].HasPart(llm.PartUserPrompt) {
			turns++
			if turns == maxTurns {
				return i
			}
		}
	}
	return 0
}

func hasUnmatchedToolReturn(msgs []llm.ModelMessage) bool {
	calls := make(map[string]bool)
	for _, m := range msgs {
		for _, id := range m.ToolCallIDs() {
			calls[id] = true
		}
		for _, p := range m.Parts {
			if p.Kind == llm.PartToolReturn && !calls[p.ToolCallID] {
				return true
			}
		}
	}
	return false
}

func containsSystemPrompt(msgs []llm.ModelMessage) bool {
	for _, m := range msgs {
		if m.HasPart(llm.PartSystemPrompt) {
			return true
		}
	}
	return false
}

// StripReasoning removes thinking parts from response messages.
// Messages without thinking are returned as-is, so the operation is
// idempotent and cheap on already-clean history.
func StripReasoning(history []llm.ModelMessage) []llm.ModelMessage {
	out := make([]llm.ModelMessage, len(history))
	for i, msg := range history {
		if msg.Kind != llm.KindResponse || !msg.HasPart(llm.PartThinking) {
			out[i] = msg
			continue
		}
		parts := make([]llm.Part, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			if p.Kind != llm.PartThinking {
				parts = append(parts, p)
			}
		}
		out[i] = llm.ModelMessage{Kind: msg.Kind, Parts: parts}
	}
	return out
}

// CompressionThreshold returns the turn count at which compression
// triggers for the given limit.
func CompressionThreshold(maxTurns int) int {
	return int(float64(maxTurns) * compressionRatio)
}

// CheckAndCompress compresses history when it has reached the
// compression threshold. The bool reports whether compression ran.
func CheckAndCompress(history []llm.ModelMessage, maxTurns int) ([]llm.ModelMessage, bool, string) {
	threshold := CompressionThreshold(maxTurns)
	if len(history) == 0 {
		return history, false, "对话历史为空"
	}
	turns := llm.CountTurns(history)
	if turns < threshold {
		return history, false, fmt.Sprintf("当前 %d 轮，未达到压缩阈值 %d 轮", turns, threshold)
	}
	return Compress(history, maxTurns, false)
}

// Compress keeps the most recent threshold turns and folds everything
// older into a single summary message at the head. With force set it
// runs even below the threshold.
func Compress(history []llm.ModelMessage, maxTurns int, force bool) ([]llm.ModelMessage, bool, string) {
	if len(history) == 0 {
		return history, false, "对话历史为空"
	}

	threshold := CompressionThreshold(maxTurns)
	turns := llm.CountTurns(history)
	if !force && turns <= threshold {
		return history, false, fmt.Sprintf("当前 %d 轮，无需压缩", turns)
	}

	kept := Trim(history, threshold)
	summary := extractSummary(history, len(history)-trimmedLength(history, threshold))

	out := make([]llm.ModelMessage, 0, len(kept)+1)
	if summary != "" {
		out = append(out, llm.UserMessage("[历史摘要] "+summary))
	}
	out = append(out, kept...)

	newTurns := llm.CountTurns(out)
	return out, true, fmt.Sprintf("压缩完成: %d轮 -> %d轮", turns, newTurns)
}

// trimmedLength reports how many messages Trim would keep, before the
// system-prompt re-attachment.
func trimmedLength(history []llm.ModelMessage, maxTurns int) int {
	cut := cutIndexForTurns(history, maxTurns)
	for cut > 0 && hasUnmatchedToolReturn(history[cut:]) {
		cut--
	}
	return len(history) - cut
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// extractSummary condenses the first dropCount messages into a short
// pipe-joined digest of questions and answers.
func extractSummary(history []llm.ModelMessage, dropCount int) string {
	if dropCount <= 0 || dropCount > len(history) {
		return ""
	}

	var entries []string
	for _, msg := range history[:dropCount] {
		for _, p := range msg.Parts {
			switch p.Kind {
			case llm.PartUserPrompt:
				if kw := truncateRunes(strings.TrimSpace(p.Content), 50); kw != "" {
					entries = append(entries, "用户问: "+kw)
				}
			case llm.PartText:
				normalized := strings.TrimSpace(whitespaceRE.ReplaceAllString(p.Content, " "))
				if s := truncateRunes(normalized, 100); s != "" {
					entries = append(entries, "AI答: "+s)
				}
			}
		}
	}

	if len(entries) > summaryEntryLimit {
		entries = entries[:summaryEntryLimit]
	}
	return strings.Join(entries, " | ")
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
