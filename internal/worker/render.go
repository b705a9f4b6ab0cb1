package worker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	// toolArgLimit caps how many arguments appear in a tool-call line.
	toolArgLimit = 3
	// toolArgValueChars caps each rendered argument value.
	toolArgValueChars = 20
	// toolResultChars caps the tool-result preview.
	toolResultChars = 80
)

// formatToolCall renders a tool call as "● name(k=v, ...)" for the
// in-game transcript.
func formatToolCall(name, rawArgs string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil || len(args) == 0 {
		return fmt.Sprintf("● %s()", name)
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	truncated := false
	if len(keys) > toolArgLimit {
		keys = keys[:toolArgLimit]
		truncated = true
	}

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, truncateValue(args[k])))
	}
	if truncated {
		pairs = append(pairs, "...")
	}
	return fmt.Sprintf("● %s(%s)", name, strings.Join(pairs, ", "))
}

func truncateValue(v any) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case float64:
		s = strings.TrimSuffix(fmt.Sprintf("%v", val), ".0")
	default:
		b, err := json.Marshal(val)
		if err != nil {
			s = fmt.Sprintf("%v", val)
		} else {
			s = string(b)
		}
	}
	runes := []rune(s)
	if len(runes) > toolArgValueChars {
		return string(runes[:toolArgValueChars]) + "..."
	}
	return s
}

// previewResult flattens a tool result to a single short line.
func previewResult(result string) string {
	flat := strings.Join(strings.Fields(result), " ")
	runes := []rune(flat)
	if len(runes) > toolResultChars {
		return string(runes[:toolResultChars]) + "..."
	}
	return flat
}
