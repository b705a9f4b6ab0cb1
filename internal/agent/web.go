package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
)

const fetchMaxChars = 2000

// fetchBodyLimit caps how much of a response we read.
const fetchBodyLimit = 1 << 20

func registerWebTools(r *Registry) {
	r.Add(Tool{
		Name:        "fetch_url_text",
		Description: "拉取网页文本内容（仅支持 http/https）",
		Parameters: objSchema(`"url":{"type":"string","description":"请求地址"},`+
			`"max_chars":{"type":"integer","description":"最大返回字符数"}`, "url"),
		Run: func(ctx context.Context, deps Dependencies, args json.RawMessage) string {
			p := struct {
				URL      string `json:"url"`
				MaxChars int    `json:"max_chars"`
			}{MaxChars: fetchMaxChars}
			if err := json.Unmarshal(args, &p); err != nil {
				return fmt.Sprintf("请求失败: %v", err)
			}
			return fetchURLText(ctx, deps, p.URL, p.MaxChars)
		},
	})
}

func fetchURLText(ctx context.Context, deps Dependencies, rawURL string, maxChars int) string {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return "仅支持 http 或 https URL"
	}
	if maxChars <= 0 {
		maxChars = fetchMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Sprintf("请求失败: %v", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; MCBridgeBot/1.0)")

	resp, err := deps.HTTPClient.Do(req)
	if err != nil {
		return fmt.Sprintf("请求失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Sprintf("请求失败: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return fmt.Sprintf("请求失败: %v", err)
	}

	text := strings.TrimSpace(string(body))

	// HTML pages get readability extraction; everything else is
	// returned as-is.
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		parsedURL, _ := url.Parse(rawURL)
		if article, err := readability.FromReader(strings.NewReader(text), parsedURL); err == nil {
			if extracted := strings.TrimSpace(article.TextContent); extracted != "" {
				text = extracted
			}
		}
	}

	return truncateChars(text, maxChars)
}

func truncateChars(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + "..."
}
