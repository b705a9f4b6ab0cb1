package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	wikiBaseURL        = "https://mcwiki.rice-awa.top"
	wikiMinSearchLimit = 1
	wikiMaxSearchLimit = 50
	wikiDefaultLimit   = 10
)

func registerWikiTools(r *Registry) {
	r.Add(Tool{
		Name:        "search_minecraft_wiki",
		Description: "搜索 Minecraft Wiki，返回匹配的条目列表",
		Parameters: objSchema(`"query":{"type":"string","description":"搜索关键词"},`+
			`"limit":{"type":"integer","description":"返回条数，1-50"}`, "query"),
		Run: func(ctx context.Context, deps Dependencies, args json.RawMessage) string {
			var p struct {
				Query string `json:"query"`
				Limit int    `json:"limit"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return fmt.Sprintf("Wiki 搜索失败: %v", err)
			}
			return wikiSearch(ctx, deps, p.Query, p.Limit)
		},
	})

	r.Add(Tool{
		Name:        "get_wiki_page",
		Description: "获取 Minecraft Wiki 页面的正文内容",
		Parameters:  objSchema(`"page_name":{"type":"string","description":"页面名称，例如 钻石"}`, "page_name"),
		Run: func(ctx context.Context, deps Dependencies, args json.RawMessage) string {
			var p struct {
				PageName string `json:"page_name"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return fmt.Sprintf("Wiki 页面获取失败: %v", err)
			}
			return wikiPage(ctx, deps, p.PageName)
		},
	})
}

// normalizeWikiLimit clamps a requested result count into range.
func normalizeWikiLimit(limit int) int {
	if limit == 0 {
		return wikiDefaultLimit
	}
	if limit < wikiMinSearchLimit {
		return wikiMinSearchLimit
	}
	if limit > wikiMaxSearchLimit {
		return wikiMaxSearchLimit
	}
	return limit
}

// buildWikiSearchURL assembles the search endpoint with its query
// parameters.
func buildWikiSearchURL(baseURL, query string, limit int) string {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", fmt.Sprintf("%d", limit))
	return strings.TrimSuffix(baseURL, "/") + "/api/search?" + params.Encode()
}

// buildWikiPageURL assembles the page-content endpoint, escaping the
// page name fully.
func buildWikiPageURL(baseURL, pageName string) string {
	return strings.TrimSuffix(baseURL, "/") + "/api/page/" + url.PathEscape(pageName)
}

func wikiSearch(ctx context.Context, deps Dependencies, query string, limit int) string {
	limit = normalizeWikiLimit(limit)
	body, err := wikiGet(ctx, deps, buildWikiSearchURL(wikiBaseURL, query, limit))
	if err != nil {
		return fmt.Sprintf("Wiki 搜索失败: %v", err)
	}
	return truncateChars(body, fetchMaxChars)
}

func wikiPage(ctx context.Context, deps Dependencies, pageName string) string {
	body, err := wikiGet(ctx, deps, buildWikiPageURL(wikiBaseURL, pageName))
	if err != nil {
		return fmt.Sprintf("Wiki 页面获取失败: %v", err)
	}
	return truncateChars(body, fetchMaxChars)
}

func wikiGet(ctx context.Context, deps Dependencies, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := deps.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
