package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/0x7f/microclaw/internal/providers"
)

const webSearchTimeout = 15 * time.Second

// WebSearchTool runs a free-text query against DuckDuckGo's HTML results page,
// which requires no API key.
type WebSearchTool struct{ client *http.Client }

func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{client: &http.Client{Timeout: webSearchTimeout}}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "web_search",
		Description: "Search the public web and return title, URL, and snippet per hit.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
			"required":   []string{"query"},
		},
	}
}
func (t *WebSearchTool) Risk() RiskLevel                  { return RiskLow }
func (t *WebSearchTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type webSearchInput struct {
	Query string `json:"query"`
}

type webSearchHit struct {
	Title   string
	URL     string
	Snippet string
}

func (t *WebSearchTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in webSearchInput
	if err := json.Unmarshal(input, &in); err != nil || in.Query == "" {
		return Err("query is required")
	}
	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(in.Query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Err(fmt.Sprintf("web_search: %v", err))
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; microclaw/1.0)")
	resp, err := t.client.Do(req)
	if err != nil {
		return Err(fmt.Sprintf("web_search: %v", err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Err(fmt.Sprintf("web_search: %v", err))
	}

	hits := parseDuckDuckGoResults(string(body))
	if len(hits) == 0 {
		return Ok("no results")
	}
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "%s\n%s\n%s\n\n", h.Title, h.URL, h.Snippet)
	}
	return Ok(strings.TrimSpace(b.String()))
}

func parseDuckDuckGoResults(doc string) []webSearchHit {
	node, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}
	var hits []webSearchHit
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			hits = append(hits, webSearchHit{Title: textContent(n), URL: attr(n, "href")})
		}
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__snippet") && len(hits) > 0 {
			hits[len(hits)-1].Snippet = textContent(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return hits
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" && strings.Contains(a.Val, class) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
