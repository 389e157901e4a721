package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/0x7f/microclaw/internal/providers"
)

const (
	webFetchTimeout  = 20 * time.Second
	webFetchMaxBytes = 20 * 1024
)

// WebFetchTool GETs a URL and returns its text content with scripts/styles stripped.
type WebFetchTool struct{ client *http.Client }

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{client: &http.Client{Timeout: webFetchTimeout}}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "web_fetch",
		Description: "Fetch a URL and return its readable text content.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"url": map[string]interface{}{"type": "string"}},
			"required":   []string{"url"},
		},
	}
}
func (t *WebFetchTool) Risk() RiskLevel                  { return RiskLow }
func (t *WebFetchTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type webFetchInput struct {
	URL string `json:"url"`
}

func (t *WebFetchTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in webFetchInput
	if err := json.Unmarshal(input, &in); err != nil || in.URL == "" {
		return Err("url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return Err(fmt.Sprintf("web_fetch: %v", err))
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Err(fmt.Sprintf("web_fetch: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &Result{Content: fmt.Sprintf("web_fetch: status %d", resp.StatusCode), IsError: true, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*webFetchMaxBytes))
	if err != nil {
		return Err(fmt.Sprintf("web_fetch: %v", err))
	}
	text := stripHTML(string(body))
	if len(text) > webFetchMaxBytes {
		text = text[:webFetchMaxBytes] + "\n[truncated]"
	}
	return Ok(text)
}

// stripHTML parses doc and returns the visible text, dropping script and style content.
func stripHTML(doc string) string {
	node, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return doc
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				b.WriteString(text)
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return b.String()
}
