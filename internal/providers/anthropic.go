package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultNativeModel  = "claude-sonnet-4-5-20250929"
	nativeAPIBase       = "https://api.anthropic.com/v1"
	nativeAPIVersion    = "2023-06-01"
	defaultNativeTokens = 8192
)

// NativeProvider implements Provider against the native message-block API
// (one top-level system string, max_tokens, tool definitions with input schemas).
type NativeProvider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

// NativeOption configures a NativeProvider at construction.
type NativeOption func(*NativeProvider)

// WithNativeModel overrides the default model.
func WithNativeModel(model string) NativeOption {
	return func(p *NativeProvider) { p.defaultModel = model }
}

// WithNativeBaseURL overrides the API base URL (e.g. for a compatible proxy).
func WithNativeBaseURL(baseURL string) NativeOption {
	return func(p *NativeProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// NewNativeProvider builds a NativeProvider authenticated with apiKey.
func NewNativeProvider(apiKey string, opts ...NativeOption) *NativeProvider {
	p := &NativeProvider{
		apiKey:       apiKey,
		baseURL:      nativeAPIBase,
		defaultModel: defaultNativeModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *NativeProvider) Name() string        { return "native" }
func (p *NativeProvider) DefaultModel() string { return p.defaultModel }

type nativeContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *nativeSource   `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type nativeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type nativeMessage struct {
	Role    string               `json:"role"`
	Content []nativeContentBlock `json:"content"`
}

type nativeTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

type nativeRequestBody struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []nativeMessage `json:"messages"`
	Tools     []nativeTool    `json:"tools,omitempty"`
}

type nativeResponse struct {
	Content    []nativeContentBlock `json:"content"`
	StopReason string               `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type nativeErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// toNativeMessage converts our ContentBlock union to the native wire shape. A message
// with only flat Text is represented as a single text block.
func toNativeMessage(m Message) nativeMessage {
	if !m.HasBlocks() {
		return nativeMessage{Role: m.Role, Content: []nativeContentBlock{{Type: BlockText, Text: m.Text}}}
	}
	var out []nativeContentBlock
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			out = append(out, nativeContentBlock{Type: BlockText, Text: b.Text})
		case BlockImage:
			out = append(out, nativeContentBlock{Type: BlockImage, Source: &nativeSource{Type: "base64", MediaType: b.Image.MediaType, Data: b.Image.Data}})
		case BlockToolUse:
			out = append(out, nativeContentBlock{Type: BlockToolUse, ID: b.ToolUseID, Name: b.ToolName, Input: b.ToolInput})
		case BlockToolResult:
			out = append(out, nativeContentBlock{Type: BlockToolResult, ToolUseID: b.ToolUseID, Content: b.Text, IsError: b.IsError})
		}
	}
	return nativeMessage{Role: m.Role, Content: out}
}

func (p *NativeProvider) buildRequestBody(model string, req ChatRequest) nativeRequestBody {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultNativeTokens
	}
	body := nativeRequestBody{Model: model, MaxTokens: maxTokens, System: req.System}
	// The native API requires the first and last messages to be user turns.
	msgs := req.Messages
	for len(msgs) > 0 && msgs[0].Role != "user" {
		msgs = msgs[1:]
	}
	for len(msgs) > 0 && msgs[len(msgs)-1].Role != "user" {
		msgs = msgs[:len(msgs)-1]
	}
	for _, m := range msgs {
		body.Messages = append(body.Messages, toNativeMessage(m))
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, nativeTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return body
}

func (p *NativeProvider) parseResponse(resp *nativeResponse) *ChatResponse {
	out := &ChatResponse{StopReason: mapNativeStopReason(resp.StopReason)}
	for _, b := range resp.Content {
		switch b.Type {
		case BlockText:
			out.Content = append(out.Content, ResponseContentBlock{Type: BlockText, Text: b.Text})
		case BlockToolUse:
			out.Content = append(out.Content, ResponseContentBlock{Type: BlockToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: b.Input})
		}
	}
	out.Usage = &Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
	return out
}

func mapNativeStopReason(reason string) string {
	switch reason {
	case StopEndTurn, StopMaxTokens, StopToolUse:
		return reason
	default:
		return StopEndTurn
	}
}

func (p *NativeProvider) doRequest(ctx context.Context, body nativeRequestBody) (io.ReadCloser, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("native: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("native: build request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", nativeAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("native: request failed: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		defer resp.Body.Close()
		return nil, &RateLimitedError{Status: resp.StatusCode, Err: fmt.Errorf("native: rate limited")}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		var errBody nativeErrorBody
		if json.Unmarshal(raw, &errBody) == nil && errBody.Error.Message != "" {
			return nil, fmt.Errorf("native: %s: %s", errBody.Error.Type, errBody.Error.Message)
		}
		return nil, fmt.Errorf("native: status %d: %s", resp.StatusCode, string(raw))
	}
	return resp.Body, nil
}

func (p *NativeProvider) SendMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildRequestBody(model, req)
	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()
		var resp nativeResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("native: decode response: %w", err)
		}
		return p.parseResponse(&resp), nil
	})
}

// SendMessageStream accumulates the full text locally (the native provider's SSE
// event stream is not implemented here) and emits it as one delta, per spec.md
// §4.C.3's "MAY accumulate and emit the full text as one delta" allowance.
func (p *NativeProvider) SendMessageStream(ctx context.Context, req ChatRequest, onTextDelta func(string)) (*ChatResponse, error) {
	resp, err := p.SendMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	if onTextDelta != nil {
		if text := resp.TextOnly(); text != "" {
			onTextDelta(text)
		}
	}
	return resp, nil
}
