package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAICompatModel = "gpt-4o-mini"
	openAICompatTokens       = 8192
)

// OpenAICompatProvider implements Provider against any OpenAI chat-completions
// compatible endpoint (OpenAI itself, or a DashScope-compatible / local endpoint
// configured with a different base URL).
type OpenAICompatProvider struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

// OpenAICompatOption configures an OpenAICompatProvider at construction.
type OpenAICompatOption func(*OpenAICompatProvider)

func WithCompatModel(model string) OpenAICompatOption {
	return func(p *OpenAICompatProvider) { p.defaultModel = model }
}

func WithCompatName(name string) OpenAICompatOption {
	return func(p *OpenAICompatProvider) { p.name = name }
}

// NewOpenAICompatProvider builds a provider against baseURL (e.g.
// "https://api.openai.com/v1" or a DashScope-compatible endpoint).
func NewOpenAICompatProvider(apiKey, baseURL string, opts ...OpenAICompatOption) *OpenAICompatProvider {
	p := &OpenAICompatProvider{
		name:         "openai",
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultOpenAICompatModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *OpenAICompatProvider) Name() string        { return p.name }
func (p *OpenAICompatProvider) DefaultModel() string { return p.defaultModel }

type oaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function oaiFunctionCall `json:"function"`
}

// oaiContentPart is one element of a multi-part user message ({type: text} or
// {type: image_url}).
type oaiContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *oaiImageURL  `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

// oaiMessage's Content is either a plain string or an []oaiContentPart, so it is
// carried as json.RawMessage and built per-branch by the translation helpers below.
type oaiMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []oaiToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type oaiFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type oaiTool struct {
	Type     string            `json:"type"`
	Function oaiFunctionSchema `json:"function"`
}

type oaiRequestBody struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
	Tools    []oaiTool    `json:"tools,omitempty"`
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// toOpenAIMessages implements the ingest direction of spec.md §4.C.2: our messages
// to chat-completions. One input Message may expand into zero, one, or many wire
// messages (tool results fan out one wire message per ToolResult block).
func toOpenAIMessages(system string, msgs []Message) []oaiMessage {
	var out []oaiMessage
	if strings.TrimSpace(system) != "" {
		out = append(out, oaiMessage{Role: "system", Content: jsonString(system)})
	}
	for _, m := range msgs {
		out = append(out, translateOneMessage(m)...)
	}
	return out
}

func translateOneMessage(m Message) []oaiMessage {
	if !m.HasBlocks() {
		return []oaiMessage{{Role: m.Role, Content: jsonString(m.Text)}}
	}

	if m.Role == "assistant" {
		var text strings.Builder
		var calls []oaiToolCall
		for _, b := range m.Blocks {
			switch b.Type {
			case BlockText:
				text.WriteString(b.Text)
			case BlockToolUse:
				input := b.ToolInput
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				calls = append(calls, oaiToolCall{
					ID:   b.ToolUseID,
					Type: "function",
					Function: oaiFunctionCall{
						Name:      b.ToolName,
						Arguments: string(input),
					},
				})
			}
		}
		return []oaiMessage{{Role: "assistant", Content: jsonString(text.String()), ToolCalls: calls}}
	}

	// role == user
	var toolResults []ContentBlock
	var images []ContentBlock
	var texts []string
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockToolResult:
			toolResults = append(toolResults, b)
		case BlockImage:
			images = append(images, b)
		case BlockText:
			texts = append(texts, b.Text)
		}
	}

	if len(toolResults) > 0 {
		var out []oaiMessage
		for _, tr := range toolResults {
			content := tr.Text
			if tr.IsError {
				content = "[Error] " + content
			}
			out = append(out, oaiMessage{Role: "tool", Content: jsonString(content), ToolCallID: tr.ToolUseID})
		}
		return out
	}

	if len(images) > 0 {
		var parts []oaiContentPart
		for _, t := range texts {
			parts = append(parts, oaiContentPart{Type: "text", Text: t})
		}
		for _, img := range images {
			url := fmt.Sprintf("data:%s;base64,%s", img.Image.MediaType, img.Image.Data)
			parts = append(parts, oaiContentPart{Type: "image_url", ImageURL: &oaiImageURL{URL: url}})
		}
		b, _ := json.Marshal(parts)
		return []oaiMessage{{Role: "user", Content: b}}
	}

	return []oaiMessage{{Role: "user", Content: jsonString(strings.Join(texts, "\n"))}}
}

type oaiResponseMessage struct {
	Content   string        `json:"content"`
	ToolCalls []oaiToolCall `json:"tool_calls,omitempty"`
}

type oaiResponse struct {
	Choices []struct {
		Message      oaiResponseMessage `json:"message"`
		FinishReason string             `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// fromOpenAIResponse implements the egress direction of spec.md §4.C.2.
func fromOpenAIResponse(resp *oaiResponse) *ChatResponse {
	out := &ChatResponse{Usage: &Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}}
	if len(resp.Choices) == 0 {
		out.Content = []ResponseContentBlock{{Type: BlockText, Text: "(empty response)"}}
		out.StopReason = StopEndTurn
		return out
	}
	choice := resp.Choices[0]
	if choice.Message.Content != "" {
		out.Content = append(out.Content, ResponseContentBlock{Type: BlockText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		var input json.RawMessage
		if json.Valid([]byte(tc.Function.Arguments)) {
			input = json.RawMessage(tc.Function.Arguments)
		} else {
			input = json.RawMessage("{}")
		}
		out.Content = append(out.Content, ResponseContentBlock{Type: BlockToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name, ToolInput: input})
	}
	switch choice.FinishReason {
	case "tool_calls":
		out.StopReason = StopToolUse
	case "length":
		out.StopReason = StopMaxTokens
	default:
		out.StopReason = StopEndTurn
	}
	return out
}

func (p *OpenAICompatProvider) buildRequestBody(model string, req ChatRequest) oaiRequestBody {
	body := oaiRequestBody{Model: model, Messages: toOpenAIMessages(req.System, req.Messages)}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, oaiTool{Type: "function", Function: oaiFunctionSchema{Name: t.Name, Description: t.Description, Parameters: t.InputSchema}})
	}
	return body
}

func (p *OpenAICompatProvider) doRequest(ctx context.Context, body oaiRequestBody) (io.ReadCloser, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai-compat: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("openai-compat: build request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai-compat: request failed: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		defer resp.Body.Close()
		return nil, &RateLimitedError{Status: resp.StatusCode, Err: fmt.Errorf("openai-compat: rate limited")}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai-compat: status %d: %s", resp.StatusCode, string(raw))
	}
	return resp.Body, nil
}

func (p *OpenAICompatProvider) SendMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
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
		var resp oaiResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("openai-compat: decode response: %w", err)
		}
		return fromOpenAIResponse(&resp), nil
	})
}

// SendMessageStream accumulates and emits the full text as one delta; see
// spec.md §4.C.3.
func (p *OpenAICompatProvider) SendMessageStream(ctx context.Context, req ChatRequest, onTextDelta func(string)) (*ChatResponse, error) {
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

// base64EncodeImage encodes raw image bytes as standard base64, the form an
// image block's Data carries in a provider request.
func base64EncodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
