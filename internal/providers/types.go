// Package providers implements the LLM provider abstraction: one message/response
// vocabulary shared by the native message-block protocol and the OpenAI-compatible
// chat-completions protocol, with translation between the two.
package providers

import (
	"context"
	"encoding/json"
)

// Provider is the interface both concrete LLM backends implement.
type Provider interface {
	SendMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	SendMessageStream(ctx context.Context, req ChatRequest, onTextDelta func(string)) (*ChatResponse, error)
	Name() string
	DefaultModel() string
}

// ChatRequest is the input to one provider turn.
type ChatRequest struct {
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	Model     string
	MaxTokens int
}

// ToolDefinition describes one tool's name/description/input schema to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Block type tags for ContentBlock.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ImageSource is the payload of an Image content block.
type ImageSource struct {
	Kind      string `json:"kind"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ContentBlock is the discriminated union of message content: Text, Image, ToolUse,
// or ToolResult. Exactly the fields relevant to Type are populated.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Image *ImageSource `json:"image,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	IsError bool `json:"is_error,omitempty"`
}

// TextBlock builds a Text content block.
func TextBlock(text string) ContentBlock { return ContentBlock{Type: BlockText, Text: text} }

// ImageBlock builds an Image content block.
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, Image: &ImageSource{Kind: "base64", MediaType: mediaType, Data: data}}
}

// ToolUseBlock builds a ToolUse content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// ToolResultBlock builds a ToolResult content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Text: content, IsError: isError}
}

// Message is one turn of the agent-visible trace: role plus either flat Text or a
// sequence of content Blocks. Exactly one of Text/Blocks is meaningful at a time;
// HasBlocks reports which.
type Message struct {
	Role   string         `json:"role"` // "user" | "assistant"
	Text   string         `json:"text,omitempty"`
	Blocks []ContentBlock `json:"blocks,omitempty"`
}

// HasBlocks reports whether this message carries block content rather than flat text.
func (m Message) HasBlocks() bool { return len(m.Blocks) > 0 }

// UserText builds a flat-text user message.
func UserText(text string) Message { return Message{Role: "user", Text: text} }

// AssistantText builds a flat-text assistant message.
func AssistantText(text string) Message { return Message{Role: "assistant", Text: text} }

// UserBlocks builds a user message carrying content blocks.
func UserBlocks(blocks ...ContentBlock) Message { return Message{Role: "user", Blocks: blocks} }

// AssistantBlocks builds an assistant message carrying content blocks.
func AssistantBlocks(blocks ...ContentBlock) Message {
	return Message{Role: "assistant", Blocks: blocks}
}

// Stop reasons for ChatResponse.
const (
	StopEndTurn   = "end_turn"
	StopMaxTokens = "max_tokens"
	StopToolUse   = "tool_use"
)

// ResponseContentBlock is one block of a normalized provider response: Text or ToolUse.
type ResponseContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// Usage tracks token consumption for one provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse is the normalized response shape both providers produce.
type ChatResponse struct {
	Content    []ResponseContentBlock `json:"content"`
	StopReason string                 `json:"stop_reason"`
	Usage      *Usage                 `json:"usage,omitempty"`
}

// TextOnly concatenates all Text blocks of the response content, in order.
func (r *ChatResponse) TextOnly() string {
	var out string
	for _, b := range r.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns all ToolUse blocks of the response content, in order.
func (r *ChatResponse) ToolUses() []ResponseContentBlock {
	var out []ResponseContentBlock
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}
