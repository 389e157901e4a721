package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/0x7f/microclaw/internal/providers"
)

// MessageSender delivers a message to a chat through the channel layer (4.D).
// chatID is the caller-facing chat identifier (matches AuthContext.CallerChatID's space).
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, text, attachmentPath, caption string) error
}

// SendMessageTool delivers {chat_id, text?, attachment_path?, caption?} through the
// channel layer, permission-checked against the caller's control-chat scope (4.B.3).
type SendMessageTool struct{ sender MessageSender }

func NewSendMessageTool(sender MessageSender) *SendMessageTool {
	return &SendMessageTool{sender: sender}
}

func (t *SendMessageTool) Name() string { return "send_message" }
func (t *SendMessageTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "send_message",
		Description: "Send a message (text and/or attachment) to a chat.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"chat_id":         map[string]interface{}{"type": "string"},
				"text":            map[string]interface{}{"type": "string"},
				"attachment_path": map[string]interface{}{"type": "string"},
				"caption":         map[string]interface{}{"type": "string"},
			},
			"required": []string{"chat_id"},
		},
	}
}
func (t *SendMessageTool) Risk() RiskLevel                  { return RiskMedium }
func (t *SendMessageTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type sendMessageInput struct {
	ChatID         string `json:"chat_id"`
	Text           string `json:"text"`
	AttachmentPath string `json:"attachment_path"`
	Caption        string `json:"caption"`
}

func (t *SendMessageTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in sendMessageInput
	if err := json.Unmarshal(input, &in); err != nil || in.ChatID == "" {
		return Err("chat_id is required")
	}
	if in.Text == "" && in.AttachmentPath == "" {
		return Err("text or attachment_path is required")
	}
	if !auth.CanTarget(in.ChatID) {
		return Denied(fmt.Sprintf("not permitted to send to chat %q", in.ChatID))
	}
	if err := t.sender.SendMessage(ctx, in.ChatID, in.Text, in.AttachmentPath, in.Caption); err != nil {
		return Err(fmt.Sprintf("send_message: %v", err))
	}
	return Ok("message sent")
}
