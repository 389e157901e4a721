package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/0x7f/microclaw/internal/providers"
	"github.com/0x7f/microclaw/internal/store"
)

// ExportChatTool dumps all messages for a chat into a Markdown file under baseDir.
type ExportChatTool struct {
	store   store.Facade
	baseDir string
}

func NewExportChatTool(s store.Facade, baseDir string) *ExportChatTool {
	return &ExportChatTool{store: s, baseDir: baseDir}
}

func (t *ExportChatTool) Name() string { return "export_chat" }
func (t *ExportChatTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "export_chat",
		Description: "Export all messages for a chat into a Markdown file.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"chat_id": map[string]interface{}{"type": "string"}},
			"required":   []string{"chat_id"},
		},
	}
}
func (t *ExportChatTool) Risk() RiskLevel                  { return RiskLow }
func (t *ExportChatTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

func (t *ExportChatTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in scheduleChatInput
	if err := json.Unmarshal(input, &in); err != nil || in.ChatID == "" {
		return Err("chat_id is required")
	}
	if !auth.CanTarget(in.ChatID) {
		return Denied(fmt.Sprintf("not permitted to export chat %q", in.ChatID))
	}
	chatID, err := parseChatID(in.ChatID)
	if err != nil {
		return Err(err.Error())
	}
	messages, err := t.store.GetAllMessages(ctx, chatID)
	if err != nil {
		return Err(fmt.Sprintf("export_chat: %v", err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Chat export %d\n\n", chatID)
	for _, m := range messages {
		sender := m.SenderName
		if m.IsFromBot {
			sender = "assistant"
		}
		fmt.Fprintf(&b, "**%s** (%s):\n%s\n\n", sender, m.Timestamp.Format(time.RFC3339), m.Content)
	}

	if err := os.MkdirAll(t.baseDir, 0o755); err != nil {
		return Err(fmt.Sprintf("export_chat: %v", err))
	}
	path := filepath.Join(t.baseDir, fmt.Sprintf("chat_%d_export.md", chatID))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return Err(fmt.Sprintf("export_chat: %v", err))
	}
	return Ok(fmt.Sprintf("exported %d messages to %s", len(messages), path))
}
