package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/0x7f/microclaw/internal/providers"
	"github.com/0x7f/microclaw/internal/store"
)

// TodoReadTool returns the current TodoList for a chat.
type TodoReadTool struct{ store store.Facade }

func NewTodoReadTool(s store.Facade) *TodoReadTool { return &TodoReadTool{store: s} }

func (t *TodoReadTool) Name() string { return "todo_read" }
func (t *TodoReadTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "todo_read",
		Description: "Read the todo list for a chat.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"chat_id": map[string]interface{}{"type": "string"}},
			"required":   []string{"chat_id"},
		},
	}
}
func (t *TodoReadTool) Risk() RiskLevel                  { return RiskLow }
func (t *TodoReadTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

func (t *TodoReadTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in scheduleChatInput
	if err := json.Unmarshal(input, &in); err != nil || in.ChatID == "" {
		return Err("chat_id is required")
	}
	if !auth.CanTarget(in.ChatID) {
		return Denied(fmt.Sprintf("not permitted to read todos for chat %q", in.ChatID))
	}
	chatID, err := parseChatID(in.ChatID)
	if err != nil {
		return Err(err.Error())
	}
	items, err := t.store.GetTodoList(ctx, chatID)
	if err != nil {
		return Err(fmt.Sprintf("todo_read: %v", err))
	}
	if len(items) == 0 {
		return Ok("todo list is empty")
	}
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "[%s] %s\n", item.Status, item.Text)
	}
	return Ok(strings.TrimSpace(b.String()))
}

// TodoWriteTool replaces the TodoList for a chat.
type TodoWriteTool struct{ store store.Facade }

func NewTodoWriteTool(s store.Facade) *TodoWriteTool { return &TodoWriteTool{store: s} }

func (t *TodoWriteTool) Name() string { return "todo_write" }
func (t *TodoWriteTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "todo_write",
		Description: "Replace the todo list for a chat.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"chat_id": map[string]interface{}{"type": "string"},
				"items": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"text":   map[string]interface{}{"type": "string"},
							"status": map[string]interface{}{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
						},
					},
				},
			},
			"required": []string{"chat_id", "items"},
		},
	}
}
func (t *TodoWriteTool) Risk() RiskLevel                  { return RiskLow }
func (t *TodoWriteTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type todoWriteInput struct {
	ChatID string           `json:"chat_id"`
	Items  []store.TodoItem `json:"items"`
}

func (t *TodoWriteTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in todoWriteInput
	if err := json.Unmarshal(input, &in); err != nil || in.ChatID == "" {
		return Err("chat_id is required")
	}
	if !auth.CanTarget(in.ChatID) {
		return Denied(fmt.Sprintf("not permitted to write todos for chat %q", in.ChatID))
	}
	chatID, err := parseChatID(in.ChatID)
	if err != nil {
		return Err(err.Error())
	}
	if err := t.store.SaveTodoList(ctx, chatID, in.Items); err != nil {
		return Err(fmt.Sprintf("todo_write: %v", err))
	}
	return Ok(fmt.Sprintf("saved %d todo items", len(in.Items)))
}
