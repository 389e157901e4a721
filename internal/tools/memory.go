package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/0x7f/microclaw/internal/providers"
)

const memoryFileName = "MEMORY.md"

// MemoryReadTool reads the shared or per-chat memory file.
type MemoryReadTool struct{ baseDir string }

func NewMemoryReadTool(baseDir string) *MemoryReadTool { return &MemoryReadTool{baseDir: baseDir} }

func (t *MemoryReadTool) Name() string { return "memory_read" }
func (t *MemoryReadTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "memory_read",
		Description: "Read the global or per-chat memory file.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"scope":   map[string]interface{}{"type": "string", "enum": []string{"global", "chat"}},
				"chat_id": map[string]interface{}{"type": "string"},
			},
			"required": []string{"scope"},
		},
	}
}
func (t *MemoryReadTool) Risk() RiskLevel                  { return RiskLow }
func (t *MemoryReadTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type memoryInput struct {
	Scope  string `json:"scope"`
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func memoryPath(baseDir, scope, chatID string) (string, error) {
	switch scope {
	case "global":
		return filepath.Join(baseDir, memoryFileName), nil
	case "chat":
		if chatID == "" {
			return "", fmt.Errorf("memory: chat scope requires chat_id")
		}
		return filepath.Join(baseDir, sanitizeSegment(chatID), memoryFileName), nil
	default:
		return "", fmt.Errorf("memory: scope must be global or chat")
	}
}

func (t *MemoryReadTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in memoryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Err("invalid input")
	}
	path, err := memoryPath(t.baseDir, in.Scope, in.ChatID)
	if err != nil {
		return Err(err.Error())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Ok("")
		}
		return Err(fmt.Sprintf("memory_read: %v", err))
	}
	return Ok(string(data))
}

// MemoryWriteTool appends to the shared or per-chat memory file.
type MemoryWriteTool struct{ baseDir string }

func NewMemoryWriteTool(baseDir string) *MemoryWriteTool { return &MemoryWriteTool{baseDir: baseDir} }

func (t *MemoryWriteTool) Name() string { return "memory_write" }
func (t *MemoryWriteTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "memory_write",
		Description: "Append text to the global or per-chat memory file.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"scope":   map[string]interface{}{"type": "string", "enum": []string{"global", "chat"}},
				"chat_id": map[string]interface{}{"type": "string"},
				"text":    map[string]interface{}{"type": "string"},
			},
			"required": []string{"scope", "text"},
		},
	}
}
func (t *MemoryWriteTool) Risk() RiskLevel                  { return RiskMedium }
func (t *MemoryWriteTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

func (t *MemoryWriteTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in memoryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Err("invalid input")
	}
	path, err := memoryPath(t.baseDir, in.Scope, in.ChatID)
	if err != nil {
		return Err(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Err(fmt.Sprintf("memory_write: %v", err))
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Err(fmt.Sprintf("memory_write: %v", err))
	}
	defer f.Close()
	if _, err := f.WriteString(in.Text + "\n"); err != nil {
		return Err(fmt.Sprintf("memory_write: %v", err))
	}
	return Ok("memory updated")
}
