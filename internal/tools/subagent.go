package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/0x7f/microclaw/internal/providers"
)

// SubAgentRunner spawns one nested agent loop using the sub-agent registry,
// with no session persistence and a lower iteration cap (§4.G, "Sub-agent").
type SubAgentRunner interface {
	RunSubAgent(ctx context.Context, prompt string, auth AuthContext) (string, error)
}

// SubAgentTool lets the top-level loop delegate a task to a nested, restricted loop.
type SubAgentTool struct{ runner SubAgentRunner }

func NewSubAgentTool(runner SubAgentRunner) *SubAgentTool {
	return &SubAgentTool{runner: runner}
}

func (t *SubAgentTool) Name() string { return "sub_agent" }
func (t *SubAgentTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "sub_agent",
		Description: "Delegate a task to a restricted nested agent loop and return its final reply.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"prompt": map[string]interface{}{"type": "string"}},
			"required":   []string{"prompt"},
		},
	}
}
func (t *SubAgentTool) Risk() RiskLevel                  { return RiskMedium }
func (t *SubAgentTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type subAgentInput struct {
	Prompt string `json:"prompt"`
}

func (t *SubAgentTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in subAgentInput
	if err := json.Unmarshal(input, &in); err != nil || in.Prompt == "" {
		return Err("prompt is required")
	}
	reply, err := t.runner.RunSubAgent(ctx, in.Prompt, auth)
	if err != nil {
		return Err(fmt.Sprintf("sub_agent: %v", err))
	}
	return Ok(reply)
}
