package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/0x7f/microclaw/internal/providers"
)

var skillNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ActivateSkillTool returns the instruction body of a named skill file.
type ActivateSkillTool struct{ skillsDir string }

func NewActivateSkillTool(skillsDir string) *ActivateSkillTool {
	return &ActivateSkillTool{skillsDir: skillsDir}
}

func (t *ActivateSkillTool) Name() string { return "activate_skill" }
func (t *ActivateSkillTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "activate_skill",
		Description: "Load the instruction body of a named skill.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"name": map[string]interface{}{"type": "string"}},
			"required":   []string{"name"},
		},
	}
}
func (t *ActivateSkillTool) Risk() RiskLevel                  { return RiskLow }
func (t *ActivateSkillTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type activateSkillInput struct {
	Name string `json:"name"`
}

func (t *ActivateSkillTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in activateSkillInput
	if err := json.Unmarshal(input, &in); err != nil || in.Name == "" {
		return Err("name is required")
	}
	if !skillNamePattern.MatchString(in.Name) {
		return Err("invalid skill name")
	}
	path := filepath.Join(t.skillsDir, in.Name+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		return Err(fmt.Sprintf("activate_skill: %v", err))
	}
	return Ok(string(data))
}
