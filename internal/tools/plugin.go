package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0x7f/microclaw/internal/providers"
)

// pluginManifest is one plugin tool's YAML definition.
type pluginManifest struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Risk        string                 `yaml:"risk"`
	InputSchema map[string]interface{} `yaml:"input_schema"`
	Run         struct {
		Command string `yaml:"command"`
		Timeout int    `yaml:"timeout_secs"`
	} `yaml:"run"`
}

// LoadPluginTools reads every *.yaml, *.yml or *.json manifest under dir and returns
// the tools they define.
func LoadPluginTools(dir string) ([]Tool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load plugin tools: %w", err)
	}
	var out []Tool
	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml") && !strings.HasSuffix(e.Name(), ".json")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("load plugin tool %s: %w", e.Name(), err)
		}
		var m pluginManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse plugin tool %s: %w", e.Name(), err)
		}
		if m.Name == "" || m.Run.Command == "" {
			return nil, fmt.Errorf("plugin tool %s: name and run.command are required", e.Name())
		}
		out = append(out, &PluginTool{manifest: m})
	}
	return out, nil
}

// PluginTool runs a templated shell command defined by a YAML manifest.
type PluginTool struct{ manifest pluginManifest }

func (t *PluginTool) Name() string { return t.manifest.Name }
func (t *PluginTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        t.manifest.Name,
		Description: t.manifest.Description,
		InputSchema: t.manifest.InputSchema,
	}
}
func (t *PluginTool) Risk() RiskLevel {
	switch t.manifest.Risk {
	case "high":
		return RiskHigh
	case "medium":
		return RiskMedium
	default:
		return RiskLow
	}
}
func (t *PluginTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

var templateVarPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

func (t *PluginTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var fields map[string]interface{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &fields); err != nil {
			return Err("invalid input")
		}
	}
	vars := map[string]string{
		"channel": auth.CallerChannel,
		"chat_id": auth.CallerChatID,
	}
	for k, v := range fields {
		vars[k] = fmt.Sprintf("%v", v)
	}

	var missing string
	command := templateVarPattern.ReplaceAllStringFunc(t.manifest.Run.Command, func(match string) string {
		name := templateVarPattern.FindStringSubmatch(match)[1]
		val, ok := vars[name]
		if !ok {
			missing = name
			return match
		}
		return shellQuote(val)
	})
	if missing != "" {
		return ErrTyped(fmt.Sprintf("missing template variable %q", missing), ErrorTypePluginTemplate)
	}

	timeout := defaultExecTimeout
	if t.manifest.Run.Timeout > 0 {
		timeout = time.Duration(t.manifest.Run.Timeout) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += stderr.String()
	}
	if runErr != nil {
		return Err(output)
	}
	return Ok(output)
}

// shellQuote single-quotes s for safe interpolation into a sh -c command,
// escaping embedded single quotes per POSIX shell convention.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
