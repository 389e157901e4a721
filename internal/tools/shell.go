package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/0x7f/microclaw/internal/providers"
)

const (
	defaultExecTimeout = 120 * time.Second
	maxExecOutputBytes = 30 * 1024
)

// ShellExecTool runs a command in the tool's resolved working directory (4.B.2).
type ShellExecTool struct {
	baseDir string
	policy  IsolationPolicy
}

func NewShellExecTool(baseDir string, policy IsolationPolicy) *ShellExecTool {
	return &ShellExecTool{baseDir: baseDir, policy: policy}
}

func (t *ShellExecTool) Name() string { return "shell_exec" }

func (t *ShellExecTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "shell_exec",
		Description: "Run a shell command in the caller's working directory and return its output.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command":      map[string]interface{}{"type": "string"},
				"timeout_secs": map[string]interface{}{"type": "integer"},
			},
			"required": []string{"command"},
		},
	}
}

func (t *ShellExecTool) Risk() RiskLevel               { return RiskHigh }
func (t *ShellExecTool) ExecutionPolicy() ExecutionPolicy { return ExecDual }

type shellExecInput struct {
	Command     string `json:"command"`
	TimeoutSecs int    `json:"timeout_secs"`
}

func (t *ShellExecTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in shellExecInput
	if err := json.Unmarshal(input, &in); err != nil || in.Command == "" {
		return Err("command is required")
	}

	timeout := defaultExecTimeout
	if in.TimeoutSecs > 0 {
		timeout = time.Duration(in.TimeoutSecs) * time.Second
	}

	cwd, err := ResolveWorkingDir(t.baseDir, t.policy, auth.CallerChannel, auth.CallerChatID)
	if err != nil {
		return Err(err.Error())
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", in.Command)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start).Milliseconds()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + stderr.String()
	}
	if len(output) > maxExecOutputBytes {
		output = output[:maxExecOutputBytes] + "\n[output truncated]"
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return &Result{Content: fmt.Sprintf("command timed out after %s", timeout), IsError: true, DurationMS: duration}
	}
	if runErr != nil {
		exitCode := 1
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		if output == "" {
			output = runErr.Error()
		}
		return &Result{Content: output, IsError: true, StatusCode: exitCode, DurationMS: duration}
	}
	if output == "" {
		output = "(command completed with no output)"
	}
	return &Result{Content: output, StatusCode: 0, DurationMS: duration, Bytes: len(output)}
}
