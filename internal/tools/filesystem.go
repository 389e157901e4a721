package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/0x7f/microclaw/internal/providers"
)

const (
	maxGlobResults = 500
	maxGrepMatches = 500
	maxGrepFiles   = 10000
)

var grepSkipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	"target":       true,
}

// ReadFileTool returns file content annotated with 1-based line numbers.
type ReadFileTool struct {
	baseDir string
	policy  IsolationPolicy
}

func NewReadFileTool(baseDir string, policy IsolationPolicy) *ReadFileTool {
	return &ReadFileTool{baseDir: baseDir, policy: policy}
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file's content with 1-based line numbers.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path":   map[string]interface{}{"type": "string"},
				"offset": map[string]interface{}{"type": "integer"},
				"limit":  map[string]interface{}{"type": "integer"},
			},
			"required": []string{"path"},
		},
	}
}
func (t *ReadFileTool) Risk() RiskLevel                  { return RiskLow }
func (t *ReadFileTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type readFileInput struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func (t *ReadFileTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in readFileInput
	if err := json.Unmarshal(input, &in); err != nil || in.Path == "" {
		return Err("path is required")
	}
	cwd, err := ResolveWorkingDir(t.baseDir, t.policy, auth.CallerChannel, auth.CallerChatID)
	if err != nil {
		return Err(err.Error())
	}
	resolved, err := ResolvePath(cwd, in.Path)
	if err != nil {
		return Err(err.Error())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Err(fmt.Sprintf("read_file: %v", err))
	}

	lines := strings.Split(string(data), "\n")
	start := 0
	if in.Offset > 1 {
		start = in.Offset - 1
	}
	end := len(lines)
	if in.Limit > 0 && start+in.Limit < end {
		end = start + in.Limit
	}
	if start > len(lines) {
		start = len(lines)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return Ok(b.String())
}

// WriteFileTool creates parent directories and overwrites atomically.
type WriteFileTool struct {
	baseDir string
	policy  IsolationPolicy
}

func NewWriteFileTool(baseDir string, policy IsolationPolicy) *WriteFileTool {
	return &WriteFileTool{baseDir: baseDir, policy: policy}
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories as needed.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path":    map[string]interface{}{"type": "string"},
				"content": map[string]interface{}{"type": "string"},
			},
			"required": []string{"path", "content"},
		},
	}
}
func (t *WriteFileTool) Risk() RiskLevel                  { return RiskMedium }
func (t *WriteFileTool) ExecutionPolicy() ExecutionPolicy { return ExecDual }

type writeFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteFileTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in writeFileInput
	if err := json.Unmarshal(input, &in); err != nil || in.Path == "" {
		return Err("path is required")
	}
	cwd, err := ResolveWorkingDir(t.baseDir, t.policy, auth.CallerChannel, auth.CallerChatID)
	if err != nil {
		return Err(err.Error())
	}
	resolved, err := ResolvePath(cwd, in.Path)
	if err != nil {
		return Err(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Err(fmt.Sprintf("write_file: %v", err))
	}
	tmp := resolved + ".tmp"
	if err := os.WriteFile(tmp, []byte(in.Content), 0o644); err != nil {
		return Err(fmt.Sprintf("write_file: %v", err))
	}
	if err := os.Rename(tmp, resolved); err != nil {
		return Err(fmt.Sprintf("write_file: %v", err))
	}
	return Ok(fmt.Sprintf("wrote %d bytes to %s", len(in.Content), in.Path))
}

// EditFileTool performs a single-occurrence string replace.
type EditFileTool struct {
	baseDir string
	policy  IsolationPolicy
}

func NewEditFileTool(baseDir string, policy IsolationPolicy) *EditFileTool {
	return &EditFileTool{baseDir: baseDir, policy: policy}
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "edit_file",
		Description: "Replace a single occurrence of old_string with new_string in a file.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path":       map[string]interface{}{"type": "string"},
				"old_string": map[string]interface{}{"type": "string"},
				"new_string": map[string]interface{}{"type": "string"},
			},
			"required": []string{"path", "old_string", "new_string"},
		},
	}
}
func (t *EditFileTool) Risk() RiskLevel                  { return RiskMedium }
func (t *EditFileTool) ExecutionPolicy() ExecutionPolicy { return ExecDual }

type editFileInput struct {
	Path      string `json:"path"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

func (t *EditFileTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in editFileInput
	if err := json.Unmarshal(input, &in); err != nil || in.Path == "" {
		return Err("path is required")
	}
	cwd, err := ResolveWorkingDir(t.baseDir, t.policy, auth.CallerChannel, auth.CallerChatID)
	if err != nil {
		return Err(err.Error())
	}
	resolved, err := ResolvePath(cwd, in.Path)
	if err != nil {
		return Err(err.Error())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Err(fmt.Sprintf("edit_file: %v", err))
	}
	content := string(data)
	count := strings.Count(content, in.OldString)
	switch count {
	case 0:
		return Err("edit_file: old_string not found in file")
	case 1:
		// exactly one occurrence, proceed
	default:
		return Err(fmt.Sprintf("edit_file: old_string appears %d times, must be unique", count))
	}
	updated := strings.Replace(content, in.OldString, in.NewString, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return Err(fmt.Sprintf("edit_file: %v", err))
	}
	return Ok(fmt.Sprintf("edited %s", in.Path))
}

// GlobTool returns sorted absolute paths matching a glob pattern.
type GlobTool struct {
	baseDir string
	policy  IsolationPolicy
}

func NewGlobTool(baseDir string, policy IsolationPolicy) *GlobTool {
	return &GlobTool{baseDir: baseDir, policy: policy}
}

func (t *GlobTool) Name() string { return "glob" }
func (t *GlobTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "glob",
		Description: "Find files matching a glob pattern, returning sorted absolute paths.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{"type": "string"},
			},
			"required": []string{"pattern"},
		},
	}
}
func (t *GlobTool) Risk() RiskLevel                  { return RiskLow }
func (t *GlobTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type globInput struct {
	Pattern string `json:"pattern"`
}

func (t *GlobTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in globInput
	if err := json.Unmarshal(input, &in); err != nil || in.Pattern == "" {
		return Err("pattern is required")
	}
	cwd, err := ResolveWorkingDir(t.baseDir, t.policy, auth.CallerChannel, auth.CallerChatID)
	if err != nil {
		return Err(err.Error())
	}
	matches, err := filepath.Glob(filepath.Join(cwd, in.Pattern))
	if err != nil {
		return Err(fmt.Sprintf("glob: %v", err))
	}
	sort.Strings(matches)
	truncated := false
	if len(matches) > maxGlobResults {
		matches = matches[:maxGlobResults]
		truncated = true
	}
	out := strings.Join(matches, "\n")
	if truncated {
		out += "\n[truncated at 500 results]"
	}
	return Ok(out)
}

// GrepTool regex-searches file contents under the working directory.
type GrepTool struct {
	baseDir string
	policy  IsolationPolicy
}

func NewGrepTool(baseDir string, policy IsolationPolicy) *GrepTool {
	return &GrepTool{baseDir: baseDir, policy: policy}
}

func (t *GrepTool) Name() string { return "grep" }
func (t *GrepTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "grep",
		Description: "Search file contents for a regular expression.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{"type": "string"},
				"path":    map[string]interface{}{"type": "string"},
			},
			"required": []string{"pattern"},
		},
	}
}
func (t *GrepTool) Risk() RiskLevel                  { return RiskLow }
func (t *GrepTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type grepInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

func (t *GrepTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in grepInput
	if err := json.Unmarshal(input, &in); err != nil || in.Pattern == "" {
		return Err("pattern is required")
	}
	re, err := regexp.Compile(in.Pattern)
	if err != nil {
		return Err(fmt.Sprintf("grep: invalid pattern: %v", err))
	}
	cwd, err := ResolveWorkingDir(t.baseDir, t.policy, auth.CallerChannel, auth.CallerChatID)
	if err != nil {
		return Err(err.Error())
	}
	root := cwd
	if in.Path != "" {
		root, err = ResolvePath(cwd, in.Path)
		if err != nil {
			return Err(err.Error())
		}
	}

	var hits []string
	scanned := 0
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if len(hits) >= maxGrepMatches || scanned >= maxGrepFiles {
			return filepath.SkipAll
		}
		name := info.Name()
		if info.IsDir() {
			if strings.HasPrefix(name, ".") || grepSkipDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		scanned++
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if re.MatchString(scanner.Text()) {
				rel, _ := filepath.Rel(cwd, path)
				hits = append(hits, fmt.Sprintf("%s:%d: %s", rel, lineNo, scanner.Text()))
				if len(hits) >= maxGrepMatches {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return Err(fmt.Sprintf("grep: %v", err))
	}
	if len(hits) == 0 {
		return Ok("no matches")
	}
	return Ok(strings.Join(hits, "\n"))
}
