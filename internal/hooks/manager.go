// Package hooks implements the lifecycle hook manager (spec.md §4.F): directory
// discovery, YAML-frontmatter manifests, and timeout-bounded subprocess execution.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Event names a lifecycle point in the agent loop.
type Event string

const (
	BeforeLLMCall  Event = "BeforeLLMCall"
	BeforeToolCall Event = "BeforeToolCall"
	AfterToolCall  Event = "AfterToolCall"
)

const (
	defaultTimeout = 30 * time.Second
	maxInputBytes  = 256 * 1024
	maxOutputBytes = 64 * 1024
)

const (
	clampMinMS = 10
	clampMaxMS = 120_000
)

// manifest is one HOOK.md's YAML frontmatter.
type manifest struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Events      []Event `yaml:"events"`
	Command     string  `yaml:"command"`
	Enabled     *bool   `yaml:"enabled"`
	TimeoutMS   int     `yaml:"timeout_ms"`
	Priority    int     `yaml:"priority"`
}

// Hook is one discovered, parsed HOOK.md.
type Hook struct {
	dir      string
	manifest manifest
}

func (h *Hook) handles(event Event) bool {
	for _, e := range h.manifest.Events {
		if e == event {
			return true
		}
	}
	return false
}

func (h *Hook) timeout() time.Duration {
	ms := h.manifest.TimeoutMS
	if ms <= 0 {
		return defaultTimeout
	}
	if ms < clampMinMS {
		ms = clampMinMS
	}
	if ms > clampMaxMS {
		ms = clampMaxMS
	}
	return time.Duration(ms) * time.Millisecond
}

// Action is the outcome a hook process reports on stdout.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionBlock  Action = "block"
	ActionModify Action = "modify"
)

// Outcome is the parsed `{action, reason?, patch?}` a hook process writes to stdout.
type Outcome struct {
	Action Action                 `json:"action"`
	Reason string                 `json:"reason,omitempty"`
	Patch  map[string]interface{} `json:"patch,omitempty"`
}

// AuditSink records non-allow outcomes and failures, actor_kind="hook".
type AuditSink interface {
	RecordHookOutcome(ctx context.Context, hookName, event, action, detail string, failed bool)
}

// Manager discovers and runs hooks for lifecycle events.
type Manager struct {
	hooks []*Hook
	audit AuditSink
}

// Discover walks dir for subdirectories containing a HOOK.md, parses the YAML
// frontmatter of each, and returns a Manager. Per-hook enabled overrides in
// stateFile (hooks_state.json, a map of hook name to bool) take precedence
// over the manifest's own Enabled field.
func Discover(dir, stateFile string, audit AuditSink) (*Manager, error) {
	overrides := loadState(stateFile)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manager{audit: audit}, nil
		}
		return nil, fmt.Errorf("hooks: discover: %w", err)
	}

	var found []*Hook
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		hookPath := filepath.Join(dir, e.Name(), "HOOK.md")
		data, err := os.ReadFile(hookPath)
		if err != nil {
			continue
		}
		m, err := parseFrontmatter(data)
		if err != nil {
			slog.Warn("hooks: failed to parse manifest", "path", hookPath, "error", err)
			continue
		}
		if m.Name == "" {
			m.Name = e.Name()
		}
		if override, ok := overrides[m.Name]; ok {
			enabled := override
			m.Enabled = &enabled
		}
		found = append(found, &Hook{dir: filepath.Join(dir, e.Name()), manifest: m})
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].manifest.Priority != found[j].manifest.Priority {
			return found[i].manifest.Priority < found[j].manifest.Priority
		}
		return found[i].manifest.Name < found[j].manifest.Name
	})

	return &Manager{hooks: found, audit: audit}, nil
}

func loadState(stateFile string) map[string]bool {
	data, err := os.ReadFile(stateFile)
	if err != nil {
		return nil
	}
	var overrides map[string]bool
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil
	}
	return overrides
}

// parseFrontmatter extracts the "---\n...\n---" YAML block from a HOOK.md file.
func parseFrontmatter(data []byte) (manifest, error) {
	var m manifest
	content := string(data)
	if !strings.HasPrefix(content, "---") {
		return m, fmt.Errorf("missing YAML frontmatter")
	}
	rest := strings.TrimPrefix(content, "---")
	end := strings.Index(rest, "---")
	if end < 0 {
		return m, fmt.Errorf("unterminated YAML frontmatter")
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &m); err != nil {
		return m, fmt.Errorf("invalid frontmatter: %w", err)
	}
	if m.Command == "" {
		return m, fmt.Errorf("command is required")
	}
	return m, nil
}

func (h *Hook) isEnabled() bool {
	return h.manifest.Enabled == nil || *h.manifest.Enabled
}

// Run executes every enabled hook bound to event, in (priority, name) order, in
// turn. It stops at the first non-allow outcome and returns it; a hook process
// failure is treated as allow (logged, audited) so one broken hook cannot wedge
// the pipeline.
func (m *Manager) Run(ctx context.Context, event Event, payload map[string]interface{}) (Outcome, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Action: ActionAllow}, fmt.Errorf("hooks: marshal payload: %w", err)
	}
	if len(body) > maxInputBytes {
		return Outcome{Action: ActionAllow}, fmt.Errorf("hooks: payload exceeds max_input_bytes")
	}

	for _, h := range m.hooks {
		if !h.isEnabled() || !h.handles(event) {
			continue
		}
		outcome, err := m.runOne(ctx, h, body)
		if err != nil {
			slog.Warn("hooks: execution failed", "hook", h.manifest.Name, "event", event, "error", err)
			m.record(ctx, h.manifest.Name, event, "", err.Error(), true)
			continue
		}
		if outcome.Action != ActionAllow {
			m.record(ctx, h.manifest.Name, event, string(outcome.Action), outcome.Reason, false)
			return outcome, nil
		}
	}
	return Outcome{Action: ActionAllow}, nil
}

func (m *Manager) runOne(ctx context.Context, h *Hook, body []byte) (Outcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, h.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", h.manifest.Command)
	cmd.Dir = h.dir
	cmd.Stdin = bytes.NewReader(body)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return Outcome{}, fmt.Errorf("hook %q timed out after %s", h.manifest.Name, h.timeout())
		}
		return Outcome{}, fmt.Errorf("hook %q exited with error: %w", h.manifest.Name, err)
	}

	out := stdout.Bytes()
	if len(out) > maxOutputBytes {
		out = out[:maxOutputBytes]
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return Outcome{Action: ActionAllow}, nil
	}
	var outcome Outcome
	if err := json.Unmarshal(out, &outcome); err != nil {
		return Outcome{}, fmt.Errorf("hook %q produced invalid output: %w", h.manifest.Name, err)
	}
	if outcome.Action == "" {
		outcome.Action = ActionAllow
	}
	return outcome, nil
}

func (m *Manager) record(ctx context.Context, hookName string, event Event, action, detail string, failed bool) {
	if m.audit == nil {
		return
	}
	m.audit.RecordHookOutcome(ctx, hookName, string(event), action, detail, failed)
}
