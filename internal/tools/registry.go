// Package tools implements the built-in tool registry: the polymorphic Tool
// contract, working-directory isolation, authorization at the tool boundary,
// and risk/execution policy (spec.md §4.B).
package tools

import (
	"context"
	"fmt"

	"github.com/0x7f/microclaw/internal/providers"
)

// Tool is the polymorphic entity every built-in, MCP proxy, and plugin tool implements.
type Tool interface {
	Name() string
	Definition() providers.ToolDefinition
	Risk() RiskLevel
	ExecutionPolicy() ExecutionPolicy
	Execute(ctx context.Context, input []byte, auth AuthContext) *Result
}

// Registry is an ordered, name-indexed list of tools. Resolution is
// case-sensitive first-match, matching registration order.
type Registry struct {
	order []string
	tools map[string]Tool

	// sandboxAvailable gates ExecSandboxOnly/ExecDual tools (4.B.4). No sandbox
	// runtime is wired in this build, so this is always false; it exists so the
	// fail-closed/fail-open policy check has one place to live.
	sandboxAvailable bool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register appends t to the registry. A later Register with a name that is
// already registered is ignored, so the first registered instance is the one
// both ProviderDefs and Execute use.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; exists {
		return
	}
	r.order = append(r.order, t.Name())
	r.tools[t.Name()] = t
}

// ProviderDefs returns the tool definitions for every registered tool, in
// registration order, for inclusion in a ChatRequest.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// SubAgentRegistry builds the strict subset of r allowed in sub-agent loops:
// no send_message, write-memory, schedule-*, export_chat, or sub_agent (4.B).
func (r *Registry) SubAgentRegistry() *Registry {
	sub := NewRegistry()
	for _, name := range r.order {
		if subAgentAllowed[name] {
			sub.Register(r.tools[name])
		}
	}
	return sub
}

// Execute runs the named tool's precondition checks (sandbox availability)
// then its Execute method. Unknown tool names return an error Result.
func (r *Registry) Execute(ctx context.Context, name string, input []byte, auth AuthContext) *Result {
	t, ok := r.tools[name]
	if !ok {
		return Err(fmt.Sprintf("unknown tool %q", name))
	}
	switch t.ExecutionPolicy() {
	case ExecSandboxOnly:
		if !r.sandboxAvailable {
			return Err(fmt.Sprintf("tool %q requires a sandbox runtime, which is not available", name))
		}
	case ExecDual:
		// Dual tools run on the host when no sandbox is wired; no precondition to enforce.
	}
	return t.Execute(ctx, input, auth)
}
