package agent

import (
	"context"
	"fmt"

	"github.com/0x7f/microclaw/internal/providers"
	"github.com/0x7f/microclaw/internal/tools"
)

// SubAgentMaxIterations caps the nested loop well below the top-level default,
// per §4.G's "Sub-agent" policy.
const SubAgentMaxIterations = 8

// SubAgentRunner drives a restricted, unpersisted nested loop on behalf of the
// sub_agent tool. It shares the parent's provider and model but swaps in the
// sub-agent tool registry and skips session persistence and BeforeLLMCall hooks
// (left-open policy in §4.G, decided here as: sub-agent calls do not trigger hooks).
type SubAgentRunner struct {
	Provider providers.Provider
	Tools    *tools.Registry // already the sub-agent-scoped registry
	Model    string
	System   string
}

var _ tools.SubAgentRunner = (*SubAgentRunner)(nil)

func (r *SubAgentRunner) RunSubAgent(ctx context.Context, prompt string, auth tools.AuthContext) (string, error) {
	trace := []providers.Message{providers.UserText(prompt)}

	for iteration := 0; iteration < SubAgentMaxIterations; iteration++ {
		trace = SanitizeTrace(trace)

		resp, err := r.Provider.SendMessage(ctx, providers.ChatRequest{
			System:   r.System,
			Messages: trace,
			Tools:    r.Tools.ProviderDefs(),
			Model:    r.Model,
		})
		if err != nil {
			return "", fmt.Errorf("sub_agent: provider call: %w", err)
		}

		if resp.StopReason != providers.StopToolUse {
			return resp.TextOnly(), nil
		}

		var assistantBlocks []providers.ContentBlock
		for _, b := range resp.Content {
			switch b.Type {
			case providers.BlockText:
				assistantBlocks = append(assistantBlocks, providers.TextBlock(b.Text))
			case providers.BlockToolUse:
				assistantBlocks = append(assistantBlocks, providers.ToolUseBlock(b.ToolUseID, b.ToolName, b.ToolInput))
			}
		}
		trace = append(trace, providers.AssistantBlocks(assistantBlocks...))

		var resultBlocks []providers.ContentBlock
		for _, b := range resp.ToolUses() {
			result := r.Tools.Execute(ctx, b.ToolName, b.ToolInput, auth)
			resultBlocks = append(resultBlocks, providers.ToolResultBlock(b.ToolUseID, result.Content, result.IsError))
		}
		trace = append(trace, providers.UserBlocks(resultBlocks...))
	}

	return maxToolIterationsReachedText, nil
}
