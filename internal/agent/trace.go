package agent

import "github.com/0x7f/microclaw/internal/providers"

// SanitizeTrace removes ToolResult blocks that reference a tool_use_id no
// assistant message in the trace ever produced. This happens when a session
// is compacted or resumed mid-tool-call and the matching ToolUse block was
// dropped from history but its ToolResult survived.
//
// A user message emptied by this filtering is dropped entirely; every other
// message passes through unchanged. Sanitizing an already-sanitized trace is
// a no-op.
func SanitizeTrace(messages []providers.Message) []providers.Message {
	knownToolUseIDs := make(map[string]bool)
	for _, m := range messages {
		if m.Role != "assistant" {
			continue
		}
		for _, b := range m.Blocks {
			if b.Type == providers.BlockToolUse {
				knownToolUseIDs[b.ToolUseID] = true
			}
		}
	}

	out := make([]providers.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != "user" || !m.HasBlocks() {
			out = append(out, m)
			continue
		}

		filtered := make([]providers.ContentBlock, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			if b.Type == providers.BlockToolResult && !knownToolUseIDs[b.ToolUseID] {
				continue
			}
			filtered = append(filtered, b)
		}
		if len(filtered) == 0 {
			continue
		}
		m.Blocks = filtered
		out = append(out, m)
	}
	return out
}
