package agent

import (
	"encoding/json"
	"testing"

	"github.com/0x7f/microclaw/internal/providers"
	"github.com/stretchr/testify/require"
)

func TestSanitizeTraceDropsOrphanToolResults(t *testing.T) {
	trace := []providers.Message{
		providers.AssistantBlocks(providers.ToolUseBlock("t1", "bash", json.RawMessage(`{}`))),
		providers.UserBlocks(
			providers.ToolResultBlock("t1", "ok", false),
			providers.ToolResultBlock("orphan", "stale", false),
		),
	}

	out := SanitizeTrace(trace)

	require.Len(t, out, 2)
	require.Len(t, out[1].Blocks, 1)
	require.Equal(t, "t1", out[1].Blocks[0].ToolUseID)
}

func TestSanitizeTraceDropsMessageEmptiedByFiltering(t *testing.T) {
	trace := []providers.Message{
		providers.UserBlocks(providers.ToolResultBlock("orphan", "stale", false)),
		providers.AssistantText("hello"),
	}

	out := SanitizeTrace(trace)

	require.Len(t, out, 1)
	require.Equal(t, "hello", out[0].Text)
}

func TestSanitizeTracePassesThroughMessagesWithoutBlocks(t *testing.T) {
	trace := []providers.Message{
		providers.UserText("hi"),
		providers.AssistantText("hello back"),
	}

	out := SanitizeTrace(trace)

	require.Equal(t, trace, out)
}

func TestSanitizeTraceIsIdempotent(t *testing.T) {
	trace := []providers.Message{
		providers.AssistantBlocks(providers.ToolUseBlock("t1", "bash", json.RawMessage(`{}`))),
		providers.UserBlocks(
			providers.ToolResultBlock("t1", "ok", false),
			providers.ToolResultBlock("orphan", "stale", false),
		),
	}

	once := SanitizeTrace(trace)
	twice := SanitizeTrace(once)

	require.Equal(t, once, twice)
}
