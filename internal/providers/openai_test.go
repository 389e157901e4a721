package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToOpenAIMessagesAssistantToolUse(t *testing.T) {
	msgs := []Message{
		AssistantBlocks(TextBlock("checking"), ToolUseBlock("t1", "bash", json.RawMessage(`{"command":"ls"}`))),
	}
	out := toOpenAIMessages("", msgs)
	require.Len(t, out, 1)
	require.Equal(t, "assistant", out[0].Role)
	require.Len(t, out[0].ToolCalls, 1)
	require.Equal(t, "bash", out[0].ToolCalls[0].Function.Name)
}

func TestToOpenAIMessagesToolResultFanOut(t *testing.T) {
	msgs := []Message{
		UserBlocks(
			ToolResultBlock("t1", "ok", false),
			ToolResultBlock("t2", "boom", true),
		),
	}
	out := toOpenAIMessages("", msgs)
	require.Len(t, out, 2)
	require.Equal(t, "tool", out[0].Role)
	require.Equal(t, "t1", out[0].ToolCallID)
	var content0 string
	require.NoError(t, json.Unmarshal(out[0].Content, &content0))
	require.Equal(t, "ok", content0)

	var content1 string
	require.NoError(t, json.Unmarshal(out[1].Content, &content1))
	require.Equal(t, "[Error] boom", content1)
}

func TestToOpenAIMessagesJoinsPureTextBlocksWithNewline(t *testing.T) {
	msgs := []Message{UserBlocks(TextBlock("line one"), TextBlock("line two"))}
	out := toOpenAIMessages("", msgs)
	require.Len(t, out, 1)
	var content string
	require.NoError(t, json.Unmarshal(out[0].Content, &content))
	require.Equal(t, "line one\nline two", content)
}

func TestFromOpenAIResponseStopReasonMapping(t *testing.T) {
	cases := []struct {
		finish string
		want   string
	}{
		{"tool_calls", StopToolUse},
		{"length", StopMaxTokens},
		{"stop", StopEndTurn},
	}
	for _, c := range cases {
		resp := &oaiResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message      oaiResponseMessage `json:"message"`
			FinishReason string             `json:"finish_reason"`
		}{Message: oaiResponseMessage{Content: "hi"}, FinishReason: c.finish})
		got := fromOpenAIResponse(resp)
		require.Equal(t, c.want, got.StopReason)
	}
}

func TestFromOpenAIResponseEmptyChoicesFallback(t *testing.T) {
	resp := &oaiResponse{}
	got := fromOpenAIResponse(resp)
	require.Equal(t, StopEndTurn, got.StopReason)
	require.Equal(t, "(empty response)", got.TextOnly())
}
