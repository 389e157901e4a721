package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	lastChatID string
	called     bool
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID, text, attachmentPath, caption string) error {
	f.called = true
	f.lastChatID = chatID
	return nil
}

func TestSendMessageDeniesCrossChatTargetFromWeb(t *testing.T) {
	sender := &fakeSender{}
	tool := NewSendMessageTool(sender)

	input, err := json.Marshal(map[string]any{"chat_id": "200", "text": "hi"})
	require.NoError(t, err)

	auth := AuthContext{CallerChannel: "web", CallerChatID: "100", ControlChatIDs: nil}
	result := tool.Execute(context.Background(), input, auth)

	require.True(t, result.IsError)
	require.Equal(t, ErrorTypePermissionDenied, result.ErrorType)
	require.Contains(t, result.Content, "Permission denied")
	require.False(t, sender.called)
}

func TestSendMessageAllowsOwnChat(t *testing.T) {
	sender := &fakeSender{}
	tool := NewSendMessageTool(sender)

	input, _ := json.Marshal(map[string]any{"chat_id": "100", "text": "hi"})
	auth := AuthContext{CallerChannel: "web", CallerChatID: "100"}

	result := tool.Execute(context.Background(), input, auth)

	require.False(t, result.IsError)
	require.True(t, sender.called)
	require.Equal(t, "100", sender.lastChatID)
}

func TestSendMessageAllowsControlChatAcrossChats(t *testing.T) {
	sender := &fakeSender{}
	tool := NewSendMessageTool(sender)

	input, _ := json.Marshal(map[string]any{"chat_id": "200", "text": "hi"})
	auth := AuthContext{CallerChannel: "telegram", CallerChatID: "100", ControlChatIDs: []string{"100"}}

	result := tool.Execute(context.Background(), input, auth)

	require.False(t, result.IsError)
	require.True(t, sender.called)
}

func TestSubAgentRegistryExcludesMutatingTools(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewSendMessageTool(&fakeSender{}))
	reg.Register(NewReadFileTool("/tmp", IsolationShared))

	sub := reg.SubAgentRegistry()

	defs := sub.ProviderDefs()
	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}
	require.NotContains(t, names, "send_message")
	require.Contains(t, names, "read_file")
}
