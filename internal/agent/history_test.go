package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0x7f/microclaw/internal/providers"
	"github.com/0x7f/microclaw/internal/store"
)

func TestSelectHistoryWindowGroupBoundsSinceLastBotResponse(t *testing.T) {
	now := time.Now()
	msgs := []store.StoredMessage{
		{SenderName: "alice", Content: "a1", IsFromBot: false, Timestamp: now},
		{SenderName: "bot", Content: "reply", IsFromBot: true, Timestamp: now.Add(time.Second)},
		{SenderName: "bob", Content: "b1", IsFromBot: false, Timestamp: now.Add(2 * time.Second)},
		{SenderName: "bob", Content: "b2", IsFromBot: false, Timestamp: now.Add(3 * time.Second)},
	}

	selected := selectHistoryWindow(msgs, "telegram_group", 10)
	require.Len(t, selected, 2)
	require.Equal(t, "b1", selected[0].Content)
}

func TestSelectHistoryWindowPrivateCapsToMax(t *testing.T) {
	now := time.Now()
	var msgs []store.StoredMessage
	for i := 0; i < 5; i++ {
		msgs = append(msgs, store.StoredMessage{SenderName: "u", Content: "m", Timestamp: now.Add(time.Duration(i) * time.Second)})
	}

	selected := selectHistoryWindow(msgs, "web_private", 2)
	require.Len(t, selected, 2)
}

func TestAppendNewUserMessagesMergesConsecutive(t *testing.T) {
	trace := []providers.Message{providers.AssistantText("prior reply")}
	msgs := []store.StoredMessage{
		{SenderName: "alice", Content: "hi"},
		{SenderName: "alice", Content: "there"},
	}

	out := appendNewUserMessages(trace, msgs)
	require.Len(t, out, 2)
	require.Equal(t, "[alice]: hi\n[alice]: there", out[1].Text)
}

func TestFixRoleAlternationEndsOnUser(t *testing.T) {
	trace := []providers.Message{providers.UserText("q"), providers.AssistantText("a")}
	out := fixRoleAlternation(trace)
	require.Equal(t, "user", out[len(out)-1].Role)
}

func TestStripImagesForPersistenceReplacesImageBlocks(t *testing.T) {
	trace := []providers.Message{
		providers.UserBlocks(providers.ImageBlock("image/png", "abc"), providers.TextBlock("caption")),
	}
	out := stripImagesForPersistence(trace)
	require.Equal(t, providers.BlockText, out[0].Blocks[0].Type)
	require.Equal(t, "[image was sent]", out[0].Blocks[0].Text)
}
