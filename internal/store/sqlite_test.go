package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolveOrCreateChatIDIsStable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.ResolveOrCreateChatID(ctx, "telegram_private", "telegram", "12345", "")
	require.NoError(t, err)
	id2, err := s.ResolveOrCreateChatID(ctx, "telegram_private", "telegram", "12345", "")
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	id3, err := s.ResolveOrCreateChatID(ctx, "discord", "discord", "12345", "")
	require.NoError(t, err)
	require.NotEqual(t, id1, id3, "same external id on a different channel must not collide")
}

func TestStoreMessageOrderingByTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	chatID, err := s.ResolveOrCreateChatID(ctx, "web", "web", "s1", "")
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.StoreMessage(ctx, StoredMessage{ChatID: chatID, SenderName: "alice", Content: "first", Timestamp: base})
	require.NoError(t, err)
	_, err = s.StoreMessage(ctx, StoredMessage{ChatID: chatID, SenderName: "alice", Content: "second", Timestamp: base.Add(time.Second)})
	require.NoError(t, err)

	msgs, err := s.GetAllMessages(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "first", msgs[0].Content)
	require.Equal(t, "second", msgs[1].Content)
}

func TestSaveAndLoadSessionRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	chatID, err := s.ResolveOrCreateChatID(ctx, "web", "web", "s2", "")
	require.NoError(t, err)

	err = s.SaveSession(ctx, Session{ChatID: chatID, UpdatedAt: time.Now().UTC()})
	require.NoError(t, err)

	loaded, ok, err := s.LoadSession(ctx, chatID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, chatID, loaded.ChatID)
}

func TestDeleteChatDataKeepsChatRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	chatID, err := s.ResolveOrCreateChatID(ctx, "web", "web", "s3", "")
	require.NoError(t, err)
	_, err = s.StoreMessage(ctx, StoredMessage{ChatID: chatID, SenderName: "bob", Content: "hi"})
	require.NoError(t, err)
	require.NoError(t, s.SaveSession(ctx, Session{ChatID: chatID}))

	require.NoError(t, s.DeleteChatData(ctx, chatID))

	msgs, err := s.GetAllMessages(ctx, chatID)
	require.NoError(t, err)
	require.Empty(t, msgs)
	_, ok, err := s.LoadSession(ctx, chatID)
	require.NoError(t, err)
	require.False(t, ok)

	chat, err := s.GetChat(ctx, chatID)
	require.NoError(t, err)
	require.NotNil(t, chat, "Chat row survives delete_chat_data")
}

func TestListChatsOrdersByMostRecentChatAndCarriesLastMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chatA, err := s.ResolveOrCreateChatID(ctx, "web", "web", "web:a", "session-a")
	require.NoError(t, err)
	chatB, err := s.ResolveOrCreateChatID(ctx, "web", "web", "web:b", "session-b")
	require.NoError(t, err)

	_, err = s.StoreMessage(ctx, StoredMessage{ChatID: chatA, SenderName: "web", Content: "hello"})
	require.NoError(t, err)
	_, err = s.StoreMessage(ctx, StoredMessage{ChatID: chatB, SenderName: "web", Content: "world"})
	require.NoError(t, err)

	chats, err := s.ListChats(ctx, 0)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	require.Equal(t, chatB, chats[0].ChatID, "most recently created chat sorts first")
	require.Equal(t, "world", chats[0].LastMessagePreview)
	require.Equal(t, chatA, chats[1].ChatID)
	require.Equal(t, "hello", chats[1].LastMessagePreview)
}

func TestListChatsRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.ResolveOrCreateChatID(ctx, "web", "web", ExternalChatId("web:"+string(rune('a'+i))), "")
		require.NoError(t, err)
	}
	chats, err := s.ListChats(ctx, 2)
	require.NoError(t, err)
	require.Len(t, chats, 2)
}

func TestGetDueTasksFiltersByStatusAndTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	chatID, err := s.ResolveOrCreateChatID(ctx, "web", "web", "s4", "")
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dueID, err := s.CreateScheduledTask(ctx, ScheduledTask{ChatID: chatID, Prompt: "ping", ScheduleKind: ScheduleOnce, NextRun: now.Add(-time.Minute), Status: TaskActive})
	require.NoError(t, err)
	_, err = s.CreateScheduledTask(ctx, ScheduledTask{ChatID: chatID, Prompt: "future", ScheduleKind: ScheduleOnce, NextRun: now.Add(time.Hour), Status: TaskActive})
	require.NoError(t, err)
	_, err = s.CreateScheduledTask(ctx, ScheduledTask{ChatID: chatID, Prompt: "paused", ScheduleKind: ScheduleOnce, NextRun: now.Add(-time.Minute), Status: TaskPaused})
	require.NoError(t, err)

	due, err := s.GetDueTasks(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, dueID, due[0].ID)
}
