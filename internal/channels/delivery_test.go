package channels

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0x7f/microclaw/internal/store"
)

// fakeAdapter lets the delivery test control whether SendText succeeds.
type fakeAdapter struct {
	name    string
	sendErr error
	sent    []string
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) ChatTypeRoutes() []ChatTypeRoute {
	return []ChatTypeRoute{{ChatTypeTag: "fake", Kind: Private}}
}
func (f *fakeAdapter) IsLocalOnly() bool     { return false }
func (f *fakeAdapter) MaxMessageLength() int { return 4096 }
func (f *fakeAdapter) SendText(ctx context.Context, externalChatID, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeAdapter) SendAttachment(ctx context.Context, externalChatID, filePath, caption string) (*DeliverySummary, error) {
	return nil, errors.New("not used")
}

// fakeFacade implements store.Facade with only chat routing and message
// storage wired; every other method is unreachable from this test.
type fakeFacade struct {
	chat    *store.Chat
	stored  []store.StoredMessage
	nextID  int64
}

func (f *fakeFacade) ResolveOrCreateChatID(ctx context.Context, chatType, channel string, externalID store.ExternalChatId, title string) (store.ChatId, error) {
	return 0, errors.New("not used")
}
func (f *fakeFacade) GetChat(ctx context.Context, chatID store.ChatId) (*store.Chat, error) {
	return f.chat, nil
}
func (f *fakeFacade) GetChatExternalID(ctx context.Context, chatID store.ChatId, channel string) (store.ExternalChatId, bool, error) {
	if f.chat == nil {
		return "", false, nil
	}
	id, ok := f.chat.ExternalIDs[channel]
	return store.ExternalChatId(id), ok, nil
}
func (f *fakeFacade) ListChats(ctx context.Context, limit int) ([]store.ChatSummary, error) {
	return nil, nil
}
func (f *fakeFacade) StoreMessage(ctx context.Context, msg store.StoredMessage) (int64, error) {
	f.nextID++
	msg.ID = f.nextID
	f.stored = append(f.stored, msg)
	return f.nextID, nil
}
func (f *fakeFacade) GetAllMessages(ctx context.Context, chatID store.ChatId) ([]store.StoredMessage, error) {
	return f.stored, nil
}
func (f *fakeFacade) GetRecentMessages(ctx context.Context, chatID store.ChatId, limit int) ([]store.StoredMessage, error) {
	return f.stored, nil
}
func (f *fakeFacade) GetNewUserMessagesSince(ctx context.Context, chatID store.ChatId, since time.Time) ([]store.StoredMessage, error) {
	return nil, nil
}
func (f *fakeFacade) SaveSession(ctx context.Context, sess store.Session) error { return nil }
func (f *fakeFacade) LoadSession(ctx context.Context, chatID store.ChatId) (*store.Session, bool, error) {
	return nil, false, nil
}
func (f *fakeFacade) DeleteSession(ctx context.Context, chatID store.ChatId) error  { return nil }
func (f *fakeFacade) DeleteChatData(ctx context.Context, chatID store.ChatId) error { return nil }
func (f *fakeFacade) GetTodoList(ctx context.Context, chatID store.ChatId) ([]store.TodoItem, error) {
	return nil, nil
}
func (f *fakeFacade) SaveTodoList(ctx context.Context, chatID store.ChatId, items []store.TodoItem) error {
	return nil
}
func (f *fakeFacade) CreateScheduledTask(ctx context.Context, task store.ScheduledTask) (int64, error) {
	return 0, nil
}
func (f *fakeFacade) UpdateTaskStatus(ctx context.Context, taskID int64, status store.TaskStatus) error {
	return nil
}
func (f *fakeFacade) UpdateTaskNextRun(ctx context.Context, taskID int64, nextRun time.Time) error {
	return nil
}
func (f *fakeFacade) GetTasksForChat(ctx context.Context, chatID store.ChatId) ([]store.ScheduledTask, error) {
	return nil, nil
}
func (f *fakeFacade) GetDueTasks(ctx context.Context, now time.Time) ([]store.ScheduledTask, error) {
	return nil, nil
}
func (f *fakeFacade) AppendTaskRunLog(ctx context.Context, log store.TaskRunLog) error { return nil }
func (f *fakeFacade) GetTaskHistory(ctx context.Context, taskID int64, limit int) ([]store.TaskRunLog, error) {
	return nil, nil
}
func (f *fakeFacade) AppendAuditEvent(ctx context.Context, event store.AuditEvent) error { return nil }
func (f *fakeFacade) AppendLlmUsage(ctx context.Context, usage store.LlmUsage) error     { return nil }
func (f *fakeFacade) GetUsageSummary(ctx context.Context, chatID store.ChatId) (store.UsageSummary, error) {
	return store.UsageSummary{}, nil
}
func (f *fakeFacade) GetAuthPasswordHash(ctx context.Context) (string, bool, error) {
	return "", false, nil
}
func (f *fakeFacade) SetAuthPasswordHash(ctx context.Context, hash string) error { return nil }
func (f *fakeFacade) Close() error                                              { return nil }

func newRegistryWithFake(a *fakeAdapter) (*Registry, *fakeFacade) {
	r := NewRegistry()
	r.Register(a)
	facade := &fakeFacade{
		chat: &store.Chat{
			ChatID:      1,
			ChatType:    "fake",
			ExternalIDs: map[string]string{a.name: "ext-1"},
		},
	}
	return r, facade
}

func TestDeliverAndStoreBotMessageStoresOnSuccess(t *testing.T) {
	adapter := &fakeAdapter{name: "fake"}
	r, facade := newRegistryWithFake(adapter)

	err := r.DeliverAndStoreBotMessage(context.Background(), facade, "bot", store.ChatId(1), "hello")
	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, adapter.sent)
	require.Len(t, facade.stored, 1)
	require.True(t, facade.stored[0].IsFromBot)
	require.Equal(t, "hello", facade.stored[0].Content)
}

func TestDeliverAndStoreBotMessageSkipsStoreOnDeliveryFailure(t *testing.T) {
	adapter := &fakeAdapter{name: "fake", sendErr: errors.New("network down")}
	r, facade := newRegistryWithFake(adapter)

	err := r.DeliverAndStoreBotMessage(context.Background(), facade, "bot", store.ChatId(1), "hello")
	require.Error(t, err)
	require.Empty(t, facade.stored)
}

func TestGetRequiredChatRoutingFailsForUnknownChat(t *testing.T) {
	r := NewRegistry()
	facade := &fakeFacade{chat: nil}

	_, _, err := r.GetRequiredChatRouting(context.Background(), facade, store.ChatId(42))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestGetRequiredChatRoutingFailsForUnsupportedChatType(t *testing.T) {
	r := NewRegistry()
	facade := &fakeFacade{chat: &store.Chat{ChatID: 1, ChatType: "unknown_type"}}

	_, _, err := r.GetRequiredChatRouting(context.Background(), facade, store.ChatId(1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported chat type")
}
