package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0x7f/microclaw/internal/hooks"
	"github.com/0x7f/microclaw/internal/providers"
	"github.com/0x7f/microclaw/internal/store"
	"github.com/0x7f/microclaw/internal/tools"
)

type scriptedProvider struct {
	responses []*providers.ChatResponse
	calls     int
}

func (p *scriptedProvider) next() *providers.ChatResponse {
	r := p.responses[p.calls]
	if p.calls < len(p.responses)-1 {
		p.calls++
	}
	return r
}

func (p *scriptedProvider) SendMessage(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return p.next(), nil
}

func (p *scriptedProvider) SendMessageStream(ctx context.Context, req providers.ChatRequest, onTextDelta func(string)) (*providers.ChatResponse, error) {
	resp := p.next()
	if resp.StopReason == providers.StopEndTurn {
		onTextDelta(resp.TextOnly())
	}
	return resp, nil
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "scripted-model" }

type memStore struct {
	sessions map[store.ChatId]store.Session
}

func newMemStore() *memStore { return &memStore{sessions: make(map[store.ChatId]store.Session)} }

func (s *memStore) ResolveOrCreateChatID(ctx context.Context, chatType, channel string, externalID store.ExternalChatId, title string) (store.ChatId, error) {
	return 1, nil
}
func (s *memStore) GetChat(ctx context.Context, chatID store.ChatId) (*store.Chat, error) { return nil, nil }
func (s *memStore) GetChatExternalID(ctx context.Context, chatID store.ChatId, channel string) (store.ExternalChatId, bool, error) {
	return "", false, nil
}
func (s *memStore) ListChats(ctx context.Context, limit int) ([]store.ChatSummary, error) {
	return nil, nil
}
func (s *memStore) StoreMessage(ctx context.Context, msg store.StoredMessage) (int64, error) {
	return 0, nil
}
func (s *memStore) GetAllMessages(ctx context.Context, chatID store.ChatId) ([]store.StoredMessage, error) {
	return nil, nil
}
func (s *memStore) GetRecentMessages(ctx context.Context, chatID store.ChatId, limit int) ([]store.StoredMessage, error) {
	return nil, nil
}
func (s *memStore) GetNewUserMessagesSince(ctx context.Context, chatID store.ChatId, since time.Time) ([]store.StoredMessage, error) {
	return nil, nil
}
func (s *memStore) SaveSession(ctx context.Context, sess store.Session) error {
	s.sessions[sess.ChatID] = sess
	return nil
}
func (s *memStore) LoadSession(ctx context.Context, chatID store.ChatId) (*store.Session, bool, error) {
	sess, ok := s.sessions[chatID]
	if !ok {
		return nil, false, nil
	}
	return &sess, true, nil
}
func (s *memStore) DeleteSession(ctx context.Context, chatID store.ChatId) error { return nil }
func (s *memStore) DeleteChatData(ctx context.Context, chatID store.ChatId) error { return nil }
func (s *memStore) GetTodoList(ctx context.Context, chatID store.ChatId) ([]store.TodoItem, error) {
	return nil, nil
}
func (s *memStore) SaveTodoList(ctx context.Context, chatID store.ChatId, items []store.TodoItem) error {
	return nil
}
func (s *memStore) CreateScheduledTask(ctx context.Context, task store.ScheduledTask) (int64, error) {
	return 0, nil
}
func (s *memStore) UpdateTaskStatus(ctx context.Context, taskID int64, status store.TaskStatus) error {
	return nil
}
func (s *memStore) UpdateTaskNextRun(ctx context.Context, taskID int64, nextRun time.Time) error {
	return nil
}
func (s *memStore) GetTasksForChat(ctx context.Context, chatID store.ChatId) ([]store.ScheduledTask, error) {
	return nil, nil
}
func (s *memStore) GetDueTasks(ctx context.Context, now time.Time) ([]store.ScheduledTask, error) {
	return nil, nil
}
func (s *memStore) AppendTaskRunLog(ctx context.Context, log store.TaskRunLog) error { return nil }
func (s *memStore) GetTaskHistory(ctx context.Context, taskID int64, limit int) ([]store.TaskRunLog, error) {
	return nil, nil
}
func (s *memStore) AppendAuditEvent(ctx context.Context, event store.AuditEvent) error { return nil }
func (s *memStore) AppendLlmUsage(ctx context.Context, usage store.LlmUsage) error     { return nil }
func (s *memStore) GetUsageSummary(ctx context.Context, chatID store.ChatId) (store.UsageSummary, error) {
	return store.UsageSummary{}, nil
}
func (s *memStore) GetAuthPasswordHash(ctx context.Context) (string, bool, error) {
	return "", false, nil
}
func (s *memStore) SetAuthPasswordHash(ctx context.Context, hash string) error { return nil }
func (s *memStore) Close() error                                              { return nil }

func TestEngineRunEndTurnPersistsSession(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{StopReason: providers.StopEndTurn, Content: []providers.ResponseContentBlock{{Type: providers.BlockText, Text: "hello there"}}},
	}}
	st := newMemStore()
	mgr, err := hooks.Discover(t.TempDir(), t.TempDir()+"/state.json", nil)
	require.NoError(t, err)

	engine := &Engine{
		Provider: provider,
		Tools:    tools.NewRegistry(),
		Hooks:    mgr,
		Store:    st,
		Config:   Config{Model: "m", MaxToolIterations: 5, MaxHistoryMessages: 50},
	}

	text, err := engine.Run(context.Background(), Request{Context: RequestContext{CallerChannel: "web", ChatID: 1, ChatType: "web_private"}})
	require.NoError(t, err)
	require.Equal(t, "hello there", text)

	sess, ok, err := st.LoadSession(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello there", sess.Trace[len(sess.Trace)-1].Text)
}

func TestEngineRunExecutesToolThenEndsTurn(t *testing.T) {
	toolInput := []byte(`{}`)
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{StopReason: providers.StopToolUse, Content: []providers.ResponseContentBlock{
			{Type: providers.BlockToolUse, ToolUseID: "t1", ToolName: "noop", ToolInput: toolInput},
		}},
		{StopReason: providers.StopEndTurn, Content: []providers.ResponseContentBlock{{Type: providers.BlockText, Text: "done"}}},
	}}
	reg := tools.NewRegistry()
	reg.Register(&noopTool{})

	mgr, err := hooks.Discover(t.TempDir(), t.TempDir()+"/state.json", nil)
	require.NoError(t, err)

	engine := &Engine{
		Provider: provider,
		Tools:    reg,
		Hooks:    mgr,
		Store:    newMemStore(),
		Config:   Config{Model: "m", MaxToolIterations: 5, MaxHistoryMessages: 50},
	}

	text, err := engine.Run(context.Background(), Request{Context: RequestContext{CallerChannel: "web", ChatID: 1, ChatType: "web_private"}})
	require.NoError(t, err)
	require.Equal(t, "done", text)
}

type noopTool struct{}

func (n *noopTool) Name() string { return "noop" }
func (n *noopTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{Name: "noop", Description: "does nothing"}
}
func (n *noopTool) Risk() tools.RiskLevel                  { return tools.RiskLow }
func (n *noopTool) ExecutionPolicy() tools.ExecutionPolicy { return tools.ExecHostOnly }
func (n *noopTool) Execute(ctx context.Context, input []byte, auth tools.AuthContext) *tools.Result {
	return tools.Ok("ok")
}
