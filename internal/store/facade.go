// Package store implements the storage facade: chat/message/session/task/audit/usage
// persistence behind one serialized handle, with a sqlite and a postgres backend.
package store

import (
	"context"
	"time"

	"github.com/0x7f/microclaw/internal/providers"
)

// ChatId is the internal handle for a logical conversation. Unique across all channels.
type ChatId int64

// ExternalChatId is a channel's native conversation id (Telegram chat id, Discord
// channel snowflake, web session key, ...).
type ExternalChatId string

// Chat is the routing record for one conversation.
type Chat struct {
	ChatID      ChatId
	ChatType    string // e.g. "telegram_private", "discord", "web"
	Title       string
	ExternalIDs map[string]string // channel name -> external id
}

// StoredMessage is one append-only message row.
type StoredMessage struct {
	ID         int64
	ChatID     ChatId
	SenderName string
	Content    string
	IsFromBot  bool
	Timestamp  time.Time
}

// Session is the full agent-visible message trace for one chat.
type Session struct {
	ChatID    ChatId
	Trace     []providers.Message
	UpdatedAt time.Time
}

// TodoStatus is the lifecycle state of one todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// TodoItem is one entry of a chat's todo list.
type TodoItem struct {
	Text   string     `json:"text"`
	Status TodoStatus `json:"status"`
}

// ScheduleKind distinguishes recurring tasks from one-shot tasks.
type ScheduleKind string

const (
	ScheduleCron ScheduleKind = "cron"
	ScheduleOnce ScheduleKind = "once"
)

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskCancelled TaskStatus = "cancelled"
)

// ScheduledTask is a cron or one-shot prompt invocation.
type ScheduledTask struct {
	ID            int64
	ChatID        ChatId
	Prompt        string
	ScheduleKind  ScheduleKind
	ScheduleValue string // 6-field cron expr, or RFC3339 timestamp for "once"
	Timezone      string // IANA; empty means process default
	NextRun       time.Time
	Status        TaskStatus
}

// TaskRunLog is one append-only execution record of a ScheduledTask.
type TaskRunLog struct {
	TaskID     int64
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMS int64
	Success    bool
	Summary    string
}

// AuditEvent is one append-only record of a security- or policy-relevant action.
type AuditEvent struct {
	ActorKind string // "user" | "tool" | "hook" | "scheduler" | "system"
	ActorID   string
	Action    string
	Target    string
	Status    string
	Detail    string
	Timestamp time.Time
}

// LlmUsage is one append-only token/cost accounting record.
type LlmUsage struct {
	ChatID        ChatId
	CallerChannel string
	Provider      string
	Model         string
	InputTokens   int64
	OutputTokens  int64
	Context       string
}

// UsageSummary aggregates LlmUsage rows for one chat.
type UsageSummary struct {
	InputTokens  int64
	OutputTokens int64
	CallCount    int64
}

// ChatSummary is one row of the web orchestrator's session list (§4.I
// GET /api/sessions).
type ChatSummary struct {
	ChatID             ChatId
	ChatType           string
	Title              string
	LastMessageTime    time.Time
	LastMessagePreview string
}

// Facade is the storage contract every component in the core depends on. Every
// method is synchronous; async-flavored callers trampoline through CallBlocking.
// Implementations never panic across this boundary — all failures return an error.
type Facade interface {
	// Chat routing
	ResolveOrCreateChatID(ctx context.Context, chatType, channel string, externalID ExternalChatId, title string) (ChatId, error)
	GetChat(ctx context.Context, chatID ChatId) (*Chat, error)
	GetChatExternalID(ctx context.Context, chatID ChatId, channel string) (ExternalChatId, bool, error)
	ListChats(ctx context.Context, limit int) ([]ChatSummary, error)

	// Messages
	StoreMessage(ctx context.Context, msg StoredMessage) (int64, error)
	GetAllMessages(ctx context.Context, chatID ChatId) ([]StoredMessage, error)
	GetRecentMessages(ctx context.Context, chatID ChatId, limit int) ([]StoredMessage, error)
	GetNewUserMessagesSince(ctx context.Context, chatID ChatId, since time.Time) ([]StoredMessage, error)

	// Sessions
	SaveSession(ctx context.Context, sess Session) error
	LoadSession(ctx context.Context, chatID ChatId) (*Session, bool, error)
	DeleteSession(ctx context.Context, chatID ChatId) error
	DeleteChatData(ctx context.Context, chatID ChatId) error

	// Todos
	GetTodoList(ctx context.Context, chatID ChatId) ([]TodoItem, error)
	SaveTodoList(ctx context.Context, chatID ChatId, items []TodoItem) error

	// Scheduled tasks
	CreateScheduledTask(ctx context.Context, task ScheduledTask) (int64, error)
	UpdateTaskStatus(ctx context.Context, taskID int64, status TaskStatus) error
	UpdateTaskNextRun(ctx context.Context, taskID int64, nextRun time.Time) error
	GetTasksForChat(ctx context.Context, chatID ChatId) ([]ScheduledTask, error)
	GetDueTasks(ctx context.Context, now time.Time) ([]ScheduledTask, error)
	AppendTaskRunLog(ctx context.Context, log TaskRunLog) error
	GetTaskHistory(ctx context.Context, taskID int64, limit int) ([]TaskRunLog, error)

	// Audit & usage
	AppendAuditEvent(ctx context.Context, event AuditEvent) error
	AppendLlmUsage(ctx context.Context, usage LlmUsage) error
	GetUsageSummary(ctx context.Context, chatID ChatId) (UsageSummary, error)

	// Auth
	GetAuthPasswordHash(ctx context.Context) (string, bool, error)
	SetAuthPasswordHash(ctx context.Context, hash string) error

	Close() error
}
