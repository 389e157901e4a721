package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0x7f/microclaw/internal/providers"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chats (
	chat_id BIGSERIAL PRIMARY KEY,
	chat_type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS chat_external_ids (
	chat_id BIGINT NOT NULL,
	channel TEXT NOT NULL,
	external_id TEXT NOT NULL,
	PRIMARY KEY (chat_id, channel)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_external_ids_lookup ON chat_external_ids(channel, external_id);
CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	chat_id BIGINT NOT NULL,
	sender_name TEXT NOT NULL,
	content TEXT NOT NULL,
	is_from_bot BOOLEAN NOT NULL DEFAULT FALSE,
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, timestamp, id);
CREATE TABLE IF NOT EXISTS sessions (
	chat_id BIGINT PRIMARY KEY,
	trace_json JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS todos (
	chat_id BIGINT PRIMARY KEY,
	items_json JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id BIGSERIAL PRIMARY KEY,
	chat_id BIGINT NOT NULL,
	prompt TEXT NOT NULL,
	schedule_kind TEXT NOT NULL,
	schedule_value TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT '',
	next_run TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due ON scheduled_tasks(status, next_run);
CREATE TABLE IF NOT EXISTS task_run_logs (
	task_id BIGINT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	success BOOLEAN NOT NULL,
	summary TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_task_run_logs_task ON task_run_logs(task_id, started_at);
CREATE TABLE IF NOT EXISTS audit_events (
	actor_kind TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	action TEXT NOT NULL,
	target TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS llm_usage (
	chat_id BIGINT NOT NULL,
	caller_channel TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens BIGINT NOT NULL,
	output_tokens BIGINT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_llm_usage_chat ON llm_usage(chat_id);
CREATE TABLE IF NOT EXISTS auth (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	password_hash TEXT NOT NULL
);
`

// PostgresStore is the multi-instance backend, selected via database.driver=postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ResolveOrCreateChatID(ctx context.Context, chatType, channel string, externalID ExternalChatId, title string) (ChatId, error) {
	var chatID int64
	err := s.pool.QueryRow(ctx, `SELECT chat_id FROM chat_external_ids WHERE channel=$1 AND external_id=$2`, channel, string(externalID)).Scan(&chatID)
	if err == nil {
		return ChatId(chatID), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("lookup chat: %w", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := tx.QueryRow(ctx, `INSERT INTO chats(chat_type, title) VALUES($1,$2) RETURNING chat_id`, chatType, title).Scan(&chatID); err != nil {
		return 0, fmt.Errorf("insert chat: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO chat_external_ids(chat_id, channel, external_id) VALUES($1,$2,$3)`, chatID, channel, string(externalID)); err != nil {
		return 0, fmt.Errorf("insert external id: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return ChatId(chatID), nil
}

func (s *PostgresStore) GetChat(ctx context.Context, chatID ChatId) (*Chat, error) {
	var c Chat
	c.ChatID = chatID
	err := s.pool.QueryRow(ctx, `SELECT chat_type, title FROM chats WHERE chat_id=$1`, int64(chatID)).Scan(&c.ChatType, &c.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	rows, err := s.pool.Query(ctx, `SELECT channel, external_id FROM chat_external_ids WHERE chat_id=$1`, int64(chatID))
	if err != nil {
		return nil, fmt.Errorf("list external ids: %w", err)
	}
	defer rows.Close()
	c.ExternalIDs = map[string]string{}
	for rows.Next() {
		var ch, ext string
		if err := rows.Scan(&ch, &ext); err != nil {
			return nil, err
		}
		c.ExternalIDs[ch] = ext
	}
	return &c, rows.Err()
}

func (s *PostgresStore) GetChatExternalID(ctx context.Context, chatID ChatId, channel string) (ExternalChatId, bool, error) {
	var ext string
	err := s.pool.QueryRow(ctx, `SELECT external_id FROM chat_external_ids WHERE chat_id=$1 AND channel=$2`, int64(chatID), channel).Scan(&ext)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get external id: %w", err)
	}
	return ExternalChatId(ext), true, nil
}

func (s *PostgresStore) ListChats(ctx context.Context, limit int) ([]ChatSummary, error) {
	query := `
SELECT c.chat_id, c.chat_type, c.title,
       (SELECT m.timestamp FROM messages m WHERE m.chat_id = c.chat_id ORDER BY m.id DESC LIMIT 1),
       COALESCE((SELECT m.content FROM messages m WHERE m.chat_id = c.chat_id ORDER BY m.id DESC LIMIT 1), '')
FROM chats c
ORDER BY c.chat_id DESC`
	args := []any{}
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []ChatSummary
	for rows.Next() {
		var (
			cs     ChatSummary
			chatID int64
			lastTS *time.Time
		)
		if err := rows.Scan(&chatID, &cs.ChatType, &cs.Title, &lastTS, &cs.LastMessagePreview); err != nil {
			return nil, fmt.Errorf("scan chat summary: %w", err)
		}
		cs.ChatID = ChatId(chatID)
		if lastTS != nil {
			cs.LastMessageTime = *lastTS
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *PostgresStore) StoreMessage(ctx context.Context, msg StoredMessage) (int64, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	var id int64
	err := s.pool.QueryRow(ctx, `INSERT INTO messages(chat_id, sender_name, content, is_from_bot, timestamp) VALUES($1,$2,$3,$4,$5) RETURNING id`,
		int64(msg.ChatID), msg.SenderName, msg.Content, msg.IsFromBot, msg.Timestamp).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store message: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) scanMessages(rows pgx.Rows) ([]StoredMessage, error) {
	defer rows.Close()
	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var chatID int64
		if err := rows.Scan(&m.ID, &chatID, &m.SenderName, &m.Content, &m.IsFromBot, &m.Timestamp); err != nil {
			return nil, err
		}
		m.ChatID = ChatId(chatID)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetAllMessages(ctx context.Context, chatID ChatId) ([]StoredMessage, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, chat_id, sender_name, content, is_from_bot, timestamp FROM messages WHERE chat_id=$1 ORDER BY timestamp ASC, id ASC`, int64(chatID))
	if err != nil {
		return nil, fmt.Errorf("get all messages: %w", err)
	}
	return s.scanMessages(rows)
}

func (s *PostgresStore) GetRecentMessages(ctx context.Context, chatID ChatId, limit int) ([]StoredMessage, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, chat_id, sender_name, content, is_from_bot, timestamp FROM (
		SELECT id, chat_id, sender_name, content, is_from_bot, timestamp FROM messages WHERE chat_id=$1 ORDER BY timestamp DESC, id DESC LIMIT $2
	) sub ORDER BY timestamp ASC, id ASC`, int64(chatID), limit)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	return s.scanMessages(rows)
}

func (s *PostgresStore) GetNewUserMessagesSince(ctx context.Context, chatID ChatId, since time.Time) ([]StoredMessage, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, chat_id, sender_name, content, is_from_bot, timestamp FROM messages WHERE chat_id=$1 AND is_from_bot=FALSE AND timestamp>$2 ORDER BY timestamp ASC, id ASC`,
		int64(chatID), since)
	if err != nil {
		return nil, fmt.Errorf("get new user messages: %w", err)
	}
	return s.scanMessages(rows)
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess Session) error {
	b, err := json.Marshal(sess.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO sessions(chat_id, trace_json, updated_at) VALUES($1,$2,$3)
		ON CONFLICT(chat_id) DO UPDATE SET trace_json=excluded.trace_json, updated_at=excluded.updated_at`,
		int64(sess.ChatID), b, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadSession(ctx context.Context, chatID ChatId) (*Session, bool, error) {
	var traceJSON []byte
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT trace_json, updated_at FROM sessions WHERE chat_id=$1`, int64(chatID)).Scan(&traceJSON, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load session: %w", err)
	}
	var trace []providers.Message
	if err := json.Unmarshal(traceJSON, &trace); err != nil {
		return nil, false, fmt.Errorf("unmarshal trace: %w", err)
	}
	return &Session{ChatID: chatID, Trace: trace, UpdatedAt: updatedAt}, true, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, chatID ChatId) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE chat_id=$1`, int64(chatID))
	return err
}

func (s *PostgresStore) DeleteChatData(ctx context.Context, chatID ChatId) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, stmt := range []string{
		`DELETE FROM messages WHERE chat_id=$1`,
		`DELETE FROM sessions WHERE chat_id=$1`,
		`DELETE FROM todos WHERE chat_id=$1`,
	} {
		if _, err := tx.Exec(ctx, stmt, int64(chatID)); err != nil {
			return fmt.Errorf("delete chat data: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetTodoList(ctx context.Context, chatID ChatId) ([]TodoItem, error) {
	var itemsJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT items_json FROM todos WHERE chat_id=$1`, int64(chatID)).Scan(&itemsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get todo list: %w", err)
	}
	var items []TodoItem
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return nil, fmt.Errorf("unmarshal todos: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SaveTodoList(ctx context.Context, chatID ChatId, items []TodoItem) error {
	b, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal todos: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO todos(chat_id, items_json) VALUES($1,$2)
		ON CONFLICT(chat_id) DO UPDATE SET items_json=excluded.items_json`, int64(chatID), b)
	return err
}

func (s *PostgresStore) CreateScheduledTask(ctx context.Context, task ScheduledTask) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `INSERT INTO scheduled_tasks(chat_id, prompt, schedule_kind, schedule_value, timezone, next_run, status) VALUES($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		int64(task.ChatID), task.Prompt, string(task.ScheduleKind), task.ScheduleValue, task.Timezone, task.NextRun, string(task.Status)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create scheduled task: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, taskID int64, status TaskStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE scheduled_tasks SET status=$1 WHERE id=$2`, string(status), taskID)
	return err
}

func (s *PostgresStore) UpdateTaskNextRun(ctx context.Context, taskID int64, nextRun time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE scheduled_tasks SET next_run=$1 WHERE id=$2`, nextRun, taskID)
	return err
}

func (s *PostgresStore) scanTasks(rows pgx.Rows) ([]ScheduledTask, error) {
	defer rows.Close()
	var out []ScheduledTask
	for rows.Next() {
		var t ScheduledTask
		var chatID int64
		if err := rows.Scan(&t.ID, &chatID, &t.Prompt, &t.ScheduleKind, &t.ScheduleValue, &t.Timezone, &t.NextRun, &t.Status); err != nil {
			return nil, err
		}
		t.ChatID = ChatId(chatID)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTasksForChat(ctx context.Context, chatID ChatId) ([]ScheduledTask, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, chat_id, prompt, schedule_kind, schedule_value, timezone, next_run, status FROM scheduled_tasks WHERE chat_id=$1 ORDER BY id`, int64(chatID))
	if err != nil {
		return nil, fmt.Errorf("get tasks for chat: %w", err)
	}
	return s.scanTasks(rows)
}

func (s *PostgresStore) GetDueTasks(ctx context.Context, now time.Time) ([]ScheduledTask, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, chat_id, prompt, schedule_kind, schedule_value, timezone, next_run, status FROM scheduled_tasks WHERE status='active' AND next_run<=$1 ORDER BY next_run, id`, now)
	if err != nil {
		return nil, fmt.Errorf("get due tasks: %w", err)
	}
	return s.scanTasks(rows)
}

func (s *PostgresStore) AppendTaskRunLog(ctx context.Context, log TaskRunLog) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO task_run_logs(task_id, started_at, finished_at, duration_ms, success, summary) VALUES($1,$2,$3,$4,$5,$6)`,
		log.TaskID, log.StartedAt, log.FinishedAt, log.DurationMS, log.Success, log.Summary)
	return err
}

func (s *PostgresStore) GetTaskHistory(ctx context.Context, taskID int64, limit int) ([]TaskRunLog, error) {
	rows, err := s.pool.Query(ctx, `SELECT task_id, started_at, finished_at, duration_ms, success, summary FROM task_run_logs WHERE task_id=$1 ORDER BY started_at DESC LIMIT $2`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("get task history: %w", err)
	}
	defer rows.Close()
	var out []TaskRunLog
	for rows.Next() {
		var l TaskRunLog
		if err := rows.Scan(&l.TaskID, &l.StartedAt, &l.FinishedAt, &l.DurationMS, &l.Success, &l.Summary); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendAuditEvent(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO audit_events(actor_kind, actor_id, action, target, status, detail, timestamp) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		event.ActorKind, event.ActorID, event.Action, event.Target, event.Status, event.Detail, event.Timestamp)
	return err
}

func (s *PostgresStore) AppendLlmUsage(ctx context.Context, usage LlmUsage) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO llm_usage(chat_id, caller_channel, provider, model, input_tokens, output_tokens, context, timestamp) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		int64(usage.ChatID), usage.CallerChannel, usage.Provider, usage.Model, usage.InputTokens, usage.OutputTokens, usage.Context, time.Now().UTC())
	return err
}

func (s *PostgresStore) GetUsageSummary(ctx context.Context, chatID ChatId) (UsageSummary, error) {
	var sum UsageSummary
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0), COUNT(*) FROM llm_usage WHERE chat_id=$1`, int64(chatID)).
		Scan(&sum.InputTokens, &sum.OutputTokens, &sum.CallCount)
	if err != nil {
		return sum, fmt.Errorf("get usage summary: %w", err)
	}
	return sum, nil
}

func (s *PostgresStore) GetAuthPasswordHash(ctx context.Context) (string, bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `SELECT password_hash FROM auth WHERE id=1`).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get auth hash: %w", err)
	}
	return hash, true, nil
}

func (s *PostgresStore) SetAuthPasswordHash(ctx context.Context, hash string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO auth(id, password_hash) VALUES(1,$1)
		ON CONFLICT(id) DO UPDATE SET password_hash=excluded.password_hash`, hash)
	return err
}
