package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/0x7f/microclaw/internal/providers"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chats (
	chat_id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS chat_external_ids (
	chat_id INTEGER NOT NULL,
	channel TEXT NOT NULL,
	external_id TEXT NOT NULL,
	PRIMARY KEY (chat_id, channel)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_external_ids_lookup ON chat_external_ids(channel, external_id);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id INTEGER NOT NULL,
	sender_name TEXT NOT NULL,
	content TEXT NOT NULL,
	is_from_bot INTEGER NOT NULL DEFAULT 0,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, timestamp, id);
CREATE TABLE IF NOT EXISTS sessions (
	chat_id INTEGER PRIMARY KEY,
	trace_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS todos (
	chat_id INTEGER PRIMARY KEY,
	items_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id INTEGER NOT NULL,
	prompt TEXT NOT NULL,
	schedule_kind TEXT NOT NULL,
	schedule_value TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT '',
	next_run TEXT NOT NULL,
	status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due ON scheduled_tasks(status, next_run);
CREATE TABLE IF NOT EXISTS task_run_logs (
	task_id INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	success INTEGER NOT NULL,
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
	timestamp TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS llm_usage (
	chat_id INTEGER NOT NULL,
	caller_channel TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_llm_usage_chat ON llm_usage(chat_id);
CREATE TABLE IF NOT EXISTS auth (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	password_hash TEXT NOT NULL
);
`

// SQLiteStore is the default embedded backend, backed by the pure-Go
// modernc.org/sqlite driver (no cgo, so the binary stays a single static artifact).
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if absent) a sqlite database at path and applies schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite serializes writers anyway; avoid SQLITE_BUSY churn
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) ResolveOrCreateChatID(ctx context.Context, chatType, channel string, externalID ExternalChatId, title string) (ChatId, error) {
	var chatID int64
	err := s.db.QueryRowContext(ctx, `SELECT chat_id FROM chat_external_ids WHERE channel=? AND external_id=?`, channel, string(externalID)).Scan(&chatID)
	if err == nil {
		return ChatId(chatID), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup chat: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `INSERT INTO chats(chat_type, title) VALUES(?, ?)`, chatType, title)
	if err != nil {
		return 0, fmt.Errorf("insert chat: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO chat_external_ids(chat_id, channel, external_id) VALUES(?, ?, ?)`, newID, channel, string(externalID)); err != nil {
		return 0, fmt.Errorf("insert external id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return ChatId(newID), nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, chatID ChatId) (*Chat, error) {
	var c Chat
	c.ChatID = chatID
	err := s.db.QueryRowContext(ctx, `SELECT chat_type, title FROM chats WHERE chat_id=?`, int64(chatID)).Scan(&c.ChatType, &c.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT channel, external_id FROM chat_external_ids WHERE chat_id=?`, int64(chatID))
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
	return &c, nil
}

func (s *SQLiteStore) GetChatExternalID(ctx context.Context, chatID ChatId, channel string) (ExternalChatId, bool, error) {
	var ext string
	err := s.db.QueryRowContext(ctx, `SELECT external_id FROM chat_external_ids WHERE chat_id=? AND channel=?`, int64(chatID), channel).Scan(&ext)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get external id: %w", err)
	}
	return ExternalChatId(ext), true, nil
}

func (s *SQLiteStore) ListChats(ctx context.Context, limit int) ([]ChatSummary, error) {
	query := `
SELECT c.chat_id, c.chat_type, c.title,
       COALESCE((SELECT m.timestamp FROM messages m WHERE m.chat_id = c.chat_id ORDER BY m.id DESC LIMIT 1), ''),
       COALESCE((SELECT m.content FROM messages m WHERE m.chat_id = c.chat_id ORDER BY m.id DESC LIMIT 1), '')
FROM chats c
ORDER BY c.chat_id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []ChatSummary
	for rows.Next() {
		var (
			cs       ChatSummary
			chatID   int64
			lastTS   string
			lastText string
		)
		if err := rows.Scan(&chatID, &cs.ChatType, &cs.Title, &lastTS, &lastText); err != nil {
			return nil, fmt.Errorf("scan chat summary: %w", err)
		}
		cs.ChatID = ChatId(chatID)
		cs.LastMessagePreview = lastText
		if lastTS != "" {
			if t, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
				cs.LastMessageTime = t
			}
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chats rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) StoreMessage(ctx context.Context, msg StoredMessage) (int64, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO messages(chat_id, sender_name, content, is_from_bot, timestamp) VALUES(?,?,?,?,?)`,
		int64(msg.ChatID), msg.SenderName, msg.Content, boolToInt(msg.IsFromBot), msg.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("store message: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) scanMessages(rows *sql.Rows) ([]StoredMessage, error) {
	defer rows.Close()
	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var chatID int64
		var isBot int
		var ts string
		if err := rows.Scan(&m.ID, &chatID, &m.SenderName, &m.Content, &isBot, &ts); err != nil {
			return nil, err
		}
		m.ChatID = ChatId(chatID)
		m.IsFromBot = isBot != 0
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetAllMessages(ctx context.Context, chatID ChatId) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, chat_id, sender_name, content, is_from_bot, timestamp FROM messages WHERE chat_id=? ORDER BY timestamp ASC, id ASC`, int64(chatID))
	if err != nil {
		return nil, fmt.Errorf("get all messages: %w", err)
	}
	return s.scanMessages(rows)
}

func (s *SQLiteStore) GetRecentMessages(ctx context.Context, chatID ChatId, limit int) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, chat_id, sender_name, content, is_from_bot, timestamp FROM (
		SELECT id, chat_id, sender_name, content, is_from_bot, timestamp FROM messages WHERE chat_id=? ORDER BY timestamp DESC, id DESC LIMIT ?
	) sub ORDER BY timestamp ASC, id ASC`, int64(chatID), limit)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	return s.scanMessages(rows)
}

func (s *SQLiteStore) GetNewUserMessagesSince(ctx context.Context, chatID ChatId, since time.Time) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, chat_id, sender_name, content, is_from_bot, timestamp FROM messages WHERE chat_id=? AND is_from_bot=0 AND timestamp>? ORDER BY timestamp ASC, id ASC`,
		int64(chatID), since.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("get new user messages: %w", err)
	}
	return s.scanMessages(rows)
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess Session) error {
	b, err := json.Marshal(sess.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions(chat_id, trace_json, updated_at) VALUES(?,?,?)
		ON CONFLICT(chat_id) DO UPDATE SET trace_json=excluded.trace_json, updated_at=excluded.updated_at`,
		int64(sess.ChatID), string(b), sess.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSession(ctx context.Context, chatID ChatId) (*Session, bool, error) {
	var traceJSON, updatedAt string
	err := s.db.QueryRowContext(ctx, `SELECT trace_json, updated_at FROM sessions WHERE chat_id=?`, int64(chatID)).Scan(&traceJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load session: %w", err)
	}
	var trace []providers.Message
	if err := json.Unmarshal([]byte(traceJSON), &trace); err != nil {
		return nil, false, fmt.Errorf("unmarshal trace: %w", err)
	}
	ts, _ := time.Parse(time.RFC3339Nano, updatedAt)
	return &Session{ChatID: chatID, Trace: trace, UpdatedAt: ts}, true, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, chatID ChatId) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE chat_id=?`, int64(chatID))
	return err
}

func (s *SQLiteStore) DeleteChatData(ctx context.Context, chatID ChatId) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM messages WHERE chat_id=?`,
		`DELETE FROM sessions WHERE chat_id=?`,
		`DELETE FROM todos WHERE chat_id=?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, int64(chatID)); err != nil {
			return fmt.Errorf("delete chat data: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetTodoList(ctx context.Context, chatID ChatId) ([]TodoItem, error) {
	var itemsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT items_json FROM todos WHERE chat_id=?`, int64(chatID)).Scan(&itemsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get todo list: %w", err)
	}
	var items []TodoItem
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return nil, fmt.Errorf("unmarshal todos: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) SaveTodoList(ctx context.Context, chatID ChatId, items []TodoItem) error {
	b, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal todos: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO todos(chat_id, items_json) VALUES(?,?)
		ON CONFLICT(chat_id) DO UPDATE SET items_json=excluded.items_json`, int64(chatID), string(b))
	return err
}

func (s *SQLiteStore) CreateScheduledTask(ctx context.Context, task ScheduledTask) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO scheduled_tasks(chat_id, prompt, schedule_kind, schedule_value, timezone, next_run, status) VALUES(?,?,?,?,?,?,?)`,
		int64(task.ChatID), task.Prompt, string(task.ScheduleKind), task.ScheduleValue, task.Timezone, task.NextRun.Format(time.RFC3339Nano), string(task.Status))
	if err != nil {
		return 0, fmt.Errorf("create scheduled task: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, taskID int64, status TaskStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET status=? WHERE id=?`, string(status), taskID)
	return err
}

func (s *SQLiteStore) UpdateTaskNextRun(ctx context.Context, taskID int64, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET next_run=? WHERE id=?`, nextRun.Format(time.RFC3339Nano), taskID)
	return err
}

func (s *SQLiteStore) scanTasks(rows *sql.Rows) ([]ScheduledTask, error) {
	defer rows.Close()
	var out []ScheduledTask
	for rows.Next() {
		var t ScheduledTask
		var chatID int64
		var nextRun string
		if err := rows.Scan(&t.ID, &chatID, &t.Prompt, &t.ScheduleKind, &t.ScheduleValue, &t.Timezone, &nextRun, &t.Status); err != nil {
			return nil, err
		}
		t.ChatID = ChatId(chatID)
		t.NextRun, _ = time.Parse(time.RFC3339Nano, nextRun)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetTasksForChat(ctx context.Context, chatID ChatId) ([]ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, chat_id, prompt, schedule_kind, schedule_value, timezone, next_run, status FROM scheduled_tasks WHERE chat_id=? ORDER BY id`, int64(chatID))
	if err != nil {
		return nil, fmt.Errorf("get tasks for chat: %w", err)
	}
	return s.scanTasks(rows)
}

func (s *SQLiteStore) GetDueTasks(ctx context.Context, now time.Time) ([]ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, chat_id, prompt, schedule_kind, schedule_value, timezone, next_run, status FROM scheduled_tasks WHERE status='active' AND next_run<=? ORDER BY next_run, id`, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("get due tasks: %w", err)
	}
	return s.scanTasks(rows)
}

func (s *SQLiteStore) AppendTaskRunLog(ctx context.Context, log TaskRunLog) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_run_logs(task_id, started_at, finished_at, duration_ms, success, summary) VALUES(?,?,?,?,?,?)`,
		log.TaskID, log.StartedAt.Format(time.RFC3339Nano), log.FinishedAt.Format(time.RFC3339Nano), log.DurationMS, boolToInt(log.Success), log.Summary)
	return err
}

func (s *SQLiteStore) GetTaskHistory(ctx context.Context, taskID int64, limit int) ([]TaskRunLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, started_at, finished_at, duration_ms, success, summary FROM task_run_logs WHERE task_id=? ORDER BY started_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("get task history: %w", err)
	}
	defer rows.Close()
	var out []TaskRunLog
	for rows.Next() {
		var l TaskRunLog
		var started, finished string
		var success int
		if err := rows.Scan(&l.TaskID, &started, &finished, &l.DurationMS, &success, &l.Summary); err != nil {
			return nil, err
		}
		l.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		l.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		l.Success = success != 0
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendAuditEvent(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_events(actor_kind, actor_id, action, target, status, detail, timestamp) VALUES(?,?,?,?,?,?,?)`,
		event.ActorKind, event.ActorID, event.Action, event.Target, event.Status, event.Detail, event.Timestamp.Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) AppendLlmUsage(ctx context.Context, usage LlmUsage) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO llm_usage(chat_id, caller_channel, provider, model, input_tokens, output_tokens, context, timestamp) VALUES(?,?,?,?,?,?,?,?)`,
		int64(usage.ChatID), usage.CallerChannel, usage.Provider, usage.Model, usage.InputTokens, usage.OutputTokens, usage.Context, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) GetUsageSummary(ctx context.Context, chatID ChatId) (UsageSummary, error) {
	var sum UsageSummary
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0), COUNT(*) FROM llm_usage WHERE chat_id=?`, int64(chatID)).
		Scan(&sum.InputTokens, &sum.OutputTokens, &sum.CallCount)
	if err != nil {
		return sum, fmt.Errorf("get usage summary: %w", err)
	}
	return sum, nil
}

func (s *SQLiteStore) GetAuthPasswordHash(ctx context.Context) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM auth WHERE id=1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get auth hash: %w", err)
	}
	return hash, true, nil
}

func (s *SQLiteStore) SetAuthPasswordHash(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO auth(id, password_hash) VALUES(1,?)
		ON CONFLICT(id) DO UPDATE SET password_hash=excluded.password_hash`, hash)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
