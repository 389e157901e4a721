package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/0x7f/microclaw/internal/providers"
	"github.com/0x7f/microclaw/internal/scheduler"
	"github.com/0x7f/microclaw/internal/store"
)

// ScheduleTaskTool enqueues a ScheduledTask row: a 6-field cron expression or
// an RFC3339 one-shot timestamp (4.B).
type ScheduleTaskTool struct{ store store.Facade }

func NewScheduleTaskTool(s store.Facade) *ScheduleTaskTool { return &ScheduleTaskTool{store: s} }

func (t *ScheduleTaskTool) Name() string { return "schedule_task" }
func (t *ScheduleTaskTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "schedule_task",
		Description: "Schedule a recurring (cron) or one-shot prompt invocation for a chat.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"chat_id":        map[string]interface{}{"type": "string"},
				"prompt":         map[string]interface{}{"type": "string"},
				"schedule_kind":  map[string]interface{}{"type": "string", "enum": []string{"cron", "once"}},
				"schedule_value": map[string]interface{}{"type": "string"},
				"timezone":       map[string]interface{}{"type": "string"},
			},
			"required": []string{"chat_id", "prompt", "schedule_kind", "schedule_value"},
		},
	}
}
func (t *ScheduleTaskTool) Risk() RiskLevel                  { return RiskMedium }
func (t *ScheduleTaskTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type scheduleTaskInput struct {
	ChatID        string `json:"chat_id"`
	Prompt        string `json:"prompt"`
	ScheduleKind  string `json:"schedule_kind"`
	ScheduleValue string `json:"schedule_value"`
	Timezone      string `json:"timezone"`
}

func (t *ScheduleTaskTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in scheduleTaskInput
	if err := json.Unmarshal(input, &in); err != nil || in.ChatID == "" || in.Prompt == "" {
		return Err("chat_id and prompt are required")
	}
	if !auth.CanTarget(in.ChatID) {
		return Denied(fmt.Sprintf("not permitted to schedule for chat %q", in.ChatID))
	}
	chatID, err := parseChatID(in.ChatID)
	if err != nil {
		return Err(err.Error())
	}

	kind := store.ScheduleKind(in.ScheduleKind)
	var nextRun time.Time
	switch kind {
	case store.ScheduleCron:
		nextRun, err = scheduler.ComputeNextRun(in.ScheduleValue, in.Timezone, time.Now().UTC())
		if err != nil {
			return Err(err.Error())
		}
	case store.ScheduleOnce:
		nextRun, err = time.Parse(time.RFC3339, in.ScheduleValue)
		if err != nil {
			return Err(fmt.Sprintf("schedule_task: invalid one-shot timestamp: %v", err))
		}
	default:
		return Err("schedule_kind must be cron or once")
	}

	id, err := t.store.CreateScheduledTask(ctx, store.ScheduledTask{
		ChatID:        chatID,
		Prompt:        in.Prompt,
		ScheduleKind:  kind,
		ScheduleValue: in.ScheduleValue,
		Timezone:      in.Timezone,
		NextRun:       nextRun,
		Status:        store.TaskActive,
	})
	if err != nil {
		return Err(fmt.Sprintf("schedule_task: %v", err))
	}
	return Ok(fmt.Sprintf("scheduled task %d, next run %s", id, nextRun.Format(time.RFC3339)))
}

// ScheduleListTool lists the scheduled tasks for a chat.
type ScheduleListTool struct{ store store.Facade }

func NewScheduleListTool(s store.Facade) *ScheduleListTool { return &ScheduleListTool{store: s} }

func (t *ScheduleListTool) Name() string { return "schedule_list" }
func (t *ScheduleListTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "schedule_list",
		Description: "List scheduled tasks for a chat.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"chat_id": map[string]interface{}{"type": "string"}},
			"required":   []string{"chat_id"},
		},
	}
}
func (t *ScheduleListTool) Risk() RiskLevel                  { return RiskLow }
func (t *ScheduleListTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type scheduleChatInput struct {
	ChatID string `json:"chat_id"`
}

func (t *ScheduleListTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in scheduleChatInput
	if err := json.Unmarshal(input, &in); err != nil || in.ChatID == "" {
		return Err("chat_id is required")
	}
	if !auth.CanTarget(in.ChatID) {
		return Denied(fmt.Sprintf("not permitted to list tasks for chat %q", in.ChatID))
	}
	chatID, err := parseChatID(in.ChatID)
	if err != nil {
		return Err(err.Error())
	}
	tasks, err := t.store.GetTasksForChat(ctx, chatID)
	if err != nil {
		return Err(fmt.Sprintf("schedule_list: %v", err))
	}
	if len(tasks) == 0 {
		return Ok("no scheduled tasks")
	}
	var b strings.Builder
	for _, task := range tasks {
		fmt.Fprintf(&b, "#%d [%s] %s next_run=%s status=%s\n",
			task.ID, task.ScheduleKind, task.Prompt, task.NextRun.Format(time.RFC3339), task.Status)
	}
	return Ok(strings.TrimSpace(b.String()))
}

// scheduleStatusTool implements pause/resume/cancel, which differ only in the
// target TaskStatus they apply.
type scheduleStatusTool struct {
	store      store.Facade
	name       string
	targetStat store.TaskStatus
}

func NewSchedulePauseTool(s store.Facade) Tool {
	return &scheduleStatusTool{store: s, name: "schedule_pause", targetStat: store.TaskPaused}
}
func NewScheduleResumeTool(s store.Facade) Tool {
	return &scheduleStatusTool{store: s, name: "schedule_resume", targetStat: store.TaskActive}
}
func NewScheduleCancelTool(s store.Facade) Tool {
	return &scheduleStatusTool{store: s, name: "schedule_cancel", targetStat: store.TaskCancelled}
}

func (t *scheduleStatusTool) Name() string { return t.name }
func (t *scheduleStatusTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        t.name,
		Description: fmt.Sprintf("Set a scheduled task's status to %s.", t.targetStat),
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"task_id": map[string]interface{}{"type": "integer"}},
			"required":   []string{"task_id"},
		},
	}
}
func (t *scheduleStatusTool) Risk() RiskLevel                  { return RiskMedium }
func (t *scheduleStatusTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type taskIDInput struct {
	TaskID int64 `json:"task_id"`
}

func (t *scheduleStatusTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in taskIDInput
	if err := json.Unmarshal(input, &in); err != nil || in.TaskID == 0 {
		return Err("task_id is required")
	}
	if err := t.store.UpdateTaskStatus(ctx, in.TaskID, t.targetStat); err != nil {
		return Err(fmt.Sprintf("%s: %v", t.name, err))
	}
	return Ok(fmt.Sprintf("task %d set to %s", in.TaskID, t.targetStat))
}

// ScheduleHistoryTool returns the recent TaskRunLog entries for a task.
type ScheduleHistoryTool struct{ store store.Facade }

func NewScheduleHistoryTool(s store.Facade) *ScheduleHistoryTool {
	return &ScheduleHistoryTool{store: s}
}

func (t *ScheduleHistoryTool) Name() string { return "schedule_history" }
func (t *ScheduleHistoryTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "schedule_history",
		Description: "Show recent run history for a scheduled task.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"task_id": map[string]interface{}{"type": "integer"},
				"limit":   map[string]interface{}{"type": "integer"},
			},
			"required": []string{"task_id"},
		},
	}
}
func (t *ScheduleHistoryTool) Risk() RiskLevel                  { return RiskLow }
func (t *ScheduleHistoryTool) ExecutionPolicy() ExecutionPolicy { return ExecHostOnly }

type scheduleHistoryInput struct {
	TaskID int64 `json:"task_id"`
	Limit  int   `json:"limit"`
}

func (t *ScheduleHistoryTool) Execute(ctx context.Context, input []byte, auth AuthContext) *Result {
	var in scheduleHistoryInput
	if err := json.Unmarshal(input, &in); err != nil || in.TaskID == 0 {
		return Err("task_id is required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	logs, err := t.store.GetTaskHistory(ctx, in.TaskID, limit)
	if err != nil {
		return Err(fmt.Sprintf("schedule_history: %v", err))
	}
	if len(logs) == 0 {
		return Ok("no run history")
	}
	var b strings.Builder
	for _, l := range logs {
		status := "ok"
		if !l.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "%s duration=%dms %s: %s\n", l.StartedAt.Format(time.RFC3339), l.DurationMS, status, l.Summary)
	}
	return Ok(strings.TrimSpace(b.String()))
}

func parseChatID(s string) (store.ChatId, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat_id %q", s)
	}
	return store.ChatId(n), nil
}
