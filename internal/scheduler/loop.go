package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/0x7f/microclaw/internal/store"
)

const tickInterval = 1 * time.Second

// AgentRunner drives the agent engine for one scheduled invocation and delivers
// the result through the channel layer (4.D), returning a short summary for
// the TaskRunLog.
type AgentRunner interface {
	RunScheduled(ctx context.Context, chatID store.ChatId, overridePrompt string) (summary string, err error)
}

// Scheduler is the single background task that fires due ScheduledTasks (4.H).
type Scheduler struct {
	store  store.Facade
	runner AgentRunner
}

func New(s store.Facade, runner AgentRunner) *Scheduler {
	return &Scheduler{store: s, runner: runner}
}

// Run blocks, ticking every second until ctx is cancelled. Each tick drives
// every due task; one task's failure never stops the loop or other tasks.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	due, err := s.store.GetDueTasks(ctx, now)
	if err != nil {
		slog.Error("scheduler: failed to load due tasks", "error", err)
		return
	}
	for _, task := range due {
		s.fire(ctx, task, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, task store.ScheduledTask, startedAt time.Time) {
	summary, runErr := s.runner.RunScheduled(ctx, task.ChatID, task.Prompt)
	finishedAt := time.Now().UTC()

	logEntry := store.TaskRunLog{
		TaskID:     task.ID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		DurationMS: finishedAt.Sub(startedAt).Milliseconds(),
		Success:    runErr == nil,
		Summary:    summary,
	}
	if runErr != nil {
		logEntry.Summary = runErr.Error()
		slog.Error("scheduler: task run failed", "task_id", task.ID, "error", runErr)
	}
	if err := s.store.AppendTaskRunLog(ctx, logEntry); err != nil {
		slog.Error("scheduler: failed to append task run log", "task_id", task.ID, "error", err)
	}

	if task.ScheduleKind == store.ScheduleCron {
		next, err := ComputeNextRun(task.ScheduleValue, task.Timezone, finishedAt)
		if err != nil {
			slog.Error("scheduler: failed to compute next run", "task_id", task.ID, "error", err)
			return
		}
		if err := s.store.UpdateTaskNextRun(ctx, task.ID, next); err != nil {
			slog.Error("scheduler: failed to update next run", "task_id", task.ID, "error", err)
		}
		return
	}
	if err := s.store.UpdateTaskStatus(ctx, task.ID, store.TaskCancelled); err != nil {
		slog.Error("scheduler: failed to cancel one-shot task", "task_id", task.ID, "error", err)
	}
}
