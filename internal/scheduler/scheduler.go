// Package scheduler drives recurring, interval, and one-shot tasks
// (including the per-group heartbeat convention) by submitting jobs to
// the dispatch queue on their due tick and recomputing the next run once
// the dispatcher reports completion.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/nanoclaw/internal/cron"
	"github.com/nextlevelbuilder/nanoclaw/internal/dispatch"
	"github.com/nextlevelbuilder/nanoclaw/internal/store"
)

// tickInterval is the scheduler's wake-up cadence.
const tickInterval = 10 * time.Second

// heartbeatOKLimit is the max length of a heartbeat reply that still
// counts as a suppressible "all clear" signal.
const heartbeatOKLimit = 300

// Scheduler polls the store for due tasks and submits one dispatch job
// per tick. A due task whose previous run hasn't completed yet is skipped
// until OnTaskComplete reports it finished, so it is never double-queued.
type Scheduler struct {
	Store   store.MessageStore
	Queue   *dispatch.Dispatcher
	Clock   store.Clock
	Checker HeartbeatChecklist
	TZ      *time.Location

	// TickEvery overrides tickInterval in tests.
	TickEvery time.Duration

	mu      sync.Mutex
	pending map[string]bool // taskID -> awaiting OnTaskComplete
}

// HeartbeatChecklist reports whether a heartbeat task's checklist file is
// semantically empty (no non-header, non-comment, non-whitespace content)
// for the given workspace folder. A nil Checker treats every checklist as
// non-empty, i.e. heartbeats always run.
type HeartbeatChecklist interface {
	IsEmpty(folder string) bool
}

func (s *Scheduler) tickEvery() time.Duration {
	if s.TickEvery > 0 {
		return s.TickEvery
	}
	return tickInterval
}

// Run blocks, ticking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.Clock.Now().UnixMilli()
	due, err := s.Store.DueTasks(ctx, now)
	if err != nil {
		slog.Warn("scheduler: DueTasks failed", "error", err)
		return
	}

	for _, t := range due {
		s.runOne(ctx, t, now)
	}
}

func (s *Scheduler) markPending(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = make(map[string]bool)
	}
	if s.pending[taskID] {
		return false
	}
	s.pending[taskID] = true
	return true
}

func (s *Scheduler) clearPending(taskID string) {
	s.mu.Lock()
	delete(s.pending, taskID)
	s.mu.Unlock()
}

func (s *Scheduler) runOne(ctx context.Context, t store.Task, now int64) {
	if !s.markPending(t.TaskID) {
		return // previous run still in flight; keep nextRunAt as-is
	}

	if t.IsHeartbeat() && s.Checker != nil && s.Checker.IsEmpty(t.WorkspaceFolder) {
		s.clearPending(t.TaskID)
		s.advance(ctx, t, now, now, store.TaskActive, "Skipped: empty")
		return
	}

	s.Queue.Submit(dispatch.Job{
		GroupKey:    t.WorkspaceFolder,
		ChatAddress: t.ChatAddress,
		Kind:        dispatch.KindTask,
		TaskID:      t.TaskID,
		Prompt:      t.Prompt,
		ContextMode: t.ContextMode,
	})
}

// OnTaskComplete is invoked by whatever drives the dispatcher's RunFunc
// once a KindTask job for taskID finishes (success or failure), so the
// scheduler can compute the next run off the task's original schedule and
// release the in-flight guard that kept it from being resubmitted.
//
// Heartbeat replies that reduce to the bare token HEARTBEAT_OK (ignoring
// punctuation/whitespace) and are under heartbeatOKLimit characters are
// not meant to reach the chat; shouldForward reports whether the caller
// should still forward lastResult to the originating channel.
func (s *Scheduler) OnTaskComplete(ctx context.Context, t store.Task, lastResult string) (shouldForward bool) {
	defer s.clearPending(t.TaskID)

	now := s.Clock.Now().UnixMilli()
	// The run that just finished was the one due at t.NextRunAt; that slot
	// is its lastRunAt, so interval tasks keep their fixed cadence.
	lastRunAt := t.NextRunAt
	if lastRunAt <= 0 {
		lastRunAt = now
	}
	s.advance(ctx, t, lastRunAt, now, store.TaskActive, lastResult)

	if t.IsHeartbeat() && isHeartbeatOK(lastResult) {
		return false
	}
	return true
}

func (s *Scheduler) advance(ctx context.Context, t store.Task, lastRunAt, now int64, status store.TaskStatus, lastResult string) {
	// Interval tasks recur lastRunAt+interval, not now+interval, so a late
	// tick doesn't push every later run out by the same lag. Cron and once
	// schedules are anchored to now since they're wall-clock targets, not
	// offsets.
	base := now
	if t.ScheduleType == store.ScheduleInterval {
		base = lastRunAt
	}
	next, err := cron.Next(cron.ScheduleType(t.ScheduleType), t.ScheduleValue, s.TZ, base)
	if err != nil {
		slog.Error("scheduler: compute next run failed", "task", t.TaskID, "error", err)
		return
	}
	if t.ScheduleType == store.ScheduleOnce {
		status = store.TaskCompleted
		next = 0
	}
	if err := s.Store.AdvanceTaskAfterRun(ctx, t.TaskID, lastRunAt, next, status, lastResult); err != nil {
		slog.Warn("scheduler: advance task failed", "task", t.TaskID, "error", err)
	}
}

// isHeartbeatOK reports whether text, stripped of punctuation and
// whitespace, reduces to HEARTBEAT_OK and is short enough to count as a
// low-noise all-clear rather than genuine content.
func isHeartbeatOK(text string) bool {
	if len(text) > heartbeatOKLimit {
		return false
	}
	var stripped []rune
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			stripped = append(stripped, r)
		}
	}
	return strings.EqualFold(string(stripped), "HEARTBEATOK")
}

// ScheduleTask validates a new task's schedule, computes its first run,
// and persists it. Satisfies ipc.TaskScheduler.
func (s *Scheduler) ScheduleTask(ctx context.Context, t store.Task) (string, error) {
	if err := cron.Validate(cron.ScheduleType(t.ScheduleType), t.ScheduleValue); err != nil {
		return "", err
	}

	if t.TaskID == "" {
		t.TaskID = uuid.NewString()
	}

	now := s.Clock.Now().UnixMilli()
	next, err := cron.Next(cron.ScheduleType(t.ScheduleType), t.ScheduleValue, s.TZ, now)
	if err != nil {
		return "", err
	}
	t.NextRunAt = next
	if t.Status == "" {
		t.Status = store.TaskActive
	}

	if err := s.Store.CreateTask(ctx, t); err != nil {
		return "", err
	}
	return t.TaskID, nil
}

// PauseTask satisfies ipc.TaskScheduler.
func (s *Scheduler) PauseTask(ctx context.Context, taskID string) error {
	return s.setStatus(ctx, taskID, store.TaskPaused)
}

// ResumeTask satisfies ipc.TaskScheduler.
func (s *Scheduler) ResumeTask(ctx context.Context, taskID string) error {
	return s.setStatus(ctx, taskID, store.TaskActive)
}

// CancelTask satisfies ipc.TaskScheduler.
func (s *Scheduler) CancelTask(ctx context.Context, taskID string) error {
	return s.Store.DeleteTask(ctx, taskID)
}

func (s *Scheduler) setStatus(ctx context.Context, taskID string, status store.TaskStatus) error {
	return s.Store.UpdateTask(ctx, taskID, store.TaskUpdate{Status: &status})
}

// TriggerHeartbeat sets nextRunAt=now on folder's heartbeat task.
// Satisfies ipc.TaskScheduler.
func (s *Scheduler) TriggerHeartbeat(ctx context.Context, folder string) error {
	taskID := "heartbeat-" + folder
	now := s.Clock.Now().UnixMilli()
	return s.Store.UpdateTask(ctx, taskID, store.TaskUpdate{NextRunAt: &now})
}
