package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanoclaw/internal/dispatch"
	"github.com/nextlevelbuilder/nanoclaw/internal/store"
)

// memStore is a minimal in-memory store.MessageStore covering only what
// the scheduler touches.
type memStore struct {
	mu    sync.Mutex
	tasks map[string]store.Task
}

func newMemStore(tasks ...store.Task) *memStore {
	m := &memStore{tasks: make(map[string]store.Task)}
	for _, t := range tasks {
		m.tasks[t.TaskID] = t
	}
	return m
}

func (m *memStore) DueTasks(ctx context.Context, now int64) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []store.Task
	for _, t := range m.tasks {
		if t.Status == store.TaskActive && t.NextRunAt <= now {
			due = append(due, t)
		}
	}
	return due, nil
}

func (m *memStore) AdvanceTaskAfterRun(ctx context.Context, taskID string, lastRunAt, nextRunAt int64, status store.TaskStatus, lastResult string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[taskID]
	t.LastRunAt = lastRunAt
	t.NextRunAt = nextRunAt
	t.Status = status
	t.LastResult = lastResult
	m.tasks[taskID] = t
	return nil
}

func (m *memStore) CreateTask(ctx context.Context, t store.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.TaskID] = t
	return nil
}

func (m *memStore) UpdateTask(ctx context.Context, taskID string, fields store.TaskUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[taskID]
	if fields.Status != nil {
		t.Status = *fields.Status
	}
	if fields.NextRunAt != nil {
		t.NextRunAt = *fields.NextRunAt
	}
	m.tasks[taskID] = t
	return nil
}

func (m *memStore) DeleteTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	return nil
}

func (m *memStore) get(taskID string) store.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[taskID]
}

// Unexercised MessageStore methods.
func (m *memStore) RecordInbound(context.Context, store.ChatMessage) (store.RecordResult, error) {
	return store.RecordResult{}, nil
}
func (m *memStore) RecordAgentMessage(context.Context, store.ChatMessage) error { return nil }
func (m *memStore) ReadWindow(context.Context, string, int64, int) ([]store.ChatMessage, error) {
	return nil, nil
}
func (m *memStore) GetCursor(context.Context, string) (store.Cursor, error) { return store.Cursor{}, nil }
func (m *memStore) AdvanceCursor(context.Context, string, int64) error      { return nil }
func (m *memStore) HasAgentMessageAfter(context.Context, string, int64) (bool, error) {
	return false, nil
}
func (m *memStore) UpsertGroup(context.Context, store.RegisteredGroup) error { return nil }
func (m *memStore) GetGroup(context.Context, string) (store.RegisteredGroup, error) {
	return store.RegisteredGroup{}, nil
}
func (m *memStore) GetGroupByChatAddress(context.Context, string) (store.RegisteredGroup, error) {
	return store.RegisteredGroup{}, nil
}
func (m *memStore) ListGroups(context.Context) ([]store.RegisteredGroup, error) { return nil, nil }
func (m *memStore) DeleteGroup(context.Context, string) error                  { return nil }
func (m *memStore) GetSession(context.Context, string) (store.Session, error) {
	return store.Session{}, nil
}
func (m *memStore) SetSession(context.Context, string, string, int64) error { return nil }
func (m *memStore) GetTask(context.Context, string) (store.Task, error)     { return store.Task{}, nil }
func (m *memStore) ListTasksForGroup(context.Context, string) ([]store.Task, error) {
	return nil, nil
}
func (m *memStore) Close() error { return nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type alwaysEmptyChecklist struct{}

func (alwaysEmptyChecklist) IsEmpty(string) bool { return true }

func newTestQueue(t *testing.T, run dispatch.RunFunc) *dispatch.Dispatcher {
	t.Helper()
	d := dispatch.New(dispatch.Config{Clock: store.RealClock{}}, run, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)
	return d
}

func TestTick_SubmitsDueTask(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	task := store.Task{
		TaskID:          "t1",
		WorkspaceFolder: "acct",
		ChatAddress:     "tg:1",
		ScheduleType:    store.ScheduleInterval,
		ScheduleValue:   "1h",
		Status:          store.TaskActive,
		NextRunAt:       now.UnixMilli(),
	}
	st := newMemStore(task)

	var mu sync.Mutex
	var ran []string
	done := make(chan struct{}, 1)
	run := func(ctx context.Context, job dispatch.Job) error {
		mu.Lock()
		ran = append(ran, job.TaskID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}
	q := newTestQueue(t, run)

	s := &Scheduler{Store: st, Queue: q, Clock: fixedClock{now}}
	s.tick(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch run")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != "t1" {
		t.Errorf("expected task t1 to run once, got %v", ran)
	}
}

func TestRunOne_SkipsAlreadyPendingTask(t *testing.T) {
	now := time.UnixMilli(2_000_000)
	task := store.Task{TaskID: "t1", WorkspaceFolder: "acct", ScheduleType: store.ScheduleInterval, ScheduleValue: "1h", Status: store.TaskActive}
	st := newMemStore(task)

	submitCount := 0
	q := newTestQueue(t, func(ctx context.Context, job dispatch.Job) error {
		submitCount++
		<-ctx.Done() // never finishes on its own; hold the slot
		return ctx.Err()
	})

	s := &Scheduler{Store: st, Queue: q, Clock: fixedClock{now}}
	s.runOne(context.Background(), task, now.UnixMilli())
	s.runOne(context.Background(), task, now.UnixMilli()) // second tick, still pending

	time.Sleep(100 * time.Millisecond)
	if submitCount != 1 {
		t.Errorf("expected exactly one submission while pending, got %d", submitCount)
	}
}

func TestRunOne_SkipsEmptyHeartbeat(t *testing.T) {
	now := time.UnixMilli(3_000_000)
	task := store.Task{
		TaskID:          "heartbeat-acct",
		WorkspaceFolder: "acct",
		ScheduleType:    store.ScheduleInterval,
		ScheduleValue:   "1h",
		Status:          store.TaskActive,
	}
	st := newMemStore(task)

	submitted := false
	q := newTestQueue(t, func(ctx context.Context, job dispatch.Job) error {
		submitted = true
		return nil
	})

	s := &Scheduler{Store: st, Queue: q, Clock: fixedClock{now}, Checker: alwaysEmptyChecklist{}}
	s.runOne(context.Background(), task, now.UnixMilli())

	time.Sleep(50 * time.Millisecond)
	if submitted {
		t.Error("expected empty heartbeat checklist to skip dispatch entirely")
	}
	got := st.get("heartbeat-acct")
	if got.LastResult != "Skipped: empty" {
		t.Errorf("expected LastResult 'Skipped: empty', got %q", got.LastResult)
	}
}

func TestOnTaskComplete_AdvancesOnceSchedule(t *testing.T) {
	now := time.UnixMilli(4_000_000)
	task := store.Task{TaskID: "t1", WorkspaceFolder: "acct", ScheduleType: store.ScheduleOnce, ScheduleValue: "4000000"}
	st := newMemStore(task)

	s := &Scheduler{Store: st, Clock: fixedClock{now}}
	s.OnTaskComplete(context.Background(), task, "done")

	got := st.get("t1")
	if got.Status != store.TaskCompleted {
		t.Errorf("expected once task marked completed, got %v", got.Status)
	}
}

func TestIsHeartbeatOK(t *testing.T) {
	cases := map[string]bool{
		"HEARTBEAT_OK":         true,
		"heartbeat ok!":        true,
		"  HEARTBEAT_OK  ":     true,
		"HEARTBEAT_OK, but also something else going on here that is quite long": false,
		"All good":             false,
	}
	for text, want := range cases {
		if got := isHeartbeatOK(text); got != want {
			t.Errorf("isHeartbeatOK(%q) = %v, want %v", text, got, want)
		}
	}
}
