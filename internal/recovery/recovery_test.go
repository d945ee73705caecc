package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanoclaw/internal/dispatch"
	"github.com/nextlevelbuilder/nanoclaw/internal/store"
)

type fakeStore struct {
	groups  []store.RegisteredGroup
	cursors map[string]store.Cursor
	windows map[string][]store.ChatMessage
}

func (f *fakeStore) ListGroups(ctx context.Context) ([]store.RegisteredGroup, error) {
	return f.groups, nil
}
func (f *fakeStore) GetCursor(ctx context.Context, chatAddress string) (store.Cursor, error) {
	return f.cursors[chatAddress], nil
}
func (f *fakeStore) ReadWindow(ctx context.Context, chatAddress string, since int64, limit int) ([]store.ChatMessage, error) {
	return f.windows[chatAddress], nil
}

// Unexercised MessageStore methods.
func (f *fakeStore) RecordInbound(context.Context, store.ChatMessage) (store.RecordResult, error) {
	return store.RecordResult{}, nil
}
func (f *fakeStore) RecordAgentMessage(context.Context, store.ChatMessage) error { return nil }
func (f *fakeStore) AdvanceCursor(context.Context, string, int64) error         { return nil }
func (f *fakeStore) HasAgentMessageAfter(context.Context, string, int64) (bool, error) {
	return false, nil
}
func (f *fakeStore) UpsertGroup(context.Context, store.RegisteredGroup) error { return nil }
func (f *fakeStore) GetGroup(context.Context, string) (store.RegisteredGroup, error) {
	return store.RegisteredGroup{}, nil
}
func (f *fakeStore) GetGroupByChatAddress(context.Context, string) (store.RegisteredGroup, error) {
	return store.RegisteredGroup{}, nil
}
func (f *fakeStore) DeleteGroup(context.Context, string) error { return nil }
func (f *fakeStore) GetSession(context.Context, string) (store.Session, error) {
	return store.Session{}, nil
}
func (f *fakeStore) SetSession(context.Context, string, string, int64) error { return nil }
func (f *fakeStore) GetTask(context.Context, string) (store.Task, error)     { return store.Task{}, nil }
func (f *fakeStore) ListTasksForGroup(context.Context, string) ([]store.Task, error) {
	return nil, nil
}
func (f *fakeStore) DueTasks(context.Context, int64) ([]store.Task, error) { return nil, nil }
func (f *fakeStore) AdvanceTaskAfterRun(context.Context, string, int64, int64, store.TaskStatus, string) error {
	return nil
}
func (f *fakeStore) CreateTask(context.Context, store.Task) error                { return nil }
func (f *fakeStore) UpdateTask(context.Context, string, store.TaskUpdate) error { return nil }
func (f *fakeStore) DeleteTask(context.Context, string) error                    { return nil }
func (f *fakeStore) Close() error                                                { return nil }

func newTestQueue(t *testing.T, run dispatch.RunFunc) *dispatch.Dispatcher {
	t.Helper()
	d := dispatch.New(dispatch.Config{Clock: store.RealClock{}}, run, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)
	return d
}

func TestReplay_SubmitsUnacknowledgedChats(t *testing.T) {
	st := &fakeStore{
		groups: []store.RegisteredGroup{
			{WorkspaceFolder: "acct", ChatAddress: "tg:1"},
			{WorkspaceFolder: "other", ChatAddress: "tg:2"},
		},
		cursors: map[string]store.Cursor{
			"tg:1": {ChatAddress: "tg:1", LastAgentTimestamp: 100},
			"tg:2": {ChatAddress: "tg:2", LastAgentTimestamp: 500},
		},
		windows: map[string][]store.ChatMessage{
			"tg:1": {{Kind: store.KindUser, Timestamp: 200}},
			"tg:2": {{Kind: store.KindUser, Timestamp: 100}}, // stale, before cursor
		},
	}

	var mu sync.Mutex
	var submitted []string
	q := newTestQueue(t, func(ctx context.Context, job dispatch.Job) error {
		mu.Lock()
		submitted = append(submitted, job.ChatAddress)
		mu.Unlock()
		return nil
	})

	s := &Startup{Store: st, Queue: q}
	if err := s.Replay(context.Background()); err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(submitted) != 1 || submitted[0] != "tg:1" {
		t.Errorf("expected only tg:1 replayed, got %v", submitted)
	}
}

type flakyConnector struct {
	name       string
	failTimes  int
	attempts   int
	connected  bool
}

func (c *flakyConnector) Name() string { return c.name }
func (c *flakyConnector) Connect(ctx context.Context) error {
	c.attempts++
	if c.attempts <= c.failTimes {
		return errors.New("connect failed")
	}
	c.connected = true
	return nil
}
func (c *flakyConnector) Connected() bool { return c.connected }

func TestReconnectAll_RetriesUntilConnected(t *testing.T) {
	c := &flakyConnector{name: "whatsapp", failTimes: 2}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ReconnectAll(ctx, []Connector{c})

	if !c.connected {
		t.Error("expected connector to eventually connect")
	}
	if c.attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", c.attempts)
	}
}

func TestMonitor_LogsSingleTransition(t *testing.T) {
	failing := true
	m := NewMonitor(map[string]func(ctx context.Context) error{
		"store": func(ctx context.Context) error {
			if failing {
				return errors.New("db unreachable")
			}
			return nil
		},
	}, time.Hour)

	m.checkAll(context.Background())
	status := m.HealthStatus()
	if status.Healthy {
		t.Error("expected degraded status while probe fails")
	}
	if len(status.Degraded) != 1 || status.Degraded[0] != "store" {
		t.Errorf("expected store listed as degraded, got %v", status.Degraded)
	}

	failing = false
	m.checkAll(context.Background())
	status = m.HealthStatus()
	if !status.Healthy {
		t.Error("expected healthy status after recovery")
	}
}
