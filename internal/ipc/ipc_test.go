package ipc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanoclaw/internal/chataddr"
	"github.com/nextlevelbuilder/nanoclaw/internal/pathresolve"
	"github.com/nextlevelbuilder/nanoclaw/internal/store"
)

// fakeStore implements just enough of store.MessageStore for these tests.
type fakeStore struct {
	groups map[string]store.RegisteredGroup
	tasks  map[string]store.Task
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		groups: map[string]store.RegisteredGroup{
			"main": {WorkspaceFolder: "main", ChatAddress: "tg:1"},
			"acct": {WorkspaceFolder: "acct", ChatAddress: "tg:2"},
		},
		tasks: map[string]store.Task{
			"t1": {TaskID: "t1", WorkspaceFolder: "acct"},
		},
	}
}

func (f *fakeStore) GetGroup(ctx context.Context, folder string) (store.RegisteredGroup, error) {
	g, ok := f.groups[folder]
	if !ok {
		return store.RegisteredGroup{}, store.ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) GetGroupByChatAddress(ctx context.Context, addr string) (store.RegisteredGroup, error) {
	for _, g := range f.groups {
		if g.ChatAddress == addr {
			return g, nil
		}
	}
	return store.RegisteredGroup{}, store.ErrNotFound
}

func (f *fakeStore) UpsertGroup(ctx context.Context, g store.RegisteredGroup) error {
	f.groups[g.WorkspaceFolder] = g
	return nil
}

func (f *fakeStore) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return store.Task{}, store.ErrNotFound
	}
	return t, nil
}

// The remaining MessageStore methods aren't exercised by these tests.
func (f *fakeStore) RecordInbound(context.Context, store.ChatMessage) (store.RecordResult, error) {
	return store.RecordResult{}, nil
}
func (f *fakeStore) RecordAgentMessage(context.Context, store.ChatMessage) error { return nil }
func (f *fakeStore) ReadWindow(context.Context, string, int64, int) ([]store.ChatMessage, error) {
	return nil, nil
}
func (f *fakeStore) GetCursor(context.Context, string) (store.Cursor, error) { return store.Cursor{}, nil }
func (f *fakeStore) AdvanceCursor(context.Context, string, int64) error      { return nil }
func (f *fakeStore) HasAgentMessageAfter(context.Context, string, int64) (bool, error) {
	return false, nil
}
func (f *fakeStore) ListGroups(context.Context) ([]store.RegisteredGroup, error) { return nil, nil }
func (f *fakeStore) DeleteGroup(context.Context, string) error                  { return nil }
func (f *fakeStore) GetSession(context.Context, string) (store.Session, error) {
	return store.Session{}, nil
}
func (f *fakeStore) SetSession(context.Context, string, string, int64) error { return nil }
func (f *fakeStore) CreateTask(context.Context, store.Task) error            { return nil }
func (f *fakeStore) UpdateTask(context.Context, string, store.TaskUpdate) error {
	return nil
}
func (f *fakeStore) DeleteTask(context.Context, string) error { return nil }
func (f *fakeStore) ListTasksForGroup(context.Context, string) ([]store.Task, error) {
	return nil, nil
}
func (f *fakeStore) DueTasks(context.Context, int64) ([]store.Task, error) { return nil, nil }
func (f *fakeStore) AdvanceTaskAfterRun(context.Context, string, int64, int64, store.TaskStatus, string) error {
	return nil
}
func (f *fakeStore) Close() error { return nil }

type fakeRouter struct {
	sentText []string
	synced   bool
}

func (r *fakeRouter) SendText(ctx context.Context, addr chataddr.Address, text string, attachments []string) error {
	r.sentText = append(r.sentText, text)
	return nil
}
func (r *fakeRouter) SendReply(ctx context.Context, addr chataddr.Address, text, author string, ts int64, attachments []string) error {
	return nil
}
func (r *fakeRouter) SendReaction(ctx context.Context, addr chataddr.Address, emoji, author string, ts int64) error {
	return nil
}
func (r *fakeRouter) SendPoll(ctx context.Context, addr chataddr.Address, question string, options []string) error {
	return nil
}
func (r *fakeRouter) SyncMetadata(ctx context.Context, force bool) error {
	r.synced = true
	return nil
}

type fakeScheduler struct {
	paused, resumed, cancelled []string
	heartbeats                 []string
}

func (s *fakeScheduler) ScheduleTask(ctx context.Context, t store.Task) (string, error) {
	return "new-task", nil
}
func (s *fakeScheduler) PauseTask(ctx context.Context, id string) error {
	s.paused = append(s.paused, id)
	return nil
}
func (s *fakeScheduler) ResumeTask(ctx context.Context, id string) error {
	s.resumed = append(s.resumed, id)
	return nil
}
func (s *fakeScheduler) CancelTask(ctx context.Context, id string) error {
	s.cancelled = append(s.cancelled, id)
	return nil
}
func (s *fakeScheduler) TriggerHeartbeat(ctx context.Context, folder string) error {
	s.heartbeats = append(s.heartbeats, folder)
	return nil
}

func newTestHandler(st *fakeStore, router *fakeRouter, sched *fakeScheduler) *Handler {
	return &Handler{
		Store:     st,
		Router:    router,
		Scheduler: sched,
		Clock:     store.RealClock{},
		Mounts: func(string) pathresolve.Table {
			return pathresolve.Build(".", ".", nil)
		},
	}
}

func TestHandle_MessageFromOwnFolder(t *testing.T) {
	st := newFakeStore()
	router := &fakeRouter{}
	h := newTestHandler(st, router, &fakeScheduler{})

	err := h.Handle(context.Background(), "acct", Envelope{
		Type:        TypeMessage,
		ChatAddress: "tg:2",
		Text:        "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(router.sentText) != 1 || router.sentText[0] != "hello" {
		t.Errorf("expected message sent, got %v", router.sentText)
	}
}

func TestHandle_MessageRejectsCrossFolder(t *testing.T) {
	st := newFakeStore()
	router := &fakeRouter{}
	h := newTestHandler(st, router, &fakeScheduler{})

	err := h.Handle(context.Background(), "acct", Envelope{
		Type:        TypeMessage,
		ChatAddress: "tg:1", // owned by "main", not "acct"
		Text:        "hello",
	})
	if err == nil {
		t.Fatal("expected authorization error")
	}
	if len(router.sentText) != 0 {
		t.Error("message should not have been sent")
	}
}

func TestHandle_RegisterGroupMainOnly(t *testing.T) {
	st := newFakeStore()
	h := newTestHandler(st, &fakeRouter{}, &fakeScheduler{})

	err := h.Handle(context.Background(), "acct", Envelope{
		Type:            TypeRegisterGroup,
		WorkspaceFolder: "newgroup",
		ChatAddress:     "tg:3",
	})
	if err == nil {
		t.Fatal("expected rejection from non-main folder")
	}

	err = h.Handle(context.Background(), "main", Envelope{
		Type:            TypeRegisterGroup,
		WorkspaceFolder: "newgroup",
		ChatAddress:     "tg:3",
	})
	if err != nil {
		t.Fatalf("unexpected error from main: %v", err)
	}
	if _, ok := st.groups["newgroup"]; !ok {
		t.Error("expected newgroup to be registered")
	}
}

func TestHandle_RegisterGroupRejectsReservedName(t *testing.T) {
	st := newFakeStore()
	h := newTestHandler(st, &fakeRouter{}, &fakeScheduler{})

	err := h.Handle(context.Background(), "main", Envelope{
		Type:            TypeRegisterGroup,
		WorkspaceFolder: "ipc",
		ChatAddress:     "tg:9",
	})
	if err == nil {
		t.Fatal("expected rejection of reserved folder name")
	}
}

func TestHandle_TaskStatusRespectsOwnership(t *testing.T) {
	st := newFakeStore()
	sched := &fakeScheduler{}
	h := newTestHandler(st, &fakeRouter{}, sched)

	// "acct" owns t1.
	if err := h.Handle(context.Background(), "acct", Envelope{Type: TypePauseTask, TaskID: "t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sched.paused) != 1 {
		t.Errorf("expected task paused, got %v", sched.paused)
	}

	// A different folder may not pause it.
	if err := h.Handle(context.Background(), "other", Envelope{Type: TypePauseTask, TaskID: "t1"}); err == nil {
		t.Fatal("expected ownership rejection")
	}
}

func TestHandle_TriggerHeartbeatDefaultsToSourceFolder(t *testing.T) {
	st := newFakeStore()
	sched := &fakeScheduler{}
	h := newTestHandler(st, &fakeRouter{}, sched)

	if err := h.Handle(context.Background(), "acct", Envelope{Type: TypeTriggerHeartbeat}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sched.heartbeats) != 1 || sched.heartbeats[0] != "acct" {
		t.Errorf("expected heartbeat triggered for acct, got %v", sched.heartbeats)
	}
}

func TestValidateFolderName(t *testing.T) {
	cases := map[string]bool{
		"acct":                   true,
		"acct-1":                 true,
		"Acct":                   false, // uppercase
		"-acct":                  false, // must start alphanumeric
		"main":                   false, // reserved
		"ipc":                    false, // reserved
		"":                       false,
	}
	for name, wantOK := range cases {
		err := ValidateFolderName(name)
		if (err == nil) != wantOK {
			t.Errorf("ValidateFolderName(%q): got err=%v, want ok=%v", name, err, wantOK)
		}
	}
}

// --- Watcher file-lifecycle tests ---

func TestWatcher_ProcessesAndDeletesOnSuccess(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "acct", "messages")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	env := Envelope{Type: TypeMessage, ChatAddress: "tg:2", Text: "hi"}
	data, _ := json.Marshal(env)
	reqPath := filepath.Join(dir, "req1.json")
	if err := os.WriteFile(reqPath, data, 0644); err != nil {
		t.Fatal(err)
	}

	st := newFakeStore()
	router := &fakeRouter{}
	h := newTestHandler(st, router, &fakeScheduler{})
	w := NewWatcher(root, h)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.scanOnce(ctx)

	if _, err := os.Stat(reqPath); !os.IsNotExist(err) {
		t.Error("expected request file to be deleted after success")
	}
	if len(router.sentText) != 1 {
		t.Errorf("expected one message dispatched, got %v", router.sentText)
	}
}

func TestWatcher_MovesFailuresToErrors(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "acct", "messages")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	// Malformed JSON.
	reqPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(reqPath, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	st := newFakeStore()
	h := newTestHandler(st, &fakeRouter{}, &fakeScheduler{})
	w := NewWatcher(root, h)

	ctx := context.Background()
	w.scanOnce(ctx)

	if _, err := os.Stat(reqPath); !os.IsNotExist(err) {
		t.Error("expected bad request file to be moved out of messages/")
	}
	errDir := filepath.Join(root, "acct", "errors")
	entries, err := os.ReadDir(errDir)
	if err != nil || len(entries) != 1 {
		t.Errorf("expected one file in errors dir, got %v (err=%v)", entries, err)
	}
}
