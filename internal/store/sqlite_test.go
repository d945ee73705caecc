package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) MessageStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordInboundDedups(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	msg := ChatMessage{ChatAddress: "whatsapp:g1", MessageID: "m1", Timestamp: 100, Kind: KindUser, Text: "hi"}
	res, err := s.RecordInbound(ctx, msg)
	if err != nil || !res.Stored || res.Duplicate {
		t.Fatalf("first insert: res=%+v err=%v", res, err)
	}

	res, err = s.RecordInbound(ctx, msg)
	if err != nil || !res.Duplicate {
		t.Fatalf("duplicate insert: res=%+v err=%v", res, err)
	}

	win, err := s.ReadWindow(ctx, "whatsapp:g1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(win) != 1 {
		t.Fatalf("expected 1 message after dedup, got %d", len(win))
	}
}

func TestCursorMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.AdvanceCursor(ctx, "whatsapp:g1", 500); err != nil {
		t.Fatal(err)
	}
	if err := s.AdvanceCursor(ctx, "whatsapp:g1", 100); err != nil {
		t.Fatal(err)
	}
	c, err := s.GetCursor(ctx, "whatsapp:g1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastAgentTimestamp != 500 {
		t.Fatalf("cursor regressed: got %d want 500", c.LastAgentTimestamp)
	}
}

func TestHasAgentMessageAfter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	chat := "whatsapp:g1"
	if err := s.RecordAgentMessage(ctx, ChatMessage{ChatAddress: chat, MessageID: "a1", Timestamp: 200, Kind: KindAgent, Text: "ok"}); err != nil {
		t.Fatal(err)
	}
	has, err := s.HasAgentMessageAfter(ctx, chat, 100)
	if err != nil || !has {
		t.Fatalf("expected agent message after 100: has=%v err=%v", has, err)
	}
	has, err = s.HasAgentMessageAfter(ctx, chat, 300)
	if err != nil || has {
		t.Fatalf("expected no agent message after 300: has=%v err=%v", has, err)
	}
}

func TestGroupCRUDCascadesTasks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	g := RegisteredGroup{WorkspaceFolder: "acme", DisplayName: "Acme", ChatAddress: "whatsapp:g1", AddedAt: 1}
	if err := s.UpsertGroup(ctx, g); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTask(ctx, Task{TaskID: "t1", WorkspaceFolder: "acme", ScheduleType: ScheduleOnce, Status: TaskActive}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteGroup(ctx, "acme"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetGroup(ctx, "acme"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetTask(ctx, "t1"); err != ErrNotFound {
		t.Fatalf("expected task cascade delete, got %v", err)
	}
}

func TestDueTasks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CreateTask(ctx, Task{TaskID: "due", WorkspaceFolder: "acme", ScheduleType: ScheduleInterval, Status: TaskActive, NextRunAt: 100}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTask(ctx, Task{TaskID: "future", WorkspaceFolder: "acme", ScheduleType: ScheduleInterval, Status: TaskActive, NextRunAt: 9999}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTask(ctx, Task{TaskID: "paused", WorkspaceFolder: "acme", ScheduleType: ScheduleInterval, Status: TaskPaused, NextRunAt: 50}); err != nil {
		t.Fatal(err)
	}

	due, err := s.DueTasks(ctx, 200)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].TaskID != "due" {
		t.Fatalf("unexpected due set: %+v", due)
	}
}
