// Package store is the single embedded relational store behind the dispatch
// core. It owns chats, the append-only message log, per-chat cursors,
// registered groups, agent sessions, and scheduled tasks. Every write is
// durable by the time a call returns; the only concurrency primitive a
// caller needs to reason about is that writes on one chat never interleave
// with writes on the same chat.
package store

import "time"

// MessageKind distinguishes who produced a ChatMessage.
type MessageKind string

const (
	KindUser   MessageKind = "user"
	KindAgent  MessageKind = "agent"
	KindSystem MessageKind = "system"
)

// Quoted is the reply-to metadata carried by a ChatMessage, if any.
type Quoted struct {
	Author    string
	Timestamp int64
	Preview   string
}

// Attachment references a file that travels alongside a ChatMessage.
type Attachment struct {
	Path     string
	Mime     string
	Filename string
}

// ChatMessage is one append-only record in a chat's history.
type ChatMessage struct {
	MessageID      string
	ChatAddress    string
	SenderAddress  string
	SenderDisplay  string
	Timestamp      int64 // unix milliseconds
	Kind           MessageKind
	Text           string
	Quoted         *Quoted
	Attachments    []Attachment
	ChannelID      string
}

// RegisteredGroup is a chat the dispatch core has been told to manage.
// "main" is the distinguished, elevated group: it is the only source
// allowed to register other groups or trigger a self-update.
type RegisteredGroup struct {
	WorkspaceFolder string // matches ^[a-z0-9][a-z0-9-]{0,39}$
	DisplayName     string
	ChatAddress     string
	TriggerPhrase   string
	RequiresTrigger bool
	AddedAt         int64
	BackendConfig   map[string]string
	ExtraMounts     map[string]string // name -> host path
}

// IsMain reports whether this group is the distinguished "main" workspace.
func (g RegisteredGroup) IsMain() bool {
	return g.WorkspaceFolder == "main"
}

// Cursor is the high-water mark of messages a group's agent has already
// answered for a given chat. It only ever advances.
type Cursor struct {
	ChatAddress       string
	LastAgentTimestamp int64
}

// Session is the opaque per-workspace conversation handle an agent backend
// may resume across dispatches.
type Session struct {
	WorkspaceFolder string
	SessionID       string
	UpdatedAt       int64
}

// ScheduleType enumerates how a Task recurs.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
	ScheduleOnce     ScheduleType = "once"
)

// ContextMode controls whether a scheduled run shares the group's live
// session or runs with a throwaway, isolated one.
type ContextMode string

const (
	ContextGroup    ContextMode = "group"
	ContextIsolated ContextMode = "isolated"
)

// TaskStatus is the lifecycle state of a scheduled Task.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
)

// Task is a recurring or one-shot prompt submission, including heartbeat
// checks which follow the "heartbeat-<folder>" naming convention.
type Task struct {
	TaskID          string
	WorkspaceFolder string
	ChatAddress     string
	Prompt          string
	ScheduleType    ScheduleType
	ScheduleValue   string
	ContextMode     ContextMode
	NextRunAt       int64
	LastRunAt       int64
	Status          TaskStatus
	LastResult      string
}

// IsHeartbeat reports whether this task is the synthetic heartbeat check
// for its workspace folder.
func (t Task) IsHeartbeat() bool {
	return t.TaskID == "heartbeat-"+t.WorkspaceFolder
}

// Clock abstracts time.Now so dispatch, cron, and the scheduler are
// deterministic under test. Production code uses RealClock.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock, backed by time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
