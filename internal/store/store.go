package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by single-row lookups when nothing matches.
var ErrNotFound = errors.New("store: not found")

// RecordResult reports whether recordInbound actually appended a new row.
type RecordResult struct {
	Stored    bool
	Duplicate bool
}

// MessageStore is the dispatch core's only view of durable state. Every
// method is synchronous: by the time it returns, the write (if any) is on
// disk. Implementations serialize writes internally; callers do not need
// their own locking.
type MessageStore interface {
	// RecordInbound appends a user/system message, deduping on
	// (chatAddress, messageID). Upserts the owning Chat's last-activity.
	RecordInbound(ctx context.Context, msg ChatMessage) (RecordResult, error)

	// RecordAgentMessage appends an agent-authored message to the log.
	RecordAgentMessage(ctx context.Context, msg ChatMessage) error

	// ReadWindow returns messages for chatAddress with timestamp > since,
	// oldest first, capped at limit (0 means no cap).
	ReadWindow(ctx context.Context, chatAddress string, since int64, limit int) ([]ChatMessage, error)

	// GetCursor returns the current cursor for a chat, or the zero Cursor
	// if none has been set yet.
	GetCursor(ctx context.Context, chatAddress string) (Cursor, error)

	// AdvanceCursor sets the cursor forward. A call that would move it
	// backward (or leave it unchanged) is a silent no-op.
	AdvanceCursor(ctx context.Context, chatAddress string, timestamp int64) error

	// HasAgentMessageAfter reports whether an agent message exists for
	// chatAddress with timestamp strictly greater than since. Used by the
	// dispatcher's re-entry drain check.
	HasAgentMessageAfter(ctx context.Context, chatAddress string, since int64) (bool, error)

	// UpsertGroup creates or replaces a RegisteredGroup by workspace folder.
	UpsertGroup(ctx context.Context, g RegisteredGroup) error

	// GetGroup looks up a RegisteredGroup by workspace folder.
	GetGroup(ctx context.Context, workspaceFolder string) (RegisteredGroup, error)

	// GetGroupByChatAddress looks up the RegisteredGroup owning a chat, if any.
	GetGroupByChatAddress(ctx context.Context, chatAddress string) (RegisteredGroup, error)

	// ListGroups returns every registered group.
	ListGroups(ctx context.Context) ([]RegisteredGroup, error)

	// DeleteGroup removes a RegisteredGroup and cancels its tasks. Orphaned
	// sessions are left in place but become unreachable.
	DeleteGroup(ctx context.Context, workspaceFolder string) error

	// GetSession returns the current session for a workspace folder.
	GetSession(ctx context.Context, workspaceFolder string) (Session, error)

	// SetSession upserts the session for a workspace folder.
	SetSession(ctx context.Context, workspaceFolder, sessionID string, updatedAt int64) error

	// CreateTask inserts a new Task.
	CreateTask(ctx context.Context, t Task) error

	// UpdateTask applies a partial update identified by taskID.
	UpdateTask(ctx context.Context, taskID string, fields TaskUpdate) error

	// DeleteTask removes a Task by ID.
	DeleteTask(ctx context.Context, taskID string) error

	// GetTask looks up a single Task by ID.
	GetTask(ctx context.Context, taskID string) (Task, error)

	// ListTasksForGroup lists every Task owned by a workspace folder.
	ListTasksForGroup(ctx context.Context, workspaceFolder string) ([]Task, error)

	// DueTasks returns active tasks whose NextRunAt is <= now.
	DueTasks(ctx context.Context, now int64) ([]Task, error)

	// AdvanceTaskAfterRun records the result of a run and moves NextRunAt
	// (or marks the task completed, for "once" schedules) in one write.
	AdvanceTaskAfterRun(ctx context.Context, taskID string, lastRunAt, nextRunAt int64, status TaskStatus, lastResult string) error

	// Close releases the underlying database handle.
	Close() error
}

// TaskUpdate is a sparse partial update for UpdateTask; nil fields are left
// untouched.
type TaskUpdate struct {
	Prompt        *string
	ScheduleType  *ScheduleType
	ScheduleValue *string
	ContextMode   *ContextMode
	NextRunAt     *int64
	Status        *TaskStatus
	LastResult    *string
}
