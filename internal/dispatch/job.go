// Package dispatch implements the per-group FIFO queue and bounded-
// concurrency dispatcher described by the dispatch core: at most one
// agent run in flight per workspace folder, a global concurrency cap
// across all groups, and exponential backoff on retryable failures.
package dispatch

import "github.com/nextlevelbuilder/nanoclaw/internal/store"

// Kind distinguishes a plain "a new message arrived" dispatch from a
// scheduled task run.
type Kind string

const (
	KindMessage Kind = "message"
	KindTask    Kind = "task"
)

// Job is deliberately thin: for KindMessage it carries no message text at
// all, because the worker always re-reads the chat's fresh window from the
// store before invoking the agent. Two inbound messages that arrive while a
// run is already in flight therefore coalesce into the single queued job
// that will observe both once it runs.
type Job struct {
	GroupKey    string // workspace folder
	ChatAddress string
	Kind        Kind

	// Populated only for KindTask.
	TaskID      string
	Prompt      string
	ContextMode store.ContextMode
}
