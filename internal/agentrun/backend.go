package agentrun

import (
	"context"
	"time"
)

// Invocation is everything a Backend needs to run one agent turn.
type Invocation struct {
	WorkspaceFolder string // host path bind-mounted as /workspace/group in the sandbox
	Prompt          string // the router's canonical prompt envelope
	SessionID       string // resumed session handle, empty for a fresh one
	Secrets         map[string]string // injected via stdin/allowlisted env, never plain env
	ExtraMounts     map[string]string // name -> host path, mounted at /workspace/extra/<name>
	Timeout         time.Duration
}

// OnProcess is called once a Backend has a live handle on the work being
// done, even when that "process" is an in-process SDK call rather than a
// real OS process (pid will be 0 and name will still identify the run, so
// the queue can keep tracking logical runs uniformly).
type OnProcess func(pid int, name string)

// OnOutput is called for every event a Backend produces, in order. A run
// that ends on its own ends with a FinalEvent or an ErrorEvent; a run
// stopped by context cancellation can return without emitting either.
type OnOutput func(AgentEvent)

// Backend is the pluggable seam between the dispatch core and whatever
// actually runs the agent: the default spawns a containerized runner, an
// alternative runs an in-process SDK call directly.
type Backend interface {
	// Init prepares the backend (e.g. validates config, warms a client).
	Init(ctx context.Context) error

	// Run executes one invocation, streaming through onOutput, and returns
	// once the run has reached a terminal event.
	Run(ctx context.Context, inv Invocation, onProcess OnProcess, onOutput OnOutput) error

	// WriteTasksSnapshot and WriteGroupsSnapshot let a backend that reads
	// its own copy of scheduling/group state (rather than calling back
	// into the store) be kept current. Either may be a no-op.
	WriteTasksSnapshot(ctx context.Context, workspaceFolder string, snapshot []byte) error
	WriteGroupsSnapshot(ctx context.Context, snapshot []byte) error

	// HealthCheck reports whether the backend is currently able to serve
	// runs, for the health monitor.
	HealthCheck(ctx context.Context) error

	// Shutdown releases any resources held by the backend.
	Shutdown(ctx context.Context) error
}
