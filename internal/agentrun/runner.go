package agentrun

import (
	"context"
	"fmt"
)

// Status summarizes how a run ended.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Result is the return value of a completed run.
type Result struct {
	Status       Status
	Text         string
	NewSessionID string
	Error        error
}

// Runner composes an Invocation, spawns it through a Backend, and exposes
// the output as a lazy stream of AgentEvent plus a final Result.
type Runner struct {
	backend Backend
}

// NewRunner builds a Runner over the given Backend. Callers should invoke
// backend.Init once at process startup before using the Runner.
func NewRunner(backend Backend) *Runner {
	return &Runner{backend: backend}
}

// Stream starts inv and returns a channel of AgentEvent plus a function
// returning the final Result once the channel closes. The channel is
// closed exactly once, after the terminal event has been delivered.
// Cancelling ctx terminates the run; the backend is responsible for
// propagating that into a graceful-then-hard process termination.
func (r *Runner) Stream(ctx context.Context, inv Invocation, onProcess OnProcess) (<-chan AgentEvent, func() Result) {
	events := make(chan AgentEvent, 8)
	result := make(chan Result, 1)

	runCtx := ctx
	var cancel context.CancelFunc
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
	}

	go func() {
		defer close(events)
		if cancel != nil {
			defer cancel()
		}

		var final Result
		err := r.backend.Run(runCtx, inv, onProcess, func(ev AgentEvent) {
			events <- ev
			switch {
			case ev.Final != nil:
				final = Result{Status: StatusSuccess, Text: ev.Final.Text, NewSessionID: ev.Final.NewSessionID}
			case ev.Err != nil:
				final = Result{Status: StatusError, Error: fmt.Errorf("agentrun: %s", ev.Err.Message)}
			}
		})

		switch {
		case err != nil && runCtx.Err() == context.DeadlineExceeded:
			final = Result{Status: StatusTimeout, Error: runCtx.Err()}
		case err != nil && ctx.Err() == context.Canceled:
			final = Result{Status: StatusCancelled, Error: ctx.Err()}
		case err != nil && final.Error == nil:
			final = Result{Status: StatusError, Error: err}
		}
		result <- final
	}()

	return events, func() Result {
		return <-result
	}
}

// Run drives Stream to completion, forwarding every event to onEvent, and
// returns the terminal Result.
func (r *Runner) Run(ctx context.Context, inv Invocation, onProcess OnProcess, onEvent OnOutput) Result {
	events, final := r.Stream(ctx, inv, onProcess)
	for ev := range events {
		if onEvent != nil {
			onEvent(ev)
		}
	}
	return final()
}
