package agentrun

import (
	"context"
	"testing"
	"time"
)

type fakeBackend struct {
	events []AgentEvent
	delay  time.Duration
	err    error
}

func (f *fakeBackend) Init(ctx context.Context) error { return nil }

func (f *fakeBackend) Run(ctx context.Context, inv Invocation, onProcess OnProcess, onOutput OnOutput) error {
	if onProcess != nil {
		onProcess(1, "fake")
	}
	for _, ev := range f.events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		onOutput(ev)
	}
	return f.err
}

func (f *fakeBackend) WriteTasksSnapshot(ctx context.Context, workspaceFolder string, snapshot []byte) error {
	return nil
}
func (f *fakeBackend) WriteGroupsSnapshot(ctx context.Context, snapshot []byte) error { return nil }
func (f *fakeBackend) HealthCheck(ctx context.Context) error                          { return nil }
func (f *fakeBackend) Shutdown(ctx context.Context) error                             { return nil }

func TestRunnerSuccessStream(t *testing.T) {
	backend := &fakeBackend{events: []AgentEvent{
		{Chunk: &ChunkEvent{Text: "hel"}},
		{Chunk: &ChunkEvent{Text: "lo"}},
		{Final: &FinalEvent{Text: "hello", NewSessionID: "s1"}},
	}}
	r := NewRunner(backend)

	var chunks []string
	res := r.Run(context.Background(), Invocation{Prompt: "hi"}, nil, func(ev AgentEvent) {
		if ev.Chunk != nil {
			chunks = append(chunks, ev.Chunk.Text)
		}
	})

	if res.Status != StatusSuccess || res.Text != "hello" || res.NewSessionID != "s1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %v", chunks)
	}
}

func TestRunnerTimeout(t *testing.T) {
	backend := &fakeBackend{
		events: []AgentEvent{{Chunk: &ChunkEvent{Text: "slow"}}},
		delay:  50 * time.Millisecond,
		err:    context.DeadlineExceeded,
	}
	r := NewRunner(backend)

	res := r.Run(context.Background(), Invocation{Prompt: "hi", Timeout: 10 * time.Millisecond}, nil, nil)
	if res.Status != StatusTimeout {
		t.Fatalf("expected timeout status, got %+v", res)
	}
}

func TestRunnerErrorEvent(t *testing.T) {
	backend := &fakeBackend{
		events: []AgentEvent{{Err: &ErrorEvent{Message: "boom", Retryable: true}}},
		err:    nil,
	}
	r := NewRunner(backend)
	res := r.Run(context.Background(), Invocation{Prompt: "hi"}, nil, nil)
	if res.Status != StatusError || res.Error == nil {
		t.Fatalf("expected error status, got %+v", res)
	}
}
