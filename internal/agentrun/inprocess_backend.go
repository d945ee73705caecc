package agentrun

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/nanoclaw/internal/providers"
)

// InProcessBackend runs the agent turn as a direct call into an LLM
// provider client, in the host process rather than a sandboxed
// subprocess. It still reports through onProcess (with pid 0) so the
// dispatcher's run-tracking stays uniform across backends.
type InProcessBackend struct {
	provider providers.Provider
	model    string
}

// NewInProcessBackend builds a Backend around an existing provider client.
func NewInProcessBackend(provider providers.Provider, model string) *InProcessBackend {
	return &InProcessBackend{provider: provider, model: model}
}

func (b *InProcessBackend) Init(ctx context.Context) error {
	if b.provider == nil {
		return fmt.Errorf("agentrun: in-process backend requires a provider")
	}
	return nil
}

func (b *InProcessBackend) Run(ctx context.Context, inv Invocation, onProcess OnProcess, onOutput OnOutput) error {
	if onProcess != nil {
		onProcess(0, "inprocess:"+inv.WorkspaceFolder)
	}

	model := b.model
	if model == "" {
		model = b.provider.DefaultModel()
	}

	req := providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: "user", Content: inv.Prompt},
		},
	}

	resp, err := b.provider.ChatStream(ctx, req, func(chunk providers.StreamChunk) {
		if chunk.Content != "" {
			onOutput(AgentEvent{Chunk: &ChunkEvent{Text: chunk.Content}})
		}
	})
	if err != nil {
		retryable := ctx.Err() == nil
		onOutput(AgentEvent{Err: &ErrorEvent{Message: err.Error(), Retryable: retryable}})
		return err
	}

	sessionID := inv.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	onOutput(AgentEvent{Final: &FinalEvent{Text: resp.Content, NewSessionID: sessionID}})
	return nil
}

func (b *InProcessBackend) WriteTasksSnapshot(ctx context.Context, workspaceFolder string, snapshot []byte) error {
	return nil
}

func (b *InProcessBackend) WriteGroupsSnapshot(ctx context.Context, snapshot []byte) error {
	return nil
}

func (b *InProcessBackend) HealthCheck(ctx context.Context) error {
	return nil
}

func (b *InProcessBackend) Shutdown(ctx context.Context) error {
	return nil
}
