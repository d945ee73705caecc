package agentrun

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ContainerBackendConfig configures the default, containerized Backend.
// It shells out to an external container CLI (Docker, the Apple Container
// CLI, etc.) — NanoClaw does not implement a container runtime itself, it
// only knows how to invoke one and stream its output.
type ContainerBackendConfig struct {
	// Command is the container CLI binary, e.g. "docker" or "container".
	Command string
	// BaseArgs are flags applied before the per-invocation mount/workdir
	// flags, e.g. []string{"run", "--rm", "-i", "nanoclaw-agent:latest"}.
	BaseArgs []string
	// GracePeriod is how long a cancelled run is given to exit after
	// SIGTERM before it is killed outright.
	GracePeriod time.Duration
}

// ContainerBackend spawns one container process per invocation and
// streams its stdout as newline-delimited JSON AgentEvent fragments. A
// line that fails to parse as JSON is treated as raw chunk text, so a
// simple agent binary that just prints to stdout still works.
type ContainerBackend struct {
	cfg ContainerBackendConfig
}

// NewContainerBackend builds a ContainerBackend from cfg, applying a
// default 10s grace period when unset.
func NewContainerBackend(cfg ContainerBackendConfig) *ContainerBackend {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}
	return &ContainerBackend{cfg: cfg}
}

func (b *ContainerBackend) Init(ctx context.Context) error {
	if b.cfg.Command == "" {
		return fmt.Errorf("agentrun: container backend requires a Command")
	}
	return nil
}

type wireEvent struct {
	Type         string `json:"type"` // "chunk" | "tool_call" | "final" | "error"
	Text         string `json:"text,omitempty"`
	Name         string `json:"name,omitempty"`
	Args         map[string]any `json:"args,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Message      string `json:"message,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
}

func (b *ContainerBackend) Run(ctx context.Context, inv Invocation, onProcess OnProcess, onOutput OnOutput) error {
	args := append([]string{}, b.cfg.BaseArgs...)
	args = append(args,
		"-v", inv.WorkspaceFolder+":/workspace/group",
	)
	for name, hostPath := range inv.ExtraMounts {
		args = append(args, "-v", hostPath+":/workspace/extra/"+name+":ro")
	}
	if inv.SessionID != "" {
		args = append(args, "-e", "NANOCLAW_SESSION_ID="+inv.SessionID)
	}

	cmd := exec.CommandContext(ctx, b.cfg.Command, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = b.cfg.GracePeriod
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("agentrun: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("agentrun: stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("agentrun: start container: %w", err)
	}
	if onProcess != nil && cmd.Process != nil {
		onProcess(cmd.Process.Pid, "container:"+inv.WorkspaceFolder)
	}

	// Secrets travel over stdin, never as plain environment variables
	// shared with unrelated children.
	go func() {
		defer stdin.Close()
		payload, _ := json.Marshal(struct {
			Prompt  string            `json:"prompt"`
			Secrets map[string]string `json:"secrets"`
		}{Prompt: inv.Prompt, Secrets: inv.Secrets})
		io.Copy(stdin, strings.NewReader(string(payload)+"\n"))
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var sawFinal bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		ev, terminal := decodeWireEvent(line)
		onOutput(ev)
		if terminal {
			sawFinal = true
		}
	}

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		if !sawFinal {
			onOutput(AgentEvent{Err: &ErrorEvent{Message: waitErr.Error(), Retryable: true}})
		}
		return fmt.Errorf("agentrun: container exited: %w", waitErr)
	}
	if !sawFinal {
		onOutput(AgentEvent{Err: &ErrorEvent{Message: "agent process exited without a final event", Retryable: true}})
		return fmt.Errorf("agentrun: container exited without a final event")
	}
	return nil
}

func decodeWireEvent(line string) (AgentEvent, bool) {
	var w wireEvent
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return AgentEvent{Chunk: &ChunkEvent{Text: line}}, false
	}
	switch w.Type {
	case "chunk":
		return AgentEvent{Chunk: &ChunkEvent{Text: w.Text}}, false
	case "tool_call":
		return AgentEvent{ToolCall: &ToolCallEvent{Name: w.Name, Args: w.Args}}, false
	case "final":
		return AgentEvent{Final: &FinalEvent{Text: w.Text, NewSessionID: w.SessionID}}, true
	case "error":
		return AgentEvent{Err: &ErrorEvent{Message: w.Message, Retryable: w.Retryable}}, true
	default:
		return AgentEvent{Chunk: &ChunkEvent{Text: line}}, false
	}
}

func (b *ContainerBackend) WriteTasksSnapshot(ctx context.Context, workspaceFolder string, snapshot []byte) error {
	return nil
}

func (b *ContainerBackend) WriteGroupsSnapshot(ctx context.Context, snapshot []byte) error {
	return nil
}

func (b *ContainerBackend) HealthCheck(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, b.cfg.Command, "version")
	return cmd.Run()
}

func (b *ContainerBackend) Shutdown(ctx context.Context) error {
	return nil
}
