package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/nanoclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/nanoclaw/internal/chataddr"
	"github.com/nextlevelbuilder/nanoclaw/internal/pathresolve"
	"github.com/nextlevelbuilder/nanoclaw/internal/store"
)

// Router is the outbound half of the channel abstraction (§4.1) that IPC
// message/reaction/poll requests are routed through.
type Router interface {
	SendText(ctx context.Context, addr chataddr.Address, text string, attachments []string) error
	SendReply(ctx context.Context, addr chataddr.Address, text string, quotedAuthor string, quotedTimestamp int64, attachments []string) error
	SendReaction(ctx context.Context, addr chataddr.Address, emoji, targetAuthor string, targetTimestamp int64) error
	SendPoll(ctx context.Context, addr chataddr.Address, question string, options []string) error
	SyncMetadata(ctx context.Context, force bool) error
}

// TaskScheduler is the subset of the task scheduler that IPC requests
// mutate: schedule/pause/resume/cancel and heartbeat triggering.
type TaskScheduler interface {
	ScheduleTask(ctx context.Context, t store.Task) (taskID string, err error)
	PauseTask(ctx context.Context, taskID string) error
	ResumeTask(ctx context.Context, taskID string) error
	CancelTask(ctx context.Context, taskID string) error
	TriggerHeartbeat(ctx context.Context, folder string) error
}

// HostUpdater performs the host-side self-update (git fetch/merge/build/
// restart) invoked by update_project, with rollback on failure.
type HostUpdater interface {
	UpdateProject(ctx context.Context, requestedBy string) (result string, err error)
}

// Handler dispatches one authorized Envelope for a given source folder
// and mount table, returning a short human-readable result or an error.
type Handler struct {
	Store     store.MessageStore
	Router    Router
	Scheduler TaskScheduler
	Updater   HostUpdater
	Clock     store.Clock
	Mounts    func(sourceFolder string) pathresolve.Table
	// GroupsRoot is the host directory containing one subdirectory per
	// registered group's workspace folder.
	GroupsRoot string

	lastUpdateProject time.Time
}

const updateProjectDedupWindow = 30 * time.Second

// Handle authorizes and executes one envelope. The caller is responsible
// for file lifecycle (delete on nil error, move to errors/ otherwise).
func (h *Handler) Handle(ctx context.Context, sourceFolder string, env Envelope) error {
	if err := authorize(ctx, h.Store, sourceFolder, env); err != nil {
		return err
	}

	switch env.Type {
	case TypeMessage:
		return h.handleMessage(ctx, sourceFolder, env)
	case TypeReaction:
		return h.handleReaction(ctx, env)
	case TypePoll:
		return h.handlePoll(ctx, env)
	case TypeScheduleTask:
		return h.handleScheduleTask(ctx, sourceFolder, env)
	case TypePauseTask:
		return h.handleTaskStatus(ctx, sourceFolder, env, h.Scheduler.PauseTask)
	case TypeResumeTask:
		return h.handleTaskStatus(ctx, sourceFolder, env, h.Scheduler.ResumeTask)
	case TypeCancelTask:
		return h.handleTaskStatus(ctx, sourceFolder, env, h.Scheduler.CancelTask)
	case TypeRegisterGroup:
		return h.handleRegisterGroup(ctx, env)
	case TypeRefreshGroups:
		return h.Router.SyncMetadata(ctx, true)
	case TypeTriggerHeartbeat:
		folder := env.Folder
		if folder == "" {
			folder = sourceFolder
		}
		if sourceFolder != "main" && folder != sourceFolder {
			return fmt.Errorf("ipc: %q may not trigger the heartbeat of %q", sourceFolder, folder)
		}
		return h.Scheduler.TriggerHeartbeat(ctx, folder)
	case TypeUpdateProject:
		return h.handleUpdateProject(ctx, sourceFolder)
	default:
		return fmt.Errorf("ipc: unknown request type %q", env.Type)
	}
}

func (h *Handler) handleMessage(ctx context.Context, sourceFolder string, env Envelope) error {
	addr, err := chataddr.Parse(env.ChatAddress)
	if err != nil {
		return fmt.Errorf("ipc: message: %w", err)
	}

	attachments := pathresolve.ResolveAll(env.Attachments, h.Mounts(sourceFolder))
	if len(attachments) != len(env.Attachments) {
		slog.Warn("ipc: some attachments failed to resolve and were dropped", "folder", sourceFolder, "chat", addr.String())
	}

	if env.ReplyTo != nil {
		return h.Router.SendReply(ctx, addr, env.Text, env.ReplyTo.Author, env.ReplyTo.Timestamp, attachments)
	}
	return h.Router.SendText(ctx, addr, env.Text, attachments)
}

func (h *Handler) handleReaction(ctx context.Context, env Envelope) error {
	addr, err := chataddr.Parse(env.ChatAddress)
	if err != nil {
		return fmt.Errorf("ipc: reaction: %w", err)
	}
	return h.Router.SendReaction(ctx, addr, env.Emoji, env.TargetAuthor, env.TargetTimestamp)
}

func (h *Handler) handlePoll(ctx context.Context, env Envelope) error {
	addr, err := chataddr.Parse(env.ChatAddress)
	if err != nil {
		return fmt.Errorf("ipc: poll: %w", err)
	}
	if len(env.Options) < 2 || len(env.Options) > 12 {
		return fmt.Errorf("ipc: poll must have 2-12 options, got %d", len(env.Options))
	}
	return h.Router.SendPoll(ctx, addr, env.Question, env.Options)
}

func (h *Handler) handleScheduleTask(ctx context.Context, sourceFolder string, env Envelope) error {
	addr := env.ChatAddress
	if addr == "" {
		g, err := h.Store.GetGroup(ctx, sourceFolder)
		if err != nil {
			return fmt.Errorf("ipc: schedule_task: resolve folder's own chat: %w", err)
		}
		addr = g.ChatAddress
	}

	contextMode := store.ContextMode(env.ContextMode)
	if contextMode == "" {
		contextMode = store.ContextGroup
	}

	t := store.Task{
		WorkspaceFolder: sourceFolder,
		ChatAddress:     addr,
		Prompt:          env.Prompt,
		ScheduleType:    store.ScheduleType(env.ScheduleType),
		ScheduleValue:   env.ScheduleValue,
		ContextMode:     contextMode,
		Status:          store.TaskActive,
	}

	_, err := h.Scheduler.ScheduleTask(ctx, t)
	return err
}

func (h *Handler) handleTaskStatus(ctx context.Context, sourceFolder string, env Envelope, apply func(context.Context, string) error) error {
	if _, err := authorizeTaskOwnership(ctx, h.Store, sourceFolder, env.TaskID); err != nil {
		return err
	}
	return apply(ctx, env.TaskID)
}

func (h *Handler) handleRegisterGroup(ctx context.Context, env Envelope) error {
	if err := ValidateFolderName(env.WorkspaceFolder); err != nil {
		return err
	}
	if env.ChatAddress == "" {
		return fmt.Errorf("ipc: register_group: chatAddress is required")
	}

	now := h.Clock.Now().UnixMilli()
	g := store.RegisteredGroup{
		WorkspaceFolder: env.WorkspaceFolder,
		DisplayName:     env.DisplayName,
		ChatAddress:     env.ChatAddress,
		TriggerPhrase:   env.TriggerPhrase,
		RequiresTrigger: env.RequiresTrigger,
		AddedAt:         now,
		ExtraMounts:     env.ExtraMounts,
	}
	if err := h.Store.UpsertGroup(ctx, g); err != nil {
		return err
	}

	if h.GroupsRoot != "" {
		workspaceDir := filepath.Join(h.GroupsRoot, env.WorkspaceFolder)
		if _, err := bootstrap.EnsureWorkspaceFiles(workspaceDir); err != nil {
			slog.Warn("ipc: seed workspace files failed", "folder", env.WorkspaceFolder, "error", err)
		}
	}
	return nil
}

func (h *Handler) handleUpdateProject(ctx context.Context, sourceFolder string) error {
	now := h.Clock.Now()
	if !h.lastUpdateProject.IsZero() && now.Sub(h.lastUpdateProject) < updateProjectDedupWindow {
		slog.Debug("ipc: update_project deduped", "since_last", now.Sub(h.lastUpdateProject))
		return nil
	}
	h.lastUpdateProject = now

	result, err := h.Updater.UpdateProject(ctx, sourceFolder)
	if err != nil {
		return fmt.Errorf("ipc: update_project: %w", err)
	}
	slog.Info("ipc: update_project completed", "result", result)
	return nil
}
