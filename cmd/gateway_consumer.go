package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/nanoclaw/internal/agentrun"
	"github.com/nextlevelbuilder/nanoclaw/internal/bus"
	"github.com/nextlevelbuilder/nanoclaw/internal/chataddr"
	"github.com/nextlevelbuilder/nanoclaw/internal/channels"
	"github.com/nextlevelbuilder/nanoclaw/internal/config"
	"github.com/nextlevelbuilder/nanoclaw/internal/dispatch"
	"github.com/nextlevelbuilder/nanoclaw/internal/obs"
	"github.com/nextlevelbuilder/nanoclaw/internal/scheduler"
	"github.com/nextlevelbuilder/nanoclaw/internal/sessions"
	"github.com/nextlevelbuilder/nanoclaw/internal/store"
	"github.com/nextlevelbuilder/nanoclaw/pkg/protocol"
)

// gatewayDeps bundles everything a dispatch run needs to read fresh state,
// invoke an agent, and publish its reply. buildRunFunc closes over one of
// these rather than taking a dozen positional arguments.
type gatewayDeps struct {
	cfg       *config.Config
	st        store.MessageStore
	runner    *agentrun.Runner
	router    *chatRouter
	manager   *channels.Manager
	scheduler *scheduler.Scheduler
	tracer    *obs.Tracer
	clock     store.Clock
}

// buildRunFunc implements the dispatch core's re-entry-safe worker: for a
// KindMessage job it checks whether the chat's window was already answered
// by a concurrent task or a manual IPC reply before ever spawning an agent,
// and for a KindTask job it additionally reports completion back to the
// scheduler so cron/interval/heartbeat bookkeeping advances.
func buildRunFunc(d *gatewayDeps) dispatch.RunFunc {
	return func(ctx context.Context, job dispatch.Job) error {
		ctx, end := d.tracer.DispatchRun(ctx, job.GroupKey, string(job.Kind))
		var runErr error
		defer func() { end(runErr) }()

		switch job.Kind {
		case dispatch.KindTask:
			runErr = d.runTaskJob(ctx, job)
		default:
			runErr = d.runMessageJob(ctx, job)
		}
		return runErr
	}
}

// runMessageJob implements the idempotence-on-re-entry rule: if an agent
// message already exists past the current cursor, somebody else (a
// concurrent task run, a manual IPC reply) already answered this window,
// so the cursor is advanced to the latest user timestamp and no agent is
// started.
func (d *gatewayDeps) runMessageJob(ctx context.Context, job dispatch.Job) error {
	group, err := d.st.GetGroup(ctx, job.GroupKey)
	if err != nil {
		return fmt.Errorf("gateway: load group %s: %w", job.GroupKey, err)
	}

	cursor, err := d.st.GetCursor(ctx, job.ChatAddress)
	if err != nil {
		return fmt.Errorf("gateway: get cursor: %w", err)
	}

	alreadyAnswered, err := d.st.HasAgentMessageAfter(ctx, job.ChatAddress, cursor.LastAgentTimestamp)
	if err != nil {
		return fmt.Errorf("gateway: check drain: %w", err)
	}
	if alreadyAnswered {
		return d.drainCursor(ctx, job.ChatAddress, cursor.LastAgentTimestamp)
	}

	window, err := d.st.ReadWindow(ctx, job.ChatAddress, cursor.LastAgentTimestamp, 0)
	if err != nil {
		return fmt.Errorf("gateway: read window: %w", err)
	}
	if len(window) == 0 {
		return nil
	}

	addr, err := chataddr.Parse(job.ChatAddress)
	if err != nil {
		return fmt.Errorf("gateway: parse chat address: %w", err)
	}

	session, err := d.st.GetSession(ctx, sessions.BuildFolderSessionKey(job.GroupKey))
	if err != nil {
		return fmt.Errorf("gateway: get session: %w", err)
	}

	inv := agentrun.Invocation{
		WorkspaceFolder: d.cfg.GroupsRootPath() + "/" + job.GroupKey,
		Prompt:          buildPromptEnvelope(addr.Channel, window),
		SessionID:       session.SessionID,
		ExtraMounts:     group.ExtraMounts,
		Timeout:         time.Duration(d.cfg.Dispatch.AgentTimeoutSeconds) * time.Second,
	}

	latestUserTS := window[len(window)-1].Timestamp
	result, retryableErr := d.runInvocation(ctx, addr, inv)

	switch result.Status {
	case agentrun.StatusSuccess:
		if err := d.recordAndAdvance(ctx, addr, result.Text, latestUserTS); err != nil {
			return err
		}
		if result.NewSessionID != "" {
			if err := d.st.SetSession(ctx, sessions.BuildFolderSessionKey(job.GroupKey), result.NewSessionID, latestUserTS); err != nil {
				slog.Warn("gateway: set session failed", "group", job.GroupKey, "error", err)
			}
		}
		return nil

	case agentrun.StatusCancelled:
		return dispatch.ErrCancelled

	case agentrun.StatusTimeout:
		slog.Error("gateway: agent run timed out", "group", job.GroupKey, "chat", job.ChatAddress)
		d.sendApology(ctx, addr, "Sorry, that took too long and I had to stop.")
		if err := d.recordAndAdvance(ctx, addr, "", latestUserTS); err != nil {
			return err
		}
		return result.Error

	default: // StatusError
		if retryableErr {
			return dispatch.Retryable(result.Error)
		}
		slog.Error("gateway: agent run failed", "group", job.GroupKey, "chat", job.ChatAddress, "error", result.Error)
		d.sendApology(ctx, addr, "Sorry, I ran into a problem and couldn't finish that.")
		if err := d.recordAndAdvance(ctx, addr, "", latestUserTS); err != nil {
			return err
		}
		return result.Error
	}
}

// runTaskJob runs a scheduled prompt (cron/interval/once/heartbeat) and
// hands the result to the scheduler so it can recompute the next run and
// decide whether a heartbeat's reply should reach chat at all.
func (d *gatewayDeps) runTaskJob(ctx context.Context, job dispatch.Job) error {
	task, err := d.st.GetTask(ctx, job.TaskID)
	if err != nil {
		return fmt.Errorf("gateway: load task %s: %w", job.TaskID, err)
	}

	group, err := d.st.GetGroup(ctx, job.GroupKey)
	if err != nil {
		return fmt.Errorf("gateway: load group %s: %w", job.GroupKey, err)
	}

	addr, err := chataddr.Parse(job.ChatAddress)
	if err != nil {
		return fmt.Errorf("gateway: parse chat address: %w", err)
	}

	sessionID := ""
	if job.ContextMode == store.ContextGroup {
		session, err := d.st.GetSession(ctx, sessions.BuildFolderSessionKey(job.GroupKey))
		if err == nil {
			sessionID = session.SessionID
		}
	}

	inv := agentrun.Invocation{
		WorkspaceFolder: d.cfg.GroupsRootPath() + "/" + job.GroupKey,
		Prompt:          job.Prompt,
		SessionID:       sessionID,
		ExtraMounts:     group.ExtraMounts,
		Timeout:         time.Duration(d.cfg.Dispatch.AgentTimeoutSeconds) * time.Second,
	}

	result, retryableErr := d.runInvocation(ctx, addr, inv)

	lastResult := result.Text
	runErr := result.Error
	if result.Status == agentrun.StatusError && retryableErr {
		return dispatch.Retryable(result.Error)
	}
	if result.Status != agentrun.StatusSuccess && lastResult == "" && result.Error != nil {
		lastResult = result.Error.Error()
	}

	shouldForward := d.scheduler.OnTaskComplete(ctx, task, lastResult)
	if shouldForward && strings.TrimSpace(lastResult) != "" {
		if err := d.router.SendText(ctx, addr, lastResult, nil); err != nil {
			slog.Warn("gateway: deliver task result failed", "task", job.TaskID, "error", err)
		}
	}

	if result.Status == agentrun.StatusSuccess && job.ContextMode == store.ContextGroup && result.NewSessionID != "" {
		if err := d.st.SetSession(ctx, sessions.BuildFolderSessionKey(job.GroupKey), result.NewSessionID, d.nowMillis()); err != nil {
			slog.Warn("gateway: set session after task failed", "task", job.TaskID, "error", err)
		}
	}

	if result.Status == agentrun.StatusCancelled {
		return dispatch.ErrCancelled
	}
	return runErr
}

// runInvocation drives the runner end to end, streaming chunks through the
// channel manager's run-tracking machinery and reporting whether a
// terminal error was classified retryable by the backend. The Runner's own
// Result loses that distinction, so it is captured here from the raw
// AgentEvent stream instead.
func (d *gatewayDeps) runInvocation(ctx context.Context, addr chataddr.Address, inv agentrun.Invocation) (agentrun.Result, bool) {
	runID := uuid.NewString()
	d.manager.RegisterRun(runID, addr.Channel, addr.LocalID, 0)
	defer d.manager.UnregisterRun(runID)

	retryableErr := false
	d.manager.HandleAgentEvent(protocol.AgentEventRunStarted, runID, nil)

	onProcess := func(pid int, name string) {
		slog.Debug("gateway: agent process started", "pid", pid, "name", name, "workspace", inv.WorkspaceFolder)
	}

	onEvent := func(ev agentrun.AgentEvent) {
		switch {
		case ev.Chunk != nil:
			d.manager.HandleAgentEvent(protocol.ChatEventChunk, runID, map[string]string{"content": ev.Chunk.Text})
		case ev.ToolCall != nil:
			d.manager.HandleAgentEvent(protocol.AgentEventToolCall, runID, map[string]string{"name": ev.ToolCall.Name})
		case ev.Err != nil:
			retryableErr = ev.Err.Retryable
		}
	}

	result := d.runner.Run(ctx, inv, onProcess, onEvent)

	if result.Status == agentrun.StatusSuccess {
		d.manager.HandleAgentEvent(protocol.AgentEventRunCompleted, runID, nil)
	} else {
		d.manager.HandleAgentEvent(protocol.AgentEventRunFailed, runID, nil)
	}

	return result, retryableErr
}

func (d *gatewayDeps) recordAndAdvance(ctx context.Context, addr chataddr.Address, agentText string, cursorTS int64) error {
	if strings.TrimSpace(agentText) != "" {
		msg := store.ChatMessage{
			MessageID:     uuid.NewString(),
			ChatAddress:   addr.String(),
			SenderAddress: "agent",
			Timestamp:     d.nowMillis(),
			Kind:          store.KindAgent,
			Text:          agentText,
			ChannelID:     addr.Channel,
		}
		if err := d.st.RecordAgentMessage(ctx, msg); err != nil {
			return fmt.Errorf("gateway: record agent message: %w", err)
		}
		if err := d.router.SendText(ctx, addr, agentText, nil); err != nil {
			slog.Warn("gateway: send reply failed", "chat", addr.String(), "error", err)
		}
	}
	if err := d.st.AdvanceCursor(ctx, addr.String(), cursorTS); err != nil {
		return fmt.Errorf("gateway: advance cursor: %w", err)
	}
	return nil
}

// drainCursor advances the cursor to the latest user message timestamp in
// the still-unread window without starting a new agent run, per the
// idempotence-on-re-entry rule: the window was already answered elsewhere.
func (d *gatewayDeps) drainCursor(ctx context.Context, chatAddress string, since int64) error {
	window, err := d.st.ReadWindow(ctx, chatAddress, since, 0)
	if err != nil {
		return fmt.Errorf("gateway: read window for drain: %w", err)
	}
	latest := since
	for _, m := range window {
		if m.Kind == store.KindUser && m.Timestamp > latest {
			latest = m.Timestamp
		}
	}
	if latest == since {
		return nil
	}
	return d.st.AdvanceCursor(ctx, chatAddress, latest)
}

func (d *gatewayDeps) sendApology(ctx context.Context, addr chataddr.Address, text string) {
	if err := d.router.SendText(ctx, addr, text, nil); err != nil {
		slog.Warn("gateway: send apology failed", "chat", addr.String(), "error", err)
	}
}

func (d *gatewayDeps) nowMillis() int64 {
	return d.clock.Now().UnixMilli()
}

// buildPromptEnvelope renders the router's canonical prompt: the channel
// name followed by every message in the window in order, each tagged with
// a stable msg-id of the form "timestamp:sender" so the agent can issue
// reply/reaction IPC requests that address a specific message.
func buildPromptEnvelope(channelName string, window []store.ChatMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "channel: %s\n\n", channelName)
	for _, m := range window {
		msgID := fmt.Sprintf("%d:%s", m.Timestamp, m.SenderAddress)
		sender := m.SenderDisplay
		if sender == "" {
			sender = m.SenderAddress
		}
		switch m.Kind {
		case store.KindAgent:
			fmt.Fprintf(&b, "[%s] assistant: %s\n", msgID, m.Text)
		case store.KindSystem:
			fmt.Fprintf(&b, "[%s] system: %s\n", msgID, m.Text)
		default:
			fmt.Fprintf(&b, "[%s] %s: %s\n", msgID, sender, m.Text)
		}
		for _, a := range m.Attachments {
			fmt.Fprintf(&b, "  attachment: %s\n", a.Path)
		}
	}
	return b.String()
}

// consumeInbound drains the bus's inbound queue and turns each message
// into a stored ChatMessage plus, when the group's trigger gate allows it,
// a dispatch submission. Unregistered chats are dropped: a group is only
// ever created through explicit or main-driven registration, never
// implicitly on message ingest.
func consumeInbound(ctx context.Context, msgBus *bus.MessageBus, st store.MessageStore, queue *dispatch.Dispatcher, cfg *config.Config) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		handleInbound(ctx, msg, st, queue, cfg)
	}
}

func handleInbound(ctx context.Context, msg bus.InboundMessage, st store.MessageStore, queue *dispatch.Dispatcher, cfg *config.Config) {
	addr := chataddr.New(msg.Channel, msg.ChatID)

	group, err := st.GetGroupByChatAddress(ctx, addr.String())
	if err != nil {
		slog.Debug("gateway: inbound from unregistered chat, dropped", "chat", addr.String())
		return
	}

	now := time.Now().UnixMilli()
	chatMsg := store.ChatMessage{
		MessageID:     uuid.NewString(),
		ChatAddress:   addr.String(),
		SenderAddress: msg.SenderID,
		SenderDisplay: msg.SenderID,
		Timestamp:     now,
		Kind:          store.KindUser,
		Text:          msg.Content,
		ChannelID:     msg.Channel,
	}
	if len(msg.Media) > 0 {
		chatMsg.Attachments = make([]store.Attachment, len(msg.Media))
		for i, m := range msg.Media {
			chatMsg.Attachments[i] = store.Attachment{Path: m}
		}
	}

	if _, err := st.RecordInbound(ctx, chatMsg); err != nil {
		slog.Error("gateway: record inbound failed", "chat", addr.String(), "error", err)
		return
	}

	if group.RequiresTrigger {
		phrase := group.TriggerPhrase
		if phrase == "" {
			phrase = cfg.Dispatch.TriggerWord
		}
		if !containsFold(msg.Content, phrase) {
			return
		}
	}

	queue.Submit(dispatch.Job{
		GroupKey:    group.WorkspaceFolder,
		ChatAddress: group.ChatAddress,
		Kind:        dispatch.KindMessage,
	})
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
