package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/nanoclaw/internal/agentrun"
	"github.com/nextlevelbuilder/nanoclaw/internal/bus"
	"github.com/nextlevelbuilder/nanoclaw/internal/chataddr"
	"github.com/nextlevelbuilder/nanoclaw/internal/channels"
	"github.com/nextlevelbuilder/nanoclaw/internal/store"
)

// chatRouter is the ipc.Router implementation: it turns an agent's
// message/reaction/poll/refresh_groups IPC requests into bus traffic the
// channel manager's outbound dispatch loop already knows how to deliver.
type chatRouter struct {
	bus      *bus.MessageBus
	channels *channels.Manager
	store    store.MessageStore
	backend  agentrun.Backend
}

func (r *chatRouter) SendText(ctx context.Context, addr chataddr.Address, text string, attachments []string) error {
	r.bus.PublishOutbound(bus.OutboundMessage{
		Channel: addr.Channel,
		ChatID:  addr.LocalID,
		Content: text,
		Media:   toMediaAttachments(attachments),
	})
	return nil
}

func (r *chatRouter) SendReply(ctx context.Context, addr chataddr.Address, text string, quotedAuthor string, quotedTimestamp int64, attachments []string) error {
	r.bus.PublishOutbound(bus.OutboundMessage{
		Channel: addr.Channel,
		ChatID:  addr.LocalID,
		Content: text,
		Media:   toMediaAttachments(attachments),
		Metadata: map[string]string{
			"reply_author": quotedAuthor,
			"reply_ts":     fmt.Sprintf("%d", quotedTimestamp),
		},
	})
	return nil
}

// SendReaction and SendPoll have no backing channel capability in this
// tree: none of telegram/discord/whatsapp expose an outbound
// reaction-on-message or poll-creation API, only the inbound
// ReactionChannel used for run-status indicators. An agent that issues
// either request gets a clear error back through the IPC errors/ path
// rather than a silently dropped request.
func (r *chatRouter) SendReaction(ctx context.Context, addr chataddr.Address, emoji, targetAuthor string, targetTimestamp int64) error {
	return fmt.Errorf("router: channel %q does not support sending reactions", addr.Channel)
}

func (r *chatRouter) SendPoll(ctx context.Context, addr chataddr.Address, question string, options []string) error {
	return fmt.Errorf("router: channel %q does not support sending polls", addr.Channel)
}

// SyncMetadata marshals the full registered-group list and hands it to the
// active backend's WriteGroupsSnapshot. Both backends in this tree accept
// the snapshot and discard it, so no file is written into any group
// workspace; force has no effect.
func (r *chatRouter) SyncMetadata(ctx context.Context, force bool) error {
	groups, err := r.store.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("router: list groups: %w", err)
	}
	snapshot, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("router: marshal groups snapshot: %w", err)
	}
	return r.backend.WriteGroupsSnapshot(ctx, snapshot)
}

func toMediaAttachments(paths []string) []bus.MediaAttachment {
	if len(paths) == 0 {
		return nil
	}
	media := make([]bus.MediaAttachment, len(paths))
	for i, p := range paths {
		media[i] = bus.MediaAttachment{URL: p}
	}
	return media
}

// channelConnector adapts a channels.Channel to recovery.Connector so the
// channel manager's registered adapters can go through the same
// backoff-reconnect path as any other external dependency.
type channelConnector struct {
	ch channels.Channel
}

func (c channelConnector) Name() string { return c.ch.Name() }

func (c channelConnector) Connect(ctx context.Context) error { return c.ch.Start(ctx) }

func (c channelConnector) Connected() bool { return c.ch.IsRunning() }

// heartbeatChecklist implements scheduler.HeartbeatChecklist by reading
// <groupsRoot>/<folder>/HEARTBEAT.md. A missing file, or one containing
// only blank lines, markdown headers, or HTML comments, counts as empty.
type heartbeatChecklist struct {
	groupsRoot string
}

func (h *heartbeatChecklist) IsEmpty(folder string) bool {
	path := filepath.Join(h.groupsRoot, folder, "HEARTBEAT.md")
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	inComment := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if inComment {
			if strings.Contains(line, "-->") {
				inComment = false
			}
			continue
		}
		if strings.HasPrefix(line, "<!--") {
			if !strings.Contains(line, "-->") {
				inComment = true
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		return false
	}
	return true
}
