// Package sessions resolves the opaque session handle that lets the
// in-process backend resume conversational context across agent runs.
//
// Sessions are keyed per workspace folder: { sessionId (opaque to the
// core), updatedAt }. Direct-message scoping can share one folder's
// session across peers or split by peer/channel; group folders always
// keep one session per folder regardless of scope config.
package sessions

import (
	"fmt"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildFolderSessionKey builds the canonical session key for a group's
// own workspace folder.
func BuildFolderSessionKey(folder string) string {
	return folder
}

// BuildScopedSessionKey builds the session key used to look up/store a
// session for an inbound message, honoring the configured DM scope.
//
// scope:
//   - "isolated-per-task" → one session per (channel, peerKind, chatID); never shared
//   - "group" (default)   → one session per workspace folder
//
// dmScope (DMs only — groups always key by folder):
//   - "shared"      → all DMs into this folder share the folder's session
//   - "per-sender"  → each DM sender gets its own session, scoped under the folder
func BuildScopedSessionKey(folder, channel string, kind PeerKind, chatID, scope, dmScope, mainKey string) string {
	if scope == "isolated-per-task" {
		return fmt.Sprintf("isolated:%s:%s:%s", channel, kind, chatID)
	}

	if kind == PeerGroup {
		return BuildFolderSessionKey(folder)
	}

	switch dmScope {
	case "shared":
		if mainKey == "" {
			mainKey = "main"
		}
		return fmt.Sprintf("%s:%s", folder, mainKey)
	default: // "per-sender"
		return fmt.Sprintf("%s:%s:direct:%s", folder, channel, chatID)
	}
}

// BuildCronSessionKey builds the session key for a scheduled task run.
// Cron jobs with contextMode=group attach the folder's current session;
// contextMode=isolated uses a dedicated per-run key instead.
func BuildCronSessionKey(folder, taskID, runID string) string {
	return fmt.Sprintf("%s:task:%s:run:%s", folder, taskID, runID)
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
