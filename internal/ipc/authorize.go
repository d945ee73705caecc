package ipc

import (
	"context"
	"fmt"
	"regexp"

	"github.com/nextlevelbuilder/nanoclaw/internal/store"
)

// folderPattern matches the workspace folder naming invariant.
var folderPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,39}$`)

// reservedFolders may never be registered via register_group.
var reservedFolders = map[string]bool{
	"main":  true, // already the distinguished folder, not user-creatable
	"ipc":   true,
	"group": true,
	"extra": true,
}

// ValidateFolderName reports whether a workspace folder name satisfies
// the naming invariant and isn't reserved.
func ValidateFolderName(folder string) error {
	if !folderPattern.MatchString(folder) {
		return fmt.Errorf("ipc: invalid workspace folder %q", folder)
	}
	if reservedFolders[folder] {
		return fmt.Errorf("ipc: workspace folder %q is reserved", folder)
	}
	return nil
}

// authorize enforces §4.5's source-directory-based authorization: the
// identity of a request is the directory it arrived in, never anything
// claimed in its payload.
//
//   - "main" may target any registered chat.
//   - any other folder may target only its own registered chat address.
//   - register_group, refresh_groups, update_project are main-only.
func authorize(ctx context.Context, st store.MessageStore, sourceFolder string, env Envelope) error {
	switch env.Type {
	case TypeRegisterGroup, TypeRefreshGroups, TypeUpdateProject:
		if sourceFolder != "main" {
			return fmt.Errorf("ipc: %s is main-only, rejected from %q", env.Type, sourceFolder)
		}
		return nil
	}

	if sourceFolder == "main" {
		return nil
	}

	target := env.ChatAddress
	if target == "" {
		// Task operations and trigger_heartbeat address themselves by
		// folder rather than chat; ownership is checked by the handler.
		return nil
	}

	owner, err := st.GetGroupByChatAddress(ctx, target)
	if err != nil {
		return fmt.Errorf("ipc: lookup owner of %q: %w", target, err)
	}
	if owner.WorkspaceFolder != sourceFolder {
		return fmt.Errorf("ipc: %q may not address chat %q owned by %q", sourceFolder, target, owner.WorkspaceFolder)
	}
	return nil
}

// authorizeTaskOwnership checks that sourceFolder owns the task it is
// trying to pause/resume/cancel.
func authorizeTaskOwnership(ctx context.Context, st store.MessageStore, sourceFolder string, taskID string) (store.Task, error) {
	t, err := st.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if sourceFolder != "main" && t.WorkspaceFolder != sourceFolder {
		return store.Task{}, fmt.Errorf("ipc: %q does not own task %q", sourceFolder, taskID)
	}
	return t, nil
}
