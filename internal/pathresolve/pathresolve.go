// Package pathresolve translates container-visible paths
// ("/workspace/group/…", "/workspace/ipc/…", "/workspace/extra/<name>/…")
// into host paths through a per-source-folder mount table, rejecting paths
// that escape their mount. IPC request authorization lives in package ipc.
package pathresolve

import (
	"os"
	"path/filepath"
	"strings"
)

// Mount is one entry in a group's container→host path table.
type Mount struct {
	ContainerPrefix string // e.g. "/workspace/group"
	HostRoot        string // host directory this prefix maps to
}

// Table is the per-group set of mounts consulted by Resolve, ordered
// longest-prefix-first by Build.
type Table struct {
	mounts []Mount
}

// Build constructs a Table for one group from its workspace root, the
// IPC root for its own source folder, and any registered extra mounts.
// Entries are sorted so the longest ContainerPrefix is matched first.
func Build(workspaceRoot, ipcRoot string, extraMounts map[string]string) Table {
	mounts := []Mount{
		{ContainerPrefix: "/workspace/group", HostRoot: workspaceRoot},
		{ContainerPrefix: "/workspace/ipc", HostRoot: ipcRoot},
	}
	for name, hostPath := range extraMounts {
		mounts = append(mounts, Mount{
			ContainerPrefix: "/workspace/extra/" + name,
			HostRoot:        hostPath,
		})
	}
	// Longest prefix first so "/workspace/extra/foo" doesn't lose to a
	// shorter, coincidentally-matching entry.
	for i := 1; i < len(mounts); i++ {
		for j := i; j > 0 && len(mounts[j].ContainerPrefix) > len(mounts[j-1].ContainerPrefix); j-- {
			mounts[j], mounts[j-1] = mounts[j-1], mounts[j]
		}
	}
	return Table{mounts: mounts}
}

// Resolve translates a container-visible path to a host path:
//  1. longest-prefix match against the mount table,
//  2. ~ expansion,
//  3. canonicalization with an escape check against the matched mount root,
//  4. existence check.
//
// ok is false (with no error) when the path is outside every mount, when
// it escapes its matched root, or when it does not exist on disk — all
// three are "skip this one with a warning", never a hard failure for the
// whole request.
func Resolve(containerPath string, table Table) (hostPath string, ok bool) {
	expanded := expandHome(containerPath)

	var mount Mount
	matched := false
	for _, m := range table.mounts {
		if strings.HasPrefix(expanded, m.ContainerPrefix) {
			mount = m
			matched = true
			break
		}
	}
	if !matched {
		return "", false
	}

	rel := strings.TrimPrefix(expanded, mount.ContainerPrefix)
	rel = strings.TrimPrefix(rel, "/")

	candidate := filepath.Join(mount.HostRoot, rel)
	canonical := filepath.Clean(candidate)

	root := filepath.Clean(mount.HostRoot)
	if canonical != root && !strings.HasPrefix(canonical, root+string(filepath.Separator)) {
		return "", false // escaped the mount root
	}

	if _, err := os.Stat(canonical); err != nil {
		return "", false
	}

	return canonical, true
}

// ResolveAll resolves every path in paths against table, silently
// dropping any that fail to resolve (existence/escape), per §4.7.
func ResolveAll(paths []string, table Table) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if hp, ok := Resolve(p, table); ok {
			out = append(out, hp)
		}
	}
	return out
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
