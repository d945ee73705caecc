package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// pollInterval is the periodic scan cadence; fsnotify only shortens the
	// gap between a write and the next scan, it never replaces the poll.
	pollInterval = 150 * time.Millisecond

	// maxRequestBytes rejects oversized request files outright.
	maxRequestBytes = 1 << 20 // 1 MiB
)

// Watcher polls <dataRoot>/ipc/<sourceFolder>/{messages,tasks} for request
// files, dispatches each exactly once, and deletes it on success or moves
// it to errors/ on failure.
type Watcher struct {
	root    string // <dataRoot>/ipc
	handler *Handler

	fsWatcher  *fsnotify.Watcher
	watchedDir map[string]bool
	wake       chan struct{}
}

// NewWatcher creates a Watcher rooted at <dataRoot>/ipc.
func NewWatcher(root string, handler *Handler) *Watcher {
	return &Watcher{
		root:       root,
		handler:    handler,
		watchedDir: make(map[string]bool),
		wake:       make(chan struct{}, 1),
	}
}

func (w *Watcher) signalWake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run blocks, polling and dispatching until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return fmt.Errorf("ipc: create root %s: %w", w.root, err)
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("ipc: fsnotify unavailable, falling back to poll-only", "error", err)
	} else {
		w.fsWatcher = fsW
		defer fsW.Close()
		go w.watchEvents(ctx)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		w.scanOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// watchEvents forwards fsnotify Create/Write events into the debounced
// wake channel. Newly discovered source-folder directories are added to
// the watch list by scanOnce, not here.
func (w *Watcher) watchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.signalWake()
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Warn("ipc: fsnotify error", "error", err)
		}
	}
}

// scanOnce walks every <root>/<sourceFolder>/{messages,tasks} directory
// and dispatches any pending request files it finds.
func (w *Watcher) scanOnce(ctx context.Context) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		slog.Warn("ipc: read root failed", "error", err)
		return
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sourceFolder := e.Name()
		for _, kind := range []string{"messages", "tasks"} {
			dir := filepath.Join(w.root, sourceFolder, kind)
			w.watchDir(dir)
			w.scanDir(ctx, sourceFolder, dir)
		}
	}
}

func (w *Watcher) watchDir(dir string) {
	if w.fsWatcher == nil || w.watchedDir[dir] {
		return
	}
	if err := w.fsWatcher.Add(dir); err == nil {
		w.watchedDir[dir] = true
	}
}

func (w *Watcher) scanDir(ctx context.Context, sourceFolder, dir string) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return // directory doesn't exist yet for this folder/kind; normal
	}

	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		w.processFile(ctx, sourceFolder, dir, f.Name())
	}
}

func (w *Watcher) processFile(ctx context.Context, sourceFolder, dir, name string) {
	path := filepath.Join(dir, name)

	info, err := os.Stat(path)
	if err != nil {
		return // raced with deletion by another watcher tick; fine
	}
	if info.Size() > maxRequestBytes {
		w.rejectOversized(sourceFolder, dir, name, info.Size())
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		w.moveToErrors(sourceFolder, dir, name, fmt.Errorf("ipc: parse %s: %w", name, err))
		return
	}

	if err := w.handler.Handle(ctx, sourceFolder, env); err != nil {
		slog.Warn("ipc: request failed", "folder", sourceFolder, "file", name, "type", env.Type, "error", err)
		w.moveToErrors(sourceFolder, dir, name, err)
		return
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("ipc: failed to remove processed request", "path", path, "error", err)
	}
}

// rejectOversized renames a request file past maxRequestBytes in place with
// a .oversized suffix rather than routing it through moveToErrors, so an
// operator scanning a source folder's request directory can tell "too big
// to even parse" apart from "parsed but failed" at a glance.
func (w *Watcher) rejectOversized(sourceFolder, dir, name string, size int64) {
	src := filepath.Join(dir, name)
	dest := src + ".oversized"
	if err := os.Rename(src, dest); err != nil && !os.IsNotExist(err) {
		slog.Warn("ipc: failed to mark request oversized", "src", src, "dest", dest, "error", err)
		return
	}
	slog.Warn("ipc: request rejected as oversized", "folder", sourceFolder, "file", name, "size", size, "max", maxRequestBytes)
}

func (w *Watcher) moveToErrors(sourceFolder, dir, name string, cause error) {
	errDir := filepath.Join(filepath.Dir(dir), "errors")
	if err := os.MkdirAll(errDir, 0755); err != nil {
		slog.Warn("ipc: cannot create errors dir", "dir", errDir, "error", err)
		return
	}

	dest := filepath.Join(errDir, sourceFolder+"-"+name)
	src := filepath.Join(dir, name)
	if err := os.Rename(src, dest); err != nil && !os.IsNotExist(err) {
		slog.Warn("ipc: failed to move request to errors", "src", src, "dest", dest, "error", err)
	}
	slog.Warn("ipc: request moved to errors", "folder", sourceFolder, "file", name, "cause", cause)
}
