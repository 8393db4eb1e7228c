// Package filewatcher provides file system monitoring adapters.
// It drives hot reload of the prompt directory.
package filewatcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileOperation is the kind of change observed.
type FileOperation int

const (
	FileCreated FileOperation = iota + 1
	FileModified
	FileDeleted
)

// FileEvent is one relevant change below the watched directory.
type FileEvent struct {
	Path      string
	Operation FileOperation
}

// FSNotifyWatcher watches one prompt directory for catalogue and prompt
// file changes. Editor swap and backup files never surface.
type FSNotifyWatcher struct {
	watcher    *fsnotify.Watcher
	extensions map[string]bool
	log        *zap.Logger
}

// NewFSNotifyWatcher creates a watcher for the given extensions, matched
// case-insensitively. The default set covers prompt and catalogue files.
func NewFSNotifyWatcher(extensions []string, log *zap.Logger) (*FSNotifyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if len(extensions) == 0 {
		extensions = []string{".md", ".yaml", ".yml"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &FSNotifyWatcher{
		watcher:    w,
		extensions: exts,
		log:        log.Named("filewatcher"),
	}, nil
}

// Watch reports changes below dir until ctx is done. The channel also closes
// when dir itself is removed, since there is nothing left to reload from.
func (w *FSNotifyWatcher) Watch(ctx context.Context, dir string) (<-chan FileEvent, error) {
	dir = filepath.Clean(dir)
	if err := w.watcher.Add(dir); err != nil {
		return nil, err
	}

	out := make(chan FileEvent, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("watch error", zap.String("dir", dir), zap.Error(err))
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == dir && ev.Has(fsnotify.Remove|fsnotify.Rename) {
					w.log.Warn("prompt directory went away", zap.String("dir", dir))
					return
				}
				if !w.relevant(ev.Name) {
					continue
				}
				op, ok := classify(ev)
				if !ok {
					continue
				}
				select {
				case out <- FileEvent{Path: ev.Name, Operation: op}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// classify maps an fsnotify event to a FileOperation. Chmod-only events
// carry no content change and are dropped. Editors often save by renaming
// over the original, so a rename counts as the old name going away.
func classify(ev fsnotify.Event) (FileOperation, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return FileCreated, true
	case ev.Has(fsnotify.Write):
		return FileModified, true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return FileDeleted, true
	default:
		return 0, false
	}
}

// relevant reports whether a path is a prompt file rather than an editor
// artifact such as ".idea.md.swp", "idea.md~" or "#idea.md#".
func (w *FSNotifyWatcher) relevant(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "#") || strings.HasSuffix(base, "~") {
		return false
	}
	return w.extensions[strings.ToLower(filepath.Ext(base))]
}

// OnChange calls fn once per burst of events, after events have been quiet
// for the debounce interval. It returns when events closes or ctx is done.
func OnChange(ctx context.Context, events <-chan FileEvent, debounce time.Duration, fn func()) {
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				if fire != nil {
					fn()
				}
				return
			}
			fire = time.After(debounce)
		case <-fire:
			fire = nil
			fn()
		}
	}
}

// Stop stops the watcher.
func (w *FSNotifyWatcher) Stop() error {
	return w.watcher.Close()
}
