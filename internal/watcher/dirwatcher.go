package watcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	forerrors "github.com/bwl/forest/internal/errors"
)

// DirWatcher watches a directory tree for markdown changes and emits
// debounced event batches.
type DirWatcher struct {
	root string
	fsw  *fsnotify.Watcher
	deb  *Debouncer
	errs chan error
	done chan struct{}
}

// WatchDir starts watching root recursively. Only .md files produce
// events; new subdirectories are added to the watch as they appear.
func WatchDir(root string, debounce time.Duration) (*DirWatcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, forerrors.Wrap(forerrors.KindNotFound, err, "vault directory %s", root)
	}
	if !info.IsDir() {
		return nil, forerrors.Validation("vault path %s is not a directory", root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, forerrors.Wrap(forerrors.KindInternal, err, "create filesystem watcher")
	}

	w := &DirWatcher{
		root: root,
		fsw:  fsw,
		deb:  NewDebouncer(debounce),
		errs: make(chan error, 8),
		done: make(chan struct{}),
	}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}

func (w *DirWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			return w.fsw.Add(path)
		}
		if d.IsDir() {
			return fs.SkipDir
		}
		return nil
	})
}

func (w *DirWatcher) loop() {
	defer w.deb.Close()
	for {
		select {
		case <-w.done:
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
				slog.Warn("watcher_error_dropped", slog.String("error", err.Error()))
			}
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		}
	}
}

func (w *DirWatcher) handle(ev fsnotify.Event) {
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				slog.Warn("watch_subdirectory_failed",
					slog.String("path", ev.Name),
					slog.String("error", err.Error()))
			}
			return
		}
	}
	if !IsMarkdown(ev.Name) {
		return
	}

	event := Event{Path: ev.Name, At: time.Now()}
	switch {
	case ev.Op.Has(fsnotify.Create):
		event.Op = OpCreate
	case ev.Op.Has(fsnotify.Write):
		event.Op = OpModify
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		event.Op = OpDelete
	default:
		return
	}
	w.deb.Add(event)
}

// Events delivers debounced batches.
func (w *DirWatcher) Events() <-chan []Event { return w.deb.Events() }

// Errors delivers non-fatal watcher errors.
func (w *DirWatcher) Errors() <-chan error { return w.errs }

// Close stops watching. Safe to call once.
func (w *DirWatcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

// IsMarkdown reports whether path names a markdown file.
func IsMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}
