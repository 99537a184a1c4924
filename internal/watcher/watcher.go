// Package watcher re-runs analysis when Java sources under a project root
// change. Bursts of events are debounced into one trigger.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Lezhik/SpringTwin/internal/apperr"
)

// DefaultDebounce is the quiet period before a trigger.
const DefaultDebounce = 2 * time.Second

// TriggerFunc starts an analysis for the changed paths. A Conflict error
// means an analysis is already running; the changes stay pending and are
// retried after the next quiet period.
type TriggerFunc func(ctx context.Context, changed []string) error

// Options configures a Watcher. Root and Trigger are required.
type Options struct {
	Root        string
	Debounce    time.Duration
	ExcludeDirs []string // directory names never watched
	Trigger     TriggerFunc
	Logger      *slog.Logger
}

// Watcher watches every directory under a root.
type Watcher struct {
	root     string
	debounce time.Duration
	exclude  map[string]bool
	trigger  TriggerFunc
	logger   *slog.Logger

	fs        *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Watcher and registers the directory tree under Root.
func New(opts Options) (*Watcher, error) {
	if opts.Root == "" || opts.Trigger == nil {
		return nil, apperr.Configurationf("watcher requires a root and a trigger")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		root:     opts.Root,
		debounce: opts.Debounce,
		exclude:  make(map[string]bool, len(opts.ExcludeDirs)),
		trigger:  opts.Trigger,
		logger:   opts.Logger,
		fs:       fsw,
		done:     make(chan struct{}),
	}
	for _, d := range opts.ExcludeDirs {
		w.exclude[d] = true
	}
	if err := w.addTree(opts.Root); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", opts.Root, err)
	}
	return w, nil
}

func (w *Watcher) skipDir(path, name string) bool {
	if path == w.root {
		return false
	}
	return strings.HasPrefix(name, ".") || w.exclude[name]
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.skipDir(path, d.Name()) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

// relevant reports whether an event touches a Java source.
func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return strings.HasSuffix(ev.Name, ".java")
}

func (w *Watcher) handle(ev fsnotify.Event, pending map[string]struct{}) bool {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.skipDir(ev.Name, info.Name()) {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.Warn("watch new directory", slog.String("path", ev.Name), slog.String("error", err.Error()))
				}
			}
			return false
		}
	}
	if !relevant(ev) {
		return false
	}
	pending[ev.Name] = struct{}{}
	return true
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Run processes events until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.handle(ev, pending) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.String("root", w.root), slog.String("error", err.Error()))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := sortedKeys(pending)
			err := w.trigger(ctx, changed)
			switch {
			case err == nil:
				w.logger.Info("sources changed, analysis triggered", slog.String("root", w.root), slog.Int("files", len(changed)))
				clear(pending)
			case errors.Is(err, apperr.ErrConflict):
				w.logger.Debug("analysis already running, retrying", slog.String("root", w.root))
				timer.Reset(w.debounce)
			default:
				w.logger.Error("trigger analysis", slog.String("root", w.root), slog.String("error", err.Error()))
				clear(pending)
			}
		}
	}
}

// Close stops Run and releases the underlying watches.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
	})
	return err
}
