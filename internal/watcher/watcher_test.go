package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Lezhik/SpringTwin/internal/apperr"
)

type recorder struct {
	mu       sync.Mutex
	calls    [][]string
	failures int // leading calls answered with Conflict
	fired    chan struct{}
}

func newRecorder(failures int) *recorder {
	return &recorder{failures: failures, fired: make(chan struct{}, 16)}
}

func (r *recorder) trigger(_ context.Context, changed []string) error {
	r.mu.Lock()
	defer func() {
		r.mu.Unlock()
		r.fired <- struct{}{}
	}()
	r.calls = append(r.calls, changed)
	if len(r.calls) <= r.failures {
		return fmt.Errorf("%w: busy", apperr.ErrConflict)
	}
	return nil
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger was not called")
	}
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func start(t *testing.T, root string, r *recorder, exclude ...string) *Watcher {
	t.Helper()
	w, err := New(Options{Root: root, Debounce: 50 * time.Millisecond, ExcludeDirs: exclude, Trigger: r.trigger})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
		<-done
	})
	return w
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNew_RequiresRootAndTrigger(t *testing.T) {
	if _, err := New(Options{Root: t.TempDir()}); apperr.KindOf(err) != apperr.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := New(Options{Trigger: newRecorder(0).trigger}); apperr.KindOf(err) != apperr.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := New(Options{Root: filepath.Join(t.TempDir(), "missing"), Trigger: newRecorder(0).trigger}); err == nil {
		t.Fatal("expected error for a missing root")
	}
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		ev   fsnotify.Event
		want bool
	}{
		{fsnotify.Event{Name: "A.java", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "A.java", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "A.java", Op: fsnotify.Remove}, true},
		{fsnotify.Event{Name: "A.java", Op: fsnotify.Rename}, true},
		{fsnotify.Event{Name: "A.java", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "build.gradle", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "A.java.swp", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		if got := relevant(tt.ev); got != tt.want {
			t.Errorf("relevant(%v): expected %v, got %v", tt.ev, tt.want, got)
		}
	}
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src", "main", "java")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	r := newRecorder(0)
	start(t, root, r)

	write(t, filepath.Join(src, "A.java"), "class A {}")
	write(t, filepath.Join(src, "B.java"), "class B {}")
	write(t, filepath.Join(src, "notes.txt"), "ignored")
	r.wait(t)

	calls := r.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected one debounced trigger, got %d", len(calls))
	}
	for _, path := range calls[0] {
		if filepath.Ext(path) != ".java" {
			t.Fatalf("unexpected path %s", path)
		}
	}
	if len(calls[0]) != 2 {
		t.Fatalf("expected 2 changed files, got %v", calls[0])
	}
}

func TestWatcher_RetriesOnConflict(t *testing.T) {
	root := t.TempDir()
	r := newRecorder(1)
	start(t, root, r)

	write(t, filepath.Join(root, "A.java"), "class A {}")
	r.wait(t)
	r.wait(t)

	calls := r.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected a retry after conflict, got %d calls", len(calls))
	}
	if calls[1][0] != calls[0][0] {
		t.Fatalf("expected the pending change to be retried, got %v", calls)
	}
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	r := newRecorder(0)
	start(t, root, r)

	pkg := filepath.Join(root, "com", "acme")
	if err := os.MkdirAll(pkg, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond) // let the create event register the directory
	write(t, filepath.Join(pkg, "C.java"), "class C {}")
	r.wait(t)

	found := false
	for _, call := range r.snapshot() {
		for _, p := range call {
			if p == filepath.Join(pkg, "C.java") {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected change in new directory, got %v", r.snapshot())
	}
}

func TestWatcher_SkipsExcludedDirs(t *testing.T) {
	root := t.TempDir()
	build := filepath.Join(root, "build")
	if err := os.MkdirAll(build, 0o755); err != nil {
		t.Fatal(err)
	}
	r := newRecorder(0)
	w := start(t, root, r, "build")

	for _, path := range w.fs.WatchList() {
		if path == build {
			t.Fatal("excluded directory is watched")
		}
	}
}
