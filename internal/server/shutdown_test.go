package server

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"
)

func TestNewShutdownHandler_Defaults(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{})
	if h.timeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %s", h.timeout)
	}
	if len(h.signals) != 2 || h.signals[0] != syscall.SIGTERM {
		t.Fatalf("unexpected signals %v", h.signals)
	}
}

func TestShutdownHandler_HookPriority(t *testing.T) {
	h := NewShutdownHandler(nil)
	h.Register(AuditHook(func() error { return nil }))
	h.Register(StorageHook("badger", func() error { return nil }))
	h.Register(JobsHook(func(context.Context) error { return nil }))
	h.Register(HTTPServerHook("api", func(context.Context) error { return nil }))
	h.RegisterHook("jobs-second", PriorityJobs, func(context.Context) error { return nil })

	want := []string{"api", "jobs", "jobs-second", "badger", "audit-logger"}
	for i, name := range want {
		if h.hooks[i].Name != name {
			t.Fatalf("hook %d: expected %s, got %s", i, name, h.hooks[i].Name)
		}
	}
}

func TestShutdownHandler_RunsHooksInOrder(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 5 * time.Second})

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	h.RegisterHook("store", PriorityStorage, record("store"))
	h.RegisterHook("http", PriorityHTTP, record("http"))
	h.RegisterHook("jobs", PriorityJobs, record("jobs"))

	h.Start()
	h.Shutdown()
	if err := h.Wait(); err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != "http" || order[1] != "jobs" || order[2] != "store" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestShutdownHandler_HookErrorsContinue(t *testing.T) {
	h := NewShutdownHandler(nil)
	boom := errors.New("boom")
	ran := false
	h.RegisterHook("failing", 1, func(context.Context) error { return boom })
	h.RegisterHook("after", 2, func(context.Context) error {
		ran = true
		return nil
	})

	h.Start()
	h.Shutdown()
	err := h.Wait()
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined hook error, got %v", err)
	}
	if !ran {
		t.Fatal("expected later hook to run")
	}
}

func TestShutdownHandler_HooksShareDeadline(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: time.Second})
	var deadline time.Time
	h.RegisterHook("jobs", PriorityJobs, func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	})
	h.Start()
	h.Shutdown()
	_ = h.Wait()
	if deadline.IsZero() || time.Until(deadline) > time.Second {
		t.Fatalf("unexpected deadline %v", deadline)
	}
}

func TestShutdownHandler_WaitWithTimeout(t *testing.T) {
	h := NewShutdownHandler(nil)
	block := make(chan struct{})
	h.RegisterHook("slow", 1, func(context.Context) error {
		<-block
		return nil
	})
	h.Start()
	h.Shutdown()
	if h.WaitWithTimeout(20 * time.Millisecond) {
		t.Fatal("expected timeout while hook blocks")
	}
	close(block)
	if !h.WaitWithTimeout(2 * time.Second) {
		t.Fatal("expected shutdown to complete")
	}
}

func TestShutdownHandler_ShutdownBeforeStart(t *testing.T) {
	h := NewShutdownHandler(nil)
	h.Shutdown()
	select {
	case <-h.ShutdownCh():
		t.Fatal("shutdown before Start must be a no-op")
	default:
	}
	h.Start()
	h.Start()
	h.Shutdown()
	h.Shutdown()
	if !h.WaitWithTimeout(2 * time.Second) {
		t.Fatal("expected shutdown to complete")
	}
}

func TestHookHelpers(t *testing.T) {
	stopped, closed := false, false
	hooks := []ShutdownHook{
		TemporalWorkerHook(func() { stopped = true }),
		QueryHook(func() { closed = true }),
		WatcherHook(func() error { return nil }),
		TracingHook(func(context.Context) error { return nil }),
	}
	for _, hook := range hooks {
		if err := hook.Fn(context.Background()); err != nil {
			t.Fatalf("%s: %v", hook.Name, err)
		}
	}
	if !stopped || !closed {
		t.Fatal("expected hooks to call through")
	}
	if hooks[0].Priority != PriorityTemporal || hooks[2].Priority != PriorityWatcher {
		t.Fatal("unexpected priorities")
	}
}

func TestGracefulServer_NotReadyOnShutdown(t *testing.T) {
	g := NewGracefulServer(nil, nil)
	g.Start()
	if !g.Health.ready {
		t.Fatal("expected ready after Start")
	}
	g.Shutdown.Shutdown()
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.Health.mu.RLock()
		ready := g.Health.ready
		g.Health.mu.RUnlock()
		if !ready {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected not ready after shutdown")
}
