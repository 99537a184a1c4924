package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func decodeEvents(t *testing.T, buf *bytes.Buffer) []AuditEvent {
	t.Helper()
	var events []AuditEvent
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e AuditEvent
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		events = append(events, e)
	}
	return events
}

func TestDefaultAuditConfig(t *testing.T) {
	cfg := DefaultAuditConfig()
	if !cfg.Enabled {
		t.Fatal("expected enabled by default")
	}
	if cfg.OutputPath != "stderr" {
		t.Fatalf("expected stderr, got %s", cfg.OutputPath)
	}
}

func TestAuditLogger_New_File(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewAuditLogger(&AuditConfig{Enabled: true, OutputPath: logPath, SessionID: "s1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.LogJobCancel(context.Background(), "j1", "cli", nil)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"session_id":"s1"`) {
		t.Errorf("expected session id in %s", data)
	}
}

func TestAuditLogger_ToolCall(t *testing.T) {
	var buf bytes.Buffer
	l := NewAuditWriter(&buf, "s1")
	ctx := context.Background()

	l.LogToolCall(ctx, "list_classes", "mcp", "OK", 3*time.Millisecond, "")
	l.LogToolCall(ctx, "cancel_job", "http", "PERMISSION_DENIED", time.Millisecond, "write capability required")

	events := decodeEvents(t, &buf)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].Success || events[0].ErrorCode != "" || events[0].Tool != "list_classes" {
		t.Errorf("unexpected success event %+v", events[0])
	}
	if events[1].Success || events[1].ErrorCode != "PERMISSION_DENIED" || events[1].Caller != "http" {
		t.Errorf("unexpected failure event %+v", events[1])
	}
	if events[1].SessionID != "s1" || events[1].Timestamp.IsZero() {
		t.Errorf("expected defaults filled in, got %+v", events[1])
	}
}

func TestAuditLogger_Jobs(t *testing.T) {
	var buf bytes.Buffer
	l := NewAuditWriter(&buf, "")
	ctx := context.Background()

	l.LogJobTrigger(ctx, "p1", "", "http", errors.New("conflict"))
	l.LogJobFinish(ctx, "p1", "j1", "completed", time.Second, 4)
	l.LogProject(ctx, AuditEventProjectCreate, "p1", "http")

	events := decodeEvents(t, &buf)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Success || events[0].ErrorDetail != "conflict" {
		t.Errorf("unexpected trigger event %+v", events[0])
	}
	if !events[1].Success || events[1].Details["version"] != float64(4) {
		t.Errorf("unexpected finish event %+v", events[1])
	}
	if events[2].EventType != AuditEventProjectCreate {
		t.Errorf("unexpected project event %+v", events[2])
	}
	if !strings.HasPrefix(events[0].SessionID, "session-") {
		t.Errorf("expected generated session id, got %q", events[0].SessionID)
	}
}

func TestAuditLogger_Disabled(t *testing.T) {
	l := DisabledAuditLogger()
	if err := l.Log(&AuditEvent{EventType: AuditEventToolCall}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	var nilLogger *AuditLogger
	nilLogger.LogToolCall(context.Background(), "x", "", "OK", 0, "")
	if err := nilLogger.Close(); err != nil {
		t.Fatal(err)
	}
}
