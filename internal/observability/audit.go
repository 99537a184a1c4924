package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventToolCall      AuditEventType = "tool.call"
	AuditEventJobTrigger    AuditEventType = "job.trigger"
	AuditEventJobCancel     AuditEventType = "job.cancel"
	AuditEventJobFinish     AuditEventType = "job.finish"
	AuditEventProjectCreate AuditEventType = "project.create"
	AuditEventProjectUpdate AuditEventType = "project.update"
	AuditEventProjectDelete AuditEventType = "project.delete"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	SessionID   string         `json:"session_id"`
	ProjectID   string         `json:"project_id,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	Caller      string         `json:"caller,omitempty"`
	Success     bool           `json:"success"`
	Duration    time.Duration  `json:"duration_ms,omitempty"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stderr",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout":
		writer = os.Stdout
	case "stderr", "":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}
	return newAuditLogger(writer, config.SessionID, config.Enabled), nil
}

// NewAuditWriter creates an enabled audit logger writing to w.
func NewAuditWriter(w io.Writer, sessionID string) *AuditLogger {
	return newAuditLogger(w, sessionID, true)
}

// DisabledAuditLogger returns a logger that drops every event.
func DisabledAuditLogger() *AuditLogger {
	return &AuditLogger{enabled: false}
}

func newAuditLogger(w io.Writer, sessionID string, enabled bool) *AuditLogger {
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return &AuditLogger{writer: w, sessionID: sessionID, enabled: enabled}
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if l == nil || !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogToolCall records one gateway invocation and its external code.
func (l *AuditLogger) LogToolCall(_ context.Context, tool, caller, code string, duration time.Duration, errMsg string) {
	_ = l.Log(&AuditEvent{
		EventType:   AuditEventToolCall,
		Tool:        tool,
		Caller:      caller,
		Success:     code == "OK",
		Duration:    duration,
		Message:     fmt.Sprintf("Tool %s returned %s", tool, code),
		ErrorCode:   errorCode(code),
		ErrorDetail: errMsg,
	})
}

// LogJobTrigger records an analysis request.
func (l *AuditLogger) LogJobTrigger(_ context.Context, projectID, jobID, caller string, err error) {
	event := &AuditEvent{
		EventType: AuditEventJobTrigger,
		ProjectID: projectID,
		JobID:     jobID,
		Caller:    caller,
		Success:   err == nil,
		Message:   fmt.Sprintf("Analysis requested for project %s", projectID),
	}
	if err != nil {
		event.ErrorDetail = err.Error()
	}
	_ = l.Log(event)
}

// LogJobCancel records a cancellation request.
func (l *AuditLogger) LogJobCancel(_ context.Context, jobID, caller string, err error) {
	event := &AuditEvent{
		EventType: AuditEventJobCancel,
		JobID:     jobID,
		Caller:    caller,
		Success:   err == nil,
		Message:   fmt.Sprintf("Cancel requested for job %s", jobID),
	}
	if err != nil {
		event.ErrorDetail = err.Error()
	}
	_ = l.Log(event)
}

// LogJobFinish records the terminal state of a job.
func (l *AuditLogger) LogJobFinish(_ context.Context, projectID, jobID, state string, duration time.Duration, version int64) {
	_ = l.Log(&AuditEvent{
		EventType: AuditEventJobFinish,
		ProjectID: projectID,
		JobID:     jobID,
		Success:   state == "completed",
		Duration:  duration,
		Message:   fmt.Sprintf("Job %s %s", jobID, state),
		Details: map[string]any{
			"state":   state,
			"version": version,
		},
	})
}

// LogProject records a project registry change.
func (l *AuditLogger) LogProject(_ context.Context, eventType AuditEventType, projectID, caller string) {
	_ = l.Log(&AuditEvent{
		EventType: eventType,
		ProjectID: projectID,
		Caller:    caller,
		Success:   true,
		Message:   fmt.Sprintf("Project %s: %s", projectID, eventType),
	})
}

func errorCode(code string) string {
	if code == "OK" {
		return ""
	}
	return code
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if l == nil {
		return nil
	}
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}
