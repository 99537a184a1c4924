package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func hasWarning(warnings []string, sub string) bool {
	for _, w := range warnings {
		if strings.Contains(w, sub) {
			return true
		}
	}
	return false
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Analysis.Workers != 2 || cfg.Analysis.WarningThreshold != 0.25 {
		t.Errorf("unexpected analysis defaults %+v", cfg.Analysis)
	}
	if cfg.Analysis.Timeout != 10*time.Minute {
		t.Errorf("expected 10m timeout, got %s", cfg.Analysis.Timeout)
	}
	if !slices.Contains(cfg.Analysis.ExcludeDirs, ".git") || !cfg.Analysis.FollowGitignore {
		t.Errorf("unexpected scan defaults %+v", cfg.Analysis)
	}
	if cfg.Gateway.AllowAnonymousWrite || cfg.Gateway.PrivilegedToken != "" {
		t.Errorf("expected read-only gateway defaults, got %+v", cfg.Gateway)
	}
	if cfg.Temporal.TaskQueue != "springtwin-analysis" {
		t.Errorf("expected springtwin-analysis, got %s", cfg.Temporal.TaskQueue)
	}
	if warnings := cfg.Validate(); len(warnings) != 0 {
		t.Errorf("defaults should have no warnings, got %v", warnings)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string // empty means no warning
	}{
		{"defaults", func(*Config) {}, ""},
		{"no workers", func(c *Config) { c.Analysis.Workers = 0 }, "workers"},
		{"threshold too high", func(c *Config) { c.Analysis.WarningThreshold = 1.5 }, "warning_threshold"},
		{"threshold negative", func(c *Config) { c.Analysis.WarningThreshold = -0.1 }, "warning_threshold"},
		{"negative timeout", func(c *Config) { c.Analysis.Timeout = -time.Second }, "timeout"},
		{"neo4j without user", func(c *Config) { c.Graph.URI = "bolt://localhost:7687" }, "username"},
		{"qdrant without dims", func(c *Config) { c.Vector.Host = "localhost"; c.Vector.Dimensions = 0 }, "dimensions"},
		{"bad sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "sample_rate"},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, "log level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			warnings := cfg.Validate()
			if tt.want == "" {
				if len(warnings) != 0 {
					t.Fatalf("expected no warnings, got %v", warnings)
				}
				return
			}
			if !hasWarning(warnings, tt.want) {
				t.Fatalf("expected warning containing %q, got %v", tt.want, warnings)
			}
		})
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr, got %s", cfg.Server.Addr)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "springtwin.yaml")
	content := `
server:
  addr: ":9090"
analysis:
  workers: 4
  timeout: 90s
  exclude_dirs: [build]
graph:
  uri: bolt://neo4j:7687
  username: neo4j
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Analysis.Workers != 4 {
		t.Errorf("file values not applied: %+v %+v", cfg.Server, cfg.Analysis)
	}
	if cfg.Analysis.Timeout != 90*time.Second {
		t.Errorf("expected 90s, got %s", cfg.Analysis.Timeout)
	}
	if len(cfg.Analysis.ExcludeDirs) != 1 || cfg.Analysis.ExcludeDirs[0] != "build" {
		t.Errorf("unexpected exclude dirs %v", cfg.Analysis.ExcludeDirs)
	}
	if cfg.Graph.URI != "bolt://neo4j:7687" || cfg.Graph.Database != "neo4j" {
		t.Errorf("unexpected graph config %+v", cfg.Graph)
	}
	if cfg.Temporal.Namespace != "default" {
		t.Errorf("expected default namespace to survive, got %s", cfg.Temporal.Namespace)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("SPRINGTWIN_ANALYSIS_WORKERS", "6")
	t.Setenv("SPRINGTWIN_GATEWAY_PRIVILEGED_TOKEN", "s3cret")
	t.Setenv("SPRINGTWIN_STORAGE_PATH", "/var/lib/springtwin")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Analysis.Workers != 6 {
		t.Errorf("expected 6 workers, got %d", cfg.Analysis.Workers)
	}
	if cfg.Gateway.PrivilegedToken != "s3cret" {
		t.Errorf("expected token from env, got %q", cfg.Gateway.PrivilegedToken)
	}
	if cfg.Storage.Path != "/var/lib/springtwin" {
		t.Errorf("expected storage path from env, got %q", cfg.Storage.Path)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q): expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := ParseLevel("trace"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("dropped")
	logger.Warn("kept", slog.String("job", "j1"))

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line should be filtered at warn: %s", out)
	}
	if !strings.Contains(out, `"msg":"kept"`) || !strings.Contains(out, `"job":"j1"`) {
		t.Errorf("expected JSON warn line, got %s", out)
	}

	buf.Reset()
	NewLogger(LogConfig{}, &buf).Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output, got %s", buf.String())
	}
}
