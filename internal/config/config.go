package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Vector   VectorConfig   `mapstructure:"vector"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Report   ReportConfig   `mapstructure:"report"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	KeepAlive       time.Duration `mapstructure:"keep_alive"` // SSE ping interval
}

// AnalysisConfig bounds the job coordinator.
type AnalysisConfig struct {
	Workers          int           `mapstructure:"workers"`
	Parallelism      int           `mapstructure:"parallelism"` // zero means one per CPU
	Timeout          time.Duration `mapstructure:"timeout"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	WarningThreshold float64       `mapstructure:"warning_threshold"`
	MaxJobs          int           `mapstructure:"max_jobs"`
	ExcludeDirs      []string      `mapstructure:"exclude_dirs"`
	IncludeTests     bool          `mapstructure:"include_tests"`
	FollowGitignore  bool          `mapstructure:"follow_gitignore"`
	WatchDebounce    time.Duration `mapstructure:"watch_debounce"`
}

// StorageConfig selects the badger directory. An empty path keeps graphs
// in memory only.
type StorageConfig struct {
	Path       string        `mapstructure:"path"`
	SyncWrites bool          `mapstructure:"sync_writes"`
	GCInterval time.Duration `mapstructure:"gc_interval"`
}

// GraphConfig configures the optional neo4j projection.
type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// VectorConfig configures the optional qdrant search index. An empty host
// uses the in-memory index.
type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	Dimensions int    `mapstructure:"dimensions"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// GatewayConfig controls which callers may use write tools.
type GatewayConfig struct {
	PrivilegedToken     string `mapstructure:"privileged_token"`
	AllowAnonymousWrite bool   `mapstructure:"allow_anonymous_write"` // grant write tools without a token
	AuditPath           string `mapstructure:"audit_path"`            // empty disables the audit log
}

type ReportConfig struct {
	CacheMaxCost int64 `mapstructure:"cache_max_cost"` // bytes, negative disables the cache
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"` // OTLP gRPC, empty disables export
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// setDefaults registers every key so AutomaticEnv overrides reach
// Unmarshal, including keys whose default is empty.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.keep_alive", 30*time.Second)

	v.SetDefault("analysis.workers", 2)
	v.SetDefault("analysis.timeout", 10*time.Minute)
	v.SetDefault("analysis.progress_interval", 250*time.Millisecond)
	v.SetDefault("analysis.warning_threshold", 0.25)
	v.SetDefault("analysis.max_jobs", 100)
	v.SetDefault("analysis.exclude_dirs", []string{".git", "target", "build", "out", "node_modules", ".idea", ".gradle"})
	v.SetDefault("analysis.follow_gitignore", true)
	v.SetDefault("analysis.watch_debounce", 2*time.Second)
	v.SetDefault("analysis.parallelism", 0)
	v.SetDefault("analysis.include_tests", false)

	v.SetDefault("storage.path", "")
	v.SetDefault("storage.sync_writes", false)
	v.SetDefault("storage.gc_interval", 10*time.Minute)

	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.username", "")
	v.SetDefault("graph.password", "")
	v.SetDefault("graph.database", "neo4j")

	v.SetDefault("vector.host", "")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "springtwin_entities")
	v.SetDefault("vector.dimensions", 256)

	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "springtwin-analysis")

	v.SetDefault("gateway.privileged_token", "")
	v.SetDefault("gateway.allow_anonymous_write", false)
	v.SetDefault("gateway.audit_path", "")

	v.SetDefault("report.cache_max_cost", 64<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Analysis.Workers < 1 {
		warnings = append(warnings, fmt.Sprintf("analysis workers %d is below 1; the default is used", c.Analysis.Workers))
	}
	if c.Analysis.WarningThreshold < 0 || c.Analysis.WarningThreshold > 1 {
		warnings = append(warnings, fmt.Sprintf("analysis warning_threshold %.2f is outside [0.0, 1.0]", c.Analysis.WarningThreshold))
	}
	if c.Analysis.Timeout < 0 {
		warnings = append(warnings, fmt.Sprintf("analysis timeout %s is negative", c.Analysis.Timeout))
	}
	if c.Graph.URI != "" && c.Graph.Username == "" {
		warnings = append(warnings, fmt.Sprintf("graph uri %q is configured but username is empty", c.Graph.URI))
	}
	if c.Vector.Host != "" && c.Vector.Dimensions <= 0 {
		warnings = append(warnings, fmt.Sprintf("vector dimensions %d must be positive", c.Vector.Dimensions))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		warnings = append(warnings, err.Error())
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != "text" && f != "json" {
		warnings = append(warnings, fmt.Sprintf("log format %q is not text or json", c.Log.Format))
	}
	return warnings
}

// Load reads configuration from an optional file and the environment.
// Environment variables use the SPRINGTWIN_ prefix with dots replaced by
// underscores, e.g. SPRINGTWIN_ANALYSIS_WORKERS.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SPRINGTWIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}

// ParseLevel maps debug|info|warn|error to a slog level. Empty is info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log level %q is not debug, info, warn or error", level)
	}
}

// NewLogger builds a text or JSON slog logger writing to w.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	level, _ := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
