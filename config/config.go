// Package config defines the helpdesk daemon configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/helpdesk/task"
)

// EnvPrefix prefixes every environment override, e.g. HELPDESK_SERVER_ADDR.
const EnvPrefix = "HELPDESK_"

// Config is the top-level helpdesk configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server" envPrefix:"SERVER_"`
	Auth      AuthConfig      `json:"auth" yaml:"auth" envPrefix:"AUTH_"`
	Store     StoreConfig     `json:"store" yaml:"store" envPrefix:"STORE_"`
	Tasks     TasksConfig     `json:"tasks" yaml:"tasks" envPrefix:"TASKS_"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry" envPrefix:"TELEMETRY_"`
	LogLevel  string          `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr" env:"ADDR"` // listen address, e.g., ":9090"
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Auth modes.
const (
	AuthModeLocal = "local" // HS256 tokens issued by /api/auth/login
	AuthModeJWKS  = "jwks"  // RS256 tokens from an external identity provider
)

// AuthConfig controls bearer-token authentication.
type AuthConfig struct {
	Mode      string        `json:"mode" yaml:"mode" env:"MODE"`
	JWTSecret string        `json:"jwt_secret" yaml:"jwt_secret" env:"JWT_SECRET"`
	AdminUser string        `json:"admin_user" yaml:"admin_user" env:"ADMIN_USER"`
	AdminPass string        `json:"admin_pass" yaml:"admin_pass" env:"ADMIN_PASS"` // bcrypt hash
	TokenTTL  time.Duration `json:"token_ttl" yaml:"token_ttl" env:"TOKEN_TTL"`
	JWKSURL   string        `json:"jwks_url" yaml:"jwks_url" env:"JWKS_URL"`
	Issuer    string        `json:"issuer" yaml:"issuer" env:"ISSUER"`
	Audience  string        `json:"audience" yaml:"audience" env:"AUDIENCE"`
	JWKSTTL   time.Duration `json:"jwks_ttl" yaml:"jwks_ttl" env:"JWKS_TTL"`
}

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// StoreConfig selects the task and history backend.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" env:"DRIVER"`
	Path   string `json:"path" yaml:"path" env:"PATH"` // SQLite database file
}

// TasksConfig tunes the lifecycle policy.
type TasksConfig struct {
	// DueHours overrides the due-date offset per priority, in hours.
	DueHours             map[string]int `json:"due_hours,omitempty" yaml:"due_hours" env:"DUE_HOURS"`
	AllowUnknownPriority bool           `json:"allow_unknown_priority" yaml:"allow_unknown_priority" env:"ALLOW_UNKNOWN_PRIORITY"`
	AllowTerminalAssign  bool           `json:"allow_terminal_assign" yaml:"allow_terminal_assign" env:"ALLOW_TERMINAL_ASSIGN"`
	ListLimit            int            `json:"list_limit" yaml:"list_limit" env:"LIST_LIMIT"`
}

// TelemetryConfig controls trace export. An empty endpoint disables export.
type TelemetryConfig struct {
	Endpoint    string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `json:"service_name" yaml:"service_name" env:"SERVICE_NAME"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":9090",
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Mode:      AuthModeLocal,
			AdminUser: "admin",
			TokenTTL:  24 * time.Hour,
			JWKSTTL:   time.Hour,
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   "./data/helpdesk.db",
		},
		Tasks: TasksConfig{
			AllowTerminalAssign: true,
			ListLimit:           task.MaxListLimit,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "helpdesk",
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file over DefaultConfig and then applies
// HELPDESK_* environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case AuthModeLocal:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required in %s mode", AuthModeLocal)
		}
	case AuthModeJWKS:
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth.jwks_url is required in %s mode", AuthModeJWKS)
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s driver", DriverSQLite)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	for p, h := range c.Tasks.DueHours {
		if !task.IsValidPriority(task.Priority(p)) {
			return fmt.Errorf("tasks.due_hours: unknown priority %q", p)
		}
		if h <= 0 {
			return fmt.Errorf("tasks.due_hours.%s must be positive", p)
		}
	}
	if c.Tasks.ListLimit < 0 || c.Tasks.ListLimit > task.MaxListLimit {
		return fmt.Errorf("tasks.list_limit must be between 0 and %d", task.MaxListLimit)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// DueOffsets converts DueHours into per-priority durations.
func (t TasksConfig) DueOffsets() map[task.Priority]time.Duration {
	out := make(map[task.Priority]time.Duration, len(t.DueHours))
	for p, h := range t.DueHours {
		out[task.Priority(p)] = time.Duration(h) * time.Hour
	}
	return out
}

// ServiceOptions returns the task.Service options this section describes.
func (t TasksConfig) ServiceOptions() []task.Option {
	opts := []task.Option{
		task.WithUnknownPriority(t.AllowUnknownPriority),
		task.WithTerminalAssign(t.AllowTerminalAssign),
		task.WithDueOffsets(t.DueOffsets()),
	}
	if t.ListLimit > 0 {
		opts = append(opts, task.WithListLimit(t.ListLimit))
	}
	return opts
}

// ParseLevel maps a log_level string to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
