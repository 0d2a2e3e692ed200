package config

import (
	"time"

	"github.com/vietddude/aegis/internal/breaker"
	"github.com/vietddude/aegis/internal/report"
	"github.com/vietddude/aegis/internal/storage"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig    `yaml:"server"`
	Logging  LoggingConfig   `yaml:"logging"`
	Debug    bool            `yaml:"debug"`
	Redis    storage.Config  `yaml:"redis"`
	Database report.DBConfig `yaml:"database"`
	Breakers BreakersConfig  `yaml:"breakers"`
	Retry    []PolicyConfig  `yaml:"retry_policies"`
	Queue    QueueConfig     `yaml:"queue"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// BreakersConfig holds circuit breaker settings: shared defaults plus
// per-dependency overrides keyed by dependency name.
type BreakersConfig struct {
	Defaults     breaker.Config            `yaml:"defaults"`
	Dependencies map[string]breaker.Config `yaml:"dependencies"`
}

// PolicyConfig holds one named retry policy.
type PolicyConfig struct {
	Name        string        `yaml:"name"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      bool          `yaml:"jitter"`
}

// QueueConfig holds deferred queue settings shared by all queues.
type QueueConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	RecordTTL     time.Duration `yaml:"record_ttl"`
	DrainInterval time.Duration `yaml:"drain_interval"`
}
