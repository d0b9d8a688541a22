package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the driver's full layered configuration.
type Config struct {
	Workspace  string           `mapstructure:"workspace"`   // dialog/run/.minds root, defaults to HomeDir()
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`    // optional GORM secondary index
	Providers  []ProviderConfig `mapstructure:"providers"`   // LLM providers, tried in order
	DefaultModel string         `mapstructure:"default_model"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails"`
	Diligence  DiligenceConfig  `mapstructure:"diligence"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// DatabaseConfig configures the optional GORM queryable index for Q4H and
// pending sub-dialog records. The YAML snapshot files under run/ remain the
// source of truth regardless of whether this is configured.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"` // sqlite, postgres
	DSN     string `mapstructure:"dsn"`
}

// ProviderConfig configures a single LLM provider the router tries in
// priority order.
type ProviderConfig struct {
	Name     string   `mapstructure:"name"`
	Type     string   `mapstructure:"type"` // openai | anthropic
	BaseURL  string   `mapstructure:"base_url"`
	APIKey   string   `mapstructure:"api_key"`
	Models   []string `mapstructure:"models"`
	Priority int      `mapstructure:"priority"`
}

// GuardrailsConfig tunes C2/C3/C4's context/cost/loop-detection thresholds.
type GuardrailsConfig struct {
	ContextMaxTokens    int           `mapstructure:"context_max_tokens"`
	ContextWarnRatio    float64       `mapstructure:"context_warn_ratio"`
	ContextHardRatio    float64       `mapstructure:"context_hard_ratio"`
	CompactKeepLast     int           `mapstructure:"compact_keep_last"`
	LoopWindowSize      int           `mapstructure:"loop_window_size"`
	LoopDetectThreshold int           `mapstructure:"loop_detect_threshold"`
	LoopNameThreshold   int           `mapstructure:"loop_name_threshold"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryBaseWait       time.Duration `mapstructure:"retry_base_wait"`
}

// DiligenceConfig tunes C9's auto-continue budget.
type DiligenceConfig struct {
	MaxInjectCount int `mapstructure:"max_inject_count"`
}

// SchedulerConfig tunes C10's concurrency bound.
type SchedulerConfig struct {
	MaxConcurrentDrives int `mapstructure:"max_concurrent_drives"`
}

// EventBusConfig tunes C11's buffering and durable WAL.
type EventBusConfig struct {
	BufferSize int  `mapstructure:"buffer_size"`
	Durable    bool `mapstructure:"durable"`
}

// Load reads the layered configuration: built-in defaults, then
// ~/.dialogkernel/config.yaml (global), then ./.dialogkernel.yaml
// (project-local, merged over the global layer), then DK_* environment
// variables, highest priority last.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	if _, err := os.Stat(ProjectConfigName); err == nil {
		local := viper.New()
		local.SetConfigFile(ProjectConfigName)
		if err := local.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(local.AllSettings()); err != nil {
				return nil, fmt.Errorf("merge project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("DK")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Workspace == "" {
		cfg.Workspace = HomeDir()
	}
	return &cfg, nil
}

// ProjectConfigName is the project-local config override file, checked
// relative to the current working directory.
const ProjectConfigName = ".dialogkernel.yaml"

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", filepath.Join(HomeDir(), "index.db"))

	v.SetDefault("default_model", "")

	v.SetDefault("guardrails.context_max_tokens", 128000)
	v.SetDefault("guardrails.context_warn_ratio", 0.7)
	v.SetDefault("guardrails.context_hard_ratio", 0.85)
	v.SetDefault("guardrails.compact_keep_last", 10)
	v.SetDefault("guardrails.loop_window_size", 10)
	v.SetDefault("guardrails.loop_detect_threshold", 5)
	v.SetDefault("guardrails.loop_name_threshold", 8)
	v.SetDefault("guardrails.max_retries", 3)
	v.SetDefault("guardrails.retry_base_wait", "2s")

	v.SetDefault("diligence.max_inject_count", 0)

	v.SetDefault("scheduler.max_concurrent_drives", 8)

	v.SetDefault("event_bus.buffer_size", 64)
	v.SetDefault("event_bus.durable", true)
}
