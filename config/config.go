// Package config provides application configuration management.
//
// Configuration is loaded from config.yaml via viper with defaults for
// every knob, then validated. The clamp helpers bound the per-request
// parameters of the engine's public operations.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Request parameter bounds enforced by the engine.
const (
	MinTimeoutSec = 1
	MaxTimeoutSec = 300
	MinAttempts   = 1
	MaxAttempts   = 3
	MinListLimit  = 1
	MaxListLimit  = 200
	MinAgeHours   = 1
	MaxAgeHours   = 720
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Languages LanguagesConfig `mapstructure:"languages"`
	Retention RetentionConfig `mapstructure:"retention"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
}

// ServerConfig holds the MCP transport settings.
type ServerConfig struct {
	Transport   string `mapstructure:"transport"`
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"` // 0 disables the metrics endpoint
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// EngineConfig holds the retry-loop defaults applied when a request omits
// the corresponding parameter.
type EngineConfig struct {
	DefaultLanguage   string `mapstructure:"default_language"`
	DefaultTimeoutSec int    `mapstructure:"default_timeout_sec"`
	DefaultAttempts   int    `mapstructure:"default_attempts"`
	AutoCorrect       bool   `mapstructure:"auto_correct"`
}

// SandboxConfig holds the child-process resource limits.
type SandboxConfig struct {
	MemoryMB      int      `mapstructure:"memory_mb"`
	MaxFileSizeMB int      `mapstructure:"max_file_size_mb"`
	MaxOpenFiles  int      `mapstructure:"max_open_files"`
	EnvAllowlist  []string `mapstructure:"env_allowlist"`
}

// LanguagesConfig overrides the guest interpreter binaries.
type LanguagesConfig struct {
	PythonCommand string `mapstructure:"python_command"`
	LuaCommand    string `mapstructure:"lua_command"`
}

// RetentionConfig holds run-directory retention settings. An empty
// schedule disables the background sweeper.
type RetentionConfig struct {
	Schedule    string `mapstructure:"schedule"`
	MaxAgeHours int    `mapstructure:"max_age_hours"`
}

// WorkspaceConfig holds the data root granted to sessions.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// New loads and validates the application configuration.
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("scriptbox")
	viper.AutomaticEnv()

	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.metrics_port", 0)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("engine.default_language", "python")
	viper.SetDefault("engine.default_timeout_sec", 30)
	viper.SetDefault("engine.default_attempts", 3)
	viper.SetDefault("engine.auto_correct", true)

	viper.SetDefault("sandbox.memory_mb", 1536)
	viper.SetDefault("sandbox.max_file_size_mb", 200)
	viper.SetDefault("sandbox.max_open_files", 256)
	viper.SetDefault("sandbox.env_allowlist", []string{
		"PATH", "HOME", "LANG", "LC_ALL", "TMPDIR",
		"PYTHONPATH", "PYTHONHOME", "LUA_PATH", "LUA_CPATH",
	})

	viper.SetDefault("languages.python_command", "python3")
	viper.SetDefault("languages.lua_command", "lua")

	viper.SetDefault("retention.schedule", "")
	viper.SetDefault("retention.max_age_hours", 168)

	viper.SetDefault("workspace.root", "./data")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid.
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}
	if c.Engine.DefaultTimeoutSec <= 0 {
		return fmt.Errorf("engine.default_timeout_sec must be positive, got: %d", c.Engine.DefaultTimeoutSec)
	}
	if c.Engine.DefaultLanguage != "python" && c.Engine.DefaultLanguage != "lua" {
		return fmt.Errorf("unsupported engine.default_language: %s", c.Engine.DefaultLanguage)
	}
	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}
	if c.Sandbox.MaxFileSizeMB <= 0 {
		return fmt.Errorf("sandbox.max_file_size_mb must be positive, got: %d", c.Sandbox.MaxFileSizeMB)
	}
	if c.Sandbox.MaxOpenFiles <= 0 {
		return fmt.Errorf("sandbox.max_open_files must be positive, got: %d", c.Sandbox.MaxOpenFiles)
	}
	if c.Retention.MaxAgeHours < MinAgeHours || c.Retention.MaxAgeHours > MaxAgeHours {
		return fmt.Errorf("retention.max_age_hours must be in [%d, %d], got: %d", MinAgeHours, MaxAgeHours, c.Retention.MaxAgeHours)
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root must not be empty")
	}
	return nil
}

// RetentionMaxAge returns the configured retention age as a duration.
func (c *Config) RetentionMaxAge() time.Duration {
	return time.Duration(c.Retention.MaxAgeHours) * time.Hour
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampTimeoutSec bounds a requested timeout to [1, 300] seconds.
func ClampTimeoutSec(v int) int {
	return clamp(v, MinTimeoutSec, MaxTimeoutSec)
}

// ClampAttempts bounds a requested attempt budget to [1, 3].
func ClampAttempts(v int) int {
	return clamp(v, MinAttempts, MaxAttempts)
}

// ClampListLimit bounds a list_runs limit to [1, 200].
func ClampListLimit(v int) int {
	return clamp(v, MinListLimit, MaxListLimit)
}

// ClampAgeHours bounds a cleanup age to [1, 720] hours.
func ClampAgeHours(v int) int {
	return clamp(v, MinAgeHours, MaxAgeHours)
}
