package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "stdio",
			HTTPPort:  8080,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
		Engine: EngineConfig{
			DefaultLanguage:   "python",
			DefaultTimeoutSec: 30,
			DefaultAttempts:   3,
			AutoCorrect:       true,
		},
		Sandbox: SandboxConfig{
			MemoryMB:      1536,
			MaxFileSizeMB: 200,
			MaxOpenFiles:  256,
		},
		Retention: RetentionConfig{
			MaxAgeHours: 168,
		},
		Workspace: WorkspaceConfig{
			Root: "./data",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validConfig().validate())
	})

	t.Run("InvalidServerTransport", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "invalid"

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.transport")
	})

	t.Run("InvalidDefaultTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.DefaultTimeoutSec = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine.default_timeout_sec must be positive")
	})

	t.Run("UnsupportedDefaultLanguage", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.DefaultLanguage = "ruby"

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported engine.default_language")
	})

	t.Run("InvalidMemoryLimit", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.MemoryMB = -1

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.memory_mb must be positive")
	})

	t.Run("RetentionAgeOutOfRange", func(t *testing.T) {
		cfg := validConfig()
		cfg.Retention.MaxAgeHours = 1000

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retention.max_age_hours")
	})

	t.Run("EmptyWorkspaceRoot", func(t *testing.T) {
		cfg := validConfig()
		cfg.Workspace.Root = ""

		require.Error(t, cfg.validate())
	})
}

func TestClamps(t *testing.T) {
	t.Run("TimeoutSec", func(t *testing.T) {
		assert.Equal(t, 1, ClampTimeoutSec(0))
		assert.Equal(t, 1, ClampTimeoutSec(-5))
		assert.Equal(t, 30, ClampTimeoutSec(30))
		assert.Equal(t, 300, ClampTimeoutSec(301))
	})

	t.Run("Attempts", func(t *testing.T) {
		assert.Equal(t, 1, ClampAttempts(0))
		assert.Equal(t, 2, ClampAttempts(2))
		assert.Equal(t, 3, ClampAttempts(10))
	})

	t.Run("ListLimit", func(t *testing.T) {
		assert.Equal(t, 1, ClampListLimit(0))
		assert.Equal(t, 200, ClampListLimit(10000))
	})

	t.Run("AgeHours", func(t *testing.T) {
		assert.Equal(t, 1, ClampAgeHours(0))
		assert.Equal(t, 720, ClampAgeHours(9999))
	})
}
