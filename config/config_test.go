package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sanction-engine/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sanctions.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sanctions.db", cfg.Database.Path)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 4, cfg.Engine.Parallelism)
	assert.Equal(t, config.LockMemory, cfg.Lock.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090

[scheduler]
interval = "15m"

[engine]
parallelism = 2
timezone = "Asia/Manila"

[log]
level = "debug"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 2, cfg.Engine.Parallelism)
	assert.Equal(t, "Asia/Manila", cfg.Location().String())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sanctions.db", cfg.Database.Path, "unset keys keep defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "[server]\nport = 9090\n")
	t.Setenv(config.EnvPort, "7070")
	t.Setenv(config.EnvDatabase, ":memory:")
	t.Setenv(config.EnvRedisAddr, "localhost:6379")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, config.LockRedis, cfg.Lock.Backend)
	assert.Equal(t, "localhost:6379", cfg.Lock.RedisAddr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "[server]\nport = 0\n"},
		{"bad level", "[log]\nlevel = \"loud\"\n"},
		{"bad backend", "[lock]\nbackend = \"etcd\"\n"},
		{"redis without addr", "[lock]\nbackend = \"redis\"\n"},
		{"bad timezone", "[engine]\ntimezone = \"Mars/Base\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_BadEnvPort(t *testing.T) {
	t.Setenv(config.EnvPort, "eighty")
	_, err := config.Load("")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
