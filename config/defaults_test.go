package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEmpty(t, cfg.Engine.SkillDirs)
	assert.NotEqual(t, InventoryConfig{}, cfg.Inventory)
	assert.NotEqual(t, GuardConfig{}, cfg.Guard)
	assert.NotEqual(t, ReloadConfig{}, cfg.Reload)
	assert.NotEqual(t, CallingConfig{}, cfg.Calling)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEqual(t, MetricsConfig{}, cfg.Metrics)
	assert.NotEmpty(t, cfg.Rollout.Stages)
	assert.NotEmpty(t, cfg.Log.OutputPaths)
}

// --- Individual Default*Config functions ---

func TestDefaultTrackerConfig(t *testing.T) {
	cfg := DefaultTrackerConfig()
	assert.Equal(t, PersistenceBatch, cfg.PersistenceMode)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.Equal(t, 1000, cfg.BufferSize)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 1000, cfg.DeadLetterLimit)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "skillflow.db", cfg.Path)
	assert.Equal(t, 5*time.Second, cfg.BusyTimeout)
	assert.Equal(t, "schema_migrations", cfg.MigrationsTable)
	assert.NoError(t, cfg.Pool.Validate())
}

func TestDefaultGuardConfig(t *testing.T) {
	cfg := DefaultGuardConfig()
	assert.InDelta(t, 1.2, cfg.RegressionThreshold, 1e-9)
	assert.Equal(t, 300*time.Second, cfg.AlertDedupWindow)
	assert.Equal(t, 100, cfg.WindowSize)
	assert.Equal(t, 10, cfg.MinSamples)
}

func TestDefaultReloadConfig(t *testing.T) {
	cfg := DefaultReloadConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 64, cfg.QueueSize)
}

func TestDefaultCallingConfig(t *testing.T) {
	cfg := DefaultCallingConfig()
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.True(t, cfg.Retry)
	assert.Zero(t, cfg.RateLimit)
}

func TestDefaultRolloutConfig(t *testing.T) {
	cfg := DefaultRolloutConfig()
	assert.Equal(t, []float64{0.1, 0.5, 1.0}, cfg.Stages)
	assert.Equal(t, 20, cfg.MinSamples)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, "skillflow:alerts", cfg.AlertKey)
	assert.Equal(t, int64(1000), cfg.AlertLimit)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "skillflow", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 1e-9)
}
