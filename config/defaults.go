// =============================================================================
// 📦 SkillFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/skillflow/internal/database"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Engine:    DefaultEngineConfig(),
		Tracker:   DefaultTrackerConfig(),
		Database:  DefaultDatabaseConfig(),
		Inventory: DefaultInventoryConfig(),
		Guard:     DefaultGuardConfig(),
		Reload:    DefaultReloadConfig(),
		Calling:   DefaultCallingConfig(),
		Rollout:   DefaultRolloutConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SkillDirs:       []string{"skills"},
		ShutdownTimeout: 10 * time.Second,
	}
}

// DefaultTrackerConfig 返回默认追踪配置
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		PersistenceMode: PersistenceBatch,
		BatchSize:       50,
		FlushInterval:   5 * time.Second,
		BufferSize:      1000,
		MaxAttempts:     3,
		InitialBackoff:  100 * time.Millisecond,
		DeadLetterLimit: 1000,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          database.DriverSQLite,
		Path:            "skillflow.db",
		Host:            "localhost",
		Port:            5432,
		User:            "skillflow",
		Name:            "skillflow",
		SSLMode:         "disable",
		BusyTimeout:     5 * time.Second,
		MigrationsTable: "schema_migrations",
		Pool:            database.DefaultPoolConfig(),
	}
}

// DefaultInventoryConfig 返回默认保留配置
func DefaultInventoryConfig() InventoryConfig {
	return InventoryConfig{
		RetentionDays:   30,
		CleanupInterval: 24 * time.Hour,
		WriteAttempts:   3,
	}
}

// DefaultGuardConfig 返回默认守卫配置
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RegressionThreshold: 1.2,
		AlertDedupWindow:    300 * time.Second,
		WindowSize:          100,
		MinSamples:          10,
		AlertHistory:        100,
	}
}

// DefaultReloadConfig 返回默认热加载配置
func DefaultReloadConfig() ReloadConfig {
	return ReloadConfig{
		Enabled:     true,
		Debounce:    500 * time.Millisecond,
		QueueSize:   64,
		HistorySize: 100,
	}
}

// DefaultCallingConfig 返回默认调用配置
func DefaultCallingConfig() CallingConfig {
	return CallingConfig{
		Workers:   8,
		QueueSize: 256,
		Timeout:   30 * time.Second,
		Retry:     true,
		RateLimit: 0,
		RateBurst: 10,
	}
}

// DefaultRolloutConfig 返回默认灰度配置
func DefaultRolloutConfig() RolloutConfig {
	return RolloutConfig{
		Stages:            []float64{0.1, 0.5, 1.0},
		MinSamples:        20,
		MaxErrorRateDelta: 0.05,
		MaxLatencyRatio:   1.2,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		AlertKey:     "skillflow:alerts",
		AlertLimit:   1000,
		SummaryTTL:   30 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "skillflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:  "skillflow",
		ListenAddr: ":9091",
	}
}
