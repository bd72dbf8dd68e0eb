// =============================================================================
// 📦 SkillFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("skillflow.yaml").
//	    WithEnvPrefix("SKILLFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/skillflow/internal/database"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 SkillFlow 的完整配置结构
type Config struct {
	// Engine 技能目录与加载配置
	Engine EngineConfig `yaml:"engine" split_words:"true"`

	// Tracker 执行追踪配置
	Tracker TrackerConfig `yaml:"tracker" split_words:"true"`

	// Database 技能库存储配置
	Database DatabaseConfig `yaml:"database" split_words:"true"`

	// Inventory 数据保留配置
	Inventory InventoryConfig `yaml:"inventory" split_words:"true"`

	// Guard 性能守卫配置
	Guard GuardConfig `yaml:"guard" split_words:"true"`

	// Reload 热加载配置
	Reload ReloadConfig `yaml:"reload" split_words:"true"`

	// Calling 调用引擎配置
	Calling CallingConfig `yaml:"calling" split_words:"true"`

	// Rollout 灰度配置
	Rollout RolloutConfig `yaml:"rollout" split_words:"true"`

	// Redis 告警与缓存配置
	Redis RedisConfig `yaml:"redis" split_words:"true"`

	// Log 日志配置
	Log LogConfig `yaml:"log" split_words:"true"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" split_words:"true"`

	// Metrics 指标暴露配置
	Metrics MetricsConfig `yaml:"metrics" split_words:"true"`
}

// EngineConfig 引擎配置
type EngineConfig struct {
	// 技能目录列表
	SkillDirs []string `yaml:"skill_dirs" split_words:"true"`
	// 关闭时等待追踪器排空的最长时间
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

// 持久化模式
const (
	PersistenceOff       = "off"
	PersistenceImmediate = "immediate"
	PersistenceBatch     = "batch"
)

// TrackerConfig 执行追踪配置
type TrackerConfig struct {
	// 持久化模式: off, immediate, batch
	PersistenceMode string `yaml:"persistence_mode" split_words:"true"`
	// 批大小
	BatchSize int `yaml:"batch_size" split_words:"true"`
	// 定时 flush 间隔
	FlushInterval time.Duration `yaml:"flush_interval" split_words:"true"`
	// 环形缓冲区容量
	BufferSize int `yaml:"buffer_size" split_words:"true"`
	// 每批最多尝试次数
	MaxAttempts int `yaml:"max_attempts" split_words:"true"`
	// 首次重试退避
	InitialBackoff time.Duration `yaml:"initial_backoff" split_words:"true"`
	// 死信队列上限（条记录）
	DeadLetterLimit int `yaml:"dead_letter_limit" split_words:"true"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres
	Driver string `yaml:"driver" split_words:"true"`
	// SQLite 文件路径（空或 :memory: 为内存库）
	Path string `yaml:"path" split_words:"true"`
	// 主机
	Host string `yaml:"host" split_words:"true"`
	// 端口
	Port int `yaml:"port" split_words:"true"`
	// 用户名
	User string `yaml:"user" split_words:"true"`
	// 密码
	Password string `yaml:"password" split_words:"true"`
	// 数据库名
	Name string `yaml:"name" split_words:"true"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" split_words:"true"`
	// SQLite busy timeout
	BusyTimeout time.Duration `yaml:"busy_timeout" split_words:"true"`
	// 迁移版本表
	MigrationsTable string `yaml:"migrations_table" split_words:"true"`
	// 连接池
	Pool database.PoolConfig `yaml:"pool" split_words:"true"`
}

// InventoryConfig 数据保留配置
type InventoryConfig struct {
	// 执行与决策记录保留天数
	RetentionDays int `yaml:"retention_days" split_words:"true"`
	// 自动清理间隔，0 表示关闭
	CleanupInterval time.Duration `yaml:"cleanup_interval" split_words:"true"`
	// 写事务在锁冲突时的最大尝试次数
	WriteAttempts int `yaml:"write_attempts" split_words:"true"`
}

// GuardConfig 性能守卫配置
type GuardConfig struct {
	// 回归阈值倍数
	RegressionThreshold float64 `yaml:"regression_threshold" split_words:"true"`
	// 同一技能告警去重窗口
	AlertDedupWindow time.Duration `yaml:"alert_dedup_window" split_words:"true"`
	// 滚动窗口样本数
	WindowSize int `yaml:"window_size" split_words:"true"`
	// 最少样本数，低于此值不做回归判定
	MinSamples int `yaml:"min_samples" split_words:"true"`
	// 最近告警保留条数
	AlertHistory int `yaml:"alert_history" split_words:"true"`
}

// ReloadConfig 热加载配置
type ReloadConfig struct {
	// 是否启用文件监听
	Enabled bool `yaml:"enabled" split_words:"true"`
	// 单路径去抖时间
	Debounce time.Duration `yaml:"debounce" split_words:"true"`
	// 重载队列长度
	QueueSize int `yaml:"queue_size" split_words:"true"`
	// 保留的重载结果条数
	HistorySize int `yaml:"history_size" split_words:"true"`
}

// CallingConfig 调用引擎配置
type CallingConfig struct {
	// 工作协程数
	Workers int `yaml:"workers" split_words:"true"`
	// 队列长度
	QueueSize int `yaml:"queue_size" split_words:"true"`
	// 默认调用超时
	Timeout time.Duration `yaml:"timeout" split_words:"true"`
	// 非超时失败时是否重试一次
	Retry bool `yaml:"retry" split_words:"true"`
	// 每技能每秒调用数，0 表示不限
	RateLimit float64 `yaml:"rate_limit" split_words:"true"`
	// 令牌桶突发量
	RateBurst int `yaml:"rate_burst" split_words:"true"`
}

// RolloutConfig 灰度配置
type RolloutConfig struct {
	// 灰度阶段
	Stages []float64 `yaml:"stages" split_words:"true"`
	// 每个变体进入评估的最少样本数
	MinSamples int `yaml:"min_samples" split_words:"true"`
	// 候选变体错误率高于基线多少时回滚
	MaxErrorRateDelta float64 `yaml:"max_error_rate_delta" split_words:"true"`
	// 候选变体 p95 超过基线倍数时回滚
	MaxLatencyRatio float64 `yaml:"max_latency_ratio" split_words:"true"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用 Redis 告警/缓存
	Enabled bool `yaml:"enabled" split_words:"true"`
	// 地址
	Addr string `yaml:"addr" split_words:"true"`
	// 密码
	Password string `yaml:"password" split_words:"true"`
	// 数据库编号
	DB int `yaml:"db" split_words:"true"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" split_words:"true"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" split_words:"true"`
	// 告警列表键
	AlertKey string `yaml:"alert_key" split_words:"true"`
	// 告警列表最大长度
	AlertLimit int64 `yaml:"alert_limit" split_words:"true"`
	// 摘要缓存 TTL
	SummaryTTL time.Duration `yaml:"summary_ttl" split_words:"true"`
	// 以 TLS 连接
	TLS bool `yaml:"tls" split_words:"true"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" split_words:"true"`
	// 输出格式: json, console
	Format string `yaml:"format" split_words:"true"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" split_words:"true"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" split_words:"true"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" split_words:"true"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" split_words:"true"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" split_words:"true"`
	// 服务名称
	ServiceName string `yaml:"service_name" split_words:"true"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" split_words:"true"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 命名空间
	Namespace string `yaml:"namespace" split_words:"true"`
	// serve 命令监听地址
	ListenAddr string `yaml:"listen_addr" split_words:"true"`
	// 运维端点 TLS 证书与私钥，都配置时启用 TLS
	TLSCertFile string `yaml:"tls_cert_file" split_words:"true"`
	TLSKeyFile  string `yaml:"tls_key_file" split_words:"true"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SKILLFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := envconfig.Process(l.envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// =============================================================================
// ✅ 校验
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	switch c.Tracker.PersistenceMode {
	case PersistenceOff, PersistenceImmediate, PersistenceBatch:
	default:
		errs = append(errs, fmt.Sprintf("unknown persistence_mode %q", c.Tracker.PersistenceMode))
	}
	if c.Tracker.BatchSize <= 0 {
		errs = append(errs, "tracker.batch_size must be positive")
	}
	if c.Tracker.FlushInterval <= 0 {
		errs = append(errs, "tracker.flush_interval must be positive")
	}
	if c.Tracker.MaxAttempts <= 0 {
		errs = append(errs, "tracker.max_attempts must be positive")
	}
	if c.Tracker.BufferSize < c.Tracker.BatchSize {
		errs = append(errs, "tracker.buffer_size must be at least batch_size")
	}

	switch c.Database.Driver {
	case database.DriverSQLite, database.DriverPostgres:
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	if err := c.Database.Pool.Validate(); err != nil {
		errs = append(errs, "database.pool: "+err.Error())
	}

	if c.Inventory.RetentionDays <= 0 {
		errs = append(errs, "inventory.retention_days must be positive")
	}
	if c.Guard.RegressionThreshold <= 1 {
		errs = append(errs, "guard.regression_threshold must be greater than 1")
	}
	if c.Guard.AlertDedupWindow < 0 {
		errs = append(errs, "guard.alert_dedup_window must not be negative")
	}
	if c.Guard.WindowSize <= 0 {
		errs = append(errs, "guard.window_size must be positive")
	}
	if c.Reload.Debounce < 0 {
		errs = append(errs, "reload.debounce must not be negative")
	}
	if c.Calling.Workers <= 0 {
		errs = append(errs, "calling.workers must be positive")
	}
	if c.Calling.Timeout <= 0 {
		errs = append(errs, "calling.timeout must be positive")
	}
	for _, s := range c.Rollout.Stages {
		if s <= 0 || s > 1 {
			errs = append(errs, "rollout.stages must be in (0, 1]")
			break
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case database.DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.User, d.Password),
			Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
			Path:   "/" + d.Name,
		}
		q := url.Values{}
		if d.SSLMode != "" {
			q.Set("sslmode", d.SSLMode)
		}
		u.RawQuery = q.Encode()
		return u.String()
	case database.DriverSQLite, "":
		return database.SQLiteDSN(d.Path, d.BusyTimeout)
	default:
		return ""
	}
}
