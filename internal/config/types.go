package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Router    RouterConfig    `mapstructure:"router"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	// MonitorPort 大于0时开启监控事件查询接口。
	MonitorPort int `mapstructure:"monitor_port"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ExecutionConfig 控制各执行策略的行为参数。
type ExecutionConfig struct {
	MinOrderQuote float64 `mapstructure:"min_order_quote"`

	// 限价单策略参数。
	SpreadBuffer float64       `mapstructure:"spread_buffer"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LimitTimeout time.Duration `mapstructure:"limit_timeout"`

	// 拆单策略参数。
	SlippageTarget float64       `mapstructure:"slippage_target"`
	MaxChunkPct    float64       `mapstructure:"max_chunk_pct"`
	ChunkVariance  float64       `mapstructure:"chunk_variance"`
	StaggerMin     time.Duration `mapstructure:"stagger_min"`
	StaggerMax     time.Duration `mapstructure:"stagger_max"`
	BookDepth      int           `mapstructure:"book_depth"`

	// TWAP 策略参数。
	TWAPDuration time.Duration `mapstructure:"twap_duration"`
	TWAPSlices   int           `mapstructure:"twap_slices"`
	SliceTimeout time.Duration `mapstructure:"slice_timeout"`
}

// RouterConfig 控制策略路由的分类阈值。
type RouterConfig struct {
	SmallOrderThreshold  float64 `mapstructure:"small_order_threshold"`
	MediumOrderThreshold float64 `mapstructure:"medium_order_threshold"`
	VolatilityThreshold  float64 `mapstructure:"volatility_threshold"`
	EnableTWAP           bool    `mapstructure:"enable_twap"`
	EnableSplitting      bool    `mapstructure:"enable_splitting"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	LoopInterval time.Duration `mapstructure:"loop_interval"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}

	if c.Execution.MinOrderQuote < 0 {
		err = multierr.Append(err, errors.New("execution.min_order_quote 不能为负"))
	}
	if c.Execution.SpreadBuffer < 0 || c.Execution.SpreadBuffer >= 1 {
		err = multierr.Append(err, errors.New("execution.spread_buffer 必须位于 [0,1) 区间"))
	}
	if c.Execution.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("execution.poll_interval 必须为正"))
	}
	if c.Execution.LimitTimeout < c.Execution.PollInterval {
		err = multierr.Append(err, errors.New("execution.limit_timeout 不能小于 poll_interval"))
	}
	if c.Execution.SlippageTarget <= 0 {
		err = multierr.Append(err, errors.New("execution.slippage_target 必须为正"))
	}
	if c.Execution.MaxChunkPct <= 0 || c.Execution.MaxChunkPct > 1 {
		err = multierr.Append(err, errors.New("execution.max_chunk_pct 必须位于 (0,1] 区间"))
	}
	if c.Execution.ChunkVariance < 0 || c.Execution.ChunkVariance >= 1 {
		err = multierr.Append(err, errors.New("execution.chunk_variance 必须位于 [0,1) 区间"))
	}
	if c.Execution.StaggerMin < 0 || c.Execution.StaggerMax < c.Execution.StaggerMin {
		err = multierr.Append(err, errors.New("execution.stagger 区间无效"))
	}
	if c.Execution.TWAPSlices <= 0 {
		err = multierr.Append(err, errors.New("execution.twap_slices 必须大于0"))
	}
	if c.Execution.TWAPDuration <= 0 {
		err = multierr.Append(err, errors.New("execution.twap_duration 必须为正"))
	}

	if c.Router.SmallOrderThreshold <= 0 {
		err = multierr.Append(err, errors.New("router.small_order_threshold 必须为正"))
	}
	if c.Router.MediumOrderThreshold <= c.Router.SmallOrderThreshold {
		err = multierr.Append(err, fmt.Errorf(
			"router.medium_order_threshold (%.2f) 必须大于 small_order_threshold (%.2f)",
			c.Router.MediumOrderThreshold, c.Router.SmallOrderThreshold))
	}
	if c.Router.VolatilityThreshold <= 0 {
		err = multierr.Append(err, errors.New("router.volatility_threshold 必须为正"))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding != "console" && c.Logging.Encoding != "json" {
		err = multierr.Append(err, errors.New("logging.encoding 仅支持 console 或 json"))
	}
	if c.Scheduler.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 必须为正"))
	}

	return err
}
