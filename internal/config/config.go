package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "trader"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "kraken")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("execution.min_order_quote", 10.0)
	v.SetDefault("execution.spread_buffer", 0.1)
	v.SetDefault("execution.poll_interval", "5s")
	v.SetDefault("execution.limit_timeout", "60s")
	v.SetDefault("execution.slippage_target", 0.01)
	v.SetDefault("execution.max_chunk_pct", 0.25)
	v.SetDefault("execution.chunk_variance", 0.15)
	v.SetDefault("execution.stagger_min", "30s")
	v.SetDefault("execution.stagger_max", "60s")
	v.SetDefault("execution.book_depth", 25)
	v.SetDefault("execution.twap_duration", "30m")
	v.SetDefault("execution.twap_slices", 10)
	v.SetDefault("execution.slice_timeout", "30s")

	v.SetDefault("router.small_order_threshold", 500.0)
	v.SetDefault("router.medium_order_threshold", 2000.0)
	v.SetDefault("router.volatility_threshold", 0.03)
	v.SetDefault("router.enable_twap", true)
	v.SetDefault("router.enable_splitting", true)

	v.SetDefault("database.path", "data/kraken_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.loop_interval", "1m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
