package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"payment-failure-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Server    ServerConfig    `mapstructure:"server"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Retention RetentionConfig `mapstructure:"retention"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig covers the attempt-sample counter backend.
type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	Retention time.Duration `mapstructure:"retention"`
}

// ServerConfig governs the ingestion/query HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AlertingConfig defines alert routing and the per-rule thresholds.
type AlertingConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Rules   RulesConfig   `mapstructure:"rules"`
}

// WebhookConfig 描述告警投递端点参数。
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RulesConfig carries one typed section per alert rule kind.
type RulesConfig struct {
	RapidFailures       CountRuleConfig    `mapstructure:"rapid_failures"`
	GatewayDown         CountRuleConfig    `mapstructure:"gateway_down"`
	HighValueFailure    AmountRuleConfig   `mapstructure:"high_value_failure"`
	ElevatedFailureRate RateRuleConfig     `mapstructure:"elevated_failure_rate"`
	GatewayDegradation  RateRuleConfig     `mapstructure:"gateway_degradation"`
	UnusualErrorSpike   CountRuleConfig    `mapstructure:"unusual_error_spike"`
	Maintenance         MaintenanceSummary `mapstructure:"daily_summary"`
}

// CountRuleConfig parameterises count-threshold rules.
type CountRuleConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold int           `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// AmountRuleConfig parameterises the high-value failure rule.
type AmountRuleConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Amount      float64       `mapstructure:"amount"`
	Consecutive int           `mapstructure:"consecutive"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// RateRuleConfig parameterises failure-rate rules.
type RateRuleConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ThresholdPct    float64       `mapstructure:"threshold_pct"`
	Window          time.Duration `mapstructure:"window"`
	MinimumAttempts int           `mapstructure:"minimum_attempts"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
}

// MaintenanceSummary schedules the info-severity daily summary.
type MaintenanceSummary struct {
	Enabled bool `mapstructure:"enabled"`
}

// AnalyticsConfig tunes the statistics engine.
type AnalyticsConfig struct {
	MovingAverageWindow int `mapstructure:"moving_average_window"`
}

// RetentionConfig bounds how long events and alerts are kept.
type RetentionConfig struct {
	Days            int           `mapstructure:"days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FAILWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "failwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("redis.retention", "48h")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.webhook.enabled", false)
	v.SetDefault("alerting.webhook.timeout", "10s")

	v.SetDefault("alerting.rules.rapid_failures.enabled", true)
	v.SetDefault("alerting.rules.rapid_failures.threshold", 5)
	v.SetDefault("alerting.rules.rapid_failures.window", "10m")
	v.SetDefault("alerting.rules.rapid_failures.cooldown", "30m")

	v.SetDefault("alerting.rules.gateway_down.enabled", true)
	v.SetDefault("alerting.rules.gateway_down.threshold", 3)
	v.SetDefault("alerting.rules.gateway_down.window", "5m")
	v.SetDefault("alerting.rules.gateway_down.cooldown", "30m")

	v.SetDefault("alerting.rules.high_value_failure.enabled", true)
	v.SetDefault("alerting.rules.high_value_failure.amount", 500.0)
	v.SetDefault("alerting.rules.high_value_failure.consecutive", 2)
	v.SetDefault("alerting.rules.high_value_failure.cooldown", "30m")

	v.SetDefault("alerting.rules.elevated_failure_rate.enabled", true)
	v.SetDefault("alerting.rules.elevated_failure_rate.threshold_pct", 15.0)
	v.SetDefault("alerting.rules.elevated_failure_rate.window", "1h")
	v.SetDefault("alerting.rules.elevated_failure_rate.minimum_attempts", 10)
	v.SetDefault("alerting.rules.elevated_failure_rate.cooldown", "1h")

	v.SetDefault("alerting.rules.gateway_degradation.enabled", true)
	v.SetDefault("alerting.rules.gateway_degradation.threshold_pct", 25.0)
	v.SetDefault("alerting.rules.gateway_degradation.window", "30m")
	v.SetDefault("alerting.rules.gateway_degradation.minimum_attempts", 5)
	v.SetDefault("alerting.rules.gateway_degradation.cooldown", "30m")

	v.SetDefault("alerting.rules.unusual_error_spike.enabled", true)
	v.SetDefault("alerting.rules.unusual_error_spike.threshold", 3)
	v.SetDefault("alerting.rules.unusual_error_spike.window", "30m")
	v.SetDefault("alerting.rules.unusual_error_spike.cooldown", "30m")

	v.SetDefault("alerting.rules.daily_summary.enabled", true)

	v.SetDefault("analytics.moving_average_window", 3)

	v.SetDefault("retention.days", 90)
	v.SetDefault("retention.cleanup_interval", "24h")
	v.SetDefault("retention.advisory_lock_key", int64(0x70667761))

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention.days must be greater than zero")
	}
	if c.Retention.CleanupInterval <= 0 {
		return fmt.Errorf("retention.cleanup_interval must be greater than zero")
	}
	if c.Analytics.MovingAverageWindow <= 0 {
		return fmt.Errorf("analytics.moving_average_window must be greater than zero")
	}
	if c.Redis.Retention <= 0 {
		return fmt.Errorf("redis.retention must be greater than zero")
	}
	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.URL == "" {
		return fmt.Errorf("alerting.webhook.url 必须配置")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
