package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/raulshma/etlez-sub001/internal/models"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Pipelines  PipelinesConfig  `mapstructure:"pipelines"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the postgres connection settings. An empty DSN runs
// the service with in-memory repositories.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds the event publisher settings. An empty URL keeps events
// on the in-process bus only.
type RedisConfig struct {
	URL            string        `mapstructure:"url"`
	EventChannel   string        `mapstructure:"event_channel"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// EngineConfig carries the default execution policy applied to pipelines
// whose definitions omit a policy section.
type EngineConfig struct {
	StopOnError            bool          `mapstructure:"stop_on_error"`
	MaxErrors              int           `mapstructure:"max_errors"`
	ErrorThreshold         float64       `mapstructure:"error_threshold"`
	ContinueOnStageFailure bool          `mapstructure:"continue_on_stage_failure"`
	RetryMaxAttempts       int           `mapstructure:"retry_max_attempts"`
	RetryInitialDelay      time.Duration `mapstructure:"retry_initial_delay"`
	RetryMultiplier        float64       `mapstructure:"retry_multiplier"`
	RetryMaxDelay          time.Duration `mapstructure:"retry_max_delay"`
	RetryJitter            bool          `mapstructure:"retry_jitter"`
	StageTimeout           time.Duration `mapstructure:"stage_timeout"`
	MaxParallelism         int           `mapstructure:"max_parallelism"`
	MaxConcurrentRuns      int           `mapstructure:"max_concurrent_runs"`
}

// AuthConfig holds the API authentication settings. Auth is disabled when
// the secret is empty.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MonitoringConfig toggles the prometheus endpoint.
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// PipelinesConfig points at pipeline definition files loaded at startup.
type PipelinesConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads configuration from config.yaml (searched in the working
// directory and /etc/etlez) plus ETLEZ_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/etlez")
	v.SetEnvPrefix("ETLEZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.event_channel", "etlez:events")
	v.SetDefault("redis.publish_timeout", "2s")

	v.SetDefault("engine.stop_on_error", false)
	v.SetDefault("engine.max_errors", 0)
	v.SetDefault("engine.error_threshold", 0.0)
	v.SetDefault("engine.continue_on_stage_failure", false)
	v.SetDefault("engine.retry_max_attempts", 3)
	v.SetDefault("engine.retry_initial_delay", "500ms")
	v.SetDefault("engine.retry_multiplier", 2.0)
	v.SetDefault("engine.retry_max_delay", "30s")
	v.SetDefault("engine.retry_jitter", true)
	v.SetDefault("engine.stage_timeout", "10m")
	v.SetDefault("engine.max_parallelism", 1)
	v.SetDefault("engine.max_concurrent_runs", 10)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")

	v.SetDefault("pipelines.dir", "")
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Engine.RetryMaxAttempts < 0 {
		return errors.New("engine.retry_max_attempts must not be negative")
	}
	if cfg.Engine.RetryMultiplier <= 0 {
		return errors.New("engine.retry_multiplier must be positive")
	}
	if cfg.Engine.ErrorThreshold < 0 || cfg.Engine.ErrorThreshold > 1 {
		return errors.New("engine.error_threshold must be within [0, 1]")
	}
	if cfg.Engine.MaxConcurrentRuns < 1 {
		return errors.New("engine.max_concurrent_runs must be at least 1")
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return errors.New("logging.format must be json or console")
	}
	return nil
}

// ExecutionPolicy converts the engine section into the policy handed to the
// orchestrator for pipelines without their own policy.
func (c *Config) ExecutionPolicy() models.ExecutionPolicy {
	return models.ExecutionPolicy{
		ErrorHandling: models.ErrorHandlingConfig{
			StopOnError:            c.Engine.StopOnError,
			MaxErrors:              c.Engine.MaxErrors,
			ErrorThreshold:         c.Engine.ErrorThreshold,
			ContinueOnStageFailure: c.Engine.ContinueOnStageFailure,
		},
		Retry: models.RetryConfig{
			MaxAttempts:     c.Engine.RetryMaxAttempts,
			InitialDelay:    c.Engine.RetryInitialDelay,
			Multiplier:      c.Engine.RetryMultiplier,
			MaxDelay:        c.Engine.RetryMaxDelay,
			Jitter:          c.Engine.RetryJitter,
			RetryableErrors: models.DefaultRetryConfig().RetryableErrors,
		},
		StageTimeout:   c.Engine.StageTimeout,
		MaxParallelism: c.Engine.MaxParallelism,
	}
}
