package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// BroadcastConfig selects the fan-out transport. Channels are derived from
// the organization id only, one per tenant.
type BroadcastConfig struct {
	Backend       string `mapstructure:"backend"` // "redis" | "kafka"
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type DispatcherConfig struct {
	ProcessorName string        `mapstructure:"processor_name"`
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Workers       int           `mapstructure:"workers"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	MigrateInterval time.Duration `mapstructure:"migrate_interval"`
	MigrateBatch    int           `mapstructure:"migrate_batch"`
}

type RetentionConfig struct {
	Window           time.Duration `mapstructure:"window"`
	DeadLetterWindow time.Duration `mapstructure:"dead_letter_window"`
	MaxBatch         int           `mapstructure:"max_batch"`
	Interval         time.Duration `mapstructure:"interval"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (BSPHN_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (BSPHN_*)
	v.SetEnvPrefix("BSPHN")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
