package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Outbox        OutboxConfig        `mapstructure:"outbox"`
	Broker        BrokerConfig        `mapstructure:"broker"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimit is requests per minute per client IP. Zero disables limiting.
	RateLimit int        `mapstructure:"rate_limit"`
	CORS      CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// OutboxConfig tunes the outbox dispatcher and retention cleaner.
type OutboxConfig struct {
	MaxProcessingAttempts int           `mapstructure:"max_processing_attempts"`
	BatchSize             int           `mapstructure:"batch_size"`
	LockDuration          time.Duration `mapstructure:"lock_duration"`
	DefaultTopicName      string        `mapstructure:"default_topic_name"`
	IdleDelay             time.Duration `mapstructure:"idle_delay"`
	Source                string        `mapstructure:"source"`
	Retention             time.Duration `mapstructure:"retention"`
	CleanupInterval       time.Duration `mapstructure:"cleanup_interval"`
	CleanupBatchSize      int           `mapstructure:"cleanup_batch_size"`
}

const (
	BrokerRedis    = "redis"
	BrokerRabbitMQ = "rabbitmq"
)

type BrokerConfig struct {
	Kind                  string        `mapstructure:"kind"`
	MaxBatchBytes         int           `mapstructure:"max_batch_bytes"`
	MaxBatchMessages      int           `mapstructure:"max_batch_messages"`
	StreamPrefix          string        `mapstructure:"stream_prefix"`
	StreamMaxLen          int64         `mapstructure:"stream_max_len"`
	DeadLetterDestination string        `mapstructure:"dead_letter_destination"`
	RabbitMQURL           string        `mapstructure:"rabbitmq_url"`
	Exchange              string        `mapstructure:"exchange"`
	ConfirmTimeout        time.Duration `mapstructure:"confirm_timeout"`
	BreakerMaxFailures    uint32        `mapstructure:"breaker_max_failures"`
	BreakerTimeout        time.Duration `mapstructure:"breaker_timeout"`
	BreakerInterval       time.Duration `mapstructure:"breaker_interval"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
	// MetricsPort serves /metrics from processes without an API server.
	MetricsPort int `mapstructure:"metrics_port"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// EVENTRELAY_OUTBOX_BATCH_SIZE overrides outbox.batch_size
	v.SetEnvPrefix("EVENTRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/eventrelay")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit cannot be negative"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}

	if c.Outbox.MaxProcessingAttempts <= 0 {
		errs = append(errs, fmt.Errorf("outbox.max_processing_attempts must be positive"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("outbox.batch_size must be positive"))
	}
	if c.Outbox.LockDuration <= 0 {
		errs = append(errs, fmt.Errorf("outbox.lock_duration must be positive"))
	}
	if strings.TrimSpace(c.Outbox.DefaultTopicName) == "" {
		errs = append(errs, fmt.Errorf("outbox.default_topic_name is required"))
	}
	if c.Outbox.IdleDelay < 0 {
		errs = append(errs, fmt.Errorf("outbox.idle_delay cannot be negative"))
	}

	switch c.Broker.Kind {
	case BrokerRedis:
	case BrokerRabbitMQ:
		if c.Broker.RabbitMQURL == "" {
			errs = append(errs, fmt.Errorf("broker.rabbitmq_url is required for the rabbitmq broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("broker.kind must be %q or %q, got %q", BrokerRedis, BrokerRabbitMQ, c.Broker.Kind))
	}
	if c.Broker.MaxBatchBytes <= 0 {
		errs = append(errs, fmt.Errorf("broker.max_batch_bytes must be positive"))
	}
	if c.Broker.DeadLetterDestination == "" {
		errs = append(errs, fmt.Errorf("broker.dead_letter_destination is required"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 600)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "eventrelay")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "eventrelay")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Outbox defaults
	v.SetDefault("outbox.max_processing_attempts", 3)
	v.SetDefault("outbox.batch_size", 10)
	v.SetDefault("outbox.lock_duration", "60s")
	v.SetDefault("outbox.default_topic_name", "integration-events")
	v.SetDefault("outbox.idle_delay", "1s")
	v.SetDefault("outbox.source", "eventrelay")
	v.SetDefault("outbox.retention", "168h")
	v.SetDefault("outbox.cleanup_interval", "10m")
	v.SetDefault("outbox.cleanup_batch_size", 1000)

	// Broker defaults
	v.SetDefault("broker.kind", BrokerRedis)
	v.SetDefault("broker.max_batch_bytes", 262144)
	v.SetDefault("broker.max_batch_messages", 100)
	v.SetDefault("broker.stream_prefix", "events:")
	v.SetDefault("broker.stream_max_len", 100000)
	v.SetDefault("broker.dead_letter_destination", "dead-letter")
	v.SetDefault("broker.rabbitmq_url", "")
	v.SetDefault("broker.exchange", "eventrelay")
	v.SetDefault("broker.confirm_timeout", "5s")
	v.SetDefault("broker.breaker_max_failures", 5)
	v.SetDefault("broker.breaker_timeout", "30s")
	v.SetDefault("broker.breaker_interval", "60s")

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.prefix", "eventrelay:")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)
	v.SetDefault("observability.metrics_port", 9091)

	// Instance ID
	v.SetDefault("instance_id", "eventrelay-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL is the URL form of the DSN used by golang-migrate.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
