package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Version   string          `mapstructure:"version"`
}

// ServiceConfig holds service-specific configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name" envconfig:"SERVICE_NAME" default:"procflow"`
	Environment string `mapstructure:"environment" envconfig:"ENVIRONMENT" default:"development"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port         int           `mapstructure:"port" envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" envconfig:"HTTP_IDLE_TIMEOUT" default:"120s"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled" envconfig:"DB_ENABLED" default:"false"`
	Host            string        `mapstructure:"host" envconfig:"DB_HOST" default:"localhost"`
	Port            int           `mapstructure:"port" envconfig:"DB_PORT" default:"5432"`
	User            string        `mapstructure:"user" envconfig:"DB_USER" default:"postgres"`
	Password        string        `mapstructure:"password" envconfig:"DB_PASSWORD" default:"postgres"`
	Database        string        `mapstructure:"database" envconfig:"DB_NAME" default:"procflow"`
	Schema          string        `mapstructure:"schema" envconfig:"DB_SCHEMA"`
	SSLMode         string        `mapstructure:"ssl_mode" envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" envconfig:"DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// RedisConfig holds Redis configuration for the tracker event queue
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled" envconfig:"REDIS_ENABLED" default:"false"`
	Host         string        `mapstructure:"host" envconfig:"REDIS_HOST" default:"localhost"`
	Port         int           `mapstructure:"port" envconfig:"REDIS_PORT" default:"6379"`
	Password     string        `mapstructure:"password" envconfig:"REDIS_PASSWORD"`
	DB           int           `mapstructure:"db" envconfig:"REDIS_DB" default:"0"`
	QueueName    string        `mapstructure:"queue_name" envconfig:"REDIS_QUEUE_NAME" default:"procflow:tracker"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// KafkaConfig holds Kafka configuration for lifecycle event publishing
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic   string   `mapstructure:"topic" envconfig:"KAFKA_TOPIC" default:"procflow.workflow.events"`
}

// EngineConfig holds workflow engine tuning knobs
type EngineConfig struct {
	HistoryLimit int           `mapstructure:"history_limit" envconfig:"ENGINE_HISTORY_LIMIT" default:"1000"`
	SyncTimeout  time.Duration `mapstructure:"sync_timeout" envconfig:"ENGINE_SYNC_TIMEOUT" default:"5s"`
}

// RetentionConfig holds retention sweep configuration
type RetentionConfig struct {
	Schedule        string        `mapstructure:"schedule" envconfig:"RETENTION_SCHEDULE" default:"@every 10m"`
	EngineMaxAge    time.Duration `mapstructure:"engine_max_age" envconfig:"RETENTION_ENGINE_MAX_AGE" default:"1h"`
	RecordMaxAge    time.Duration `mapstructure:"record_max_age" envconfig:"RETENTION_RECORD_MAX_AGE" default:"0"`
	ReconcileOnBoot bool          `mapstructure:"reconcile_on_boot" envconfig:"RETENTION_RECONCILE_ON_BOOT" default:"true"`
	DanglingMaxAge  time.Duration `mapstructure:"dangling_max_age" envconfig:"RETENTION_DANGLING_MAX_AGE" default:"10m"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format     string `mapstructure:"format" envconfig:"LOG_FORMAT" default:"json"`
	OutputPath string `mapstructure:"output_path" envconfig:"LOG_OUTPUT_PATH" default:"stdout"`
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	var cfg Config

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	if version := os.Getenv("VERSION"); version != "" {
		cfg.Version = version
	} else if cfg.Version == "" {
		cfg.Version = "dev"
	}

	return &cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
