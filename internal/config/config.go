package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
	Breaker   BreakerConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
}

// DBConfig holds transactional store configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
// In production, set DB_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host             string        `envconfig:"DB_HOST" default:"localhost"`
	Port             int           `envconfig:"DB_PORT" default:"5432"`
	User             string        `envconfig:"DB_USER" default:"postgres"`
	Password         string        `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name             string        `envconfig:"DB_NAME" default:"voucher_db"`
	SSLMode          string        `envconfig:"DB_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns         int           `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns         int           `envconfig:"DB_MIN_CONNS" default:"5"`
	ConnectTimeout   time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"2s"`
	IdleTimeout      time.Duration `envconfig:"DB_IDLE_TIMEOUT" default:"5m"`
	StatementTimeout time.Duration `envconfig:"DB_STATEMENT_TIMEOUT" default:"10s"`
}

// DSN returns the PostgreSQL connection string.
// The statement timeout rides along as a server-side option so every
// statement in the pool inherits it.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d&pool_max_conn_idle_time=%s&connect_timeout=%d&options=-c%%20statement_timeout%%3D%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
		c.MaxConns, c.MinConns, c.IdleTimeout,
		int(c.ConnectTimeout.Seconds()), c.StatementTimeout.Milliseconds())
}

// RedisConfig holds key/value store configuration for cache and rate limiting.
type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// Addr returns the host:port address for the Redis client.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QueueConfig holds the key/value store configuration backing the claim queue.
// Kept separate from RedisConfig so the queue can run on its own instance.
type QueueConfig struct {
	Host string `envconfig:"QUEUE_REDIS_HOST" default:"localhost"`
	Port int    `envconfig:"QUEUE_REDIS_PORT" default:"6379"`
}

// Addr returns the host:port address for the queue Redis client.
func (c QueueConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WorkerConfig bounds the claim worker pool.
type WorkerConfig struct {
	Concurrency int `envconfig:"WORKER_CONCURRENCY" default:"50"`
	RatePerSec  int `envconfig:"WORKER_RATE_PER_SEC" default:"100"`
}

// RateLimitConfig holds admission control parameters.
type RateLimitConfig struct {
	UserMax    int `envconfig:"RATE_LIMIT_USER_MAX" default:"10"`
	UserWindow int `envconfig:"RATE_LIMIT_USER_WINDOW" default:"60"` // seconds
	IPMax      int `envconfig:"RATE_LIMIT_IP_MAX" default:"100"`
	IPWindow   int `envconfig:"RATE_LIMIT_IP_WINDOW" default:"60"` // seconds
}

// BreakerConfig holds circuit breaker parameters for the claim transaction.
type BreakerConfig struct {
	FailureThreshold uint32        `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	SuccessThreshold uint32        `envconfig:"BREAKER_SUCCESS_THRESHOLD" default:"2"`
	CallTimeout      time.Duration `envconfig:"BREAKER_CALL_TIMEOUT" default:"60s"`
	OpenDuration     time.Duration `envconfig:"BREAKER_OPEN_DURATION" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load parses environment variables into the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
