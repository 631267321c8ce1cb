// Package config provides configuration management for the chain indexer.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	RPC       RPCConfig
	Queue     QueueConfig
	CDC       CDCConfig
	Backfill  BackfillConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds the health and metrics server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// Addr returns host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// RPCConfig holds the chain node configuration
type RPCConfig struct {
	URL               string
	TraceStrategy     string        // debug | parity
	MaxAttempts       int           // per call, including the first
	RetryDelay        time.Duration // fixed delay between attempts
	RequestsPerSecond float64       // local limiter, zero disables
	FanOut            int           // concurrent per-transaction fallback calls
	SharedBudget      bool          // use the Redis compute-unit budget instead of the local limiter
	BreakerFailures   int           // consecutive node failures that open the circuit, zero disables
	BreakerTimeout    time.Duration // time the circuit stays open before probing
}

// QueueConfig holds the job broker and handler tuning
type QueueConfig struct {
	Backend          string // redis | memory
	RangeConcurrency int
	RangeMaxRetries  int
	RangeTimeout     time.Duration
	BlockConcurrency int
	BlockMaxRetries  int
	BlockTimeout     time.Duration
}

// CDCConfig holds the change-data-capture consumer configuration
type CDCConfig struct {
	Enabled              bool
	Group                string
	Consumer             string
	Topics               []string
	PartitionConcurrency int
	MaxRetries           int
	ReadBlock            time.Duration
	ReadCount            int64
	EventsChannel        string
}

// BackfillConfig holds backfill configuration
type BackfillConfig struct {
	PollInterval           time.Duration // resumable range re-check delay
	ActivityPageLimit      int           // default page size when the Redis override is absent
	ActivityPagesPerSecond int
}

// RateLimitConfig holds the shared compute-unit budget
type RateLimitConfig struct {
	TotalCUPerSecond int
	ReservedCU       int
	WindowSize       time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "9100"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "indexer"),
				User:           getEnv("POSTGRES_USER", "indexer"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 100),
			},
			ClickHouse: ClickHouseConfig{
				Host:           getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:           getEnv("CLICKHOUSE_PORT", "9000"),
				Database:       getEnv("CLICKHOUSE_DB", "indexer"),
				User:           getEnv("CLICKHOUSE_USER", "default"),
				Password:       getEnv("CLICKHOUSE_PASSWORD", ""),
				MaxConnections: getEnvAsInt("CLICKHOUSE_MAX_CONNECTIONS", 10),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		RPC: RPCConfig{
			URL:               getEnv("RPC_URL", "http://localhost:8545"),
			TraceStrategy:     getEnv("RPC_TRACE_STRATEGY", "debug"),
			MaxAttempts:       getEnvAsInt("RPC_MAX_ATTEMPTS", 10),
			RetryDelay:        getEnvAsDuration("RPC_RETRY_DELAY", 200*time.Millisecond),
			RequestsPerSecond: getEnvAsFloat("RPC_REQUESTS_PER_SECOND", 0),
			FanOut:            getEnvAsInt("RPC_FAN_OUT", 16),
			SharedBudget:      getEnvAsBool("RPC_SHARED_BUDGET", false),
			BreakerFailures:   getEnvAsInt("RPC_BREAKER_FAILURES", 50),
			BreakerTimeout:    getEnvAsDuration("RPC_BREAKER_TIMEOUT", 30*time.Second),
		},
		Queue: QueueConfig{
			Backend:          getEnv("QUEUE_BACKEND", "redis"),
			RangeConcurrency: getEnvAsInt("QUEUE_RANGE_CONCURRENCY", 1),
			RangeMaxRetries:  getEnvAsInt("QUEUE_RANGE_MAX_RETRIES", 30),
			RangeTimeout:     getEnvAsDuration("QUEUE_RANGE_TIMEOUT", 60*time.Second),
			BlockConcurrency: getEnvAsInt("QUEUE_BLOCK_CONCURRENCY", 150),
			BlockMaxRetries:  getEnvAsInt("QUEUE_BLOCK_MAX_RETRIES", 30),
			BlockTimeout:     getEnvAsDuration("QUEUE_BLOCK_TIMEOUT", 180*time.Second),
		},
		CDC: CDCConfig{
			Enabled:              getEnvAsBool("CDC_ENABLED", true),
			Group:                getEnv("CDC_GROUP", "indexer-cdc"),
			Consumer:             getEnv("CDC_CONSUMER", ""),
			Topics:               getEnvAsList("CDC_TOPICS", nil),
			PartitionConcurrency: getEnvAsInt("CDC_PARTITION_CONCURRENCY", 1),
			MaxRetries:           getEnvAsInt("CDC_MAX_RETRIES", 5),
			ReadBlock:            getEnvAsDuration("CDC_READ_BLOCK", 2*time.Second),
			ReadCount:            int64(getEnvAsInt("CDC_READ_COUNT", 64)),
			EventsChannel:        getEnv("CDC_EVENTS_CHANNEL", "events"),
		},
		Backfill: BackfillConfig{
			PollInterval:           getEnvAsDuration("BACKFILL_POLL_INTERVAL", 30*time.Second),
			ActivityPageLimit:      getEnvAsInt("BACKFILL_ACTIVITY_PAGE_LIMIT", 1000),
			ActivityPagesPerSecond: getEnvAsInt("BACKFILL_ACTIVITY_PAGES_PER_SECOND", 5),
		},
		RateLimit: RateLimitConfig{
			TotalCUPerSecond: getEnvAsInt("RATE_LIMIT_TOTAL_CU", 500),
			ReservedCU:       getEnvAsInt("RATE_LIMIT_RESERVED_CU", 100),
			WindowSize:       getEnvAsDuration("RATE_LIMIT_WINDOW", time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	switch c.RPC.TraceStrategy {
	case "debug", "parity":
	default:
		return fmt.Errorf("unknown trace strategy %q", c.RPC.TraceStrategy)
	}
	switch c.Queue.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.RPC.MaxAttempts < 1 {
		return fmt.Errorf("RPC_MAX_ATTEMPTS must be positive, got %d", c.RPC.MaxAttempts)
	}
	if c.RPC.FanOut < 1 {
		return fmt.Errorf("RPC_FAN_OUT must be positive, got %d", c.RPC.FanOut)
	}
	if c.Queue.RangeConcurrency < 1 || c.Queue.BlockConcurrency < 1 {
		return fmt.Errorf("queue concurrency must be positive")
	}
	if c.Queue.RangeMaxRetries < 0 || c.Queue.BlockMaxRetries < 0 {
		return fmt.Errorf("queue max retries must not be negative")
	}
	if c.CDC.PartitionConcurrency < 1 {
		return fmt.Errorf("CDC_PARTITION_CONCURRENCY must be positive, got %d", c.CDC.PartitionConcurrency)
	}
	if c.CDC.MaxRetries < 0 {
		return fmt.Errorf("CDC_MAX_RETRIES must not be negative, got %d", c.CDC.MaxRetries)
	}
	if c.RateLimit.ReservedCU > c.RateLimit.TotalCUPerSecond {
		return fmt.Errorf("reserved CU (%d) exceeds total budget (%d)", c.RateLimit.ReservedCU, c.RateLimit.TotalCUPerSecond)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated variable, dropping empty entries
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
