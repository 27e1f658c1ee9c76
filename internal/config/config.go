package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"

	SequenceDB    = "db"
	SequenceRedis = "redis"
)

type Config struct {
	AppEnv   string
	LogLevel string

	HTTPAddr string
	GRPCAddr string

	StoreDriver   string
	MySQLDSN      string
	RedisAddr     string
	OrderSequence string

	KafkaBrokers     []string
	KafkaNotifyTopic string

	JWTSecret          string
	CORSAllowedOrigins []string

	Timezone        *time.Location
	NotifyWorkers   int
	NotifyQueueSize int
	IdempotencyTTL  time.Duration

	OTelEndpoint string
}

// Load reads .env from the working directory when present, then the
// process environment. Variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:           getEnv("GRPC_ADDR", ":50051"),
		StoreDriver:        getEnv("STORE_DRIVER", StoreMySQL),
		MySQLDSN:           getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/pos?parseTime=true"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		OrderSequence:      getEnv("ORDER_SEQUENCE", SequenceDB),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaNotifyTopic:   getEnv("KAFKA_NOTIFY_TOPIC", "pos.notifications"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		OTelEndpoint:       os.Getenv("OTEL_EXPORTER_ENDPOINT"),
	}

	var err error
	if cfg.Timezone, err = time.LoadLocation(getEnv("TIMEZONE", "UTC")); err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	if cfg.NotifyWorkers, err = getInt("NOTIFY_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.NotifyQueueSize, err = getInt("NOTIFY_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreMySQL, StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver)
	}
	switch c.OrderSequence {
	case SequenceDB:
	case SequenceRedis:
		if c.RedisAddr == "" {
			return errors.New("ORDER_SEQUENCE=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("ORDER_SEQUENCE: unknown allocator %q", c.OrderSequence)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.NotifyWorkers < 1 {
		return errors.New("NOTIFY_WORKERS must be at least 1")
	}
	if c.NotifyQueueSize < 1 {
		return errors.New("NOTIFY_QUEUE_SIZE must be at least 1")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
