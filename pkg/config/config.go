package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// DevJWTSecret is the JWT_SECRET default. It is rejected when ENV=production.
const DevJWTSecret = "supersecretjwtkey"

var ErrInsecureJWTSecret = errors.New("JWT_SECRET must be set in production")

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	Env      string `env:"ENV" envDefault:"development" validate:"oneof=development production test"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StorageBackend          string `env:"STORAGE_BACKEND" envDefault:"postgres" validate:"oneof=postgres memory"`
	PostgresConnStr         string `env:"POSTGRES_CONN_STR" validate:"required_if=StorageBackend postgres"`
	MongoURI                string `env:"MONGO_URI" validate:"required_if=StorageBackend postgres"`
	MongoDatabase           string `env:"MONGO_DATABASE" envDefault:"fanout"`
	JWTSecret               string `env:"JWT_SECRET" envDefault:"supersecretjwtkey" validate:"required"`
	FirebaseCredentialsPath string `env:"FIREBASE_CREDENTIALS_PATH"`

	FanoutChunkSize     int           `env:"FANOUT_CHUNK_SIZE" envDefault:"100" validate:"gte=1"`
	FollowActivityLimit int           `env:"FOLLOW_ACTIVITY_LIMIT" envDefault:"5000" validate:"gte=1"`
	HighPriorityWorkers int           `env:"HIGH_PRIORITY_WORKERS" envDefault:"8" validate:"gte=1"`
	LowPriorityWorkers  int           `env:"LOW_PRIORITY_WORKERS" envDefault:"2" validate:"gte=1"`
	FanoutQueueSize     int           `env:"FANOUT_QUEUE_SIZE" envDefault:"1024" validate:"gte=1"`
	FanoutMaxAttempts   int           `env:"FANOUT_MAX_ATTEMPTS" envDefault:"5" validate:"gte=1"`
	FanoutRetryBackoff  time.Duration `env:"FANOUT_RETRY_BACKOFF" envDefault:"200ms"`
	FeedMaxLength       int           `env:"FEED_MAX_LENGTH" envDefault:"100" validate:"gte=1"`
	TrimChance          float64       `env:"TRIM_CHANCE" envDefault:"0.01" validate:"gte=0,lte=1"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, assuming environment variables are set.")
	}
	return Parse()
}

// Parse builds the config from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Env == "production" && cfg.JWTSecret == DevJWTSecret {
		return nil, ErrInsecureJWTSecret
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }
