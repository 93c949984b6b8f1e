package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN     string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL     string `env:"RABBITMQ_URL,required=true"`
	RedisURL        string `env:"REDIS_URL,required=true"`
	PushGatewayURL  string `env:"PUSH_GATEWAY_URL"`
	PushGatewayKey  string `env:"PUSH_GATEWAY_KEY"`
	PushDisabled    bool   `env:"PUSH_DISABLED,default=false"`
	WorkerInterval  int    `env:"WORKER_INTERVAL_MS,default=5000"`
	BatchSize       int    `env:"BATCH_SIZE,default=50"`
	RetentionDays   int    `env:"RETENTION_DAYS,default=7"`
	RateLimitPerSec int    `env:"RATE_LIMIT_PER_SEC,default=200"`
	APIPort         int    `env:"API_PORT,default=8080"`
	LogLevel        string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) WorkerIntervalDuration() time.Duration {
	return time.Duration(c.WorkerInterval) * time.Millisecond
}

func (c *Config) RetentionDuration() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
