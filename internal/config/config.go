package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	WhatsAppAPIURL      string `env:"WHATSAPP_API_URL,required=true"`
	WhatsAppPhoneID     string `env:"WHATSAPP_PHONE_ID,required=true"`
	WhatsAppToken       string `env:"WHATSAPP_TOKEN,required=true"`
	WhatsAppAppSecret   string `env:"WHATSAPP_APP_SECRET,required=true"`
	WhatsAppVerifyToken string `env:"WHATSAPP_VERIFY_TOKEN,default="`

	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL,default=1m"`
	RetryScanInterval time.Duration `env:"RETRY_SCAN_INTERVAL,default=5m"`
	RateLimitPerSec   int           `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY,default=4"`
	APIPort           int           `env:"API_PORT,default=8080"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
