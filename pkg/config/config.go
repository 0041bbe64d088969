package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP        HTTP        `envPrefix:"HTTP_"`
		Logger      Logger      `envPrefix:"LOGGER_"`
		Telemetry   Telemetry   `envPrefix:"TELEMETRY_"`
		Cache       Cache       `envPrefix:"CACHE_"`
		Redis       Redis       `envPrefix:"REDIS_"`
		Upstream    Upstream    `envPrefix:"UPSTREAM_"`
		Reliability Reliability `envPrefix:"RELIABILITY_"`
		Session     Session     `envPrefix:"SESSION_"`
	}

	HTTP struct {
		Server  Server        `envPrefix:"SERVER_"`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
	}

	Server struct {
		Port         string        `env:"PORT,required"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
		IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	}

	Logger struct {
		Level string `env:"LEVEL,required"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"layerd"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
		Environment    string `env:"ENVIRONMENT" envDefault:"production"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"otel-collector.observability.svc.cluster.local:4317"`
	}

	Cache struct {
		SQLitePath     string        `env:"SQLITE_PATH" envDefault:"layerd.db"`
		DefaultTTL     time.Duration `env:"DEFAULT_TTL" envDefault:"1h"`
		StaleRetention time.Duration `env:"STALE_RETENTION" envDefault:"72h"`
	}

	Redis struct {
		Enabled  bool   `env:"ENABLED" envDefault:"false"`
		Addr     string `env:"ADDR" envDefault:"localhost:6379"`
		Password string `env:"PASSWORD" envDefault:""`
		DB       int    `env:"DB" envDefault:"0"`
	}

	Upstream struct {
		BaseURL   string        `env:"BASE_URL" envDefault:"http://compute:8080"`
		Timeout   time.Duration `env:"TIMEOUT" envDefault:"60s"`
		UserAgent string        `env:"USER_AGENT" envDefault:"layerd/1.0"`
	}

	Reliability struct {
		FailureThreshold int           `env:"FAILURE_THRESHOLD" envDefault:"5"`
		Cooldown         time.Duration `env:"COOLDOWN" envDefault:"5s"`
		MaxCooldown      time.Duration `env:"MAX_COOLDOWN" envDefault:"60s"`
		MaxAttempts      int           `env:"MAX_ATTEMPTS" envDefault:"5"`
		BackoffBase      time.Duration `env:"BACKOFF_BASE" envDefault:"500ms"`
	}

	Session struct {
		Debounce time.Duration `env:"DEBOUNCE" envDefault:"500ms"`
	}
)

func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
