package api

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/marcus/boardsync/internal/store"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	DatabaseURL string   `env:"DATABASE_URL" envDefault:"./data/board.db"`
	DBDriver    string   `env:"DB_DRIVER" envDefault:"sqlite"` // "sqlite" (modernc) or "sqlite3" (mattn)
	FrontURL    []string `env:"FRONT_URL" envSeparator:","`    // accepted cross-origin callers; empty = same-origin only
	Port        int      `env:"PORT" envDefault:"8080"`

	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"` // "json" or "text"
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`  // "debug", "info", "warn", "error"
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	RateLimitWrites int `env:"RATE_LIMIT_WRITES" envDefault:"600"` // mutating requests per IP per minute
	EventBuffer     int `env:"EVENT_BUFFER" envDefault:"64"`       // per-viewer event queue length

	OTelEndpoint string `env:"OTEL_ENDPOINT"` // OTLP/HTTP collector; empty disables tracing

	WebhookURL    string `env:"WEBHOOK_URL"`    // receives batched events; empty disables
	WebhookSecret string `env:"WEBHOOK_SECRET"` // HMAC key for X-Board-Signature

	// ListenAddr is derived from Port.
	ListenAddr string
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBDriver != store.DriverModernc && cfg.DBDriver != store.DriverMattn {
		return Config{}, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", store.DriverModernc, store.DriverMattn, cfg.DBDriver)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("PORT out of range: %d", cfg.Port)
	}
	if cfg.RateLimitWrites <= 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_WRITES must be positive")
	}
	if cfg.WebhookURL != "" {
		u, err := url.Parse(cfg.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Config{}, fmt.Errorf("WEBHOOK_URL must be an http(s) URL, got %q", cfg.WebhookURL)
		}
	}
	cfg.ListenAddr = fmt.Sprintf(":%d", cfg.Port)
	return cfg, nil
}
