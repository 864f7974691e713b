package session

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries the endpoints and tuning knobs for a Session.
type Config struct {
	BaseURL         string        `env:"CHATSYNC_BASE_URL" envDefault:"http://localhost:8083"`
	WSURL           string        `env:"CHATSYNC_WS_URL" envDefault:"ws://localhost:8083/ws"`
	TokenPath       string        `env:"CHATSYNC_TOKEN_PATH" envDefault:"/security-token"`
	TokenTimeout    time.Duration `env:"CHATSYNC_TOKEN_TIMEOUT" envDefault:"10s"`
	TokenAttempts   int           `env:"CHATSYNC_TOKEN_ATTEMPTS" envDefault:"3"`
	TokenRetryDelay time.Duration `env:"CHATSYNC_TOKEN_RETRY_DELAY" envDefault:"500ms"`
	TypingTTL       time.Duration `env:"CHATSYNC_TYPING_TTL" envDefault:"3s"`
	PageLimit       int           `env:"CHATSYNC_PAGE_LIMIT" envDefault:"50"`
}

// ConfigFromEnv loads configuration from environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the built-in defaults without consulting the
// environment.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8083",
		WSURL:           "ws://localhost:8083/ws",
		TokenPath:       "/security-token",
		TokenTimeout:    10 * time.Second,
		TokenAttempts:   3,
		TokenRetryDelay: 500 * time.Millisecond,
		TypingTTL:       3 * time.Second,
		PageLimit:       50,
	}
}
