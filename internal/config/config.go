// Package config provides configuration for the prism session service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseDriver string // sqlite3 or postgres
	DatabaseURL    string

	// Auth settings
	APIKey    string
	JWTSecret string
	TokenTTL  time.Duration

	// LLM settings
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration
	MockLLM    bool

	// Session settings
	SessionDuration time.Duration
	ExpirySweep     time.Duration
	AutoSummarize   bool
	PromptsFile     string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Broker settings, empty URL disables publishing
	AMQPURL      string
	AMQPExchange string

	// REST rate limit in requests per second per client
	RateLimit float64

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 8080),
		DatabaseDriver:  getEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:     getEnv("DATABASE_URL", "file:prism.db?_busy_timeout=5000&_journal_mode=WAL"),
		APIKey:          getEnv("API_KEY", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		TokenTTL:        time.Duration(getEnvInt("TOKEN_TTL_MINUTES", 1440)) * time.Minute,
		LLMBaseURL:      getEnv("LLM_BASE_URL", "https://api.openai.com"),
		LLMAPIKey:       getEnv("LLM_API_KEY", ""),
		LLMModel:        getEnv("LLM_MODEL", "gpt-4o"),
		LLMTimeout:      time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		MockLLM:         strings.EqualFold(getEnv("PRISM_MODE", ""), "MOCK"),
		SessionDuration: time.Duration(getEnvInt("SESSION_DURATION_MINUTES", 15)) * time.Minute,
		ExpirySweep:     time.Duration(getEnvInt("EXPIRY_SWEEP_MS", 5000)) * time.Millisecond,
		AutoSummarize:   getEnvBool("AUTO_SUMMARIZE", true),
		PromptsFile:     getEnv("PROMPTS_FILE", ""),
		PingInterval:    time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:    time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:     time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:  int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "prism.session.events"),
		RateLimit:       float64(getEnvInt("RATE_LIMIT_RPS", 20)),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
