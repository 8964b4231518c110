package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the process-wide configuration, loaded once at startup from the
// environment.
type Config struct {
	Port         string
	LogLevel     string
	DatabaseDSN  string
	ArchiveRoot  string
	JWTSecret    string
	OpenAIAPIKey string
	OpenAIModel  string
	LLMTimeout   time.Duration
	LLMMaxRetries int
}

func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseDSN:   getEnv("DATABASE_DSN", "file:colmap.db?cache=shared&_pragma=foreign_keys(1)"),
		ArchiveRoot:   getEnv("ARCHIVE_ROOT", "./data/batches"),
		JWTSecret:     getEnv("JWT_SECRET", "dev-secret-change-me"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		LLMTimeout:    getEnvDuration("LLM_TIMEOUT", 120*time.Second),
		LLMMaxRetries: getEnvInt("LLM_MAX_RETRIES", 3),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (c *Config) GetPortInt() int {
	p, _ := strconv.Atoi(c.Port)
	return p
}
