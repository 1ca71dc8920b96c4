// Package config provides configuration for the chat service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the chat service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Agent engine runtime
	EngineURL string

	// Title / classifier model
	LLMBaseURL string
	LLMAPIKey  string
	TitleModel string
	LLMTimeout time.Duration

	// Document search service
	SearchURL     string
	SearchTimeout time.Duration

	// Streaming
	StreamCacheTTL time.Duration
	MaxResumeHops  int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:    getEnv("DATABASE_URL", "file:chat.db?cache=shared&mode=rwc"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		EngineURL:      getEnv("ENGINE_URL", "http://localhost:9000"),
		LLMBaseURL:     getEnv("LLM_BASE_URL", "http://localhost:4000"),
		LLMAPIKey:      getEnv("LLM_API_KEY", ""),
		TitleModel:     getEnv("TITLE_MODEL", "qwen3:1.7b"),
		LLMTimeout:     time.Duration(getEnvInt("LLM_TIMEOUT_MS", 30000)) * time.Millisecond,
		SearchURL:      getEnv("SEARCH_URL", "http://localhost:6333"),
		SearchTimeout:  time.Duration(getEnvInt("SEARCH_TIMEOUT_MS", 10000)) * time.Millisecond,
		StreamCacheTTL: time.Duration(getEnvInt("STREAM_CACHE_TTL_S", 300)) * time.Second,
		MaxResumeHops:  getEnvInt("MAX_RESUME_HOPS", 8),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
	return cfg
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
