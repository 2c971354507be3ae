package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerHost string
	ServerPort string

	// DatabaseURL selects postgres storage. Empty keeps everything in memory.
	DatabaseURL string

	LogLevel   string
	CodeLength int

	// AllowedOrigins are websocket origin patterns for the watch stream.
	AllowedOrigins []string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerHost:     getEnv("SERVER_HOST", ""),
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		CodeLength:     getEnvInt("CODE_LENGTH", 4),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS"),
	}

	if cfg.CodeLength < 3 || cfg.CodeLength > 8 {
		return nil, fmt.Errorf("CODE_LENGTH must be between 3 and 8, got %d", cfg.CodeLength)
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
