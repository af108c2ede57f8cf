// Package config reads runtime settings from the environment, with an
// optional local .env file for development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string

	GeminiAPIKey string
	GeminiModel  string

	// EnableAI gates the generative fallback path entirely.
	EnableAI bool
	// NullThreshold is the missing-leaf count at which the deterministic
	// candidate is considered incomplete and the fallback is invoked.
	NullThreshold int

	CacheTTL   time.Duration
	KeepLatest int
}

// Load reads the environment. A missing .env file is not an error.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		HTTPAddr:      envString("HTTP_ADDR", ":8080"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   envString("GEMINI_MODEL", "gemini-2.0-flash"),
		EnableAI:      envBool("ENABLE_AI_PARSING", true),
		NullThreshold: envInt("AI_NULL_THRESHOLD", 3),
		CacheTTL:      time.Duration(envInt("CACHE_DURATION_HOURS", 24)) * time.Hour,
		KeepLatest:    envInt("KEEP_LATEST", 5),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
