// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, Load returns an error and
// the process exits before any connection is opened.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all runtime configuration for the lead scraper service.
type Config struct {
	Port           string
	DatabaseURL    string
	RedisURL       string
	SerpAPIKey     string
	SerpBaseURL    string // override for tests; default serpapi endpoint
	JWTSecret      string
	MaxPerRun      int // hard cap on leads per streaming run
	PollIntervalMS int // streaming coordinator poll interval
	RefillSpec     string
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	serpKey := os.Getenv("SERPAPI_KEY")
	if serpKey == "" {
		return nil, fmt.Errorf("SERPAPI_KEY is required")
	}

	maxPerRun := 200
	if s := os.Getenv("MAX_PER_RUN"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("MAX_PER_RUN must be a positive integer, got %q", s)
		}
		maxPerRun = v
	}

	pollMS := 1000
	if s := os.Getenv("POLL_INTERVAL_MS"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("POLL_INTERVAL_MS must be a positive integer, got %q", s)
		}
		pollMS = v
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	refillSpec := os.Getenv("REFILL_CRON_SPEC")
	if refillSpec == "" {
		refillSpec = "0 0 1 * *" // midnight on the 1st of each month
	}

	return &Config{
		Port:           port,
		DatabaseURL:    dbURL,
		RedisURL:       redisURL,
		SerpAPIKey:     serpKey,
		SerpBaseURL:    os.Getenv("SERPAPI_BASE_URL"),
		JWTSecret:      jwtSecret,
		MaxPerRun:      maxPerRun,
		PollIntervalMS: pollMS,
		RefillSpec:     refillSpec,
	}, nil
}
