// Package config provides configuration loading from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full pipeline configuration.
type Config struct {
	// Service identification
	ServiceName string
	Environment string // development, staging, production
	Version     string

	// Logging
	LogLevel  string
	LogFormat string // json, text

	// Tracing
	SamplingRate     float64
	MaxSpansPerTrace int
	MaxTraceAge      time.Duration
	OTLPEndpoint     string // empty disables the OTLP span exporter
	OTLPInsecure     bool

	// Metrics
	AggregationWindows []time.Duration
	RetentionRaw       time.Duration
	MaxSeries          int
	FlushInterval      time.Duration

	// Alerting
	EvaluationInterval time.Duration
	RulesFile          string // YAML rule/channel configuration, empty for none

	// Health endpoint (gRPC health checks for the run daemon)
	HealthPort int

	// Redis (used by the redis alert channel, empty disables)
	RedisAddr string

	// Postgres (used by the metrics aggregate sink, empty host disables)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
}

// Load loads pipeline configuration from PULSE_* environment variables,
// applying defaults for anything unset.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("PULSE_SERVICE_NAME", serviceName),
		Environment: getEnv("PULSE_ENV", "development"),
		Version:     getEnv("PULSE_VERSION", "dev"),

		LogLevel:  getEnv("PULSE_LOG_LEVEL", "info"),
		LogFormat: getEnv("PULSE_LOG_FORMAT", "json"),

		SamplingRate:     getEnvFloat("PULSE_SAMPLING_RATE", 1.0),
		MaxSpansPerTrace: getEnvInt("PULSE_MAX_SPANS_PER_TRACE", 100),
		MaxTraceAge:      getEnvDuration("PULSE_MAX_TRACE_AGE", 5*time.Minute),
		OTLPEndpoint:     getEnv("PULSE_OTLP_ENDPOINT", ""),
		OTLPInsecure:     getEnvBool("PULSE_OTLP_INSECURE", true),

		RetentionRaw:  getEnvDuration("PULSE_RETENTION_RAW", time.Hour),
		MaxSeries:     getEnvInt("PULSE_MAX_SERIES", 10000),
		FlushInterval: getEnvDuration("PULSE_FLUSH_INTERVAL", time.Minute),

		EvaluationInterval: getEnvDuration("PULSE_EVALUATION_INTERVAL", time.Minute),
		RulesFile:          getEnv("PULSE_RULES_FILE", ""),

		HealthPort: getEnvInt("PULSE_HEALTH_PORT", 9090),

		RedisAddr: getEnv("PULSE_REDIS_ADDR", ""),

		DBHost:     getEnv("PULSE_DB_HOST", ""),
		DBPort:     getEnvInt("PULSE_DB_PORT", 5432),
		DBUser:     getEnv("PULSE_DB_USER", "pulse"),
		DBPassword: getEnv("PULSE_DB_PASSWORD", ""),
		DBName:     getEnv("PULSE_DB_NAME", "pulse"),
		DBSSLMode:  getEnv("PULSE_DB_SSLMODE", "disable"),
	}

	windows, err := parseWindows(getEnv("PULSE_AGGREGATION_WINDOWS", "60s,300s,900s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PULSE_AGGREGATION_WINDOWS: %w", err)
	}
	cfg.AggregationWindows = windows

	if cfg.SamplingRate < 0 || cfg.SamplingRate > 1 {
		return nil, fmt.Errorf("PULSE_SAMPLING_RATE must be in [0, 1], got %g", cfg.SamplingRate)
	}

	return cfg, nil
}

// UsePostgresSink returns true if a Postgres metrics sink is configured.
func (c *Config) UsePostgresSink() bool {
	return c.DBHost != ""
}

// UseRedisChannel returns true if a Redis connection is configured.
func (c *Config) UseRedisChannel() bool {
	return c.RedisAddr != ""
}

// Helper functions

func parseWindows(s string) ([]time.Duration, error) {
	var windows []time.Duration
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("window %q must be positive", part)
		}
		windows = append(windows, d)
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("at least one window is required")
	}
	return windows, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
