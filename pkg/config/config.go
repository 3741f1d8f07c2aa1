// Package config loads runtime configuration from environment variables
// and governance profiles from YAML.
package config

import "os"

// Config holds process configuration.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Config struct {
	LogLevel     string
	DatabasePath string // SQLite file, ":memory:" for ephemeral
	DatabaseURL  string // Postgres DSN; takes precedence when set
	RedisAddr    string // empty = in-process mint limiter
	ProfilePath  string // YAML governance profile; empty = defaults
	TokenSecret  string // HS256 secret for the token wire form
	OTLPEndpoint string
	Telemetry    bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbPath := os.Getenv("MANDATE_DB")
	if dbPath == "" {
		dbPath = "mandate.db"
	}

	otlp := os.Getenv("OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	return &Config{
		LogLevel:     logLevel,
		DatabasePath: dbPath,
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		ProfilePath:  os.Getenv("MANDATE_PROFILE"),
		TokenSecret:  os.Getenv("MANDATE_TOKEN_SECRET"),
		OTLPEndpoint: otlp,
		Telemetry:    os.Getenv("TELEMETRY") == "true",
	}
}
