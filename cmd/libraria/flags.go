package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	BindAddress      string
	GraphQLPath      string
	MongoURI         string
	MongoDatabase    string
	NATSURL          string
	JWTSecret        string
	TokenTTL         time.Duration
	LogLevel         string
	LogFormat        string
	EnablePlayground bool
	ShutdownTimeout  time.Duration
	ShowVersion      bool
	ShowHelp         bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.BindAddress, "addr",
		getEnv("LIBRARIA_ADDR", ":4000"),
		"HTTP bind address (env: LIBRARIA_ADDR)")

	flag.StringVar(&cfg.GraphQLPath, "path",
		getEnv("LIBRARIA_PATH", "/graphql"),
		"GraphQL endpoint path (env: LIBRARIA_PATH)")

	flag.StringVar(&cfg.MongoURI, "mongo-uri",
		getEnv("LIBRARIA_MONGO_URI", ""),
		"MongoDB connection URI, empty for in-process store (env: LIBRARIA_MONGO_URI)")

	flag.StringVar(&cfg.MongoDatabase, "mongo-db",
		getEnv("LIBRARIA_MONGO_DB", "libraria"),
		"MongoDB database name (env: LIBRARIA_MONGO_DB)")

	flag.StringVar(&cfg.NATSURL, "nats-url",
		getEnv("LIBRARIA_NATS_URL", ""),
		"NATS server URL for event delivery, empty for in-process bus (env: LIBRARIA_NATS_URL)")

	flag.StringVar(&cfg.JWTSecret, "jwt-secret",
		getEnv("LIBRARIA_JWT_SECRET", ""),
		"Secret for signing bearer tokens, required (env: LIBRARIA_JWT_SECRET)")

	flag.DurationVar(&cfg.TokenTTL, "token-ttl",
		getEnvDuration("LIBRARIA_TOKEN_TTL", 24*time.Hour),
		"Bearer token lifetime, 0 for no expiry (env: LIBRARIA_TOKEN_TTL)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("LIBRARIA_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: LIBRARIA_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("LIBRARIA_LOG_FORMAT", "json"),
		"Log format: json, text (env: LIBRARIA_LOG_FORMAT)")

	flag.BoolVar(&cfg.EnablePlayground, "playground",
		getEnvBool("LIBRARIA_PLAYGROUND", true),
		"Serve the GraphQL Playground at / (env: LIBRARIA_PLAYGROUND)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("LIBRARIA_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: LIBRARIA_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required (set -jwt-secret or LIBRARIA_JWT_SECRET)")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive: %s", cfg.ShutdownTimeout)
	}

	if cfg.TokenTTL < 0 {
		return fmt.Errorf("token ttl must not be negative: %s", cfg.TokenTTL)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - GraphQL book catalog server

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run against a local MongoDB
  %s --jwt-secret=change-me --mongo-uri=mongodb://localhost:27017

  # Run with NATS event delivery and debug logging
  %s --jwt-secret=change-me --nats-url=nats://localhost:4222 --log-level=debug --log-format=text

  # Run with environment variables
  export LIBRARIA_JWT_SECRET=change-me
  export LIBRARIA_MONGO_URI=mongodb://localhost:27017
  %s

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
