package graphql

import (
	"fmt"
	"time"

	"github.com/libraria/libraria/errors"
)

// Config holds configuration for the GraphQL gateway server.
type Config struct {
	// BindAddress is the HTTP bind address (default: ":4000").
	BindAddress string `json:"bind_address"`

	// Path is the GraphQL endpoint path, shared by the request/response
	// and subscription transports (default: "/graphql").
	Path string `json:"path"`

	// EnablePlayground serves the GraphQL Playground UI at "/" (default: true).
	EnablePlayground bool `json:"enable_playground"`

	// EnableCORS enables CORS headers (default: true).
	EnableCORS bool `json:"enable_cors"`

	// CORSOrigins lists allowed CORS origins (default: ["*"]).
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// EnableMetrics serves Prometheus metrics at "/metrics" (default: true).
	EnableMetrics bool `json:"enable_metrics"`

	// RequestTimeoutStr bounds a single request/response operation
	// (default: "30s").
	RequestTimeoutStr string `json:"request_timeout,omitempty"`

	// InitTimeoutStr bounds how long a subscription connection may take to
	// send connection_init (default: "10s").
	InitTimeoutStr string `json:"init_timeout,omitempty"`

	// ShutdownGraceStr bounds HTTP draining during Stop (default: "30s").
	ShutdownGraceStr string `json:"shutdown_grace,omitempty"`

	// parsed durations (internal use)
	requestTimeout time.Duration
	initTimeout    time.Duration
	shutdownGrace  time.Duration
}

func parseBoundedDuration(name, raw string, def, min, max time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.WrapInvalid(err, "Config", "Validate",
			fmt.Sprintf("invalid %s format: %s", name, raw))
	}
	if d < min || d > max {
		return 0, errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("%s must be between %s and %s", name, min, max))
	}
	return d, nil
}

// Validate ensures the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if c.BindAddress == "" {
		c.BindAddress = ":4000"
	}

	if c.Path == "" {
		c.Path = "/graphql"
	}
	if c.Path[0] != '/' {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"path must start with /")
	}

	var err error
	if c.requestTimeout, err = parseBoundedDuration("request_timeout",
		c.RequestTimeoutStr, 30*time.Second, 100*time.Millisecond, 5*time.Minute); err != nil {
		return err
	}
	if c.initTimeout, err = parseBoundedDuration("init_timeout",
		c.InitTimeoutStr, 10*time.Second, 100*time.Millisecond, time.Minute); err != nil {
		return err
	}
	if c.shutdownGrace, err = parseBoundedDuration("shutdown_grace",
		c.ShutdownGraceStr, 30*time.Second, 100*time.Millisecond, 5*time.Minute); err != nil {
		return err
	}

	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}

	return nil
}

// RequestTimeout returns the parsed per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return c.requestTimeout
}

// InitTimeout returns the parsed connection-init deadline.
func (c *Config) InitTimeout() time.Duration {
	return c.initTimeout
}

// ShutdownGrace returns the parsed HTTP draining bound.
func (c *Config) ShutdownGrace() time.Duration {
	return c.shutdownGrace
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		BindAddress:       ":4000",
		Path:              "/graphql",
		EnablePlayground:  true,
		EnableCORS:        true,
		CORSOrigins:       []string{"*"},
		EnableMetrics:     true,
		RequestTimeoutStr: "30s",
		InitTimeoutStr:    "10s",
		ShutdownGraceStr:  "30s",
	}
}
