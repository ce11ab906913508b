// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (DB, Redis) via constructors.
  - Zero Hidden State: No global variables are used to store config.

Values that operators may tune at runtime (lockout thresholds, password
policy, pagination defaults) live in the SystemConfig singleton instead;
the fields here are only their cold-start fallbacks.
*/
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the Castellan API server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Relational Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// JWTSecret signs access and refresh tokens (HS256).
	JWTSecret string `env:"JWT_SECRET,required"`

	// Token lifetimes, in seconds.
	AccessTokenTTLSeconds  int `env:"ACCESS_TOKEN_TTL_SECONDS"  envDefault:"7200"`
	RefreshTokenTTLSeconds int `env:"REFRESH_TOKEN_TTL_SECONDS" envDefault:"604800"`

	// Login security fallbacks, used until the SystemConfig row overrides them.
	LoginMaxFailedAttempts int `env:"LOGIN_MAX_FAILED_ATTEMPTS" envDefault:"5"`
	LoginLockMinutes       int `env:"LOGIN_LOCK_MINUTES"        envDefault:"15"`

	// Bootstrap administrator, consumed only by cmd/seed.
	AdminUsername string `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPassword string `env:"ADMIN_PASSWORD" envDefault:"admin@123"`
	AdminEmail    string `env:"ADMIN_EMAIL"    envDefault:"admin@example.com"`
	AdminPhone    string `env:"ADMIN_PHONE"    envDefault:"13800000000"`

	// Cross-Origin Resource Sharing
	ExtraOrigins string `env:"EXTRA_ORIGINS"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	return cfg, nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// AllowedExtraOrigins returns the additional CORS origins from EXTRA_ORIGINS,
// a comma-separated list. Empty entries are dropped.
func (c *Config) AllowedExtraOrigins() []string {
	if c.ExtraOrigins == "" {
		return nil
	}

	parts := strings.Split(c.ExtraOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
