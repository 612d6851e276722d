// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

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
  - DI-Friendly: Passed to core components (DB, Redis, adapters, dispatchers)
    via constructors.
  - Zero Hidden State: No global variables are used to store config.

This ensures the application is Twelve-Factor compliant by storing config in the env.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/taibuivan/machiyomi/internal/platform/validate"
)

// # Configuration Schema

// Config holds all runtime configuration for the Machiyomi pipeline.
type Config struct {

	// Server settings (ops endpoints only)
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Relational Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Cache (Redis) — cycle leader lock and health cache
	RedisURL string `env:"REDIS_URL,required"`

	// Scheduling
	CycleInterval time.Duration `env:"CYCLE_INTERVAL" envDefault:"1h"`
	CycleBudget   time.Duration `env:"CYCLE_BUDGET"   envDefault:"20m"`
	PollWorkers   int           `env:"POLL_WORKERS"   envDefault:"4"`

	// Structured-query source (catalog search endpoint)
	CatalogBaseURL      string `env:"CATALOG_BASE_URL"`
	CatalogCallsPerMin  int    `env:"CATALOG_CALLS_PER_MIN" envDefault:"30"`
	CatalogPageSize     int    `env:"CATALOG_PAGE_SIZE"     envDefault:"50"`
	CatalogLookaheadDay int    `env:"CATALOG_LOOKAHEAD_DAYS" envDefault:"14"`

	// Feed sources: comma-separated "name=url" pairs.
	FeedSources       []string `env:"FEED_SOURCES" envSeparator:","`
	FeedMinPollSecond int      `env:"FEED_MIN_POLL_SECONDS" envDefault:"2"`

	// Filtering
	FilterRulesPath string `env:"FILTER_RULES_PATH" envDefault:"./data/rules.json"`

	// Message-delivery channel
	MessageBaseURL   string `env:"MESSAGE_BASE_URL"`
	MessageAPIKey    string `env:"MESSAGE_API_KEY"`
	MessageRecipient string `env:"MESSAGE_RECIPIENT"`
	MessageSender    string `env:"MESSAGE_SENDER" envDefault:"machiyomi@localhost"`

	// Calendar-sync channel (service-account auth)
	CalendarBaseURL    string `env:"CALENDAR_BASE_URL"`
	CalendarID         string `env:"CALENDAR_ID"`
	CalendarIssuer     string `env:"CALENDAR_SA_ISSUER"`
	CalendarKeyPath    string `env:"CALENDAR_SA_KEY_PATH"`
	CalendarTokenScope string `env:"CALENDAR_TOKEN_SCOPE" envDefault:"calendar.events"`

	// Dispatch tuning
	MaxRetries    int `env:"DISPATCH_MAX_RETRIES" envDefault:"5"`
	DispatchBatch int `env:"DISPATCH_BATCH"       envDefault:"50"`
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate applies the semantic checks the env tags cannot express.
func (c *Config) Validate() error {
	v := &validate.Validator{}

	v.URL("CATALOG_BASE_URL", c.CatalogBaseURL)
	v.URL("MESSAGE_BASE_URL", c.MessageBaseURL)
	v.URL("CALENDAR_BASE_URL", c.CalendarBaseURL)

	v.Range("POLL_WORKERS", c.PollWorkers, 1, 64)
	v.Range("DISPATCH_MAX_RETRIES", c.MaxRetries, 1, 20)
	v.Range("DISPATCH_BATCH", c.DispatchBatch, 1, 1000)
	v.Range("CATALOG_PAGE_SIZE", c.CatalogPageSize, 1, 500)
	v.Range("CATALOG_LOOKAHEAD_DAYS", c.CatalogLookaheadDay, 1, 90)

	v.Custom("CYCLE_BUDGET", c.CycleBudget <= 0, "Must be positive")
	v.Custom("CYCLE_BUDGET", c.CycleBudget > c.CycleInterval, "Must not exceed the cycle interval")

	for _, entry := range c.FeedSources {
		name, feedURL, found := strings.Cut(strings.TrimSpace(entry), "=")
		v.Custom("FEED_SOURCES", !found || name == "", `Entries must be "name=url" pairs`)
		if found {
			v.URL("FEED_SOURCES", feedURL)
		}
	}

	return v.Err()
}

// IsDevelopment reports whether the pipeline is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the pipeline is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// MessageChannelEnabled reports whether message-delivery credentials are present.
// A channel without credentials is skipped, not failed.
func (c *Config) MessageChannelEnabled() bool {
	return c.MessageBaseURL != "" && c.MessageRecipient != ""
}

// CalendarChannelEnabled reports whether calendar-sync credentials are present.
func (c *Config) CalendarChannelEnabled() bool {
	return c.CalendarBaseURL != "" && c.CalendarID != ""
}
