// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, retry budgets, and cross-cutting keys that are shared
between different layers of the pipeline.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the ops HTTP server.
  - Pipeline Timing: Cycle interval, cycle budget, and external call deadlines.
  - Dispatch: Retry budgets, batch bounds, and backoff shape.
  - Channels: Canonical channel identifiers shared by store and dispatchers.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "machiyomi-pipeline"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 30 * time.Second

	// ShutdownTimeout is how long we wait for in-flight work to complete during shutdown.
	ShutdownTimeout = 30 * time.Second
)

// # Pipeline Timing

const (
	// DefaultCycleInterval is the default wall-clock spacing between pipeline cycles.
	DefaultCycleInterval = 1 * time.Hour

	// DefaultCycleBudget is the hard wall-clock budget for a single cycle.
	// A cycle that exceeds it is abandoned cleanly; the next cycle resumes
	// from persisted state.
	DefaultCycleBudget = 20 * time.Minute

	// ExternalCallTimeout bounds any single outbound HTTP call (source poll,
	// message send, calendar call).
	ExternalCallTimeout = 30 * time.Second

	// DefaultPollWorkers bounds how many source adapters poll concurrently.
	DefaultPollWorkers = 4
)

// # Source Health

const (
	// DefaultSourceFailureThreshold is the consecutive-failure count at which
	// a source is temporarily suspended from scheduling.
	DefaultSourceFailureThreshold = 5

	// DefaultSourceSuspension is how long a degraded source stays out of the
	// polling rotation.
	DefaultSourceSuspension = 6 * time.Hour
)

// # Dispatch

const (
	// DefaultMaxRetries is the retry budget per delivery row before the row
	// is abandoned.
	DefaultMaxRetries = 5

	// DefaultDispatchBatch bounds how many delivery rows a channel attempts
	// per cycle.
	DefaultDispatchBatch = 50

	// BackoffBase is the delay after the first failed delivery attempt.
	BackoffBase = 2 * time.Minute

	// BackoffCap is the maximum delay between delivery attempts.
	BackoffCap = 12 * time.Hour
)

// # Channels

const (
	// ChannelMessage identifies the message-delivery channel.
	ChannelMessage = "message"

	// ChannelCalendar identifies the calendar-sync channel.
	ChannelCalendar = "calendar"
)

// # Database Schemas

const (
	SchemaCore    = "core"
	SchemaCrawler = "crawler"
	SchemaNotify  = "notify"
	SchemaSystem  = "system"
)

// # Redis Keys

const (
	// RedisKeyCycleLock is the SET NX leader lock that keeps two pipeline
	// instances from running a cycle at the same time.
	RedisKeyCycleLock = "pipeline:cycle_lock"

	// RedisPrefixSourceHealth caches the latest per-source poll outcome for
	// the ops endpoint.
	RedisPrefixSourceHealth = "pipeline:source_health:"
)
