// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout is the deadline for a single WebSocket write
	WebSocketWriteTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Call lifecycle constants
const (
	// DefaultRingTimeout is how long an unanswered call rings before it is
	// force-transitioned to timeout
	DefaultRingTimeout = 30 * time.Second

	// RingSweepInterval is how often the reconciliation sweeper checks for
	// ringing calls whose persisted deadline has passed
	RingSweepInterval = 15 * time.Second

	// RingSweepBatchSize bounds how many expired calls one sweep handles
	RingSweepBatchSize = 100
)

// Anti-abuse constants
const (
	// MaxCallsPerWindow is how many calls a caller may start within CallRateWindow
	MaxCallsPerWindow = 3

	// CallRateWindow is the trailing window for the call rate limit
	CallRateWindow = 5 * time.Minute
)

// Cache constants
const (
	// CallCacheTTL is the lifetime of an ephemeral call cache entry.
	// Minutes, not hours: the cache is a fast-path mirror, never the record.
	CallCacheTTL = 2 * time.Minute
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)

// Push notification constants
const (
	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour // 30 days
)
