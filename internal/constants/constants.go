package constants

import (
	"net/http"
	"time"
)

// Store Constants
const (
	// PostgreSQL defaults
	DefaultPostgresPort    = 5432
	DefaultPostgresSSLMode = "disable"

	// Connection pool settings
	DefaultPostgresMaxConnections = 25
	DefaultPostgresMaxIdleConns   = 5
	DefaultSQLiteMaxConnections   = 1 // SQLite allows only one writer
	DefaultSQLiteMaxIdleConns     = 1

	DefaultSQLitePath = "sessprobe.db"

	// Default table names
	DefaultSuiteRunsTable       = "suite_runs"
	DefaultScenarioResultsTable = "scenario_results"
)

// Time and Duration Constants
const (
	// Connection pool lifetimes
	DefaultMaxConnLifetime = 5 * time.Minute
	DefaultMaxIdleTime     = 1 * time.Minute
	DefaultSQLiteLifetime  = 10 * time.Minute
	DefaultSQLiteIdleTime  = 5 * time.Minute
)

// Readiness Constants
const (
	DefaultReadinessPath     = "/"
	DefaultReadinessStatus   = http.StatusOK
	DefaultReadinessAttempts = 10
	DefaultReadinessDelay    = 50 * time.Millisecond
	DefaultReadinessMaxDelay = 2 * time.Second
	DefaultStopGrace         = 5 * time.Second
	DefaultPortReleaseWait   = 2 * time.Second
)

// Scenario Constants
const (
	DefaultRequestTimeout  = 10 * time.Second
	DefaultScenarioTimeout = 2 * time.Minute
	DefaultTeardownTimeout = 30 * time.Second
	DefaultParallelism     = 1
	DefaultShutdownGrace   = 10 * time.Second
)

// Session Constants
const (
	DefaultSessionName   = "PHPSESSIONID"
	DefaultRedisPort     = 6379
	DefaultMemcachedPort = 11211
	DefaultRedisImage    = "redis:7-alpine"
	DefaultMemcacheImage = "memcached:1.6-alpine"

	// DefaultMemcacheSASLImage is the Debian build, which ships the cyrus PLAIN mechanism
	DefaultMemcacheSASLImage = "memcached:1.6"
	// DefaultSASLAdminUser is the account the harness itself authenticates as
	DefaultSASLAdminUser     = "sessprobe"

	// ConfigFileName is written into the per-launch configuration directory
	ConfigFileName = "sessions.ini"
	// EnvPrefix prefixes every variable the launcher exports to the application
	EnvPrefix = "SESSPROBE_"
)
