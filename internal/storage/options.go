package storage

import (
	"strings"
	"time"
)

// Option configures the Postgres connection pool a PostgresRepository
// opens. Functional options over a single PostgresConfig, the same idiom
// the teacher used across its storage and object-storage configuration.
type Option interface {
	applyPostgres(*PostgresConfig)
}

type optionFunc func(*PostgresConfig)

func (f optionFunc) applyPostgres(cfg *PostgresConfig) { f(cfg) }

// WithPostgresPoolLimits caps the number of open connections in the
// Postgres pool and optionally sets a floor for idle connections kept
// ready.
func WithPostgresPoolLimits(maxConns, minConns int32) Option {
	return optionFunc(func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns >= 0 {
			cfg.MinConnections = minConns
		}
	})
}

// WithPostgresAcquireTimeout configures how long the repository waits to
// obtain a connection from the pool before giving up.
func WithPostgresAcquireTimeout(timeout time.Duration) Option {
	return optionFunc(func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	})
}

// WithPostgresPoolDurations adjusts how long connections live, how long
// they may remain idle, and how frequently health checks run against the
// pool.
func WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval time.Duration) Option {
	return optionFunc(func(cfg *PostgresConfig) {
		if maxLifetime > 0 {
			cfg.MaxConnLifetime = maxLifetime
		}
		if maxIdle > 0 {
			cfg.MaxConnIdleTime = maxIdle
		}
		if healthInterval > 0 {
			cfg.HealthCheckInterval = healthInterval
		}
	})
}

// WithPostgresApplicationName sets the application name reported to
// Postgres for new connections, helping operators identify this service
// in monitoring tools.
func WithPostgresApplicationName(name string) Option {
	return optionFunc(func(cfg *PostgresConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.ApplicationName = trimmed
		}
	})
}

// WithArtifactRoot sets the directory extraction backends write
// Snapshot/Bookmark files under; DeleteSnapshotArtifact/
// DeleteBookmarkArtifact derive their target path from it.
func WithArtifactRoot(root string) Option {
	return optionFunc(func(cfg *PostgresConfig) {
		if trimmed := strings.TrimSpace(root); trimmed != "" {
			cfg.ArtifactRoot = trimmed
		}
	})
}
