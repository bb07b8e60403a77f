package storage

import "time"

// PostgresConfig describes how PostgresRepository initialises its
// connection pool and where it expects extraction artifacts on disk.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string

	// ArtifactRoot is the directory extraction backends write Snapshot/
	// Bookmark files under; DeleteSnapshotArtifact/DeleteBookmarkArtifact
	// derive their target path from it (see artifact_paths.go).
	ArtifactRoot string
}

const (
	defaultMaxConnections      = int32(10)
	defaultMinConnections      = int32(2)
	defaultMaxConnLifetime     = time.Hour
	defaultMaxConnIdleTime     = 30 * time.Minute
	defaultHealthCheckInterval = time.Minute
	defaultAcquireTimeout      = 5 * time.Second
	defaultApplicationName     = "bitriver-gateway"
)

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{
		DSN:                 dsn,
		MaxConnections:      defaultMaxConnections,
		MinConnections:      defaultMinConnections,
		MaxConnLifetime:     defaultMaxConnLifetime,
		MaxConnIdleTime:     defaultMaxConnIdleTime,
		HealthCheckInterval: defaultHealthCheckInterval,
		AcquireTimeout:      defaultAcquireTimeout,
		ApplicationName:     defaultApplicationName,
		ArtifactRoot:        "./data/artifacts",
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyPostgres(&cfg)
		}
	}
	return cfg
}
