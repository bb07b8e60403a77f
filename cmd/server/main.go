// Command server starts the stream gateway's HTTP API, wiring together the
// storage backend, token authenticator, stream orchestrator, SFU control
// client, HLS segment registry, and extraction worker pool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitriver-live/internal/api"
	"bitriver-live/internal/auth"
	"bitriver-live/internal/consumer"
	"bitriver-live/internal/extraction"
	"bitriver-live/internal/hls"
	"bitriver-live/internal/models"
	"bitriver-live/internal/observability/logging"
	"bitriver-live/internal/observability/metrics"
	"bitriver-live/internal/orchestrator"
	"bitriver-live/internal/portbroker"
	"bitriver-live/internal/server"
	"bitriver-live/internal/sfu"
	"bitriver-live/internal/ssrc"
	"bitriver-live/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	storageDriver := flag.String("storage-driver", "", "datastore driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	artifactRoot := flag.String("artifact-root", "", "directory snapshot/bookmark artifacts are written under")
	recordingsRoot := flag.String("recordings-root", "", "directory HLS segment archives are written under")
	jwtSigningKey := flag.String("jwt-signing-key", "", "HMAC key used to sign access tokens")
	jwtAccessTTL := flag.Duration("jwt-access-ttl", 0, "access token lifetime")
	refreshTokenTTL := flag.Duration("refresh-token-ttl", 0, "refresh token lifetime")
	sessionPurgeInterval := flag.Duration("session-purge-interval", 0, "interval between expired refresh-token session sweeps")
	sfuControlAddr := flag.String("sfu-control-addr", "", "websocket URL of the SFU worker's control endpoint")
	sfuCallTimeout := flag.Duration("sfu-call-timeout", 0, "timeout for a single SFU control call")
	destHost := flag.String("dest-host", "", "host the transcoder sends RTP to (the SFU's plain transport address)")
	portBrokerMin := flag.Int("port-broker-min", 0, "minimum UDP port handed out for RTP ingress")
	portBrokerMax := flag.Int("port-broker-max", 0, "maximum UDP port handed out for RTP ingress")
	startDeadline := flag.Duration("start-deadline", 0, "deadline for a stream to reach LIVE during start_stream")
	hlsRetention := flag.Duration("hls-retention", 0, "how long closed HLS segments are kept before pruning")
	hlsPruneInterval := flag.Duration("hls-prune-interval", 0, "interval between HLS retention sweeps")
	hlsWatchInterval := flag.Duration("hls-watch-interval", 0, "interval between HLS segment-discovery polls")
	extractionWorkers := flag.Int("extraction-workers", 0, "number of concurrent extraction workers")
	extractionQueueSize := flag.Int("extraction-queue-size", 0, "bounded extraction job queue size")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum token requests per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting token request attempts")
	trustForwarded := flag.Bool("rate-trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	trustedProxies := flag.String("rate-trusted-proxies", "", "comma separated CIDR blocks or IPs of trusted proxies")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address backing the distributed login rate limiter (falls back to an in-process limiter when empty)")
	redisPassword := flag.String("rate-redis-password", "", "Redis password")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "Redis command timeout")
	flag.Parse()

	logger := logging.New(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("BITRIVER_LIVE_LOG_LEVEL"))})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.New()

	listenAddr := firstNonEmpty(*addr, os.Getenv("BITRIVER_LIVE_ADDR"), ":8080")
	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("BITRIVER_LIVE_TLS_CERT"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("BITRIVER_LIVE_TLS_KEY"))

	artifactRootPath := firstNonEmpty(*artifactRoot, os.Getenv("BITRIVER_LIVE_ARTIFACT_ROOT"), "data/artifacts")
	recordingsRootPath := firstNonEmpty(*recordingsRoot, os.Getenv("BITRIVER_LIVE_RECORDINGS_ROOT"), "data/recordings")

	store, err := openStore(*storageDriver, storeConfig{
		postgresDSN:            resolvePostgresDSN(*postgresDSN),
		postgresMaxConns:       resolveInt(*postgresMaxConns, "BITRIVER_LIVE_POSTGRES_MAX_CONNS"),
		postgresMinConns:       resolveInt(*postgresMinConns, "BITRIVER_LIVE_POSTGRES_MIN_CONNS"),
		postgresMaxConnLifetime: resolveDuration(*postgresMaxConnLifetime, "BITRIVER_LIVE_POSTGRES_MAX_CONN_LIFETIME", 0),
		postgresMaxConnIdle:    resolveDuration(*postgresMaxConnIdle, "BITRIVER_LIVE_POSTGRES_MAX_CONN_IDLE", 0),
		postgresHealthInterval: resolveDuration(*postgresHealthInterval, "BITRIVER_LIVE_POSTGRES_HEALTH_INTERVAL", 0),
		postgresAcquireTimeout: resolveDuration(*postgresAcquireTimeout, "BITRIVER_LIVE_POSTGRES_ACQUIRE_TIMEOUT", 0),
		postgresAppName:        firstNonEmpty(*postgresAppName, os.Getenv("BITRIVER_LIVE_POSTGRES_APP_NAME")),
		artifactRoot:           artifactRootPath,
	})
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	signingKey := firstNonEmpty(*jwtSigningKey, os.Getenv("BITRIVER_LIVE_JWT_SIGNING_KEY"))
	if signingKey == "" {
		logger.Error("jwt signing key is required (--jwt-signing-key or BITRIVER_LIVE_JWT_SIGNING_KEY)")
		os.Exit(1)
	}
	jwtIssuer, err := auth.NewJWTIssuer([]byte(signingKey), resolveDuration(*jwtAccessTTL, "BITRIVER_LIVE_JWT_ACCESS_TTL", auth.AccessTokenTTL))
	if err != nil {
		logger.Error("failed to construct jwt issuer", "error", err)
		os.Exit(1)
	}
	sessions := auth.NewSessionManager(resolveDuration(*refreshTokenTTL, "BITRIVER_LIVE_REFRESH_TOKEN_TTL", auth.RefreshTokenTTL))
	authenticator := auth.NewAuthenticator(store, jwtIssuer, sessions)

	sfuAddr := firstNonEmpty(*sfuControlAddr, os.Getenv("BITRIVER_LIVE_SFU_CONTROL_ADDR"))
	if sfuAddr == "" {
		logger.Error("sfu control address is required (--sfu-control-addr or BITRIVER_LIVE_SFU_CONTROL_ADDR)")
		os.Exit(1)
	}
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
	transport, err := sfu.DialWebsocketTransport(dialCtx, sfuAddr, nil)
	dialCancel()
	if err != nil {
		logger.Error("failed to connect to sfu worker", "error", err)
		os.Exit(1)
	}
	sfuClient := sfu.NewControlClient(sfu.ClientConfig{
		Transport:   transport,
		Logger:      logging.WithComponent(logger, "sfu"),
		CallTimeout: resolveDuration(*sfuCallTimeout, "BITRIVER_LIVE_SFU_CALL_TIMEOUT", 0),
	})

	portBrokerCfg := portbroker.Config{
		Min: resolveInt(*portBrokerMin, "BITRIVER_LIVE_PORT_BROKER_MIN"),
		Max: resolveInt(*portBrokerMax, "BITRIVER_LIVE_PORT_BROKER_MAX"),
	}
	if portBrokerCfg.Min <= 0 {
		portBrokerCfg.Min = 20000
	}
	if portBrokerCfg.Max <= 0 {
		portBrokerCfg.Max = 20999
	}
	broker, err := portbroker.New(portBrokerCfg)
	if err != nil {
		logger.Error("failed to construct port broker", "error", err)
		os.Exit(1)
	}

	hlsRegistry := hls.NewRegistry()
	consumerRegistry := consumer.New(consumer.Config{
		SFU:     consumer.NewSFUClient(sfuClient, recorder),
		Logger:  logging.WithComponent(logger, "consumer"),
		Metrics: recorder,
		StreamLookup: func(streamID string) (models.StreamState, bool) {
			stream, ok, err := store.GetStream(streamID)
			if err != nil || !ok {
				return "", false
			}
			return stream.State, true
		},
	})

	backend := extraction.NewFFmpegBackend(hlsRegistry, artifactRootPath, logging.WithComponent(logger, "extraction"))
	pool := extraction.New(extraction.Config{
		Backend:   backend,
		Store:     store,
		Workers:   resolveInt(*extractionWorkers, "BITRIVER_LIVE_EXTRACTION_WORKERS"),
		QueueSize: resolveInt(*extractionQueueSize, "BITRIVER_LIVE_EXTRACTION_QUEUE_SIZE"),
		Logger:    logging.WithComponent(logger, "extraction"),
		Metrics:   recorder,
	})
	pool.Start()

	orch := orchestrator.New(orchestrator.Config{
		Store:             store,
		SFU:               orchestrator.NewSFUClient(sfuClient, recorder),
		PortBroker:        broker,
		ConsumerRegistry:  consumerRegistry,
		ExtractionPool:    pool,
		Logger:            logging.WithComponent(logger, "orchestrator"),
		RecordingsRoot:    recordingsRootPath,
		DestHost:          firstNonEmpty(*destHost, os.Getenv("BITRIVER_LIVE_DEST_HOST")),
		StartDeadline:     resolveDuration(*startDeadline, "BITRIVER_LIVE_START_DEADLINE", 0),
		SSRCCaptureConfig: ssrc.Config{},
		Metrics:           recorder,
	})

	handler := api.NewHandler(store, authenticator, orch, hlsRegistry, pool, sfuClient, recordingsRootPath, logging.WithComponent(logger, "api"))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	stopWatcher := hls.StartWatcher(workerCtx, hls.WatcherConfig{
		Registry:       hlsRegistry,
		RecordingsRoot: recordingsRootPath,
		Interval:       resolveDuration(*hlsWatchInterval, "BITRIVER_LIVE_HLS_WATCH_INTERVAL", 0),
		Logger:         logging.WithComponent(logger, "hls-watcher"),
	})
	defer stopWatcher()

	stopPruner := hls.StartPruner(workerCtx, hls.PrunerConfig{
		Registry:  hlsRegistry,
		Retention: resolveDuration(*hlsRetention, "BITRIVER_LIVE_HLS_RETENTION", 0),
		Interval:  resolveDuration(*hlsPruneInterval, "BITRIVER_LIVE_HLS_PRUNE_INTERVAL", 0),
		Logger:    logging.WithComponent(logger, "hls-pruner"),
	})
	defer stopPruner()

	stopSessionPurge := startSessionPurgeWorker(
		workerCtx,
		logging.WithComponent(logger, "session-purge"),
		sessions,
		resolveDuration(*sessionPurgeInterval, "BITRIVER_LIVE_SESSION_PURGE_INTERVAL", 15*time.Minute),
	)
	defer stopSessionPurge()

	rateCfg := server.RateLimitConfig{
		GlobalRPS:             resolveFloat(*globalRPS, "BITRIVER_LIVE_RATE_GLOBAL_RPS"),
		GlobalBurst:           resolveInt(*globalBurst, "BITRIVER_LIVE_RATE_GLOBAL_BURST"),
		LoginLimit:            resolveInt(*loginLimit, "BITRIVER_LIVE_RATE_LOGIN_LIMIT"),
		LoginWindow:           resolveDuration(*loginWindow, "BITRIVER_LIVE_RATE_LOGIN_WINDOW", time.Minute),
		TrustForwardedHeaders: resolveBool(*trustForwarded, "BITRIVER_LIVE_RATE_TRUST_FORWARDED_HEADERS"),
		TrustedProxies:        splitAndTrim(firstNonEmpty(*trustedProxies, os.Getenv("BITRIVER_LIVE_RATE_TRUSTED_PROXIES"))),
		RedisAddr:             firstNonEmpty(*redisAddr, os.Getenv("BITRIVER_LIVE_RATE_REDIS_ADDR")),
		RedisPassword:         firstNonEmpty(*redisPassword, os.Getenv("BITRIVER_LIVE_RATE_REDIS_PASSWORD")),
		RedisTimeout:          resolveDuration(*redisTimeout, "BITRIVER_LIVE_RATE_REDIS_TIMEOUT", 0),
	}

	srv, err := server.New(handler, server.Config{
		Addr:        listenAddr,
		TLS:         server.TLSConfig{CertFile: tlsCertPath, KeyFile: tlsKeyPath},
		RateLimit:   rateCfg,
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("stream gateway listening", "addr", listenAddr)
		if tlsCertPath != "" && tlsKeyPath != "" {
			logger.Info("TLS enabled", "cert_file", tlsCertPath)
		}
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	workerCancel()
	stopWatcher()
	stopPruner()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if err := pool.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop extraction pool", "error", err)
	}
	if err := transport.Close(); err != nil {
		logger.Warn("failed to close sfu control transport", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("server stopped")
}

type storeConfig struct {
	postgresDSN             string
	postgresMaxConns        int
	postgresMinConns        int
	postgresMaxConnLifetime time.Duration
	postgresMaxConnIdle     time.Duration
	postgresHealthInterval  time.Duration
	postgresAcquireTimeout  time.Duration
	postgresAppName         string
	artifactRoot            string
}

func openStore(flagDriver string, cfg storeConfig) (storage.Repository, error) {
	driver := strings.ToLower(strings.TrimSpace(firstNonEmpty(flagDriver, os.Getenv("BITRIVER_LIVE_STORAGE_DRIVER"))))
	if driver == "" {
		if cfg.postgresDSN != "" {
			driver = "postgres"
		} else {
			driver = "memory"
		}
	}

	switch driver {
	case "memory":
		return storage.NewMemoryRepository(cfg.artifactRoot), nil
	case "postgres":
		if cfg.postgresDSN == "" {
			return nil, fmt.Errorf("postgres storage selected without a DSN (--postgres-dsn or BITRIVER_LIVE_POSTGRES_DSN)")
		}
		var opts []storage.Option
		opts = append(opts, storage.WithArtifactRoot(cfg.artifactRoot))
		if cfg.postgresMaxConns > 0 || cfg.postgresMinConns > 0 {
			opts = append(opts, storage.WithPostgresPoolLimits(int32(cfg.postgresMaxConns), int32(cfg.postgresMinConns)))
		}
		if cfg.postgresMaxConnLifetime > 0 || cfg.postgresMaxConnIdle > 0 || cfg.postgresHealthInterval > 0 {
			opts = append(opts, storage.WithPostgresPoolDurations(cfg.postgresMaxConnLifetime, cfg.postgresMaxConnIdle, cfg.postgresHealthInterval))
		}
		if cfg.postgresAcquireTimeout > 0 {
			opts = append(opts, storage.WithPostgresAcquireTimeout(cfg.postgresAcquireTimeout))
		}
		if cfg.postgresAppName != "" {
			opts = append(opts, storage.WithPostgresApplicationName(cfg.postgresAppName))
		}
		return storage.NewPostgresRepository(cfg.postgresDSN, opts...)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("BITRIVER_LIVE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
