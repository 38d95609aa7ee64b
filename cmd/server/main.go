// Command server starts the metadata store HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"metaserver/internal/api"
	"metaserver/internal/auth"
	"metaserver/internal/models"
	"metaserver/internal/observability/logging"
	"metaserver/internal/observability/metrics"
	"metaserver/internal/reconcile"
	"metaserver/internal/server"
	"metaserver/internal/storage"
)

// defaultKeyCapabilities is seeded for the "default" key on first start so an
// unconfigured deployment can read and write elements but not administer
// keys or list without filters.
var defaultKeyCapabilities = []string{
	"GETelements",
	"POSTelements",
	"PUTelements",
	"DELETEelements",
	"POSTtrace",
}

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	sessionTTL := flag.Duration("session-ttl", 0, "absolute lifetime of visitor sessions")
	sessionIdle := flag.Duration("session-idle-timeout", 0, "idle timeout for visitor sessions")
	importConcurrency := flag.Int("import-concurrency", 0, "maximum concurrent bundle imports")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	importLimit := flag.Int("rate-import-limit", 0, "maximum bundle imports per window for a single IP")
	importWindow := flag.Duration("rate-import-window", 0, "window for counting bundle imports")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed import throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed import throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis throttle operations")
	corsOrigins := flag.String("cors-allowed-origins", "", "comma separated origins allowed to call the API cross-site")
	secureCookies := flag.Bool("secure-cookies", false, "always mark session cookies Secure")
	reloadRedisAddr := flag.String("reload-redis-addr", "", "Redis address for capability reload fanout")
	reloadRedisAddrs := flag.String("reload-redis-addrs", "", "comma separated Redis addresses for capability reload fanout")
	reloadRedisUsername := flag.String("reload-redis-username", "", "Redis username for capability reload fanout")
	reloadRedisPassword := flag.String("reload-redis-password", "", "Redis password for capability reload fanout")
	reloadRedisChannel := flag.String("reload-redis-channel", "", "Redis pub/sub channel for capability reloads")
	reloadRedisMasterName := flag.String("reload-redis-sentinel-master", "", "Redis sentinel master name for capability reload fanout")
	reloadRedisTLSCA := flag.String("reload-redis-tls-ca", "", "path to Redis TLS CA certificate for capability reload fanout")
	reloadRedisTLSCert := flag.String("reload-redis-tls-cert", "", "path to Redis TLS client certificate for capability reload fanout")
	reloadRedisTLSKey := flag.String("reload-redis-tls-key", "", "path to Redis TLS client key for capability reload fanout")
	reloadRedisTLSServerName := flag.String("reload-redis-tls-server-name", "", "override Redis TLS server name for capability reload fanout")
	reloadRedisTLSSkipVerify := flag.Bool("reload-redis-tls-skip-verify", false, "skip Redis TLS verification for capability reload fanout")
	reloadRedisTimeout := flag.Duration("reload-redis-timeout", 0, "timeout for Redis reload operations")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("METASERVER_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("METASERVER_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("METASERVER_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("METASERVER_ADDR"))

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("METASERVER_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres datastore driver", "driver", driver)
		os.Exit(1)
	}

	openCtx, openCancel := context.WithTimeout(context.Background(), 30*time.Second)
	var store storage.DocumentStore
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("METASERVER_DATA"))
		store, err = storage.NewJSONStore(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		store, err = storage.NewPostgresStore(openCtx, storage.PostgresConfig{
			DSN:                 postgresDefaultDSN,
			MaxConnections:      int32(resolveInt(*postgresMaxConns, "METASERVER_POSTGRES_MAX_CONNS")),
			MinConnections:      int32(resolveInt(*postgresMinConns, "METASERVER_POSTGRES_MIN_CONNS")),
			MaxConnLifetime:     resolveDuration(*postgresMaxConnLifetime, "METASERVER_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime:     resolveDuration(*postgresMaxConnIdle, "METASERVER_POSTGRES_MAX_CONN_IDLE", 0),
			HealthCheckInterval: resolveDuration(*postgresHealthInterval, "METASERVER_POSTGRES_HEALTH_INTERVAL", 0),
			AcquireTimeout:      resolveDuration(*postgresAcquireTimeout, "METASERVER_POSTGRES_ACQUIRE_TIMEOUT", 0),
			ApplicationName:     firstNonEmpty(*postgresAppName, os.Getenv("METASERVER_POSTGRES_APP_NAME")),
		})
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	openCancel()
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := seedDefaultKey(startCtx, store, logger); err != nil {
		startCancel()
		logger.Error("failed to seed default key", "error", err)
		os.Exit(1)
	}

	capabilities := auth.NewCapabilityStore(store, logging.WithComponent(logger, "capabilities"), recorder)
	if err := capabilities.Reload(startCtx); err != nil {
		startCancel()
		logger.Error("failed to load capability table", "error", err)
		os.Exit(1)
	}
	startCancel()

	sessionOpts := []auth.SessionOption{auth.WithStore(auth.NewMemorySessionStore())}
	if idle := resolveDuration(*sessionIdle, "METASERVER_SESSION_IDLE_TIMEOUT", 0); idle > 0 {
		sessionOpts = append(sessionOpts, auth.WithIdleTimeout(idle))
	}
	sessions := auth.NewSessionManager(resolveDuration(*sessionTTL, "METASERVER_SESSION_TTL", 7*24*time.Hour), sessionOpts...)

	handler := api.NewHandler(store, capabilities, sessions, logger)
	if concurrency := resolveInt(*importConcurrency, "METASERVER_IMPORT_CONCURRENCY"); concurrency > 0 {
		handler.Importer = reconcile.NewImporter(store, logging.WithComponent(logger, "importer"), recorder, concurrency)
	}
	if resolveBool(*secureCookies, "METASERVER_SECURE_COOKIES") {
		handler.SessionCookiePolicy = api.SessionCookiePolicy{SecureMode: api.SessionCookieSecureAlways}
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var notifier *auth.ReloadNotifier
	reloadAddrs := splitAndTrim(firstNonEmpty(*reloadRedisAddrs, os.Getenv("METASERVER_RELOAD_REDIS_ADDRS")))
	reloadAddr := firstNonEmpty(*reloadRedisAddr, os.Getenv("METASERVER_RELOAD_REDIS_ADDR"))
	if reloadAddr != "" || len(reloadAddrs) > 0 {
		notifier, err = auth.NewReloadNotifier(auth.ReloadNotifierConfig{
			Addr:       reloadAddr,
			Addrs:      reloadAddrs,
			Username:   firstNonEmpty(*reloadRedisUsername, os.Getenv("METASERVER_RELOAD_REDIS_USERNAME")),
			Password:   firstNonEmpty(*reloadRedisPassword, os.Getenv("METASERVER_RELOAD_REDIS_PASSWORD")),
			Channel:    firstNonEmpty(*reloadRedisChannel, os.Getenv("METASERVER_RELOAD_REDIS_CHANNEL")),
			MasterName: firstNonEmpty(*reloadRedisMasterName, os.Getenv("METASERVER_RELOAD_REDIS_SENTINEL_MASTER")),
			Timeout:    resolveDuration(*reloadRedisTimeout, "METASERVER_RELOAD_REDIS_TIMEOUT", 0),
			Logger:     logging.WithComponent(logger, "reload-notifier"),
			TLS: auth.RedisTLSConfig{
				CAFile:             firstNonEmpty(*reloadRedisTLSCA, os.Getenv("METASERVER_RELOAD_REDIS_TLS_CA")),
				CertFile:           firstNonEmpty(*reloadRedisTLSCert, os.Getenv("METASERVER_RELOAD_REDIS_TLS_CERT")),
				KeyFile:            firstNonEmpty(*reloadRedisTLSKey, os.Getenv("METASERVER_RELOAD_REDIS_TLS_KEY")),
				ServerName:         firstNonEmpty(*reloadRedisTLSServerName, os.Getenv("METASERVER_RELOAD_REDIS_TLS_SERVER_NAME")),
				InsecureSkipVerify: resolveBool(*reloadRedisTLSSkipVerify, "METASERVER_RELOAD_REDIS_TLS_SKIP_VERIFY"),
			},
		})
		if err != nil {
			logger.Error("failed to connect reload notifier", "error", err)
			os.Exit(1)
		}
		handler.Notifier = notifier
		go notifier.Listen(workerCtx, capabilities.Reload)
	}

	sessionSweepStop := sweepSessions(workerCtx, logging.WithComponent(logger, "session-sweeper"), sessions, 15*time.Minute)
	defer sessionSweepStop()

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "METASERVER_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "METASERVER_RATE_GLOBAL_BURST"),
		ImportLimit:   resolveInt(*importLimit, "METASERVER_RATE_IMPORT_LIMIT"),
		ImportWindow:  resolveDuration(*importWindow, "METASERVER_RATE_IMPORT_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("METASERVER_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("METASERVER_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*rateRedisTimeout, "METASERVER_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("METASERVER_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("METASERVER_TLS_KEY")),
		},
		RateLimit: rateCfg,
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("METASERVER_CORS_ALLOWED_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("metadata store listening", "addr", listenAddr, "mode", serverMode, "driver", driver)
	logger.Info("metrics endpoint available", "path", "/metrics")
	if err := srv.Run(runCtx, 10*time.Second, nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
	}

	workerCancel()
	sessionSweepStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if notifier != nil {
		if err := notifier.Close(); err != nil {
			logger.Warn("failed to close reload notifier", "error", err)
		}
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("server stopped")
}

// seedDefaultKey creates the "default" key on an empty key collection so the
// store is usable before any key administration has happened.
func seedDefaultKey(ctx context.Context, store storage.DocumentStore, logger *slog.Logger) error {
	existing, err := store.Find(ctx, models.CollectionKeys, nil)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	key := models.ApiKey{Key: auth.DefaultKey, Capabilities: defaultKeyCapabilities}
	if err := store.Save(ctx, models.CollectionKeys, key.ToObject()); err != nil {
		return err
	}
	logger.Info("seeded default API key", "capabilities", len(key.Capabilities))
	return nil
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("METASERVER_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
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
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
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
	if fallback > 0 {
		return fallback
	}
	return 0
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
