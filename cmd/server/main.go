/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Warp Reward Engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment, .env, flags)
  2. Build the zap logger
  3. Open the store (SQLite or Postgres)
  4. Wire the tier cache (Redis when REDIS_ADDR is set)
  5. Register Prometheus metrics
  6. Create the engine, wallet, authenticator and handler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  See config/config.go. The most common ones:
  DB_DRIVER, DB_PATH, DATABASE_URL, REDIS_ADDR, TIME_ZONE, JWT_SECRET,
  BOOTSTRAP_ADMIN_EMAIL, BOOTSTRAP_ADMIN_PASSWORD, APP_ENV, LOG_LEVEL

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (HTTP_SHUTDOWN_TIMEOUT)
  3. Close cache and database connections
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/rewards.db"

  # Run against Postgres with a Redis tier cache
  DB_DRIVER=postgres DATABASE_URL=postgres://... REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/reward-engine/api"
	"github.com/warp/reward-engine/cache"
	"github.com/warp/reward-engine/config"
	"github.com/warp/reward-engine/observability"
	"github.com/warp/reward-engine/rewards"
	"github.com/warp/reward-engine/store/postgres"
	"github.com/warp/reward-engine/store/sqlite"
	"github.com/warp/reward-engine/store/sqlstore"
	"github.com/warp/reward-engine/wallet"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Flags
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()
	if *port != 0 {
		cfg.HTTPPort = strconv.Itoa(*port)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	logger.Info("store ready", zap.String("driver", cfg.DBDriver))

	// Tier cache
	var tierCache cache.TierCache = cache.NoopTierCache{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisTierCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, tier cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = redisCache.Close()
		} else {
			defer redisCache.Close()
			tierCache = redisCache
			logger.Info("tier cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.TierCacheTTL))
		}
	}
	tiers := cache.NewCachedTiers(store, tierCache, cfg.TierCacheTTL, logger)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := rewards.NewMetrics(registry)

	engine := rewards.NewEngine(store,
		rewards.WithTierSource(tiers),
		rewards.WithLogger(logger),
		rewards.WithMetrics(metrics),
		rewards.WithLocation(cfg.Location()),
	)

	secret := cfg.JWTSecret
	if secret == "" {
		secret, err = ephemeralSecret()
		if err != nil {
			return err
		}
		logger.Warn("JWT_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
	}
	auth := api.NewAuthenticator(secret, cfg.AccessTokenTTL, store)

	created, err := api.BootstrapAdmin(ctx, store, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		logger.Info("bootstrap admin created", zap.String("email", cfg.BootstrapAdminEmail))
	}

	handler := api.NewHandler(api.Deps{
		Store:      store,
		Engine:     engine,
		Wallet:     wallet.NewService(store, logger),
		Auth:       auth,
		Logger:     logger,
		Location:   cfg.Location(),
		Production: cfg.IsProduction(),
	})

	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins:     cfg.AllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RequestTimeout:     cfg.RequestTimeout,
		Metrics:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:             logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (*sqlstore.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	default:
		return sqlite.New(cfg.DBPath)
	}
}

func ephemeralSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
