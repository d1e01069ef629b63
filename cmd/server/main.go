/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (env / .env, then flags)
  2. Build the logger and metrics registry
  3. Open the store (sqlite, postgres or memory)
  4. Build the locker (local, or redis for several processes)
  5. Create the coordinator (loads materialized balances)
  6. Start the reconciliation scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for an in-memory database

ENVIRONMENT:
  APP_ENV, LOG_LEVEL, HTTP_PORT, CORS_ORIGINS, DB_DRIVER, DB_PATH,
  DATABASE_URL, LOCK_BACKEND, LOCK_TIMEOUT, REDIS_ADDR, REDIS_LOCK_TTL,
  RECONCILE_INTERVAL. See config/config.go for defaults.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store and the redis client

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run against postgres with redis locks
  DB_DRIVER=postgres DATABASE_URL=postgres://... LOCK_BACKEND=redis ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
  - inventory/coordinator.go: Ledger operations
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
	"github.com/warp/stock-ledger/api"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
	"github.com/warp/stock-ledger/logging"
	"github.com/warp/stock-ledger/metrics"
	"github.com/warp/stock-ledger/store/postgres"
	"github.com/warp/stock-ledger/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides HTTP_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(logging.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
	m := metrics.New(metrics.DefaultConfig())

	ctx := context.Background()

	// Initialize store
	st, closeStore, err := openStore(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer closeStore()

	locker, closeLocker, err := newLocker(ctx, cfg.Lock)
	if err != nil {
		return fmt.Errorf("initialize locker: %w", err)
	}
	defer closeLocker()

	coord, err := inventory.NewCoordinator(ctx, st,
		inventory.WithLocker(locker),
		inventory.WithLockTimeout(cfg.Lock.Timeout),
		inventory.WithLogger(log),
		inventory.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}

	runs := api.NewRunLog()
	handler := api.NewHandler(coord, runs, log)

	scheduler := api.NewReconciliationScheduler(coord, runs, log)
	scheduler.CheckInterval = cfg.Reconcile.Interval
	scheduler.Enabled = cfg.Reconcile.Interval > 0
	if scheduler.Enabled {
		handler.Scheduler = scheduler
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Metrics:     m,
		Log:         log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("db", cfg.DB.Driver).
			Str("locks", cfg.Lock.Backend).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

// openStore opens the configured store and returns its close function.
func openStore(ctx context.Context, cfg config.DBConfig) (ledger.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "postgres":
		pg, err := postgres.New(ctx, cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		return pg, closer(pg), nil
	default:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, nil, err
			}
		}
		db, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, closer(db), nil
	}
}

// newLocker builds the lock backend. Redis locks let several server
// processes share one database; the coordinator then reloads locked
// counters from the store before each check.
func newLocker(ctx context.Context, cfg config.LockConfig) (inventory.Locker, func(), error) {
	if cfg.Backend != "redis" {
		return inventory.NewLocalLocker(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	locker := inventory.NewRedisLocker(client, inventory.NewLocalLocker(), inventory.WithRedisTTL(cfg.RedisTTL))
	return locker, closer(client), nil
}

func closer(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			zlog.Error().Err(err).Msg("close")
		}
	}
}
