/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the clinic payroll server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env / environment, then apply command-line flags
  2. Initialize logger
  3. Initialize SQLite store and payroll rules
  4. Connect the override store (sqlite or redis)
  5. Create API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override environment):
  -port              HTTP server port (PORT, default: 8080)
  -db                SQLite database path (DB_PATH, default: payroll.db)
                     Use ":memory:" for in-memory database
  -rules             YAML or JSON rules file (RULES_PATH)
  -log-level         debug|info|warn|error (LOG_LEVEL, default: info)
  -override-backend  sqlite|redis (OVERRIDE_BACKEND, default: sqlite)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain pending override writes
  4. Close database connection
  5. Exit

EXAMPLES:
  ./server -db="./data/payroll.db" -rules=rules.yaml
  OVERRIDE_BACKEND=redis REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment settings
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/clinic-payroll/api"
	"github.com/warp/clinic-payroll/config"
	"github.com/warp/clinic-payroll/factory"
	"github.com/warp/clinic-payroll/logger"
	"github.com/warp/clinic-payroll/store/redis"
	"github.com/warp/clinic-payroll/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.RulesPath, "rules", cfg.RulesPath, "Payroll rules file (.yaml or .json)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.StringVar(&cfg.OverrideBackend, "override-backend", cfg.OverrideBackend, "Override store: sqlite or redis")
	flag.Parse()

	log := logger.Init(cfg.LogLevel, cfg.LogFilePath)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.DBPath).Msg("failed to initialize database")
	}
	defer store.Close()

	rules, err := factory.LoadRules(cfg.RulesPath)
	if err != nil {
		log.Fatal().Err(err).Str("rules", cfg.RulesPath).Msg("failed to load rules")
	}
	if err := rules.ApplyPoolRates(context.Background(), store); err != nil {
		log.Fatal().Err(err).Msg("failed to apply pool rates")
	}

	opts := []api.HandlerOption{
		api.WithRules(rules),
		api.WithLogger(logger.Component("api")),
		api.WithPersistTimeout(cfg.PersistTimeout),
	}

	switch cfg.OverrideBackend {
	case config.BackendSQLite:
	case config.BackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := redis.Connect(ctx, cfg.RedisAddr, cfg.RedisUser, cfg.RedisPassword)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		opts = append(opts, api.WithOverrideStore(redis.NewOverrideStore(rdb)))
	default:
		log.Fatal().Str("backend", cfg.OverrideBackend).Msg("unknown override backend")
	}

	// Initialize handler
	handler := api.NewHandler(store, opts...)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("db", cfg.DBPath).
			Str("override_backend", cfg.OverrideBackend).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := handler.Close(); err != nil {
		log.Error().Err(err).Msg("failed to drain override writes")
	}

	log.Info().Msg("server stopped")
}
