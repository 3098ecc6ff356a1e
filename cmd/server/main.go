/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tariff reconciliation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment), then flags
  2. Initialize logger and SQLite store
  3. Create API handler, load the stored tariff table
  4. Configure HTTP router and the inbox scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port     HTTP server port (PORT, default: 8080)
  -db       SQLite database path (DB_PATH, default: tariffs.db)
            Use ":memory:" for in-memory database
  -mapping  Column mapping file (MAPPING_FILE)
  -inbox    Directory watched for payment exports (INBOX_DIR)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the inbox scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/tariffs.db"
  ./server -db=":memory:" -port=3000
  LOG_LEVEL=debug LOG_FORMAT=json ./server -inbox=./inbox

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/tariff-engine/api"
	"github.com/warp/tariff-engine/config"
	"github.com/warp/tariff-engine/factory"
	"github.com/warp/tariff-engine/obs"
	"github.com/warp/tariff-engine/store/sqlite"
)

func main() {
	cfg := config.Load()
	logger := obs.Setup()

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	mappingFile := flag.String("mapping", cfg.MappingFile, "Column mapping file (YAML or JSON)")
	inboxDir := flag.String("inbox", cfg.InboxDir, "Directory watched for payment exports")
	flag.Parse()

	mapping, err := factory.LoadMapping(*mappingFile)
	if err != nil {
		logger.Error("failed to load mapping", "err", err)
		os.Exit(1)
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Error("failed to initialize database", "db", *dbPath, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store, factory.NewTableFactory(mapping), cfg.RunOptions(), logger)

	// Load the stored tariff table into the directory cache
	if err := handler.LoadDirectory(context.Background()); err != nil {
		logger.Warn("failed to load tariff table", "err", err)
	}

	scheduler := api.NewInboxScheduler(handler, *inboxDir)
	scheduler.CheckInterval = cfg.InboxInterval
	scheduler.Start()

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      api.NewRouter(handler, cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", *dbPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "err", err)
	}

	logger.Info("server stopped")
}
