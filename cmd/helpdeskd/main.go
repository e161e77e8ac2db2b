// Command helpdeskd is the helpdesk server daemon.
// It wires the task lifecycle service, its stores, and the notification bus
// behind the REST API described by the YAML config file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/GoCodeAlone/helpdesk/comms"
	"github.com/GoCodeAlone/helpdesk/config"
	"github.com/GoCodeAlone/helpdesk/internal/telemetry"
	"github.com/GoCodeAlone/helpdesk/internal/version"
	"github.com/GoCodeAlone/helpdesk/server"
	"github.com/GoCodeAlone/helpdesk/task"
)

var configPath = flag.String("config", "helpdesk.yaml", "path to YAML config file (env-only when empty)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting helpdeskd",
		"version", version.Version,
		"commit", version.Commit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}

	tasks, history, closeStore, err := openStores(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	bus := comms.NewInMemoryBus()
	opts := append(cfg.Tasks.ServiceOptions(), task.WithBus(bus), task.WithLogger(logger))
	svc := task.NewService(tasks, history, opts...)

	srv := server.New(*cfg, version.Version, logger)
	srv.SetTaskService(svc)
	srv.SetBus(bus)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	fmt.Printf("Helpdesk server running on %s\n", cfg.Server.Addr)
	fmt.Printf("Version: %s (%s)\n", version.Version, version.Commit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		logger.Error("server error", "error", err)
	}

	fmt.Println("Shutting down...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	if err := closeStore(); err != nil {
		logger.Error("store close error", "error", err)
	}
	if err := shutdownTelemetry(stopCtx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}
	fmt.Println("Shutdown complete")
}

// openStores returns the task and history stores for the configured driver.
func openStores(cfg config.StoreConfig) (task.Store, task.HistoryStore, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return task.NewMemoryStore(), task.NewMemoryHistory(), func() error { return nil }, nil
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := task.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return db, db, db.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
