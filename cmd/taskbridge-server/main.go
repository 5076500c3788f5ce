// Package main provides the TaskBridge upload/processing server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/taskbridge/internal/broadcast"
	"github.com/raphaelgruber/taskbridge/internal/config"
	"github.com/raphaelgruber/taskbridge/internal/engine"
	"github.com/raphaelgruber/taskbridge/internal/fsutil"
	"github.com/raphaelgruber/taskbridge/internal/ingest"
	"github.com/raphaelgruber/taskbridge/internal/jobstore"
	"github.com/raphaelgruber/taskbridge/internal/process"
	"github.com/raphaelgruber/taskbridge/internal/server"
)

func main() {
	configFile := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg := config.Load()
	if *configFile != "" {
		if err := config.LoadFile(*configFile, &cfg); err != nil {
			slog.Error("failed to load config file", "file", *configFile, "error", err)
			os.Exit(1)
		}
	}

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("failed to close log file", "error", err)
		}
	}()
	slog.SetDefault(logger)

	slog.Info("starting taskbridge-server", "addr", cfg.Addr, "db", cfg.DBPath)

	for _, dir := range []string{cfg.StagingDir, cfg.ResultsDir} {
		if err := fsutil.EnsureDir(dir); err != nil {
			slog.Error("failed to create directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := jobstore.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open job store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close job store", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	eng, err := engine.New(ctx, store, logger)
	cancel()
	if err != nil {
		slog.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}

	hub := broadcast.New(eng, cfg.BroadcastInterval, logger)
	pipeline := ingest.New(eng, cfg.StagingDir, logger)
	runner := process.New(eng, cfg.ResultsDir, process.SimulatedSteps(cfg.StepCount, cfg.StepDelay), logger)
	srv := server.New(eng, hub, pipeline, runner, cfg.StagingDir, cfg.ResultsDir, logger)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	httpServer := &http.Server{
		Addr:        cfg.Addr,
		Handler:     srv.Routes(),
		ReadTimeout: 0, // streamed uploads have no bounded duration
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.Info("listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	hubCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
