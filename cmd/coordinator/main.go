// Package main runs the coordinator service: the single-writer process that
// owns the authoritative key-value map and the distributed rate-limit windows.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tiercache/tiercache/internal/config"
	"github.com/tiercache/tiercache/internal/coordinator"
	"github.com/tiercache/tiercache/internal/metrics"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to YAML configuration file")
		listenAddr  = flag.String("listen", "", "listen address override")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("tiercache-coordinator %s\n", version)
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *listenAddr != "" {
		cfg.Store.Coordinator.ListenAddr = *listenAddr
	}

	logger, err := newLogger(cfg.Global.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	actor, err := coordinator.NewActor(&coordinator.Config{
		SnapshotPath:     cfg.Store.Coordinator.SnapshotPath,
		SnapshotInterval: cfg.Store.Coordinator.SnapshotInterval,
	}, logger.Named("actor"))
	if err != nil {
		return fmt.Errorf("failed to start actor: %w", err)
	}
	defer actor.Stop()

	collector := metrics.NewCollector()

	serverCfg := coordinator.DefaultServerConfig()
	serverCfg.Address = cfg.Store.Coordinator.ListenAddr
	server := coordinator.NewServer(serverCfg, actor, collector, logger.Named("server"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("coordinator started",
		zap.String("version", version),
		zap.String("address", serverCfg.Address),
		zap.String("snapshot_path", cfg.Store.Coordinator.SnapshotPath))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("coordinator stopped")
	return nil
}

func loadConfig(path string) (*config.Configuration, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = zapcore.DebugLevel
	case "WARN":
		lvl = zapcore.WarnLevel
	case "ERROR":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
