package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dripsledger/config"
	"dripsledger/core/state"
	"dripsledger/native/drips"
	"dripsledger/observability/logging"
	"dripsledger/rpc"
	"dripsledger/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("DRIPS_ENV"))
	logger := logging.Setup("dripsd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Env != "" && env == "" {
		logger = logging.Setup("dripsd", cfg.Env)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("dataDir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	ledgerState := state.NewManager(db)
	if err := ledgerState.EnsureCycleSecs(cfg.CycleSecs); err != nil {
		logger.Error("Cycle length does not match the data directory", slog.Any("error", err))
		os.Exit(1)
	}

	hub, err := drips.NewHub(cfg.CycleSecs)
	if err != nil {
		logger.Error("Failed to create ledger hub", slog.Any("error", err))
		os.Exit(1)
	}
	hub.SetState(ledgerState)

	server := rpc.NewServer(hub, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPCAddress)
	}()

	logger.Info("dripsd started",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.RPCAddress),
		slog.Uint64("cycleSecs", uint64(cfg.CycleSecs)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Shutdown failed", slog.Any("error", err))
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
