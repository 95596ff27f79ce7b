package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"forwardnet/config"
	"forwardnet/core/events"
	"forwardnet/core/state"
	"forwardnet/observability"
	"forwardnet/observability/logging"
	telemetry "forwardnet/observability/otel"
	"forwardnet/rpc"
	"forwardnet/runtime"
	"forwardnet/storage"
	"forwardnet/storage/trie"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv("FORWARD_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("forwardd", env)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "forwardd",
			Environment: env,
			Network:     cfg.NetworkName,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     cfg.Telemetry.Headers,
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			_ = shutdownTelemetry(context.Background())
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	rt := runtime.New(state.NewManager(db))
	mirror, err := trie.NewMirror(db)
	if err != nil {
		logger.Error("Failed to load state mirror", slog.Any("error", err))
		os.Exit(1)
	}
	rt.UseMirror(mirror)

	hub := events.NewHub()
	hub.SetObserver(observability.Events().Record)
	rt.SetEmitter(hub)

	gen, err := cfg.Genesis.RuntimeGenesis()
	if err != nil {
		logger.Error("Invalid genesis configuration", slog.Any("error", err))
		os.Exit(1)
	}
	switch err := rt.Bootstrap(gen); {
	case err == nil:
		logger.Info("Bootstrapped genesis instances", logging.MaskField("owner", gen.Owner))
	case errors.Is(err, runtime.ErrAlreadyBootstrapped):
		if err := rt.Resume(); err != nil {
			logger.Error("Failed to resume runtime", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Resumed from existing state")
	default:
		logger.Error("Bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Replay anything the previous run journaled but never drained.
	if err := rt.Do(func() error { return nil }); err != nil {
		logger.Warn("Journal replay finished with errors", slog.Any("error", err))
	}
	if root, err := rt.StateRoot(); err == nil {
		logger.Info("State ready", slog.String("root", root.Hex()))
	}

	server := rpc.NewServer(rt, hub)
	httpSrv := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	logger.Info("JSON-RPC server listening", slog.String("address", cfg.RPCAddress))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Warn("Forced shutdown", slog.Any("error", err))
		}
	}
}
