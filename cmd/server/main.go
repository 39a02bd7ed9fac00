package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/nadhilrobomiracle/stt/internal/audio"
	"github.com/nadhilrobomiracle/stt/internal/config"
	"github.com/nadhilrobomiracle/stt/internal/engine"
	"github.com/nadhilrobomiracle/stt/internal/metrics"
	"github.com/nadhilrobomiracle/stt/internal/server"
	"github.com/nadhilrobomiracle/stt/internal/stream"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "stt-gateway"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		slog.Float64("dispatch_interval", cfg.Streaming.DispatchInterval),
		slog.Duration("min_dispatch_audio", audio.PCMDuration(cfg.Streaming.MinDispatchBytes)),
		slog.Duration("overlap_audio", audio.PCMDuration(cfg.Streaming.KeepBytes)),
		slog.Duration("max_buffer_audio", audio.PCMDuration(cfg.Streaming.MaxBufferBytes)),
		slog.Int("workers", cfg.Streaming.GetWorkers()),
		slog.String("engine_provider", cfg.Engine.Provider),
		slog.String("log_level", cfg.Logging.Level),
	)

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     serviceName + "@" + serviceVersion,
		}); err != nil {
			logger.Warn("Sentry initialization failed", slog.String("error", err.Error()))
		} else {
			defer sentry.Flush(2 * time.Second)
			logger.Info("Sentry error reporting enabled")
		}
	}

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// The engine handle is constructed once and injected; there is no
	// process-wide recognizer singleton.
	eng, err := engine.New(engine.Config{
		Provider: cfg.Engine.Provider,
		Endpoint: cfg.Engine.Endpoint,
		APIKey:   cfg.Engine.APIKey,
		Model:    cfg.Engine.Model,
		Timeout:  cfg.Engine.GetTimeout(),
	})
	if err != nil {
		logger.Error("Failed to create engine client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Engine client initialized", slog.String("engine", eng.Describe()))

	streamMgr := stream.NewManager(logger, eng, stream.Config{
		DispatchInterval: cfg.Streaming.GetDispatchInterval(),
		MinDispatchBytes: cfg.Streaming.MinDispatchBytes,
		KeepBytes:        cfg.Streaming.KeepBytes,
		MaxBufferBytes:   cfg.Streaming.MaxBufferBytes,
		DispatchTimeout:  cfg.Streaming.GetDispatchTimeout(),
		Workers:          cfg.Streaming.GetWorkers(),
		IdleTimeout:      cfg.Streaming.GetIdleTimeout(),
		MaxSessions:      cfg.Streaming.MaxSessions,
		EngineOptions: engine.Options{
			Language:  cfg.Engine.Language,
			BeamSize:  cfg.Engine.BeamSize,
			VADFilter: cfg.Engine.VADFilter,
		},
	}, appMetrics)
	logger.Info("Session manager initialized")

	httpServer := server.NewHTTPServer(cfg, logger, streamMgr, eng, appMetrics)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	streamMgr.Stop()

	if err := eng.Close(); err != nil {
		logger.Warn("Error closing engine client", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
