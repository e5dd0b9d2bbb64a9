// Package main implements the entry point for the adaptive alerting detector
// mapper. The mapper consumes raw metric records from NATS, resolves the
// anomaly detectors responsible for each metric through a cached mapping
// lookup, and publishes the mapped records downstream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/songjiao/adaptive-alerting/config"
	"github.com/songjiao/adaptive-alerting/detectorsource"
	"github.com/songjiao/adaptive-alerting/health"
	"github.com/songjiao/adaptive-alerting/mapper"
	"github.com/songjiao/adaptive-alerting/metric"
	"github.com/songjiao/adaptive-alerting/natsclient"
	"github.com/songjiao/adaptive-alerting/processor/detectormapper"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "detector-mapper"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.LogLevel = cliCfg.LogLevel
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	logger := setupLogger(cfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting detector mapper",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	ctx := context.Background()

	registry := prometheus.NewRegistry()
	metrics := metric.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	natsClient, err := connectToNATS(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := natsClient.Close(closeCtx); err != nil {
			slog.Error("Error closing NATS client", "error", err)
		}
	}()

	m, proc, err := buildPipeline(cfg, natsClient, metrics, logger, registry)
	if err != nil {
		return err
	}

	monitor := health.NewMonitor(appName)
	monitor.RegisterChecker(proc)
	monitor.RegisterChecker(health.CheckerFunc(func() health.Status {
		if natsClient.IsConnected() {
			return health.Healthy("nats")
		}
		return health.Unhealthy("nats", natsClient.Status().String())
	}))

	httpServer := startHTTPServer(cfg.HTTP.ListenAddr, registry, monitor)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(stopCtx); err != nil {
			slog.Error("Error stopping HTTP server", "error", err)
		}
	}()

	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("start mapper: %w", err)
	}
	if err := proc.Start(ctx); err != nil {
		_ = m.Stop(cliCfg.ShutdownTimeout)
		return fmt.Errorf("start processor: %w", err)
	}

	return runWithSignalHandling(ctx, proc, m, cliCfg.ShutdownTimeout)
}

// connectToNATS creates the NATS client and establishes the connection.
func connectToNATS(
	ctx context.Context,
	cfg *config.Config,
	metrics *metric.Metrics,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	natsURL := cfg.NATS.URL
	if envURL := os.Getenv("MAPPER_NATS_URL"); envURL != "" {
		natsURL = envURL
	}

	natsClient, err := natsclient.NewClient(natsURL,
		natsclient.WithLogger(logger),
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(time.Duration(cfg.NATS.ReconnectWaitSeconds)*time.Second),
		natsclient.WithDrainTimeout(time.Duration(cfg.NATS.DrainTimeoutSeconds)*time.Second),
		natsclient.WithStatusCallback(metrics.RecordNATSStatus),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.Connect(connCtx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return natsClient, nil
}

// buildPipeline wires the detector source, mapping cache, mapper and stream
// processor together.
func buildPipeline(
	cfg *config.Config,
	natsClient *natsclient.Client,
	metrics *metric.Metrics,
	logger *slog.Logger,
	registry prometheus.Registerer,
) (*mapper.Mapper, *detectormapper.Processor, error) {
	source, err := detectorsource.NewClient(cfg.Source, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create detector source: %w", err)
	}

	cache, err := mapper.NewCache(logger, registry)
	if err != nil {
		return nil, nil, fmt.Errorf("create mapping cache: %w", err)
	}

	m, err := mapper.New(source, cache, cfg.Mapper.SyncPeriodMinutes, logger, registry)
	if err != nil {
		return nil, nil, fmt.Errorf("create mapper: %w", err)
	}

	proc, err := detectormapper.NewProcessor(cfg.Processor, m, natsClient, logger, metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("create processor: %w", err)
	}

	return m, proc, nil
}

// startHTTPServer serves Prometheus metrics and the health endpoint.
func startHTTPServer(addr string, registry *prometheus.Registry, monitor *health.Monitor) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", monitor.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	return server
}

// runWithSignalHandling blocks until shutdown is requested, then stops the
// pipeline front to back.
func runWithSignalHandling(
	ctx context.Context,
	proc *detectormapper.Processor,
	m *mapper.Mapper,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	slog.Info("Detector mapper started")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	// Stop the processor first so no new lookups are issued, then the
	// mapper's sync loop.
	if err := proc.Stop(shutdownTimeout); err != nil {
		slog.Error("Error stopping processor", "error", err)
	}
	if err := m.Stop(shutdownTimeout); err != nil {
		slog.Error("Error stopping mapper", "error", err)
	}

	slog.Info("Detector mapper shutdown complete")
	return nil
}
