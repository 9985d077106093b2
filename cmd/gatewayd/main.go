// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command gatewayd is a demo deployment of the reverse HTTP/WebSocket
// gateway, wiring metrics, health checks, and circuit breakers around it.
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

	"github.com/alecthomas/kong"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/gwproxy/pkg/breaker"
	"github.com/relaymesh/gwproxy/pkg/gateway"
	"github.com/relaymesh/gwproxy/pkg/health"
	"github.com/relaymesh/gwproxy/pkg/metrics"
)

// CLI is the command-line surface kong parses. It carries the config-file
// and env-file paths plus the handful of flags worth overriding without
// editing a file: everything else is env- or file-configured.
type CLI struct {
	Config      string `help:"Path to an optional TOML configuration file." type:"path"`
	EnvFile     string `help:"Path to an optional .env file." type:"path" default:".env"`
	ListenAddr  string `help:"Override the gateway's HTTP listen address."`
	LogLevel    string `help:"Override the log level (debug, info, warn, error)."`
	DryRunValid bool   `help:"Validate configuration and exit without starting any listener." name:"dry-run-valid"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("gatewayd"),
		kong.Description("reverse HTTP/WebSocket gateway"),
	)

	if err := godotenv.Load(cli.EnvFile); err != nil {
		// a missing .env file is not fatal; env vars may be set directly.
	}

	cfg := DefaultAppConfig()

	if cli.Config != "" {
		data, err := os.ReadFile(cli.Config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gatewayd: reading config file: %v\n", err)
			os.Exit(1)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "gatewayd: parsing config file: %v\n", err)
			os.Exit(1)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "gatewayd: parsing environment: %v\n", err)
		os.Exit(1)
	}

	if cli.ListenAddr != "" {
		cfg.ListenAddr = cli.ListenAddr
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	if cli.DryRunValid {
		logger.Info("configuration valid", slog.String("listen_addr", cfg.ListenAddr))
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("gatewayd terminated with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg AppConfig, logger *slog.Logger) error {
	gwCfg := gateway.DefaultConfig()
	gwCfg.GatewayHost = cfg.GatewayHost
	gwCfg.GatewaySubdomain = cfg.GatewaySubdomain
	gwCfg.DisableForceHTTP = !cfg.ForceHTTP
	gwCfg.DisableForceWebsocketProtocol = !cfg.ForceHTTP
	gwCfg.Logger = logger
	gwCfg.MetricsNamespace = "gateway"
	gwCfg.DisableBreaker = cfg.DisableBreaker
	gwCfg.HealthCheckInterval = cfg.HealthCheckInterval
	gwCfg.Breaker = breaker.Config{
		MaxFailures:      cfg.BreakerMaxFailures,
		ResetTimeout:     cfg.BreakerResetTimeout,
		SuccessThreshold: 2,
		Timeout:          cfg.BreakerTimeout,
	}

	gw, err := gateway.New(nil, nil, gwCfg)
	if err != nil {
		return fmt.Errorf("constructing gateway: %w", err)
	}

	gw.SubscribeError(func(err error) {
		logger.Error("gateway error", slog.String("error", err.Error()))
	})

	checker := health.NewChecker(cfg.HealthCheckInterval)
	checker.Register("goroutines", func(ctx context.Context) error {
		count := runtime.NumGoroutine()
		if count > cfg.MaxGoroutines {
			return fmt.Errorf("too many goroutines: %d > %d", count, cfg.MaxGoroutines)
		}
		return nil
	})
	registerBackendChecks(checker, cfg.Backends, gw.Breakers(), gw.Metrics())

	mux := http.NewServeMux()
	mux.Handle("/", gw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})))

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(gw)}
	healthSrv := &http.Server{Addr: cfg.HealthAddr, Handler: healthMux(checker)}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return serveUntilShutdown(ctx, httpSrv, cfg.ShutdownTimeout) })
	g.Go(func() error { return serveUntilShutdown(ctx, metricsSrv, cfg.ShutdownTimeout) })
	g.Go(func() error { return serveUntilShutdown(ctx, healthSrv, cfg.ShutdownTimeout) })
	g.Go(func() error { return waitForSignal(ctx, cancel, logger) })

	logger.Info("gatewayd started",
		slog.String("listen_addr", cfg.ListenAddr),
		slog.String("metrics_addr", cfg.MetricsAddr),
		slog.String("health_addr", cfg.HealthAddr))

	return g.Wait()
}

// registerBackendChecks registers a health.BackendCheck probe for each
// configured backend, dialing through the same breaker registry and
// counting outcomes on the same Metrics the gateway's own engines use.
func registerBackendChecks(checker *health.Checker, backends []string, breakers *breaker.Registry, m *metrics.Metrics) {
	for _, addr := range backends {
		checker.Register("backend:"+addr, health.BackendCheck(addr, breakers, 10*time.Second, m))
	}
}

func metricsMux(gw *gateway.Gateway) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gw.Metrics().Registry, promhttp.HandlerOpts{}))
	return mux
}

func healthMux(checker *health.Checker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.HTTPHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())
	mux.HandleFunc("/livez", health.LivenessHandler())
	return mux
}

func serveUntilShutdown(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func waitForSignal(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	case <-ctx.Done():
	}
	return nil
}

func newLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h)
}
