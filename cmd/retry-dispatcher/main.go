package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"todoq/internal/bootstrap"
	"todoq/internal/config"
	"todoq/internal/logging"
	"todoq/internal/metrics"
	"todoq/internal/retry"
)

func main() {
	cfg, err := config.Load(bootstrap.ConfigPath())
	if err != nil {
		bootstrap.Fatal(slog.Default(), "load config", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		bootstrap.Fatal(slog.Default(), "init logger", err)
	}
	slog.SetDefault(logger)
	if err := cfg.ValidateForRetryDispatcher(); err != nil {
		bootstrap.Fatal(logger, "invalid config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := bootstrap.NewRedis(ctx, cfg.Redis, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", "err", err)
		}
	}()

	ledger, err := bootstrap.OpenLedger(ctx, cfg)
	if err != nil {
		bootstrap.Fatal(logger, "open ledger", err, "driver", cfg.Ledger.Driver)
	}
	defer ledger.Close()

	transport, err := bootstrap.OpenTransport(ctx, cfg, logger)
	if err != nil {
		bootstrap.Fatal(logger, "open queue", err, "driver", cfg.Queue.Driver)
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Warn("queue close error", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dispatcher, err := retry.NewDispatcher(redisClient, ledger, transport.Publisher, cfg.JobsTopic(), cfg.RetryDispatcher.BatchSize, logger, m)
	if err != nil {
		bootstrap.Fatal(logger, "init dispatcher", err)
	}
	reporter, err := retry.NewStuckReporter(ledger, cfg.RetryDispatcher.StuckAfter, cfg.RetryDispatcher.BatchSize, logger, m)
	if err != nil {
		bootstrap.Fatal(logger, "init stuck reporter", err)
	}

	metricsServer := bootstrap.ServeMetrics(cfg.RetryDispatcher.MetricsAddr, reg, logger)

	logger.Info("retry-dispatcher starting",
		"poll_interval", cfg.RetryDispatcher.PollInterval,
		"stuck_after", cfg.RetryDispatcher.StuckAfter,
		"redis", cfg.Redis.Addr,
		"topic", cfg.JobsTopic())

	if err := retry.Run(ctx, dispatcher, reporter, cfg.RetryDispatcher.PollInterval, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("retry-dispatcher stopped with error", "err", err)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	logger.Info("retry-dispatcher shutting down")
}
