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
	"todoq/internal/worker"
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
	if err := cfg.ValidateForWorker(); err != nil {
		bootstrap.Fatal(logger, "invalid config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	consumer, err := transport.Consumer(cfg.Worker.GroupID)
	if err != nil {
		bootstrap.Fatal(logger, "open consumer", err, "group", cfg.Worker.GroupID)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := worker.Options{
		Concurrency:  cfg.Worker.Concurrency,
		MaxAttempts:  cfg.Worker.MaxAttempts,
		DLQ:          transport.Publisher,
		DLQTopic:     cfg.DLQTopic(),
		Requeue:      transport.Publisher,
		JobsTopic:    cfg.JobsTopic(),
		RequeueDelay: cfg.Worker.RequeueDelay,
		Logger:       logger,
		Metrics:      m,
	}
	if redisClient := bootstrap.NewRedis(ctx, cfg.Redis, logger); redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", "err", err)
			}
		}()
		scheduler, err := retry.NewScheduler(redisClient, cfg.Backoff())
		if err != nil {
			bootstrap.Fatal(logger, "init retry scheduler", err)
		}
		opts.Retrier = scheduler
	} else {
		logger.Warn("redis not configured; transient failures are dead-lettered without retry")
	}

	runner, err := worker.New(consumer, ledger, opts)
	if err != nil {
		bootstrap.Fatal(logger, "init worker", err)
	}

	metricsServer := bootstrap.ServeMetrics(cfg.Worker.MetricsAddr, reg, logger)

	logger.Info("worker starting",
		"group", cfg.Worker.GroupID,
		"concurrency", cfg.Worker.Concurrency,
		"max_attempts", cfg.Worker.MaxAttempts,
		"queue", cfg.Queue.Driver,
		"topic", cfg.JobsTopic(),
		"dlq_topic", cfg.DLQTopic())

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", "err", err)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	logger.Info("worker shutting down")
}
