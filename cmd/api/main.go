package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"todoq/internal/api"
	"todoq/internal/bootstrap"
	"todoq/internal/config"
	"todoq/internal/logging"
	"todoq/internal/metrics"
	"todoq/internal/producer"
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
	if err := cfg.ValidateForAPI(); err != nil {
		bootstrap.Fatal(logger, "invalid config", err)
	}
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc, err := producer.New(ledger, transport.Publisher, cfg.JobsTopic(), logger, m)
	if err != nil {
		bootstrap.Fatal(logger, "init producer", err)
	}

	server := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.NewRouter(ledger, svc, metrics.Handler(reg), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening",
			"addr", cfg.API.Addr,
			"ledger", cfg.Ledger.Driver,
			"queue", cfg.Queue.Driver,
			"topic", cfg.JobsTopic())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	logger.Info("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "err", err)
	}
}
