// Package bootstrap opens the ledger, queue and redis clients the binaries
// share, from a loaded config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"todoq/internal/bus"
	"todoq/internal/config"
	"todoq/internal/kafka"
	"todoq/internal/metrics"
	"todoq/internal/postgres"
	"todoq/internal/queue"
	"todoq/internal/store"
	"todoq/internal/store/pgstore"
	"todoq/internal/store/sqlite"
)

const ConnectTimeout = 2 * time.Second

func ConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func Fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}

// OpenLedger connects to the configured ledger backend and creates its
// tables if they are missing.
func OpenLedger(ctx context.Context, cfg config.Config) (store.Ledger, error) {
	switch cfg.Ledger.Driver {
	case config.LedgerSQLite:
		return sqlite.Open(ctx, cfg.SQLite)
	case config.LedgerPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		s := pgstore.NewWithPool(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("ledger.driver: unsupported value %q", cfg.Ledger.Driver)
	}
}

// Transport is the configured queue: a shared publisher plus a way to open
// consumers on the jobs topic.
type Transport struct {
	Publisher queue.Publisher

	cfg      config.Config
	kafka    *kafka.KafkaGoProducer
	nats     *bus.Client
	consumer queue.Consumer
}

func OpenTransport(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Transport, error) {
	t := &Transport{cfg: cfg}
	switch cfg.Queue.Driver {
	case config.QueueKafka:
		checkCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
		if err := kafka.CheckConnectivity(checkCtx, cfg.Kafka.Brokers); err != nil {
			logger.Warn("kafka connectivity check failed", "brokers", cfg.Kafka.Brokers, "err", err)
		} else if err := kafka.EnsureTopics(checkCtx, cfg.Kafka.Brokers, 1, cfg.Kafka.Topics()...); err != nil {
			logger.Warn("kafka topic setup failed", "topics", cfg.Kafka.Topics(), "err", err)
		}
		cancel()
		p, err := kafka.NewKafkaGoProducer(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		t.kafka = p
		t.Publisher = p
	case config.QueueNATS:
		c, err := bus.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		if err := c.EnsureStream(cfg.NATS); err != nil {
			c.Close()
			return nil, err
		}
		t.nats = c
		t.Publisher = c
	default:
		return nil, fmt.Errorf("queue.driver: unsupported value %q", cfg.Queue.Driver)
	}
	return t, nil
}

// Consumer opens the worker's consumer on the jobs topic. groupID names the
// Kafka consumer group; NATS uses the configured durable name.
func (t *Transport) Consumer(groupID string) (queue.Consumer, error) {
	if t.consumer != nil {
		return nil, errors.New("consumer already open")
	}
	var (
		c   queue.Consumer
		err error
	)
	switch {
	case t.kafka != nil:
		c, err = kafka.NewKafkaGoConsumer(t.cfg.Kafka, groupID)
	case t.nats != nil:
		c, err = t.nats.NewConsumer(t.cfg.NATS)
	default:
		err = errors.New("transport is closed")
	}
	if err != nil {
		return nil, err
	}
	t.consumer = c
	return c, nil
}

func (t *Transport) Close() error {
	var errs []error
	if t.consumer != nil {
		errs = append(errs, t.consumer.Close())
	}
	if t.kafka != nil {
		errs = append(errs, t.kafka.Close())
	}
	if t.nats != nil {
		t.nats.Close()
	}
	return errors.Join(errs...)
}

// NewRedis returns nil when no redis address is configured. A failed ping is
// logged, not fatal.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	if !cfg.Enabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed", "addr", cfg.Addr, "err", err)
	}
	return client
}

// MetricsRouter serves /metrics and /healthz for the background binaries.
func MetricsRouter(g prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler(g)))
	return r
}

// ServeMetrics starts MetricsRouter on addr in the background. It returns nil
// when addr is empty.
func ServeMetrics(addr string, g prometheus.Gatherer, logger *slog.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	server := &http.Server{Addr: addr, Handler: MetricsRouter(g), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "addr", addr, "err", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return server
}
