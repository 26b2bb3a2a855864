package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	yaml "github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"todoq/internal/bus"
	"todoq/internal/kafka"
	"todoq/internal/logging"
	"todoq/internal/postgres"
	"todoq/internal/retry"
	"todoq/internal/store/sqlite"
)

const (
	QueueKafka = "kafka"
	QueueNATS  = "nats"

	LedgerPostgres = "postgres"
	LedgerSQLite   = "sqlite"
)

type Config struct {
	API             APIConfig       `yaml:"api"`
	Worker          WorkerConfig    `yaml:"worker"`
	RetryDispatcher RetryConfig     `yaml:"retry_dispatcher"`
	Log             logging.Config  `yaml:"log"`
	Queue           QueueConfig     `yaml:"queue"`
	Kafka           kafka.Config    `yaml:"kafka"`
	NATS            bus.Config      `yaml:"nats"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	Postgres        postgres.Config `yaml:"postgres"`
	SQLite          sqlite.Config   `yaml:"sqlite"`
	Redis           RedisConfig     `yaml:"redis"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type WorkerConfig struct {
	GroupID      string        `yaml:"group_id"`
	Concurrency  int           `yaml:"concurrency"`
	MaxAttempts  int64         `yaml:"max_attempts"`
	RequeueDelay time.Duration `yaml:"requeue_delay"`
	MetricsAddr  string        `yaml:"metrics_addr"`
}

type RetryConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StuckAfter   time.Duration `yaml:"stuck_after"`
	BatchSize    int           `yaml:"batch_size"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Jitter       float64       `yaml:"jitter"`
	MetricsAddr  string        `yaml:"metrics_addr"`
}

type QueueConfig struct {
	Driver string `yaml:"driver"`
}

type LedgerConfig struct {
	Driver string `yaml:"driver"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a redis address was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// Load reads an optional .env file, the YAML file at path and then applies
// environment overrides.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return parse(data, os.LookupEnv)
}

func Parse(data []byte) (Config, error) {
	return parse(data, func(string) (string, bool) { return "", false })
}

func parse(data []byte, lookup func(string) (string, bool)) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyEnv(lookup)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("API_ADDR"); ok && v != "" {
		c.API.Addr = v
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Postgres.DSN = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Redis.Addr = v
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Kafka.Brokers = brokers
	}
	if v, ok := lookup("NATS_URL"); ok && v != "" {
		c.NATS.URL = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.API.Addr) == "" {
		c.API.Addr = ":8080"
	}
	if strings.TrimSpace(c.Worker.GroupID) == "" {
		c.Worker.GroupID = "todo-processor"
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = c.Postgres.PoolSize()
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 5
	}
	if c.Worker.RequeueDelay <= 0 {
		c.Worker.RequeueDelay = time.Second
	}
	if c.RetryDispatcher.PollInterval <= 0 {
		c.RetryDispatcher.PollInterval = 1 * time.Second
	}
	if c.RetryDispatcher.StuckAfter <= 0 {
		c.RetryDispatcher.StuckAfter = 10 * time.Minute
	}
	if c.RetryDispatcher.BatchSize <= 0 {
		c.RetryDispatcher.BatchSize = 100
	}
	if c.RetryDispatcher.BaseDelay <= 0 {
		c.RetryDispatcher.BaseDelay = 1 * time.Second
	}
	if c.RetryDispatcher.MaxDelay <= 0 {
		c.RetryDispatcher.MaxDelay = 60 * time.Second
	}
	if strings.TrimSpace(c.Queue.Driver) == "" {
		c.Queue.Driver = QueueKafka
	}
	if strings.TrimSpace(c.Kafka.JobsTopic) == "" {
		c.Kafka.JobsTopic = "todo_tasks"
	}
	if strings.TrimSpace(c.Kafka.DLQTopic) == "" {
		c.Kafka.DLQTopic = c.Kafka.JobsTopic + ".dlq"
	}
	if c.Queue.Driver == QueueNATS {
		c.NATS.ApplyDefaults()
	}
	if strings.TrimSpace(c.Ledger.Driver) == "" {
		c.Ledger.Driver = LedgerPostgres
	}
}

// JobsTopic is the topic or subject commands are published to.
func (c Config) JobsTopic() string {
	if c.Queue.Driver == QueueNATS {
		return c.NATS.Subject
	}
	return c.Kafka.JobsTopic
}

func (c Config) DLQTopic() string {
	if c.Queue.Driver == QueueNATS {
		return c.NATS.DLQSubject
	}
	return c.Kafka.DLQTopic
}

// Backoff is the delay policy used when scheduling retries.
func (c Config) Backoff() retry.Backoff {
	return retry.Backoff{
		Base:   c.RetryDispatcher.BaseDelay,
		Max:    c.RetryDispatcher.MaxDelay,
		Jitter: c.RetryDispatcher.Jitter,
	}
}

func (c Config) ValidateForAPI() error {
	if strings.TrimSpace(c.API.Addr) == "" {
		return fmt.Errorf("api.addr is required")
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	return c.validateQueue()
}

func (c Config) ValidateForWorker() error {
	if strings.TrimSpace(c.Worker.GroupID) == "" {
		return fmt.Errorf("worker.group_id is required")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be positive")
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Backoff().Validate(); err != nil {
		return fmt.Errorf("retry_dispatcher: %w", err)
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	return c.validateQueue()
}

func (c Config) ValidateForRetryDispatcher() error {
	if c.RetryDispatcher.PollInterval <= 0 {
		return fmt.Errorf("retry_dispatcher.poll_interval is required")
	}
	if c.RetryDispatcher.StuckAfter <= 0 {
		return fmt.Errorf("retry_dispatcher.stuck_after must be positive")
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := validateRedis(c.Redis); err != nil {
		return err
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	return c.validateQueue()
}

func (c Config) validateQueue() error {
	switch c.Queue.Driver {
	case QueueKafka:
		return c.Kafka.ValidateJobs()
	case QueueNATS:
		return c.NATS.Validate()
	default:
		return fmt.Errorf("queue.driver: unsupported value %q", c.Queue.Driver)
	}
}

func (c Config) validateLedger() error {
	switch c.Ledger.Driver {
	case LedgerPostgres:
		return c.Postgres.Validate()
	case LedgerSQLite:
		return c.SQLite.Validate()
	default:
		return fmt.Errorf("ledger.driver: unsupported value %q", c.Ledger.Driver)
	}
}

func validateRedis(cfg RedisConfig) error {
	if !cfg.Enabled() {
		return fmt.Errorf("redis.addr is required")
	}
	return nil
}
