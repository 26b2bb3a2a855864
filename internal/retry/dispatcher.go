package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"todoq/internal/metrics"
	"todoq/internal/queue"
	"todoq/internal/rediskeys"
	"todoq/internal/store"
)

// releaseLock deletes the lock only if this dispatcher still owns it.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// JobFailer records a job as failed. store.Ledger implements it.
type JobFailer interface {
	MarkFailed(ctx context.Context, jobID uuid.UUID) error
}

// Dispatcher republishes parked commands whose retry time has come.
type Dispatcher struct {
	client    *redis.Client
	jobs      JobFailer
	publisher queue.Publisher
	topic     string
	batchSize int64
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewDispatcher(client *redis.Client, jobs JobFailer, publisher queue.Publisher, topic string, batchSize int, logger *slog.Logger, m *metrics.Metrics) (*Dispatcher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if jobs == nil {
		return nil, errors.New("ledger is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Dispatcher{
		client:    client,
		jobs:      jobs,
		publisher: publisher,
		topic:     topic,
		batchSize: int64(batchSize),
		now:       time.Now,
		logger:    logger,
		metrics:   m,
	}, nil
}

// DispatchDue republishes up to one batch of due retries and returns how many
// were sent. Only one dispatcher at a time holds the lock; the others return 0.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	token := uuid.NewString()
	ok, err := d.client.SetNX(ctx, rediskeys.RetryLockKey, token, rediskeys.LockTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("acquire retry lock: %w", err)
	}
	if !ok {
		return 0, nil
	}
	defer func() {
		if err := releaseLock.Run(context.WithoutCancel(ctx), d.client, []string{rediskeys.RetryLockKey}, token).Err(); err != nil {
			d.logger.Warn("release retry lock failed", "err", err)
		}
	}()

	max := strconv.FormatInt(d.now().UnixMilli(), 10)
	ids, err := d.client.ZRangeByScore(ctx, rediskeys.RetryJobsKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   max,
		Count: d.batchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list due retries: %w", err)
	}

	sent := 0
	for _, jobID := range ids {
		removed, err := d.client.ZRem(ctx, rediskeys.RetryJobsKey, jobID).Result()
		if err != nil {
			return sent, fmt.Errorf("claim retry %s: %w", jobID, err)
		}
		if removed == 0 {
			continue
		}
		data, err := d.client.Get(ctx, rediskeys.JobDataKey(jobID)).Bytes()
		if errors.Is(err, redis.Nil) {
			d.failOrphan(ctx, jobID)
			continue
		}
		if err != nil {
			d.requeue(ctx, jobID)
			return sent, fmt.Errorf("load retry payload %s: %w", jobID, err)
		}
		if err := d.publisher.Publish(ctx, d.topic, queue.Message{Key: jobID, Value: data}); err != nil {
			d.requeue(ctx, jobID)
			return sent, fmt.Errorf("republish %s: %w", jobID, err)
		}
		if err := d.client.Del(ctx, rediskeys.JobDataKey(jobID)).Err(); err != nil {
			d.logger.Warn("delete retry payload failed", "job_id", jobID, "err", err)
		}
		d.metrics.RetriesDispatched.Inc()
		d.logger.Info("retry dispatched", "job_id", jobID)
		sent++
	}
	return sent, nil
}

func (d *Dispatcher) requeue(ctx context.Context, jobID string) {
	score := float64(d.now().UnixMilli())
	if err := d.client.ZAdd(ctx, rediskeys.RetryJobsKey, redis.Z{Score: score, Member: jobID}).Err(); err != nil {
		d.logger.Error("requeue retry failed", "job_id", jobID, "err", err)
	}
}

// failOrphan marks failed a job whose parked command expired, since nothing
// can redeliver it. When the ledger write fails the entry is put back so a
// later pass tries again.
func (d *Dispatcher) failOrphan(ctx context.Context, jobID string) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		d.logger.Warn("dropping retry entry with invalid job id", "job_id", jobID)
		return
	}
	err = d.jobs.MarkFailed(ctx, id)
	if err != nil && !errors.Is(err, store.ErrAlreadyTerminal) && !errors.Is(err, store.ErrNotFound) {
		d.logger.Error("retry payload missing and failed write did not persist", "job_id", jobID, "err", err)
		d.requeue(ctx, jobID)
		return
	}
	if err := d.client.Del(ctx, rediskeys.AttemptKey(jobID)).Err(); err != nil {
		d.logger.Warn("attempt counter cleanup failed", "job_id", jobID, "err", err)
	}
	d.logger.Warn("retry payload missing; job marked failed", "job_id", jobID)
}
