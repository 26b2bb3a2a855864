package retry

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"todoq/internal/rediskeys"
)

// Scheduler counts failed attempts per job and parks commands in a redis
// sorted set until their backoff delay has passed.
type Scheduler struct {
	client  *redis.Client
	backoff Backoff
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewScheduler(client *redis.Client, backoff Backoff) (*Scheduler, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := backoff.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		client:  client,
		backoff: backoff,
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// BumpAttempt records one more failed attempt and returns the new count.
func (s *Scheduler) BumpAttempt(ctx context.Context, jobID string) (int64, error) {
	key := rediskeys.AttemptKey(jobID)
	attempt, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr attempt: %w", err)
	}
	if attempt == 1 {
		if err := s.client.Expire(ctx, key, rediskeys.AttemptTTL).Err(); err != nil {
			return attempt, fmt.Errorf("expire attempt: %w", err)
		}
	}
	return attempt, nil
}

// Schedule stores the raw command and queues the job for redelivery after
// the backoff delay for attempt.
func (s *Scheduler) Schedule(ctx context.Context, jobID string, value []byte, attempt int64) (time.Duration, error) {
	s.mu.Lock()
	delay, err := s.backoff.Delay(attempt, s.rng)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	score := dueScore(s.now(), delay)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, rediskeys.JobDataKey(jobID), value, rediskeys.JobDataTTL)
		pipe.ZAdd(ctx, rediskeys.RetryJobsKey, redis.Z{Score: score, Member: jobID})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("schedule retry: %w", err)
	}
	return delay, nil
}

// Clear forgets the attempt count of a job that reached a terminal state.
func (s *Scheduler) Clear(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, rediskeys.AttemptKey(jobID)).Err()
}
