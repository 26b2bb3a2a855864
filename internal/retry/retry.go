// Package retry schedules failed jobs for redelivery through Redis and moves
// due jobs back onto the queue.
package retry

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Backoff doubles the delay per attempt starting at Base, capped at Max.
// Jitter spreads each delay uniformly by +/- Jitter of its value.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: time.Minute, Jitter: 0.2}
}

func (b Backoff) Validate() error {
	switch {
	case b.Base <= 0:
		return errors.New("retry base delay must be positive")
	case b.Max < b.Base:
		return fmt.Errorf("retry max delay %s is below base delay %s", b.Max, b.Base)
	case b.Jitter < 0 || b.Jitter >= 1:
		return fmt.Errorf("retry jitter %v must be in [0,1)", b.Jitter)
	}
	return nil
}

// Delay returns the wait before delivering the given attempt (1-based).
// rng may be nil when Jitter is zero.
func (b Backoff) Delay(attempt int64, rng *rand.Rand) (time.Duration, error) {
	if attempt < 1 {
		return 0, fmt.Errorf("attempt %d must be >= 1", attempt)
	}
	delay := b.Base
	for n := int64(1); n < attempt && delay < b.Max; n++ {
		delay *= 2
	}
	if delay > b.Max {
		delay = b.Max
	}
	if b.Jitter == 0 {
		return delay, nil
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	spread := (rng.Float64()*2 - 1) * b.Jitter
	delay = time.Duration(float64(delay) * (1 + spread))
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	return delay, nil
}

// dueScore is the sorted-set score for a job due after delay: unix millis.
func dueScore(now time.Time, delay time.Duration) float64 {
	return float64(now.Add(delay).UnixMilli())
}
