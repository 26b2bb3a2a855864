package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"todoq/internal/metrics"
	"todoq/internal/store"
)

// StuckReporter surfaces jobs that have stayed pending longer than a
// threshold. It only reports; it never changes job status.
type StuckReporter struct {
	ledger  store.Ledger
	after   time.Duration
	limit   int
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewStuckReporter(ledger store.Ledger, after time.Duration, limit int, logger *slog.Logger, m *metrics.Metrics) (*StuckReporter, error) {
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if after <= 0 {
		return nil, errors.New("stuck threshold must be positive")
	}
	if limit <= 0 {
		limit = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &StuckReporter{ledger: ledger, after: after, limit: limit, now: time.Now, logger: logger, metrics: m}, nil
}

// Report sets the stuck gauge to the number of pending jobs older than the
// threshold, then logs and returns the oldest of them, at most limit.
func (r *StuckReporter) Report(ctx context.Context) ([]store.Job, error) {
	cutoff := r.now().Add(-r.after)
	total, err := r.ledger.CountStuck(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("count stuck jobs: %w", err)
	}
	r.metrics.StuckJobs.Set(float64(total))
	if total == 0 {
		return nil, nil
	}
	jobs, err := r.ledger.ListStuck(ctx, cutoff, r.limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	for _, job := range jobs {
		r.logger.Warn("job stuck in pending",
			"job_id", job.ID,
			"operation", job.Operation,
			"age", r.now().Sub(job.CreatedAt).Round(time.Second))
	}
	return jobs, nil
}
