package retry

import (
	"context"
	"log/slog"
	"time"
)

// Run dispatches due retries every interval until ctx is cancelled. When
// reporter is not nil it also sweeps for stuck jobs on each tick.
func Run(ctx context.Context, d *Dispatcher, reporter *StuckReporter, interval time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := d.DispatchDue(ctx); err != nil && ctx.Err() == nil {
			logger.Error("retry dispatch failed", "err", err)
		}
		if reporter != nil {
			if _, err := reporter.Report(ctx); err != nil && ctx.Err() == nil {
				logger.Error("stuck job sweep failed", "err", err)
			}
		}
	}
}
