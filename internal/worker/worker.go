// Package worker consumes commands from the queue and applies them to the
// ledger.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"todoq/internal/command"
	"todoq/internal/metrics"
	"todoq/internal/queue"
	"todoq/internal/state"
	"todoq/internal/store"
)

const (
	pollErrorBackoff    = 500 * time.Millisecond
	defaultRequeueDelay = time.Second
)

// errUnsettled marks a delivery whose outcome could not be made durable.
var errUnsettled = errors.New("delivery not settled")

const (
	outcomeCompleted    = "completed"
	outcomeFailed       = "failed"
	outcomeDuplicate    = "duplicate"
	outcomeRetried      = "retried"
	outcomeDeadLettered = "dead_lettered"
)

// Retrier tracks attempts and parks commands for delayed redelivery.
// retry.Scheduler implements it.
type Retrier interface {
	BumpAttempt(ctx context.Context, jobID string) (int64, error)
	Schedule(ctx context.Context, jobID string, value []byte, attempt int64) (time.Duration, error)
	Clear(ctx context.Context, jobID string) error
}

type Options struct {
	Concurrency int
	MaxAttempts int64
	// Retrier may be nil, in which case transient failures are dead-lettered
	// on the first attempt.
	Retrier  Retrier
	DLQ      queue.Publisher
	DLQTopic string
	// Requeue republishes to JobsTopic a delivery that could not be settled
	// and could not be parked with the Retrier, after RequeueDelay.
	Requeue      queue.Publisher
	JobsTopic    string
	RequeueDelay time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

type Worker struct {
	consumer    queue.Consumer
	ledger      store.Ledger
	retrier     Retrier
	dlq         queue.Publisher
	dlqTopic    string
	requeue     queue.Publisher
	jobsTopic   string
	requeueWait time.Duration
	maxAttempts int64
	concurrency int
	sem         *semaphore.Weighted
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func New(consumer queue.Consumer, ledger store.Ledger, opts Options) (*Worker, error) {
	if consumer == nil {
		return nil, errors.New("consumer is required")
	}
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RequeueDelay <= 0 {
		opts.RequeueDelay = defaultRequeueDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	return &Worker{
		consumer:    consumer,
		ledger:      ledger,
		retrier:     opts.Retrier,
		dlq:         opts.DLQ,
		dlqTopic:    opts.DLQTopic,
		requeue:     opts.Requeue,
		jobsTopic:   opts.JobsTopic,
		requeueWait: opts.RequeueDelay,
		maxAttempts: opts.MaxAttempts,
		concurrency: opts.Concurrency,
		sem:         semaphore.NewWeighted(int64(opts.Concurrency)),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}, nil
}

// Run polls until ctx is cancelled, handling each message on its own
// goroutine. It stops polling while every handler slot is busy and returns
// only after in-flight handlers have finished.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	// Handlers finish their transaction and acknowledgement even after
	// shutdown begins.
	handlerCtx := context.WithoutCancel(ctx)

	for {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return ctx.Err()
		}
		msg, err := w.consumer.Poll(ctx)
		if err != nil {
			w.sem.Release(1)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("worker poll error", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollErrorBackoff):
			}
			continue
		}

		wg.Add(1)
		w.metrics.InflightHandlers.Inc()
		go func() {
			defer wg.Done()
			defer w.sem.Release(1)
			defer w.metrics.InflightHandlers.Dec()
			if err := w.Handle(handlerCtx, msg); err != nil {
				w.logger.Error("worker handle error", "key", msg.Key, "err", err)
			}
		}()
	}
}

// Handle applies one delivery and acknowledges it once its outcome is
// durable. A delivery whose outcome cannot be recorded is handed back for
// redelivery first. A non-nil error means the message was left
// unacknowledged.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	err := w.handle(ctx, msg)
	if !errors.Is(err, errUnsettled) {
		return err
	}
	if herr := w.handBack(ctx, msg); herr != nil {
		w.logger.Error("hand back failed; message stays unacknowledged", "key", msg.Key, "err", herr, "cause", err)
		return err
	}
	w.logger.Warn("message handed back for redelivery", "key", msg.Key, "cause", err)
	return nil
}

// handBack takes an unsettled delivery off the consumer so later messages
// can still be acknowledged. The copy is parked with the Retrier when one is
// configured, otherwise republished to the jobs topic. The original is
// acknowledged only once the copy is durable.
func (w *Worker) handBack(ctx context.Context, msg queue.Message) error {
	parked := false
	if w.retrier != nil && msg.Key != "" {
		if _, err := w.retrier.Schedule(ctx, msg.Key, msg.Value, 1); err != nil {
			w.logger.Warn("park for redelivery failed", "key", msg.Key, "err", err)
		} else {
			parked = true
		}
	}
	if !parked {
		if w.requeue == nil || w.jobsTopic == "" {
			return errors.New("no redelivery path configured")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.requeueWait):
		}
		if err := w.requeue.Publish(ctx, w.jobsTopic, queue.Message{Key: msg.Key, Value: msg.Value}); err != nil {
			return fmt.Errorf("republish: %w", err)
		}
	}
	return w.commit(ctx, msg)
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) error {
	cmd, err := command.Decode(msg.Value)
	if err == nil {
		err = cmd.Validate()
	}
	if err != nil {
		jobID := cmd.JobID
		if jobID == uuid.Nil {
			jobID, _ = uuid.Parse(msg.Key)
		}
		logger := w.logger.With("job_id", jobID)
		logger.Warn("rejecting invalid command", "err", err)
		return w.fail(ctx, logger, msg, jobID, string(cmd.Operation))
	}

	logger := w.logger.With("job_id", cmd.JobID, "operation", cmd.Operation)
	err = w.apply(ctx, cmd)
	switch {
	case err == nil:
		if err := w.commit(ctx, msg); err != nil {
			return err
		}
		w.clearAttempts(ctx, logger, cmd.JobID)
		w.count(cmd.Operation, outcomeCompleted)
		logger.Info("job completed")
		return nil
	case errors.Is(err, store.ErrAlreadyTerminal):
		w.count(cmd.Operation, outcomeDuplicate)
		logger.Debug("job already terminal; skipping duplicate delivery")
		return w.commit(ctx, msg)
	case isPermanent(err):
		logger.Warn("job failed", "err", err)
		return w.fail(ctx, logger, msg, cmd.JobID, string(cmd.Operation))
	default:
		return w.transient(ctx, logger, msg, cmd, err)
	}
}

// apply runs the mutation and the completed write in one transaction. A job
// that is already terminal yields store.ErrAlreadyTerminal with nothing
// changed.
func (w *Worker) apply(ctx context.Context, cmd command.Command) error {
	return w.ledger.InTx(ctx, func(tx store.Tx) error {
		status, err := tx.JobStatus(ctx, cmd.JobID)
		if err != nil {
			return err
		}
		if state.IsTerminal(status) {
			return store.ErrAlreadyTerminal
		}

		switch cmd.Operation {
		case command.OpCreate:
			err = tx.InsertItem(ctx, store.Item{ID: *cmd.ItemID, Title: *cmd.Title})
		case command.OpDelete:
			_, err = tx.DeleteItem(ctx, *cmd.ItemID)
		case command.OpToggle:
			var n int64
			n, err = tx.ToggleItem(ctx, *cmd.ItemID)
			if err == nil && n == 0 {
				err = store.ErrItemNotFound
			}
		default:
			err = fmt.Errorf("%w: %q", command.ErrUnknownOperation, cmd.Operation)
		}
		if err != nil {
			return err
		}
		return tx.SetJobStatus(ctx, cmd.JobID, state.Completed)
	})
}

func isPermanent(err error) bool {
	return command.IsPermanent(err) ||
		errors.Is(err, store.ErrItemNotFound) ||
		errors.Is(err, store.ErrJobNotFound)
}

// fail records the job as failed and acknowledges the message. When the
// failed write itself errors the message stays unacknowledged.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, msg queue.Message, jobID uuid.UUID, op string) error {
	if jobID != uuid.Nil {
		err := w.ledger.MarkFailed(ctx, jobID)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrAlreadyTerminal):
			logger.Debug("failed write skipped", "err", err)
		default:
			logger.Error("failed write did not persist", "err", err)
			return fmt.Errorf("mark job %s failed: %w: %w", jobID, errUnsettled, err)
		}
	}
	if err := w.commit(ctx, msg); err != nil {
		return err
	}
	if jobID != uuid.Nil {
		w.clearAttempts(ctx, logger, jobID)
	}
	w.count(command.Operation(op), outcomeFailed)
	return nil
}

func (w *Worker) transient(ctx context.Context, logger *slog.Logger, msg queue.Message, cmd command.Command, cause error) error {
	if w.retrier == nil {
		logger.Error("job failed with no retry store configured", "err", cause)
		return w.deadLetter(ctx, logger, msg, cmd)
	}

	jobID := cmd.JobID.String()
	attempt, err := w.retrier.BumpAttempt(ctx, jobID)
	if err != nil {
		logger.Error("attempt increment failed", "err", err, "cause", cause)
		return fmt.Errorf("bump attempt: %w: %w", errUnsettled, err)
	}
	if attempt >= w.maxAttempts {
		logger.Error("job exhausted retries", "attempt", attempt, "err", cause)
		return w.deadLetter(ctx, logger, msg, cmd)
	}

	delay, err := w.retrier.Schedule(ctx, jobID, msg.Value, attempt)
	if err != nil {
		logger.Error("retry schedule failed", "err", err, "cause", cause)
		return fmt.Errorf("schedule retry: %w: %w", errUnsettled, err)
	}
	if err := w.commit(ctx, msg); err != nil {
		return err
	}
	w.metrics.JobsRetried.Inc()
	w.count(cmd.Operation, outcomeRetried)
	logger.Warn("job scheduled for retry", "attempt", attempt, "delay", delay, "err", cause)
	return nil
}

func (w *Worker) deadLetter(ctx context.Context, logger *slog.Logger, msg queue.Message, cmd command.Command) error {
	if w.dlq != nil && w.dlqTopic != "" {
		dead := queue.Message{Key: msg.Key, Value: msg.Value}
		if err := w.dlq.Publish(ctx, w.dlqTopic, dead); err != nil {
			logger.Error("dlq publish failed", "err", err)
			return fmt.Errorf("dlq publish: %w: %w", errUnsettled, err)
		}
		w.metrics.JobsDeadLettered.Inc()
	}
	if err := w.ledger.MarkFailed(ctx, cmd.JobID); err != nil && !errors.Is(err, store.ErrAlreadyTerminal) && !errors.Is(err, store.ErrNotFound) {
		logger.Error("failed write did not persist", "err", err)
		return fmt.Errorf("mark job %s failed: %w: %w", cmd.JobID, errUnsettled, err)
	}
	if err := w.commit(ctx, msg); err != nil {
		return err
	}
	w.clearAttempts(ctx, logger, cmd.JobID)
	w.count(cmd.Operation, outcomeDeadLettered)
	return nil
}

func (w *Worker) commit(ctx context.Context, msg queue.Message) error {
	if err := w.consumer.Commit(ctx, msg); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (w *Worker) clearAttempts(ctx context.Context, logger *slog.Logger, jobID uuid.UUID) {
	if w.retrier == nil {
		return
	}
	if err := w.retrier.Clear(ctx, jobID.String()); err != nil {
		logger.Warn("attempt counter cleanup failed", "err", err)
	}
}

func (w *Worker) count(op command.Operation, outcome string) {
	if !op.Valid() {
		op = "unknown"
	}
	w.metrics.JobsProcessed.WithLabelValues(string(op), outcome).Inc()
}
