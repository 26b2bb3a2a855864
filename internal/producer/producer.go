// Package producer records mutation requests as pending jobs and publishes
// them to the command queue.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"todoq/internal/command"
	"todoq/internal/metrics"
	"todoq/internal/queue"
	"todoq/internal/state"
	"todoq/internal/store"
)

var (
	ErrEmptyTitle  = errors.New("title is required")
	ErrLedgerWrite = errors.New("ledger write failed")
	ErrPublish     = errors.New("publish failed")
)

// Accepted is returned once a job is pending and its command is on the queue.
type Accepted struct {
	JobID  uuid.UUID   `json:"job_id"`
	Status state.State `json:"status"`
}

type Service struct {
	ledger    store.Ledger
	publisher queue.Publisher
	topic     string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	newID     func() uuid.UUID
}

func New(ledger store.Ledger, publisher queue.Publisher, topic string, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Service{
		ledger:    ledger,
		publisher: publisher,
		topic:     topic,
		logger:    logger,
		metrics:   m,
		newID:     uuid.New,
	}, nil
}

func (s *Service) Create(ctx context.Context, title string) (Accepted, error) {
	if strings.TrimSpace(title) == "" {
		return Accepted{}, ErrEmptyTitle
	}
	return s.submit(ctx, command.NewCreate(s.newID(), s.newID(), title))
}

func (s *Service) Toggle(ctx context.Context, itemID uuid.UUID) (Accepted, error) {
	return s.submit(ctx, command.NewToggle(s.newID(), itemID))
}

func (s *Service) Delete(ctx context.Context, itemID uuid.UUID) (Accepted, error) {
	return s.submit(ctx, command.NewDelete(s.newID(), itemID))
}

// submit writes the pending job and then publishes its command. A publish
// failure after the write leaves the job pending with no command behind it.
func (s *Service) submit(ctx context.Context, cmd command.Command) (Accepted, error) {
	payload, err := command.Encode(cmd)
	if err != nil {
		return Accepted{}, err
	}

	job := store.Job{
		ID:        cmd.JobID,
		ItemID:    cmd.ItemID,
		Operation: cmd.Operation,
		Status:    state.Pending,
	}
	if err := s.ledger.InsertJob(ctx, job); err != nil {
		return Accepted{}, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}

	msg := queue.Message{Key: cmd.JobID.String(), Value: payload}
	if err := s.publisher.Publish(ctx, s.topic, msg); err != nil {
		s.metrics.OrphanedJobs.Inc()
		s.logger.Error("publish failed after job was recorded; job left pending",
			"job_id", cmd.JobID,
			"operation", cmd.Operation,
			"err", err)
		return Accepted{}, fmt.Errorf("%w: %v", ErrPublish, err)
	}

	s.metrics.JobsAccepted.WithLabelValues(string(cmd.Operation)).Inc()
	s.logger.Debug("job accepted", "job_id", cmd.JobID, "operation", cmd.Operation)
	return Accepted{JobID: cmd.JobID, Status: state.Pending}, nil
}
