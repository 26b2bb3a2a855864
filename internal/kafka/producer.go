package kafka

import (
	"context"
	"errors"
	"fmt"

	segkafka "github.com/segmentio/kafka-go"

	"todoq/internal/queue"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...segkafka.Message) error
	Close() error
}

// KafkaGoProducer publishes queue messages keyed by job id, so redeliveries
// of one job land on the same partition. It is safe for concurrent use.
type KafkaGoProducer struct {
	writer writer
}

func NewKafkaGoProducer(cfg Config) (*KafkaGoProducer, error) {
	if err := cfg.ValidateJobs(); err != nil {
		return nil, err
	}
	return &KafkaGoProducer{writer: cfg.newWriter()}, nil
}

func newKafkaGoProducerWithWriter(w writer) *KafkaGoProducer {
	return &KafkaGoProducer{writer: w}
}

func (p *KafkaGoProducer) Publish(ctx context.Context, topic string, msg queue.Message) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka producer not configured")
	}
	err := p.writer.WriteMessages(ctx, segkafka.Message{
		Topic: topic,
		Key:   []byte(msg.Key),
		Value: msg.Value,
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaGoProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
