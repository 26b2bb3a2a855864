// Package kafka carries queue messages over Kafka with segmentio/kafka-go.
package kafka

import (
	"fmt"
	"strings"
	"time"

	segkafka "github.com/segmentio/kafka-go"
)

// Commands are published one at a time from request handlers, so the writer
// flushes almost immediately instead of waiting to fill a batch.
const writerBatchTimeout = 10 * time.Millisecond

type Config struct {
	Brokers   []string `yaml:"brokers"`
	JobsTopic string   `yaml:"jobs_topic"`
	DLQTopic  string   `yaml:"dlq_topic"`
	ClientID  string   `yaml:"client_id"`
}

func (c Config) ValidateJobs() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("kafka.brokers must not contain empty entries")
		}
	}
	if strings.TrimSpace(c.JobsTopic) == "" {
		return fmt.Errorf("kafka.jobs_topic is required")
	}
	if c.DLQTopic != "" && c.DLQTopic == c.JobsTopic {
		return fmt.Errorf("kafka.dlq_topic must differ from kafka.jobs_topic")
	}
	return nil
}

func (c Config) newWriter() *segkafka.Writer {
	w := &segkafka.Writer{
		Addr:         segkafka.TCP(c.Brokers...),
		Balancer:     &segkafka.Hash{},
		RequiredAcks: segkafka.RequireAll,
		BatchTimeout: writerBatchTimeout,
	}
	if c.ClientID != "" {
		w.Transport = &segkafka.Transport{ClientID: c.ClientID}
	}
	return w
}

func (c Config) newReader(groupID string) *segkafka.Reader {
	rc := segkafka.ReaderConfig{
		Brokers:     c.Brokers,
		Topic:       c.JobsTopic,
		GroupID:     groupID,
		StartOffset: segkafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	}
	if c.ClientID != "" {
		rc.Dialer = &segkafka.Dialer{ClientID: c.ClientID, Timeout: 10 * time.Second, DualStack: true}
	}
	return segkafka.NewReader(rc)
}
