package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	segkafka "github.com/segmentio/kafka-go"
)

// Topics lists the topics this service writes to: jobs, then the DLQ if set.
func (c Config) Topics() []string {
	topics := []string{c.JobsTopic}
	if c.DLQTopic != "" {
		topics = append(topics, c.DLQTopic)
	}
	return topics
}

// EnsureTopics creates any missing topic through the cluster controller with
// replication factor 1. Existing topics are left untouched.
func EnsureTopics(ctx context.Context, brokers []string, partitions int, topics ...string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	if partitions <= 0 {
		partitions = 1
	}
	dialer := &segkafka.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	cc, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer cc.Close()

	configs := make([]segkafka.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, segkafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
	}
	err = cc.CreateTopics(configs...)
	if err != nil && !errors.Is(err, segkafka.TopicAlreadyExists) {
		return fmt.Errorf("create topics: %w", err)
	}
	return nil
}
