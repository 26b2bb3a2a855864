// Package queue describes the durable, at-least-once command channel between
// the producer and the worker. Transports live in internal/kafka,
// internal/bus (NATS JetStream) and queue/memory.
package queue

import "context"

type Message struct {
	Key   string
	Value []byte
	// Ref is the transport's handle for the delivery, used by Commit.
	Ref any
}

type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

// Consumer delivers messages until they are committed. A message that is
// polled but never committed may be delivered again.
type Consumer interface {
	Poll(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}
