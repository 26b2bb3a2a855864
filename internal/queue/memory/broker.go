package memory

import (
	"context"
	"fmt"
	"sync"

	"todoq/internal/queue"
)

// Broker is an in-process queue used by tests. It tracks in-flight
// deliveries so that a consumer crash can be simulated with Redeliver.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
	nextID uint64
}

type topic struct {
	ready     []queue.Message
	inflight  map[uint64]queue.Message
	published []queue.Message
	committed []queue.Message
	wake      chan struct{}
}

func New() *Broker {
	return &Broker{topics: make(map[string]*topic)}
}

// topic requires b.mu to be held.
func (b *Broker) topic(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{inflight: make(map[uint64]queue.Message), wake: make(chan struct{})}
		b.topics[name] = t
	}
	return t
}

func (b *Broker) Publish(ctx context.Context, name string, msg queue.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(name)
	msg = queue.Message{Key: msg.Key, Value: append([]byte(nil), msg.Value...)}
	t.published = append(t.published, msg)
	t.ready = append(t.ready, msg)
	close(t.wake)
	t.wake = make(chan struct{})
	return nil
}

// Consumer returns a consumer reading from the named topic.
func (b *Broker) Consumer(name string) *Consumer {
	return &Consumer{broker: b, topic: name}
}

// Redeliver puts every uncommitted delivery of the topic back at the head of
// the queue and returns how many were requeued.
func (b *Broker) Redeliver(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(name)
	if len(t.inflight) == 0 {
		return 0
	}
	requeued := make([]queue.Message, 0, len(t.inflight))
	for id, msg := range t.inflight {
		requeued = append(requeued, queue.Message{Key: msg.Key, Value: msg.Value})
		delete(t.inflight, id)
	}
	t.ready = append(requeued, t.ready...)
	close(t.wake)
	t.wake = make(chan struct{})
	return len(requeued)
}

func (b *Broker) Published(name string) []queue.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(name)
	out := make([]queue.Message, len(t.published))
	copy(out, t.published)
	return out
}

func (b *Broker) Committed(name string) []queue.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(name)
	out := make([]queue.Message, len(t.committed))
	copy(out, t.committed)
	return out
}

func (b *Broker) Inflight(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topic(name).inflight)
}

func (b *Broker) Ready(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topic(name).ready)
}

type Consumer struct {
	broker *Broker
	topic  string
}

func (c *Consumer) Poll(ctx context.Context) (queue.Message, error) {
	for {
		c.broker.mu.Lock()
		t := c.broker.topic(c.topic)
		if len(t.ready) > 0 {
			msg := t.ready[0]
			t.ready = t.ready[1:]
			c.broker.nextID++
			id := c.broker.nextID
			t.inflight[id] = msg
			c.broker.mu.Unlock()
			msg.Ref = id
			return msg, nil
		}
		wake := t.wake
		c.broker.mu.Unlock()

		select {
		case <-ctx.Done():
			return queue.Message{}, ctx.Err()
		case <-wake:
		}
	}
}

func (c *Consumer) Commit(ctx context.Context, msg queue.Message) error {
	id, ok := msg.Ref.(uint64)
	if !ok {
		return fmt.Errorf("memory: message has no delivery reference")
	}
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	t := c.broker.topic(c.topic)
	delivered, ok := t.inflight[id]
	if !ok {
		return fmt.Errorf("memory: delivery %d is not in flight", id)
	}
	delete(t.inflight, id)
	t.committed = append(t.committed, delivered)
	return nil
}

func (c *Consumer) Close() error { return nil }
