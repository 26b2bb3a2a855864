package kafka

import (
	"context"
	"fmt"
	"sort"
	"sync"

	segkafka "github.com/segmentio/kafka-go"

	"todoq/internal/queue"
)

type reader interface {
	FetchMessage(ctx context.Context) (segkafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...segkafka.Message) error
	Close() error
}

// KafkaGoConsumer reads the jobs topic as part of a consumer group.
//
// Kafka commits are offset watermarks, so committing a message implicitly
// commits every earlier offset of its partition. Messages are handled
// concurrently and may finish out of order; the consumer therefore only
// commits the highest offset below which every fetched message is done.
type KafkaGoConsumer struct {
	reader reader

	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	fetched []int64
	done    map[int64]segkafka.Message
}

func NewKafkaGoConsumer(cfg Config, groupID string) (*KafkaGoConsumer, error) {
	if err := cfg.ValidateJobs(); err != nil {
		return nil, err
	}
	if groupID == "" {
		return nil, fmt.Errorf("groupID is required")
	}
	return newKafkaGoConsumerWithReader(cfg.newReader(groupID)), nil
}

func newKafkaGoConsumerWithReader(r reader) *KafkaGoConsumer {
	return &KafkaGoConsumer{reader: r, partitions: make(map[int]*partitionOffsets)}
}

func (c *KafkaGoConsumer) Poll(ctx context.Context) (queue.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return queue.Message{}, err
	}

	c.mu.Lock()
	p := c.partition(msg.Partition)
	p.track(msg.Offset)
	c.mu.Unlock()

	return queue.Message{Key: string(msg.Key), Value: msg.Value, Ref: msg}, nil
}

func (c *KafkaGoConsumer) Commit(ctx context.Context, msg queue.Message) error {
	km, ok := msg.Ref.(segkafka.Message)
	if !ok {
		return fmt.Errorf("kafka: message was not fetched by this consumer")
	}

	c.mu.Lock()
	p := c.partition(km.Partition)
	if !p.tracked(km.Offset) {
		// Fetched before the partition was re-read; its redelivered copy
		// carries the commit.
		c.mu.Unlock()
		return nil
	}
	p.done[km.Offset] = km
	var (
		watermark segkafka.Message
		advanced  bool
	)
	for len(p.fetched) > 0 {
		head := p.fetched[0]
		doneMsg, ok := p.done[head]
		if !ok {
			break
		}
		watermark = doneMsg
		advanced = true
		delete(p.done, head)
		p.fetched = p.fetched[1:]
	}
	c.mu.Unlock()

	if !advanced {
		return nil
	}
	return c.reader.CommitMessages(ctx, watermark)
}

// track records a fetched offset. Fetching an offset at or below one already
// tracked means the reader rewound to its last commit after a rebalance or
// reconnect, so everything from that offset on is forgotten and re-tracked.
func (p *partitionOffsets) track(offset int64) {
	if n := len(p.fetched); n > 0 && offset <= p.fetched[n-1] {
		i := sort.Search(n, func(i int) bool { return p.fetched[i] >= offset })
		p.fetched = p.fetched[:i]
		for o := range p.done {
			if o >= offset {
				delete(p.done, o)
			}
		}
	}
	p.fetched = append(p.fetched, offset)
}

func (p *partitionOffsets) tracked(offset int64) bool {
	i := sort.Search(len(p.fetched), func(i int) bool { return p.fetched[i] >= offset })
	return i < len(p.fetched) && p.fetched[i] == offset
}

// partition requires c.mu to be held.
func (c *KafkaGoConsumer) partition(id int) *partitionOffsets {
	p, ok := c.partitions[id]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]segkafka.Message)}
		c.partitions[id] = p
	}
	return p
}

func (c *KafkaGoConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
